package mssql

import (
	"context"
	"fmt"

	"kettle/internal/ddl"
	"kettle/internal/schema"
	"kettle/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "mssql"

// openRepository is swapped by tests to avoid a live server.
var openRepository = func(ctx context.Context, dsn string) (storage.Repository, error) {
	r, err := NewRepository(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return r, nil
}

var _ storage.Repository = (*Repository)(nil)

// Dialect renders T-SQL DDL. T-SQL has no CREATE TABLE IF NOT EXISTS, so the
// statement is wrapped in an OBJECT_ID guard.
var Dialect = ddl.Dialect{
	Name:    "mssql ddl",
	Quote:   ddl.Bracket,
	MapType: MapType,
	Guard: func(quoted, stmt string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n%s\nEND;", quoted, stmt)
	},
}

// MapType maps a row field onto a SQL Server column type.
// Unknown or empty kinds fall back to NVARCHAR(MAX).
func MapType(f schema.Field) string {
	switch f.Type {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeNumber:
		if f.Length > 0 {
			return ddl.Sized("DECIMAL", f)
		}
		return "FLOAT"
	case schema.TypeBoolean:
		return "BIT"
	case schema.TypeDate:
		return "DATETIME2"
	case schema.TypeBinary:
		return "VARBINARY(MAX)"
	default:
		if f.Length > 0 && f.Length <= 4000 {
			return fmt.Sprintf("NVARCHAR(%d)", f.Length)
		}
		return "NVARCHAR(MAX)"
	}
}

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return openRepository(ctx, cfg.DSN)
	})
	storage.RegisterDialect(Kind, Dialect)
}
