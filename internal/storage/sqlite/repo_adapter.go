package sqlite

import (
	"context"

	"kettle/internal/ddl"
	"kettle/internal/schema"
	"kettle/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "sqlite"

var _ storage.Repository = (*Repository)(nil)

// Dialect renders SQLite DDL with double-quoted identifiers.
var Dialect = ddl.Dialect{
	Name:        "sqlite ddl",
	Quote:       ddl.DoubleQuote,
	MapType:     MapType,
	IfNotExists: true,
}

// MapType maps a field onto a SQLite type affinity. Booleans are stored as
// INTEGER 0/1 and dates as ISO-8601 TEXT.
func MapType(f schema.Field) string {
	switch f.Type {
	case schema.TypeInteger, schema.TypeBoolean:
		return "INTEGER"
	case schema.TypeNumber:
		return "REAL"
	case schema.TypeDate:
		return "TEXT"
	case schema.TypeBinary:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, err := NewRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	storage.RegisterDialect(Kind, Dialect)
}
