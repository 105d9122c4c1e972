package postgres

import (
	"context"

	"kettle/internal/ddl"
	"kettle/internal/schema"
	"kettle/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "postgres"

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo adds the Close returned by NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

var _ storage.Repository = (*wrappedRepo)(nil)

// Close implements storage.Repository.Close.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Dialect renders Postgres DDL: double-quoted identifiers, IF NOT EXISTS,
// primary key columns sorted for deterministic output.
var Dialect = ddl.Dialect{
	Name:           "postgres ddl",
	Quote:          ddl.DoubleQuote,
	MapType:        MapType,
	IfNotExists:    true,
	SortPrimaryKey: true,
}

// MapType maps a row field onto a Postgres column type.
func MapType(f schema.Field) string {
	switch f.Type {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeNumber:
		if f.Length > 0 {
			return ddl.Sized("NUMERIC", f)
		}
		return "DOUBLE PRECISION"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "TIMESTAMPTZ"
	case schema.TypeBinary:
		return "BYTEA"
	default:
		if f.Length > 0 {
			return ddl.Sized("VARCHAR", f)
		}
		return "TEXT"
	}
}

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
	storage.RegisterDialect(Kind, Dialect)
}
