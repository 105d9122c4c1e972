package mysql

import (
	"context"

	"kettle/internal/ddl"
	"kettle/internal/schema"
	"kettle/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "mysql"

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

var _ storage.Repository = (*wrappedRepo)(nil)

// wrappedRepo adapts *mysql.Repository to storage.Repository and provides Close.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Close closes the underlying connection pool.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Dialect renders MySQL DDL with backtick identifiers.
var Dialect = ddl.Dialect{
	Name:        "mysql ddl",
	Quote:       ddl.Backtick,
	MapType:     MapType,
	IfNotExists: true,
}

// MapType maps a row field onto a MySQL column type.
func MapType(f schema.Field) string {
	switch f.Type {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeNumber:
		if f.Length > 0 {
			return ddl.Sized("DECIMAL", f)
		}
		return "DOUBLE"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATETIME(6)"
	case schema.TypeBinary:
		return "LONGBLOB"
	default:
		if f.Length > 0 {
			return ddl.Sized("VARCHAR", schema.Field{Length: f.Length})
		}
		return "TEXT"
	}
}

// init registers the "mysql" backend with the factory.
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
