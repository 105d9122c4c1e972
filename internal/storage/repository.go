// Package storage contains storage-agnostic contracts shared by the database
// steps. Concrete backends (postgres, mssql, sqlite, mysql) register a
// Factory and a Dialect under their kind in init.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Repository is the database surface the steps need.
type Repository interface {
	// CopyFrom bulk-inserts rows aligned to columns into table and returns
	// the number of rows the backend reports as inserted.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	// Exec runs a statement that returns no rows, typically DDL.
	Exec(ctx context.Context, sql string) error
	// ColumnExists reports whether table has a column named column.
	// A missing table yields false, not an error.
	ColumnExists(ctx context.Context, table, column string) (bool, error)
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

// ErrUnsupportedKind is returned by New for kinds nobody registered.
var ErrUnsupportedKind = errors.New("unsupported storage kind")

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: storage.kind=%s", ErrUnsupportedKind, cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered kinds.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
