package storage

import (
	"context"
	"fmt"
	"sync"

	"kettle/internal/ddl"
	"kettle/internal/schema"
)

var (
	ddlMu    sync.RWMutex
	dialects = map[string]ddl.Dialect{}
)

// RegisterDialect registers (or replaces) the DDL dialect for a storage kind.
// Backends call it from init next to Register.
func RegisterDialect(kind string, d ddl.Dialect) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	dialects[kind] = d
}

// DialectFor returns the dialect registered for kind.
func DialectFor(kind string) (ddl.Dialect, bool) {
	ddlMu.RLock()
	defer ddlMu.RUnlock()
	d, ok := dialects[kind]
	return d, ok
}

// CreateTableSQL renders the CREATE TABLE statement for table with one
// column per field of s, in the dialect of kind.
func CreateTableSQL(kind, table string, s *schema.Schema) (string, error) {
	d, ok := DialectFor(kind)
	if !ok {
		return "", fmt.Errorf("no DDL dialect registered for storage.kind=%q", kind)
	}
	td, err := ddl.FromSchema(table, s, d)
	if err != nil {
		return "", fmt.Errorf("infer table definition: %w", err)
	}
	return ddl.BuildCreateTableSQL(td, d)
}

// EnsureTable creates table from s unless it already exists. Callers do not
// need to know which backend they are using beyond its kind.
func EnsureTable(ctx context.Context, kind string, repo Repository, table string, s *schema.Schema) error {
	stmt, err := CreateTableSQL(kind, table, s)
	if err != nil {
		return err
	}
	if err := repo.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("apply DDL: %w", err)
	}
	return nil
}
