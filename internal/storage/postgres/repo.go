// Package postgres implements a Postgres repository using pgx v5. Bulk
// inserts go through the COPY protocol.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository opens a pool for dsn and returns a Close function for cleanup.
func NewRepository(ctx context.Context, dsn string) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Repository{pool: pool}, pool.Close, nil
}

// CopyFrom streams rows into table with COPY.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, describe("copy into "+table, err)
	}
	return n, nil
}

// Exec implements storage.Repository.Exec for Postgres.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return describe("exec", err)
	}
	return nil
}

// ColumnExists looks the column up in information_schema. An unqualified
// table is resolved against current_schema().
func (r *Repository) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, columnExistsSQL, schemaOf(table), tableOf(table), column).Scan(&exists)
	if err != nil {
		return false, describe("column exists", err)
	}
	return exists, nil
}

const columnExistsSQL = `SELECT EXISTS (
  SELECT 1 FROM information_schema.columns
  WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
    AND table_name = $2
    AND column_name = $3
)`

// describe surfaces the server-side detail of a PgError.
func describe(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("postgres %s: %s (%s): %w", op, pgErr.Detail, pgErr.SQLState(), err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			id = append(id, p)
		}
	}
	return id
}

func schemaOf(fqn string) string {
	id := splitFQN(fqn)
	if len(id) < 2 {
		return ""
	}
	return id[len(id)-2]
}

func tableOf(fqn string) string {
	id := splitFQN(fqn)
	if len(id) == 0 {
		return ""
	}
	return id[len(id)-1]
}
