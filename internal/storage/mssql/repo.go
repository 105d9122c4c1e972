// Package mssql loads rows into Microsoft SQL Server through the go-mssqldb
// bulk copy protocol.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// Repository writes to one SQL Server database.
type Repository struct {
	db   *sql.DB
	bulk mssql.BulkOptions
}

// NewRepository parses dsn, opens a pool and pings the server.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql: parse dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	// Table locks let SQL Server minimally log each batch.
	return &Repository{db: db, bulk: mssql.BulkOptions{Tablock: true}}, nil
}

// Close releases the pool. It is safe on a Repository without one.
func (r *Repository) Close() {
	if r.db != nil {
		_ = r.db.Close()
	}
}

// CopyFrom bulk-inserts rows into table. A batch commits as a whole or not
// at all.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var n int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = r.bulkLoad(ctx, tx, quoteName(table), columns, rows)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mssql: commit: %w", err)
	}
	return nil
}

// bulkLoad streams rows through a CopyIn statement. The final argument-less
// Exec flushes the batch and reports the row count.
func (r *Repository) bulkLoad(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, r.bulk, columns...))
	if err != nil {
		return 0, fmt.Errorf("mssql: prepare bulk copy into %s: %w", table, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("mssql: bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("mssql: flush bulk copy: %w", err)
	}
	return res.RowsAffected()
}

// Exec runs one statement. Blank statements are skipped.
func (r *Repository) Exec(ctx context.Context, stmt string) error {
	if strings.TrimSpace(stmt) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mssql: exec: %w", err)
	}
	return nil
}

// ColumnExists reports whether table has column. COL_LENGTH yields NULL
// when either is missing.
func (r *Repository) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var length sql.NullInt64
	row := r.db.QueryRowContext(ctx, "SELECT COL_LENGTH(@p1, @p2)", quoteName(table), column)
	if err := row.Scan(&length); err != nil {
		return false, fmt.Errorf("mssql: column exists: %w", err)
	}
	return length.Valid, nil
}

func quoteIdent(id string) string {
	return "[" + strings.ReplaceAll(strings.TrimSpace(id), "]", "]]") + "]"
}

// quoteName brackets each dot-separated part: dbo.orders -> [dbo].[orders].
func quoteName(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = quoteIdent(parts[i])
	}
	return strings.Join(parts, ".")
}
