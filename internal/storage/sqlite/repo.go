// Package sqlite stores rows in SQLite through the pure-Go modernc.org/sqlite
// driver. SQLite has no bulk load protocol, so CopyFrom replays one prepared
// INSERT per row inside a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const pingTimeout = 5 * time.Second

// Repository writes to one SQLite database.
type Repository struct {
	db *sql.DB
}

// Open opens dsn on a single connection. SQLite serialises writers anyway,
// and every connection to ":memory:" sees its own database.
//
//	"file:kettle.db?cache=shared"
//	"kettle.db"
//	":memory:"
func Open(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *sql.DB) *Repository { return &Repository{db: db} }

// NewRepository opens and pings dsn with foreign keys enforced.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return New(db), nil
}

// Close closes the underlying database.
func (r *Repository) Close() {
	if r.db != nil {
		_ = r.db.Close()
	}
}

// CopyFrom inserts rows into table. Every row must carry one value per
// column; a bad row rolls back the whole batch.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, errors.New("sqlite: CopyFrom: no columns")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	n, err := insertAll(ctx, tx, insertSQL(table, columns), len(columns), rows)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return n, nil
}

func insertAll(ctx context.Context, tx *sql.Tx, query string, width int, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != width {
			return 0, fmt.Errorf("sqlite: CopyFrom: row %d has %d values for %d columns (row length mismatch)", i, len(row), width)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("sqlite: insert row %d: %w", i, err)
		}
	}
	return int64(len(rows)), nil
}

// insertSQL renders INSERT INTO "t" ("a", "b") VALUES (?, ?).
func insertSQL(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteFQN(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	b.WriteByte(')')
	return b.String()
}

// Exec runs one statement. Blank statements are skipped.
func (r *Repository) Exec(ctx context.Context, stmt string) error {
	if strings.TrimSpace(stmt) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

// ColumnExists consults pragma_table_info, which is empty for a missing
// table. An unqualified table is looked up in "main".
func (r *Repository) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	schemaName, tableName := "main", table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		schemaName, tableName = table[:i], table[i+1:]
	}
	const q = "SELECT COUNT(*) FROM pragma_table_info(?, ?) WHERE name = ?"
	var n int
	if err := r.db.QueryRowContext(ctx, q, strings.TrimSpace(tableName), strings.TrimSpace(schemaName), column).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite: column exists: %w", err)
	}
	return n > 0, nil
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// quoteFQN quotes each non-empty dot-separated part.
func quoteFQN(fqn string) string {
	var parts []string
	for _, p := range strings.Split(fqn, ".") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, quoteIdent(p))
		}
	}
	return strings.Join(parts, ".")
}
