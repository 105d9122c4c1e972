package mssql

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"kettle/internal/schema"
	"kettle/internal/storage"
)

func TestQuoteName(t *testing.T) {
	tests := map[string]string{
		"orders":          "[orders]",
		"dbo.orders":      "[dbo].[orders]",
		"stage.q4.orders": "[stage].[q4].[orders]",
		" dbo . orders ":  "[dbo].[orders]",
		"odd]name":        "[odd]]name]",
	}
	for in, want := range tests {
		if got := quoteName(in); got != want {
			t.Errorf("quoteName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegisteredFactoryUsesDSN(t *testing.T) {
	orig := openRepository
	t.Cleanup(func() { openRepository = orig })

	var gotDSN string
	openRepository = func(_ context.Context, dsn string) (storage.Repository, error) {
		gotDSN = dsn
		return &Repository{}, nil
	}

	const dsn = "sqlserver://sa:pw@localhost?database=stage"
	repo, err := storage.New(context.Background(), storage.Config{Kind: Kind, DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer repo.Close()
	if gotDSN != dsn {
		t.Fatalf("factory got DSN %q, want %q", gotDSN, dsn)
	}
}

func TestRegisteredFactoryPropagatesError(t *testing.T) {
	orig := openRepository
	t.Cleanup(func() { openRepository = orig })

	boom := errors.New("login failed")
	openRepository = func(context.Context, string) (storage.Repository, error) { return nil, boom }

	if _, err := storage.New(context.Background(), storage.Config{Kind: Kind}); !errors.Is(err, boom) {
		t.Fatalf("storage.New error = %v, want %v", err, boom)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	_, err := NewRepository(context.Background(), "server=localhost;connection timeout=notanumber")
	if err == nil || !strings.HasPrefix(err.Error(), "mssql: parse dsn") {
		t.Fatalf("NewRepository error = %v, want dsn parse error", err)
	}
}

func TestCreateTableSQL(t *testing.T) {
	s := schema.New(
		schema.Field{Name: "order_id", Type: schema.TypeInteger},
		schema.Field{Name: "customer", Type: schema.TypeString, Length: 80},
		schema.Field{Name: "comment", Type: schema.TypeString},
		schema.Field{Name: "paid", Type: schema.TypeBoolean},
		schema.Field{Name: "total", Type: schema.TypeNumber, Length: 12, Precision: 2},
	)
	got, err := storage.CreateTableSQL(Kind, "stage.orders", s)
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'[stage].[orders]', N'U') IS NULL\nBEGIN\nCREATE TABLE [stage].[orders]",
		"[order_id] BIGINT",
		"[customer] NVARCHAR(80)",
		"[comment] NVARCHAR(MAX)",
		"[paid] BIT",
		"[total] DECIMAL(12,2)",
		"\nEND;",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("DDL missing %q:\n%s", want, got)
		}
	}
}

// TestRepository_Live needs a server; set KETTLE_TEST_MSSQL_DSN to run it.
func TestRepository_Live(t *testing.T) {
	dsn := os.Getenv("KETTLE_TEST_MSSQL_DSN")
	if dsn == "" {
		t.Skip("KETTLE_TEST_MSSQL_DSN not set")
	}
	ctx := context.Background()
	repo, err := NewRepository(ctx, dsn)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	defer repo.Close()

	const table = "dbo.kettle_bulk_probe"
	q := quoteName(table)
	if err := repo.Exec(ctx, "IF OBJECT_ID(N'"+q+"', N'U') IS NOT NULL DROP TABLE "+q); err != nil {
		t.Fatalf("drop: %v", err)
	}
	s := schema.New(
		schema.Field{Name: "line", Type: schema.TypeInteger},
		schema.Field{Name: "sku", Type: schema.TypeString, Length: 16},
	)
	if err := storage.EnsureTable(ctx, Kind, repo, table, s); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	n, err := repo.CopyFrom(ctx, table, []string{"line", "sku"}, [][]any{{int64(1), "A-1"}, {int64(2), "B-7"}})
	if err != nil || n != 2 {
		t.Fatalf("CopyFrom = %d, %v; want 2, nil", n, err)
	}
	for col, want := range map[string]bool{"sku": true, "missing": false} {
		ok, err := repo.ColumnExists(ctx, table, col)
		if err != nil || ok != want {
			t.Errorf("ColumnExists(%s) = %v, %v; want %v", col, ok, err, want)
		}
	}
}
