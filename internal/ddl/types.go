package ddl

import (
	"fmt"

	"kettle/internal/schema"
)

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., TEXT, BIGINT, TIMESTAMPTZ)
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression (e.g., 'anon', CURRENT_TIMESTAMP)
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the fully-qualified table name (FQN) and an ordered list of
// columns. The FQN is expected in dotted form (e.g., "schema.table").
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Dialect carries the per-database rendering rules.
type Dialect struct {
	// Name prefixes error messages, e.g. "postgres ddl".
	Name string
	// Quote quotes one identifier segment. Nil emits identifiers as-is.
	Quote func(ident string) string
	// MapType maps a row field onto a column type.
	MapType func(f schema.Field) string
	// IfNotExists renders CREATE TABLE IF NOT EXISTS.
	IfNotExists bool
	// Guard wraps the statement for dialects without IF NOT EXISTS.
	// It receives the quoted FQN and the plain CREATE TABLE statement.
	Guard func(quotedFQN, stmt string) string
	// SortPrimaryKey renders the PRIMARY KEY columns alphabetically.
	SortPrimaryKey bool
}

// Generic emits unquoted identifiers with no existence guard.
var Generic = Dialect{
	Name:    "ddl",
	MapType: func(f schema.Field) string { return "TEXT" },
}

// Sized renders base with the field's length and precision, e.g.
// NUMERIC(12,2) or VARCHAR(64). Precision is omitted when zero.
func Sized(base string, f schema.Field) string {
	if f.Length <= 0 {
		return base
	}
	if f.Precision > 0 {
		return fmt.Sprintf("%s(%d,%d)", base, f.Length, f.Precision)
	}
	return fmt.Sprintf("%s(%d)", base, f.Length)
}
