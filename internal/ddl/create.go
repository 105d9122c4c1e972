// Package ddl defines a small model for SQL DDL and renders CREATE TABLE
// statements from it. A Dialect supplies identifier quoting, type mapping and
// the existence guard; storage backends each declare one.
//
// ColumnDef.Default is emitted as raw SQL; the caller is responsible for its
// safety and dialect correctness.
package ddl

import (
	"fmt"
	"sort"
	"strings"

	"kettle/internal/schema"
)

// FromSchema derives a table definition from a row schema. Every column is
// nullable: rows reaching a table output may carry nil values.
func FromSchema(fqn string, s *schema.Schema, d Dialect) (TableDef, error) {
	if s.Len() == 0 {
		return TableDef{}, fmt.Errorf("%s: schema for %s has no fields", d.Name, fqn)
	}
	mapType := d.MapType
	if mapType == nil {
		mapType = Generic.MapType
	}
	td := TableDef{FQN: fqn, Columns: make([]ColumnDef, 0, s.Len())}
	for _, f := range s.Fields() {
		td.Columns = append(td.Columns, ColumnDef{
			Name:     f.Name,
			SQLType:  mapType(f),
			Nullable: true,
		})
	}
	return td, nil
}

// BuildCreateTableSQL renders a CREATE TABLE statement from a TableDef.
//
// Rules:
//
//   - t.FQN must be non-empty; each dotted segment is quoted separately.
//
//   - Each column must have a non-empty Name and SQLType.
//
//   - A column is rendered as:
//
//     <Name> <SQLType> [NOT NULL] [DEFAULT <Default>]
//
//     where NOT NULL is added when Nullable == false or the column is part
//     of the primary key.
//
//   - Columns with PrimaryKey == true are collected and rendered as a separate
//     PRIMARY KEY (<col1>, <col2>, ...) clause at the end of the column list.
func BuildCreateTableSQL(t TableDef, d Dialect) (string, error) {
	name := d.Name
	if name == "" {
		name = "ddl"
	}
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s: table FQN must not be empty", name)
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s: at least one column is required", name)
	}

	quote := d.Quote
	if quote == nil {
		quote = func(s string) string { return s }
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		col := strings.TrimSpace(c.Name)
		if col == "" {
			return "", fmt.Errorf("%s: column with empty name in table %s", name, fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("%s: column %s missing SQLType", name, col)
		}

		var sb strings.Builder
		sb.WriteString(quote(col))
		sb.WriteByte(' ')
		sb.WriteString(typ)

		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}

		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}

		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, quote(col))
		}
	}

	if len(pks) > 0 {
		if d.SortPrimaryKey {
			sort.Strings(pks)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := QuoteFQN(fqn, quote)
	head := "CREATE TABLE "
	if d.IfNotExists {
		head = "CREATE TABLE IF NOT EXISTS "
	}
	stmt := fmt.Sprintf(
		"%s%s (\n  %s\n);",
		head,
		quoted,
		strings.Join(cols, ",\n  "),
	)
	if d.Guard != nil {
		stmt = d.Guard(quoted, stmt)
	}
	return stmt, nil
}

// QuoteFQN quotes a possibly schema-qualified name segment by segment.
// Empty segments are dropped.
func QuoteFQN(fqn string, quote func(string) string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if quote != nil {
			p = quote(p)
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}

// DoubleQuote quotes an identifier ANSI-style, doubling embedded quotes.
func DoubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// Backtick quotes a MySQL identifier, doubling embedded backticks.
func Backtick(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// Bracket quotes a SQL Server identifier, escaping the closing bracket.
func Bracket(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
