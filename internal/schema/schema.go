// Package schema describes the rows that flow between steps of a
// transformation.
//
// A Schema is an ordered list of Field descriptors; a Row is a positional
// []any aligned to a Schema. Schemas are shared by reference between the
// producing step, the row set and the consuming step, so a Schema value is
// never modified once built. Every helper that "changes" a schema (Append,
// WithType) returns a new value.
package schema

import (
	"fmt"
	"strings"
)

// Type enumerates the value types a Field may carry.
type Type uint8

const (
	TypeNone Type = iota
	TypeString
	TypeInteger
	TypeNumber
	TypeBoolean
	TypeDate
	TypeBinary
)

var typeNames = [...]string{
	TypeNone:    "none",
	TypeString:  "string",
	TypeInteger: "integer",
	TypeNumber:  "number",
	TypeBoolean: "boolean",
	TypeDate:    "date",
	TypeBinary:  "binary",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a loosely-specified type name onto a Type. The mapping is
// case-insensitive and accepts the common SQL spellings.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "text", "varchar":
		return TypeString, nil
	case "int", "integer", "bigint", "int8", "int4":
		return TypeInteger, nil
	case "number", "float", "double", "real", "numeric", "decimal":
		return TypeNumber, nil
	case "bool", "boolean":
		return TypeBoolean, nil
	case "date", "timestamp", "timestamptz", "datetime":
		return TypeDate, nil
	case "binary", "bytes", "blob":
		return TypeBinary, nil
	default:
		return TypeNone, fmt.Errorf("schema: unknown type %q", s)
	}
}

// Field describes one column of a row.
type Field struct {
	Name      string
	Type      Type
	Length    int
	Precision int
	// Origin names the step that introduced the field.
	Origin string
}

// Schema is an immutable, ordered set of fields.
type Schema struct {
	fields []Field
	index  map[string]int
}

// New builds a Schema from fields. The slice is copied.
func New(fields ...Field) *Schema {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)
	for i, f := range s.fields {
		if _, dup := s.index[f.Name]; !dup {
			s.index[f.Name] = i
		}
	}
	return s
}

// Len returns the number of fields; a nil Schema has none.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// Field returns the i-th field.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the field list.
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	out := make([]string, s.Len())
	for i := range out {
		out[i] = s.fields[i].Name
	}
	return out
}

// IndexOf returns the position of the first field called name, or -1.
func (s *Schema) IndexOf(name string) int {
	if s == nil {
		return -1
	}
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Compatible reports whether o describes the same row layout as s: same
// field count and the same types in the same order. Names are not compared.
func (s *Schema) Compatible(o *Schema) bool {
	if s == o {
		return true
	}
	if s.Len() != o.Len() {
		return false
	}
	if s.Len() == 0 {
		return true
	}
	for i := range s.fields {
		if s.fields[i].Type != o.fields[i].Type {
			return false
		}
	}
	return true
}

// Append returns a new Schema with fields added at the end.
func (s *Schema) Append(fields ...Field) *Schema {
	all := make([]Field, 0, s.Len()+len(fields))
	if s != nil {
		all = append(all, s.fields...)
	}
	all = append(all, fields...)
	return New(all...)
}

// WithType returns a new Schema where field i has type t.
func (s *Schema) WithType(i int, t Type) *Schema {
	all := s.Fields()
	all[i].Type = t
	return New(all...)
}

func (s *Schema) String() string {
	if s == nil {
		return "[]"
	}
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + " " + f.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Row is a positional tuple aligned to a Schema. A Row handed to a row set
// belongs to every reader of that row set; it must not be modified afterwards.
type Row []any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Append returns a new row holding r followed by vals. r is never reused as
// the backing array of the result.
func (r Row) Append(vals ...any) Row {
	out := make(Row, len(r), len(r)+len(vals))
	copy(out, r)
	return append(out, vals...)
}
