package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func minimal() Transformation {
	return Transformation{
		Name:        "orders",
		Connections: []Connection{{Name: "dwh", Kind: "sqlite", DSN: "file::memory:"}},
		Steps: []Step{
			{Name: "gen", Type: "generator", Fields: []FieldSpec{{Name: "id", Type: "integer"}}, Options: Options{}},
			{Name: "check", Type: "validate", Options: Options{},
				ErrorHandling: &ErrorHandling{Target: "rejects", MaxErrors: 10}},
			{Name: "rejects", Type: "dummy", Options: Options{}},
			{Name: "load", Type: "table_output", Options: Options{"connection": "dwh", "table": "t"}},
		},
		Hops: []Hop{{From: "gen", To: "check"}, {From: "check", To: "load"}},
	}
}

/*
TestValidateTransformation_ValidMinimal verifies that a well-formed
definition produces no issues (errors or warnings).
*/
func TestValidateTransformation_ValidMinimal(t *testing.T) {
	if issues := ValidateTransformation(minimal()); len(issues) != 0 {
		t.Fatalf("expected no issues; got %+v", issues)
	}
}

func TestValidateTransformation_Findings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Transformation)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{"empty name", func(x *Transformation) { x.Name = "" }, SeverityWarning, "name", "name is empty"},
		{"no steps", func(x *Transformation) { x.Steps = nil; x.Hops = nil }, SeverityError, "steps", "no steps"},
		{"duplicate step", func(x *Transformation) { x.Steps[2].Name = "check" }, SeverityError, "steps[2].name", "duplicate"},
		{"missing type", func(x *Transformation) { x.Steps[0].Type = "" }, SeverityError, "steps[0].type", "must not be empty"},
		{"unknown type", func(x *Transformation) { x.Steps[0].Type = "teleport" }, SeverityWarning, "steps[0].type", "unknown step type"},
		{"negative copies", func(x *Transformation) { x.Steps[1].Copies = -1 }, SeverityError, "steps[1].copies", "negative"},
		{"bad distribution", func(x *Transformation) { x.Steps[0].Distribution = "spray" }, SeverityError, "steps[0].distribution", "unknown"},
		{"partition without keys", func(x *Transformation) { x.Steps[0].Distribution = "partitioned" }, SeverityError, "steps[0].partition_fields", "key field"},
		{"bad field type", func(x *Transformation) { x.Steps[0].Fields[0].Type = "blob-ish" }, SeverityError, "steps[0].fields[0].type", "unknown type"},
		{"error target unknown", func(x *Transformation) { x.Steps[1].ErrorHandling.Target = "nowhere" }, SeverityError, "steps[1].error_handling.target", "unknown step"},
		{"error target self", func(x *Transformation) { x.Steps[1].ErrorHandling.Target = "check" }, SeverityError, "steps[1].error_handling.target", "own error target"},
		{"unlimited errors", func(x *Transformation) { x.Steps[1].ErrorHandling.MaxErrors = 0 }, SeverityWarning, "steps[1].error_handling.max_errors", "unlimited"},
		{"missing connection", func(x *Transformation) { delete(x.Steps[3].Options, "connection") }, SeverityError, "steps[3].options.connection", "requires a connection"},
		{"unknown connection", func(x *Transformation) { x.Steps[3].Options["connection"] = "crm" }, SeverityError, "steps[3].options.connection", "unknown connection"},
		{"hop to nowhere", func(x *Transformation) { x.Hops[1].To = "void" }, SeverityError, "hops[1].to", "unknown step"},
		{"hop self", func(x *Transformation) { x.Hops[0].To = "gen" }, SeverityError, "hops[0]", "itself"},
		{"unconnected", func(x *Transformation) { x.Hops = x.Hops[:1] }, SeverityWarning, "steps[3]", "not connected"},
		{"connection dsn", func(x *Transformation) { x.Connections[0].DSN = " " }, SeverityError, "connections[0].dsn", "must not be empty"},
		{"connection kind", func(x *Transformation) { x.Connections[0].Kind = "oracle" }, SeverityWarning, "connections[0].kind", "unknown connection kind"},
		{"rowset size", func(x *Transformation) { x.Runtime.RowSetSize = -5 }, SeverityError, "runtime.rowset_size", "negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := minimal()
			tc.mutate(&x)
			issues := ValidateTransformation(x)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.msg) {
				t.Fatalf("missing %s at %s (%q); got %+v", tc.sev, tc.path, tc.msg, issues)
			}
		})
	}
}

func TestHasErrors(t *testing.T) {
	if HasErrors([]Issue{{Severity: SeverityWarning}}) {
		t.Fatal("warnings only; want false")
	}
	if !HasErrors([]Issue{{Severity: SeverityWarning}, {Severity: SeverityError}}) {
		t.Fatal("with an error; want true")
	}
}
