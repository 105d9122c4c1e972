// This file adds a lightweight linter for Transformation values. It performs
// static checks over a decoded definition and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"

	"kettle/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced to users but
	// does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding.
//
// Path is a dotted path into the definition (e.g. "steps[1].type",
// "hops[0].to"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// KnownStepTypes lists the step types shipped with the engine. Unknown types
// are reported as warnings so that externally registered steps still pass.
var KnownStepTypes = map[string]struct{}{
	"generator":         {},
	"csv_input":         {},
	"dummy":             {},
	"coerce":            {},
	"validate":          {},
	"normalize":         {},
	"dedupe":            {},
	"column_exists":     {},
	"table_output":      {},
	"symmetric_crypto":  {},
	"serialize_output":  {},
	"deserialize_input": {},
	"row_counter":       {},
}

// stepsUsingConnection name the step types whose "connection" option must
// reference a declared connection.
var stepsUsingConnection = map[string]struct{}{
	"column_exists": {},
	"table_output":  {},
}

var knownConnectionKinds = map[string]struct{}{
	"postgres": {},
	"mssql":    {},
	"mysql":    {},
	"sqlite":   {},
}

// ValidateTransformation performs static validation of t. It does not
// mutate t. Callers decide whether warnings are fatal.
//
// Example:
//
//	t, err := config.Load("orders.jsonc")
//	if err != nil { ... }
//	for _, iss := range config.ValidateTransformation(t) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func ValidateTransformation(t Transformation) []Issue {
	var issues []Issue

	if strings.TrimSpace(t.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "name",
			Message:  "name is empty; it is used for log and metrics labels",
		})
	}
	issues = append(issues, validateConnections(t.Connections)...)
	issues = append(issues, validateSteps(t)...)
	issues = append(issues, validateHops(t)...)
	issues = append(issues, validateRuntime(t.Runtime)...)
	return issues
}

func validateConnections(conns []Connection) []Issue {
	var issues []Issue
	seen := map[string]bool{}
	for i, c := range conns {
		path := fmt.Sprintf("connections[%d]", i)
		if strings.TrimSpace(c.Name) == "" {
			issues = append(issues, Issue{SeverityError, path + ".name", "connection name must not be empty"})
		} else if seen[c.Name] {
			issues = append(issues, Issue{SeverityError, path + ".name", fmt.Sprintf("duplicate connection %q", c.Name)})
		}
		seen[c.Name] = true
		if _, ok := knownConnectionKinds[c.Kind]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".kind",
				Message:  fmt.Sprintf("unknown connection kind %q; ensure a matching backend is registered", c.Kind),
			})
		}
		if strings.TrimSpace(c.DSN) == "" {
			issues = append(issues, Issue{SeverityError, path + ".dsn", "dsn must not be empty"})
		}
	}
	return issues
}

func validateSteps(t Transformation) []Issue {
	var issues []Issue
	if len(t.Steps) == 0 {
		return append(issues, Issue{SeverityError, "steps", "transformation has no steps"})
	}

	names := map[string]bool{}
	for _, s := range t.Steps {
		names[s.Name] = true
	}
	conns := map[string]bool{}
	for _, c := range t.Connections {
		conns[c.Name] = true
	}
	connected := map[string]bool{}
	for _, h := range t.Hops {
		connected[h.From], connected[h.To] = true, true
	}
	for _, s := range t.Steps {
		if eh := s.ErrorHandling; eh != nil {
			connected[s.Name], connected[eh.Target] = true, true
		}
	}

	seen := map[string]bool{}
	for i, s := range t.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			issues = append(issues, Issue{SeverityError, path + ".name", "step name must not be empty"})
		} else if seen[s.Name] {
			issues = append(issues, Issue{SeverityError, path + ".name", fmt.Sprintf("duplicate step name %q", s.Name)})
		}
		seen[s.Name] = true

		if strings.TrimSpace(s.Type) == "" {
			issues = append(issues, Issue{SeverityError, path + ".type", "step type must not be empty"})
		} else if _, ok := KnownStepTypes[s.Type]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".type",
				Message:  fmt.Sprintf("unknown step type %q; ensure a matching implementation is registered", s.Type),
			})
		}
		if s.Copies < 0 {
			issues = append(issues, Issue{SeverityError, path + ".copies", "copies must not be negative"})
		}

		switch strings.ToLower(s.Distribution) {
		case "", "round_robin", "roundrobin", "distribute", "copy", "clone":
		case "partitioned", "partition", "hash":
			if len(s.PartitionFields) == 0 {
				issues = append(issues, Issue{SeverityError, path + ".partition_fields", "partitioned distribution requires at least one key field"})
			}
		default:
			issues = append(issues, Issue{SeverityError, path + ".distribution", fmt.Sprintf("unknown distribution %q", s.Distribution)})
		}

		for j, f := range s.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", path, j)
			if strings.TrimSpace(f.Name) == "" {
				issues = append(issues, Issue{SeverityError, fp + ".name", "field name must not be empty"})
			}
			if _, err := schema.ParseType(f.Type); err != nil {
				issues = append(issues, Issue{SeverityError, fp + ".type", err.Error()})
			}
		}

		if eh := s.ErrorHandling; eh != nil {
			ep := path + ".error_handling"
			switch {
			case strings.TrimSpace(eh.Target) == "":
				issues = append(issues, Issue{SeverityError, ep + ".target", "error handling requires a target step"})
			case !names[eh.Target]:
				issues = append(issues, Issue{SeverityError, ep + ".target", fmt.Sprintf("unknown step %q", eh.Target)})
			case eh.Target == s.Name:
				issues = append(issues, Issue{SeverityError, ep + ".target", "a step cannot be its own error target"})
			}
			if eh.MaxErrors < 0 {
				issues = append(issues, Issue{SeverityError, ep + ".max_errors", "max_errors must not be negative"})
			} else if eh.MaxErrors == 0 {
				issues = append(issues, Issue{SeverityWarning, ep + ".max_errors", "max_errors is 0; rejected rows are unlimited"})
			}
		}

		if _, ok := stepsUsingConnection[s.Type]; ok {
			c := s.Options.String("connection", "")
			if c == "" {
				issues = append(issues, Issue{SeverityError, path + ".options.connection", fmt.Sprintf("%s requires a connection", s.Type)})
			} else if !conns[c] {
				issues = append(issues, Issue{SeverityError, path + ".options.connection", fmt.Sprintf("unknown connection %q", c)})
			}
		}

		if len(t.Steps) > 1 && !connected[s.Name] {
			issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf("step %q is not connected to any other step", s.Name)})
		}
	}
	return issues
}

func validateHops(t Transformation) []Issue {
	var issues []Issue
	names := map[string]bool{}
	for _, s := range t.Steps {
		names[s.Name] = true
	}
	for i, h := range t.Hops {
		path := fmt.Sprintf("hops[%d]", i)
		if !names[h.From] {
			issues = append(issues, Issue{SeverityError, path + ".from", fmt.Sprintf("unknown step %q", h.From)})
		}
		if !names[h.To] {
			issues = append(issues, Issue{SeverityError, path + ".to", fmt.Sprintf("unknown step %q", h.To)})
		}
		if h.From == h.To {
			issues = append(issues, Issue{SeverityError, path, fmt.Sprintf("step %q is connected to itself", h.From)})
		}
		if h.Disabled {
			issues = append(issues, Issue{SeverityWarning, path, "hop is disabled"})
		}
	}
	return issues
}

// validateRuntime validates RuntimeConfig for obvious misconfigurations.
func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if r.RowSetSize < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.rowset_size", "rowset_size must not be negative"})
	}
	return issues
}
