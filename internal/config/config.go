// Package config defines the serializable model of a transformation
// definition: steps, hops, error handling bindings, named connections and
// runtime knobs. Definitions are loaded from JSON, JSONC or YAML files.
//
// Example (trimmed):
//
//	{
//	  "name": "orders",
//	  "connections": [ { "name": "dwh", "kind": "postgres", "dsn": "postgresql://..." } ],
//	  "steps": [
//	    { "name": "read",  "type": "csv_input", "options": { "path": "orders.csv" },
//	      "fields": [ { "name": "id", "type": "string" } ] },
//	    { "name": "check", "type": "validate", "copies": 2,
//	      "options": { "required": ["id"] },
//	      "error_handling": { "target": "rejects", "max_errors": 50 } },
//	    { "name": "rejects", "type": "dummy" },
//	    { "name": "load",  "type": "table_output", "options": { "connection": "dwh", "table": "public.orders" } }
//	  ],
//	  "hops": [ { "from": "read", "to": "check" }, { "from": "check", "to": "load" } ],
//	  "runtime": { "rowset_size": 10000 }
//	}
package config

import (
	"encoding/json"
	"fmt"
)

// Transformation is the top-level object of a definition file.
type Transformation struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Steps       []Step        `json:"steps" yaml:"steps"`
	Hops        []Hop         `json:"hops" yaml:"hops"`
	Connections []Connection  `json:"connections" yaml:"connections"`
	Runtime     RuntimeConfig `json:"runtime" yaml:"runtime"`
}

// RuntimeConfig holds engine knobs. Zero values mean "use the default".
type RuntimeConfig struct {
	// RowSetSize is the capacity of every row set.
	RowSetSize int `json:"rowset_size" yaml:"rowset_size"`
}

// Step declares one step.
type Step struct {
	// Name must be unique within the transformation.
	Name string `json:"name" yaml:"name"`

	// Type selects the step implementation (e.g. "csv_input", "validate").
	Type string `json:"type" yaml:"type"`

	// Copies is the number of parallel copies; 0 means 1.
	Copies int `json:"copies" yaml:"copies"`

	// Distribution is "round_robin" (default), "copy" or "partitioned".
	Distribution    string   `json:"distribution" yaml:"distribution"`
	PartitionFields []string `json:"partition_fields" yaml:"partition_fields"`

	// Fields is the static output layout of source steps.
	Fields []FieldSpec `json:"fields" yaml:"fields"`

	// Options is interpreted by the step implementation.
	Options Options `json:"options" yaml:"options"`

	ErrorHandling *ErrorHandling `json:"error_handling" yaml:"error_handling"`
}

// FieldSpec declares one field of a static layout.
type FieldSpec struct {
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	Length    int    `json:"length" yaml:"length"`
	Precision int    `json:"precision" yaml:"precision"`
}

// Hop connects two steps by name.
type Hop struct {
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	Disabled bool   `json:"disabled" yaml:"disabled"`
}

// ErrorHandling redirects rejected rows of a step to Target.
type ErrorHandling struct {
	Target string `json:"target" yaml:"target"`
	// MaxErrors fails the step once more rows were rejected; 0 = no limit.
	MaxErrors int `json:"max_errors" yaml:"max_errors"`

	NrErrorsField     string `json:"nr_errors_field" yaml:"nr_errors_field"`
	DescriptionsField string `json:"descriptions_field" yaml:"descriptions_field"`
	FieldsField       string `json:"fields_field" yaml:"fields_field"`
	CodesField        string `json:"codes_field" yaml:"codes_field"`
}

// Options is a small helper to fetch typed values from arbitrary decoded
// maps. It performs only minimal type coercion and returns the provided
// default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. encoding/json decodes numbers as
// float64 and yaml.v3 as int, so both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. It suits single-character settings such as a delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored. Returns an empty
// map when the key is missing or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		case map[string]string:
			for k, s := range m {
				res[k] = s
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of
// strings. Returns nil when the key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Any returns the raw value for key, which may itself be a nested map,
// slice or primitive.
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON makes a missing or null "options" object decode to a
// non-nil, empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

// StepByName returns the step called name.
func (t *Transformation) StepByName(name string) (Step, error) {
	for _, s := range t.Steps {
		if s.Name == name {
			return s, nil
		}
	}
	return Step{}, fmt.Errorf("config: no step named %q", name)
}
