package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"kettle/internal/engine"
	"kettle/internal/schema"
)

// Row error codes of validate.
const (
	CodeRequired = "VAL001"
	CodeEnum     = "VAL002"
	CodeType     = "VAL003"
	CodeLength   = "VAL004"
)

// validate checks each row and rejects the ones that fail. Every violated
// rule is reported, so one rejected row may list several fields and codes.
//
// Options:
//
//	required     fields that must be present and non-empty
//	enums        field -> allowed values separated by "|"
//	types        field -> type the value must parse as (string values only)
//	max_length   field -> maximum length of the string form
//	date_layout  layout used by type checks on date fields
//
// Empty optional values pass every rule.
type validate struct {
	required []string
	enums    map[string]map[string]struct{}
	types    map[string]schema.Type
	maxLen   map[string]int
	layout   string

	in    *schema.Schema
	rules []fieldRule
}

// fieldRule is the per-field check list resolved against one input schema.
type fieldRule struct {
	name     string
	idx      int
	required bool
	enum     map[string]struct{}
	typ      schema.Type
	maxLen   int
}

func newValidate(meta engine.StepMeta, _ int) (engine.Step, error) {
	v := &validate{
		required: meta.Options.StringSlice("required"),
		enums:    map[string]map[string]struct{}{},
		types:    map[string]schema.Type{},
		maxLen:   map[string]int{},
		layout:   meta.Options.String("date_layout", schema.DefaultDateLayout),
	}
	for field, list := range meta.Options.StringMap("enums") {
		set := map[string]struct{}{}
		for _, s := range strings.Split(list, "|") {
			set[strings.TrimSpace(s)] = struct{}{}
		}
		v.enums[field] = set
	}
	for field, name := range meta.Options.StringMap("types") {
		t, err := schema.ParseType(name)
		if err != nil {
			return nil, optionErr(meta, "types", "field %s: %v", field, err)
		}
		v.types[field] = t
	}
	if raw, ok := meta.Options.Any("max_length").(map[string]any); ok {
		for field, n := range raw {
			l, ok := toInt(n)
			if !ok || l <= 0 {
				return nil, optionErr(meta, "max_length", "field %s: want a positive integer, got %v", field, n)
			}
			v.maxLen[field] = l
		}
	}
	if len(v.required)+len(v.enums)+len(v.types)+len(v.maxLen) == 0 {
		return nil, fmt.Errorf("step %s: validate has no rules", meta.Name)
	}
	return v, nil
}

func (v *validate) Init(context.Context, *engine.StepContext) error { return nil }

func (v *validate) bind(in *schema.Schema) error {
	byName := map[string]*fieldRule{}
	get := func(name string) (*fieldRule, error) {
		if r, ok := byName[name]; ok {
			return r, nil
		}
		i := in.IndexOf(name)
		if i < 0 {
			return nil, fmt.Errorf("field %q not found in input %s", name, in)
		}
		r := &fieldRule{name: name, idx: i}
		byName[name] = r
		return r, nil
	}
	for _, n := range v.required {
		r, err := get(n)
		if err != nil {
			return err
		}
		r.required = true
	}
	for n, set := range v.enums {
		r, err := get(n)
		if err != nil {
			return err
		}
		r.enum = set
	}
	for n, t := range v.types {
		r, err := get(n)
		if err != nil {
			return err
		}
		r.typ = t
	}
	for n, l := range v.maxLen {
		r, err := get(n)
		if err != nil {
			return err
		}
		r.maxLen = l
	}

	rules := make([]fieldRule, 0, len(byName))
	for _, r := range byName {
		rules = append(rules, *r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].idx < rules[j].idx })
	v.in, v.rules = in, rules
	return nil
}

func (v *validate) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	if sc.InputSchema() != v.in {
		if err := v.bind(sc.InputSchema()); err != nil {
			return false, err
		}
	}

	var fields, codes, msgs []string
	for i := range v.rules {
		code, msg := v.check(&v.rules[i], row[v.rules[i].idx])
		if code == "" {
			continue
		}
		fields = append(fields, v.rules[i].name)
		codes = append(codes, code)
		msgs = append(msgs, msg)
	}
	if len(fields) > 0 {
		re := engine.RejectRow(row, strings.Join(codes, ","), strings.Join(msgs, "; "), fields...)
		return false, re
	}
	return false, sc.PutRow(ctx, sc.InputSchema(), row)
}

// check returns the code and message of the first rule r violates.
func (v *validate) check(r *fieldRule, val any) (string, string) {
	if isEmpty(val) {
		if r.required {
			return CodeRequired, fmt.Sprintf("required field %q missing", r.name)
		}
		return "", ""
	}
	s := schema.Format(val)
	if r.typ != schema.TypeNone {
		if str, ok := val.(string); ok {
			if _, err := schema.Parse(r.typ, str, v.layout); err != nil {
				return CodeType, fmt.Sprintf("field %q: %v", r.name, err)
			}
		}
	}
	if r.enum != nil {
		if _, ok := r.enum[s]; !ok {
			return CodeEnum, fmt.Sprintf("field %q: %q not allowed", r.name, s)
		}
	}
	if r.maxLen > 0 && len([]rune(s)) > r.maxLen {
		return CodeLength, fmt.Sprintf("field %q: longer than %d", r.name, r.maxLen)
	}
	return "", ""
}

func (v *validate) Finalize(context.Context, *engine.StepContext) error { return nil }

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	}
	return 0, false
}
