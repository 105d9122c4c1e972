package steps

import (
	"context"
	"fmt"
	"sort"

	"kettle/internal/engine"
	"kettle/internal/schema"
)

// CodeCoerce marks a value that could not be converted.
const CodeCoerce = "COERCE001"

// coerce converts fields to the types in options.types (field -> type name).
// String values are parsed with options.layout for dates; other values are
// normalized. The output schema is the input schema with the new types.
type coerce struct {
	names  []string
	types  []schema.Type
	layout string

	in  *schema.Schema
	out *schema.Schema
	idx []int
}

func newCoerce(meta engine.StepMeta, _ int) (engine.Step, error) {
	m := meta.Options.StringMap("types")
	if len(m) == 0 {
		return nil, optionErr(meta, "types", "required")
	}
	c := &coerce{layout: meta.Options.String("layout", schema.DefaultDateLayout)}
	for name := range m {
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	for _, name := range c.names {
		t, err := schema.ParseType(m[name])
		if err != nil {
			return nil, optionErr(meta, "types", "field %s: %v", name, err)
		}
		c.types = append(c.types, t)
	}
	return c, nil
}

func (c *coerce) Init(context.Context, *engine.StepContext) error { return nil }

func (c *coerce) bind(in *schema.Schema) error {
	idx, err := indexOf(in, c.names)
	if err != nil {
		return err
	}
	out := in
	for i, j := range idx {
		out = out.WithType(j, c.types[i])
	}
	c.in, c.out, c.idx = in, out, idx
	return nil
}

func (c *coerce) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	if sc.InputSchema() != c.in {
		if err := c.bind(sc.InputSchema()); err != nil {
			return false, err
		}
	}

	out := row.Clone()
	var bad []string
	var firstErr error
	for i, j := range c.idx {
		v, err := c.convert(c.types[i], out[j])
		if err != nil {
			bad = append(bad, c.names[i])
			if firstErr == nil {
				firstErr = fmt.Errorf("field %s: %w", c.names[i], err)
			}
			continue
		}
		out[j] = v
	}
	if len(bad) > 0 {
		return false, engine.RejectRow(row, CodeCoerce, firstErr.Error(), bad...)
	}
	return false, sc.PutRow(ctx, c.out, out)
}

func (c *coerce) convert(t schema.Type, v any) (any, error) {
	if s, ok := v.(string); ok {
		return schema.Parse(t, s, c.layout)
	}
	return schema.Normalize(t, v)
}

func (c *coerce) Finalize(context.Context, *engine.StepContext) error { return nil }
