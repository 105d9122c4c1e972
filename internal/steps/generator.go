package steps

import (
	"context"
	"fmt"

	"kettle/internal/engine"
	"kettle/internal/schema"
)

// generator emits limit rows built from the declared fields. Each field
// takes its constant from options.values (parsed with the field type), and
// options.sequence names an integer field filled with the row number
// starting at 1. Every copy emits the full limit.
type generator struct {
	limit    int64
	seqIdx   int
	template schema.Row
	out      *schema.Schema
	n        int64
}

func newGenerator(meta engine.StepMeta, _ int) (engine.Step, error) {
	if len(meta.Fields) == 0 {
		return nil, fmt.Errorf("step %s: generator needs fields", meta.Name)
	}
	limit := meta.Options.Int("limit", 0)
	if limit < 0 {
		return nil, optionErr(meta, "limit", "must be >= 0, got %d", limit)
	}
	out := schema.New(meta.Fields...)
	layout := meta.Options.String("date_layout", schema.DefaultDateLayout)
	values := meta.Options.StringMap("values")

	g := &generator{limit: int64(limit), seqIdx: -1, out: out, template: make(schema.Row, out.Len())}
	for name, raw := range values {
		i := out.IndexOf(name)
		if i < 0 {
			return nil, optionErr(meta, "values", "unknown field %q", name)
		}
		v, err := schema.Parse(out.Field(i).Type, raw, layout)
		if err != nil {
			return nil, optionErr(meta, "values", "field %s: %v", name, err)
		}
		g.template[i] = v
	}
	if seq := meta.Options.String("sequence", ""); seq != "" {
		i := out.IndexOf(seq)
		if i < 0 || out.Field(i).Type != schema.TypeInteger {
			return nil, optionErr(meta, "sequence", "%q is not an integer field", seq)
		}
		g.seqIdx = i
	}
	return g, nil
}

func (g *generator) Init(_ context.Context, sc *engine.StepContext) error {
	sc.SetOutputSchema(g.out)
	return nil
}

func (g *generator) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	if g.n >= g.limit {
		return true, nil
	}
	g.n++
	row := g.template.Clone()
	if g.seqIdx >= 0 {
		row[g.seqIdx] = g.n
	}
	if err := sc.PutRow(ctx, g.out, row); err != nil {
		return false, err
	}
	return g.n >= g.limit, nil
}

func (g *generator) Finalize(context.Context, *engine.StepContext) error { return nil }
