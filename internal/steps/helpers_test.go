package steps

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"kettle/internal/config"
	"kettle/internal/engine"
	"kettle/internal/schema"
)

// sink records what every "capture" step reads, keyed by step name.
type sink struct {
	mu      sync.Mutex
	rows    map[string][]schema.Row
	schemas map[string]*schema.Schema
}

func newSink() *sink {
	return &sink{rows: map[string][]schema.Row{}, schemas: map[string]*schema.Schema{}}
}

func (s *sink) get(name string) ([]schema.Row, *schema.Schema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[name], s.schemas[name]
}

// column returns the values of field in the rows captured by step name.
func (s *sink) column(t *testing.T, name, field string) []any {
	t.Helper()
	rows, sch := s.get(name)
	if sch == nil {
		if len(rows) == 0 {
			return nil
		}
		t.Fatalf("%s: no schema captured", name)
	}
	i := sch.IndexOf(field)
	if i < 0 {
		t.Fatalf("%s: field %q not in %s", name, field, sch)
	}
	out := make([]any, len(rows))
	for j, r := range rows {
		out[j] = r[i]
	}
	return out
}

type captureStep struct {
	s *sink
}

func (c *captureStep) Init(context.Context, *engine.StepContext) error { return nil }

func (c *captureStep) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	c.s.mu.Lock()
	c.s.rows[sc.Name()] = append(c.s.rows[sc.Name()], row)
	c.s.schemas[sc.Name()] = sc.InputSchema()
	c.s.mu.Unlock()
	return false, nil
}

func (c *captureStep) Finalize(context.Context, *engine.StepContext) error { return nil }

func testRegistry(s *sink, env Env) *engine.Registry {
	reg := NewRegistry(env)
	reg.Register("capture", func(engine.StepMeta, int) (engine.Step, error) {
		return &captureStep{s: s}, nil
	})
	return reg
}

func capture(name string) engine.StepMeta {
	return engine.StepMeta{Name: name, Type: "capture"}
}

func step(name, typ string, opts config.Options) engine.StepMeta {
	return engine.StepMeta{Name: name, Type: typ, Options: opts}
}

func source(name, typ string, opts config.Options, fields ...schema.Field) engine.StepMeta {
	return engine.StepMeta{Name: name, Type: typ, Options: opts, Fields: fields}
}

func str(name string) schema.Field { return schema.Field{Name: name, Type: schema.TypeString} }

func integer(name string) schema.Field { return schema.Field{Name: name, Type: schema.TypeInteger} }

// chain links the steps in order.
func chain(names ...string) []engine.Hop {
	hops := make([]engine.Hop, 0, len(names))
	for i := 1; i < len(names); i++ {
		hops = append(hops, engine.Hop{From: names[i-1], To: names[i]})
	}
	return hops
}

func run(t *testing.T, g engine.Graph, env Env) (engine.Result, *sink, error) {
	t.Helper()
	if g.Name == "" {
		g.Name = t.Name()
	}
	if g.RowSetSize == 0 {
		g.RowSetSize = 16
	}
	s := newSink()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tr := engine.New(g, testRegistry(s, env), engine.WithLogger(slog.New(slog.DiscardHandler)))
	res, err := tr.Execute(ctx)
	return res, s, err
}
