package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kettle/internal/config"
	"kettle/internal/schema"
)

var seqSchema = schema.New(
	schema.Field{Name: "n", Type: schema.TypeInteger},
	schema.Field{Name: "k", Type: schema.TypeInteger},
)

// genStep emits rows (n, n%mod). rows < 0 means forever.
type genStep struct {
	rows, mod int
	i         int
}

func (g *genStep) Init(_ context.Context, sc *StepContext) error {
	if sc.OutputSchema() == nil {
		sc.SetOutputSchema(seqSchema)
	}
	return nil
}

func (g *genStep) ProcessCycle(ctx context.Context, sc *StepContext) (bool, error) {
	if g.rows >= 0 && g.i >= g.rows {
		return true, nil
	}
	row := schema.Row{int64(g.i), int64(g.i % g.mod)}
	g.i++
	return false, sc.PutRow(ctx, sc.OutputSchema(), row)
}

func (g *genStep) Finalize(context.Context, *StepContext) error { return nil }

// passStep forwards rows. Every failEvery-th row is rejected; the failAt-th
// row fails the step.
type passStep struct {
	failEvery int
	failAt    int
	seen      int
}

var errBoom = errors.New("boom")

func (p *passStep) Init(context.Context, *StepContext) error { return nil }

func (p *passStep) ProcessCycle(ctx context.Context, sc *StepContext) (bool, error) {
	row, err := sc.GetRow(ctx)
	if err != nil {
		return false, err
	}
	p.seen++
	if p.failAt > 0 && p.seen == p.failAt {
		return false, errBoom
	}
	if p.failEvery > 0 && p.seen%p.failEvery == 0 {
		return false, RejectRow(row, "VAL001", "synthetic failure", "n")
	}
	return false, sc.PutRow(ctx, sc.InputSchema(), row)
}

func (p *passStep) Finalize(context.Context, *StepContext) error { return nil }

// collector records every row each copy of a "collect" step reads.
type collector struct {
	mu      sync.Mutex
	rows    map[int][]schema.Row
	schemas map[int]*schema.Schema

	count   atomic.Int64
	reached chan struct{}
	target  int64
	once    sync.Once
}

func newCollector(target int64) *collector {
	return &collector{
		rows:    map[int][]schema.Row{},
		schemas: map[int]*schema.Schema{},
		reached: make(chan struct{}),
		target:  target,
	}
}

func (c *collector) all() []schema.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []schema.Row
	for _, rs := range c.rows {
		out = append(out, rs...)
	}
	return out
}

func (c *collector) copyRows(copyNr int) []schema.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows[copyNr]
}

type collectStep struct {
	c *collector
}

func (s *collectStep) Init(context.Context, *StepContext) error { return nil }

func (s *collectStep) ProcessCycle(ctx context.Context, sc *StepContext) (bool, error) {
	row, err := sc.GetRow(ctx)
	if err != nil {
		return false, err
	}
	s.c.mu.Lock()
	s.c.rows[sc.Copy()] = append(s.c.rows[sc.Copy()], row)
	s.c.schemas[sc.Copy()] = sc.InputSchema()
	s.c.mu.Unlock()
	if s.c.count.Add(1) == s.c.target {
		s.c.once.Do(func() { close(s.c.reached) })
	}
	return false, nil
}

func (s *collectStep) Finalize(context.Context, *StepContext) error { return nil }

// funcStep adapts closures; nil funcs are no-ops.
type funcStep struct {
	init     func(context.Context, *StepContext) error
	cycle    func(context.Context, *StepContext) (bool, error)
	fin      func(context.Context, *StepContext) error
	disposed *atomic.Int32
}

func (f *funcStep) Init(ctx context.Context, sc *StepContext) error {
	if f.init == nil {
		return nil
	}
	return f.init(ctx, sc)
}

func (f *funcStep) ProcessCycle(ctx context.Context, sc *StepContext) (bool, error) {
	if f.cycle == nil {
		return true, nil
	}
	return f.cycle(ctx, sc)
}

func (f *funcStep) Finalize(ctx context.Context, sc *StepContext) error {
	if f.fin == nil {
		return nil
	}
	return f.fin(ctx, sc)
}

func (f *funcStep) Dispose() error {
	if f.disposed != nil {
		f.disposed.Add(1)
	}
	return nil
}

func testRegistry(c *collector) *Registry {
	reg := NewRegistry()
	reg.Register("gen", func(meta StepMeta, _ int) (Step, error) {
		return &genStep{rows: meta.Options.Int("rows", 0), mod: meta.Options.Int("mod", 1)}, nil
	})
	reg.Register("pass", func(meta StepMeta, _ int) (Step, error) {
		return &passStep{failEvery: meta.Options.Int("fail_every", 0), failAt: meta.Options.Int("fail_at", 0)}, nil
	})
	reg.Register("collect", func(StepMeta, int) (Step, error) {
		return &collectStep{c: c}, nil
	})
	return reg
}

func gen(name string, rows int) StepMeta {
	return StepMeta{Name: name, Type: "gen", Options: config.Options{"rows": rows, "mod": 7}}
}

func pass(name string, opts config.Options) StepMeta {
	return StepMeta{Name: name, Type: "pass", Options: opts}
}

func collect(name string, copies int) StepMeta {
	return StepMeta{Name: name, Type: "collect", Copies: copies}
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func execute(t *testing.T, g Graph, reg *Registry, opts ...Option) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tr := New(g, reg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	return tr.Execute(ctx)
}
