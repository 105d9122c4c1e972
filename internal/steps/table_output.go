package steps

import (
	"context"
	"fmt"

	"kettle/internal/engine"
	"kettle/internal/metrics"
	"kettle/internal/schema"
	"kettle/internal/storage"
)

// tableOutput bulk-loads rows into a table and passes them on unchanged.
//
// Options:
//
//	connection    named connection (required)
//	table         target table, optionally schema-qualified (required)
//	fields        input fields to load, default all
//	batch_size    rows per bulk copy, default 1000
//	create_table  create the table from the input layout if missing
//
// Rows are buffered per copy and flushed when the batch is full and at end
// of stream.
type tableOutput struct {
	conn   string
	table  string
	fields []string
	size   int
	create bool
	cfg    storage.Config

	repo    storage.Repository
	batcher *storage.Batcher
	columns []string
	in      *schema.Schema
	idx     []int
	trans   string
	step    string
}

func newTableOutput(env Env, meta engine.StepMeta) (engine.Step, error) {
	t := &tableOutput{
		conn:   meta.Options.String("connection", ""),
		table:  meta.Options.String("table", ""),
		fields: meta.Options.StringSlice("fields"),
		size:   meta.Options.Int("batch_size", 1000),
		create: meta.Options.Bool("create_table", false),
	}
	if t.conn == "" {
		return nil, optionErr(meta, "connection", "required")
	}
	if t.table == "" {
		return nil, optionErr(meta, "table", "required")
	}
	if t.size <= 0 {
		return nil, optionErr(meta, "batch_size", "must be > 0, got %d", t.size)
	}
	conn, err := env.Connections.Get(t.conn)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", meta.Name, err)
	}
	t.cfg = storage.Config{Kind: conn.Kind, DSN: conn.DSN}
	return t, nil
}

func (t *tableOutput) Init(ctx context.Context, sc *engine.StepContext) error {
	repo, err := openRepository(ctx, t.cfg)
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.conn, err)
	}
	t.repo = repo
	t.trans, t.step = sc.Trans(), sc.Name()
	return nil
}

// bind resolves the loaded columns. The first layout seen fixes the column
// list; later layouts must carry the same names.
func (t *tableOutput) bind(ctx context.Context, sc *engine.StepContext, in *schema.Schema) error {
	if t.columns == nil {
		names := t.fields
		if len(names) == 0 {
			names = in.Names()
		}
		idx, err := indexOf(in, names)
		if err != nil {
			return err
		}
		if t.create {
			fields := make([]schema.Field, len(idx))
			for i, j := range idx {
				fields[i] = in.Field(j)
			}
			if err := storage.EnsureTable(ctx, t.cfg.Kind, t.repo, t.table, schema.New(fields...)); err != nil {
				return err
			}
		}
		b, err := storage.NewBatcher(names, t.size, t.load, sc.Logger())
		if err != nil {
			return err
		}
		t.columns, t.batcher = names, b
		t.in, t.idx = in, idx
		return nil
	}
	idx, err := indexOf(in, t.columns)
	if err != nil {
		return err
	}
	t.in, t.idx = in, idx
	return nil
}

func (t *tableOutput) load(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	n, err := t.repo.CopyFrom(ctx, t.table, columns, rows)
	if err == nil {
		metrics.RecordBatches(t.trans, t.step, 1)
	}
	return n, err
}

func (t *tableOutput) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	if sc.InputSchema() != t.in {
		if err := t.bind(ctx, sc, sc.InputSchema()); err != nil {
			return false, err
		}
	}

	vals := make([]any, len(t.idx))
	for i, j := range t.idx {
		vals[i] = row[j]
	}
	before := t.batcher.Total()
	if err := t.batcher.Add(ctx, vals); err != nil {
		return false, fmt.Errorf("load %s: %w", t.table, err)
	}
	sc.IncLinesOutput(t.batcher.Total() - before)
	return false, sc.PutRow(ctx, sc.InputSchema(), row)
}

func (t *tableOutput) Finalize(ctx context.Context, sc *engine.StepContext) error {
	if t.batcher == nil {
		return nil
	}
	before := t.batcher.Total()
	if err := t.batcher.Flush(ctx); err != nil {
		return fmt.Errorf("load %s: %w", t.table, err)
	}
	sc.IncLinesOutput(t.batcher.Total() - before)
	sc.Logger().Info("table loaded", "table", t.table, "rows", t.batcher.Total(), "batches", t.batcher.Batches())
	return nil
}

func (t *tableOutput) Dispose() error {
	if t.repo != nil {
		t.repo.Close()
	}
	return nil
}
