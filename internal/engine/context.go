package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kettle/internal/config"
	"kettle/internal/rowset"
	"kettle/internal/schema"
)

// StepContext is the engine side of a step copy as seen by its Step: row
// I/O, error redirection, schema bookkeeping and logging. It is owned by the
// copy's goroutine and must not be shared.
type StepContext struct {
	inst *StepInstance

	in  *schema.Schema // schema of the row set the last row came from
	out *schema.Schema // static output schema, if declared

	errSchemas map[*schema.Schema]*schema.Schema
	sel        []int
}

func newStepContext(inst *StepInstance) *StepContext {
	sc := &StepContext{inst: inst}
	if len(inst.meta.Fields) > 0 {
		sc.out = schema.New(inst.meta.Fields...)
	}
	return sc
}

// Trans returns the name of the transformation the copy belongs to.
func (sc *StepContext) Trans() string { return sc.inst.trans }

// Name returns the step name.
func (sc *StepContext) Name() string { return sc.inst.meta.Name }

// Copy returns the copy number, starting at 0.
func (sc *StepContext) Copy() int { return sc.inst.copyNr }

// Copies returns how many copies of the step run.
func (sc *StepContext) Copies() int { return sc.inst.meta.Copies }

// Meta returns the step declaration.
func (sc *StepContext) Meta() StepMeta { return sc.inst.meta }

// Options returns the step's free-form configuration.
func (sc *StepContext) Options() config.Options { return sc.inst.meta.Options }

// Logger returns a logger carrying the step name and copy number.
func (sc *StepContext) Logger() *slog.Logger { return sc.inst.log }

// InputCount returns the number of input row sets.
func (sc *StepContext) InputCount() int { return sc.inst.reader.Len() }

// OutputCount returns the number of regular output row sets.
func (sc *StepContext) OutputCount() int { return len(sc.inst.outputs) }

// HasErrorHandling reports whether rejected rows go to an error target.
func (sc *StepContext) HasErrorHandling() bool { return sc.inst.meta.ErrorHandling != nil }

// StopRequested reports whether the copy was asked to stop. Long running
// business logic may poll it between rows.
func (sc *StepContext) StopRequested() bool { return sc.inst.stop.requested() }

// InputSchema returns the schema of the most recently read row, or nil
// before the first GetRow.
func (sc *StepContext) InputSchema() *schema.Schema { return sc.in }

// OutputSchema returns the schema declared with SetOutputSchema or through
// the static fields of the step declaration.
func (sc *StepContext) OutputSchema() *schema.Schema { return sc.out }

// SetOutputSchema declares the schema of the rows this copy emits.
func (sc *StepContext) SetOutputSchema(s *schema.Schema) { sc.out = s }

// GetRow returns the next input row. It returns ErrEndOfStream once every
// input is drained (immediately for a step without inputs) and ErrStopped
// after a stop request, once rows already queued on error inputs are read.
func (sc *StepContext) GetRow(ctx context.Context) (schema.Row, error) {
	inst := sc.inst
	if !inst.stop.requested() {
		row, from, err := inst.reader.Read(ctx)
		if err == nil {
			return sc.accept(row, from), nil
		}
		if !isStop(err) {
			return nil, err
		}
	}
	if row, from, ok := inst.drainErrors(); ok {
		return sc.accept(row, from), nil
	}
	return nil, ErrStopped
}

func (sc *StepContext) accept(row schema.Row, from *rowset.RowSet) schema.Row {
	sc.in = from.Schema()
	sc.inst.linesRead.Add(1)
	return row
}

// PutRow hands row, described by s, to every target step. Within a target
// the step's distribution picks the copies. It blocks while a chosen row set
// is full. The row must not be modified afterwards. A step without outputs
// only counts it.
func (sc *StepContext) PutRow(ctx context.Context, s *schema.Schema, row schema.Row) error {
	inst := sc.inst
	if inst.stop.requested() {
		return ErrStopped
	}
	if s == nil {
		return ErrNoSchema
	}
	for _, t := range inst.targets {
		var err error
		sc.sel, err = t.dist.Select(s, row, len(t.sets), sc.sel[:0])
		if err != nil {
			return err
		}
		for _, i := range sc.sel {
			if err := t.sets[i].Put(ctx, s, row); err != nil {
				return err
			}
		}
	}
	inst.linesWritten.Add(1)
	return nil
}

// PutError sends a rejected row to the error target, extended with the
// diagnostic fields of the error handling binding. Without a binding it
// returns re itself, which is fatal when propagated. Once more rows were
// rejected than the binding allows it returns ErrTooManyErrors; the row that
// crossed the limit has already been delivered.
func (sc *StepContext) PutError(ctx context.Context, re *RowError) error {
	inst := sc.inst
	eh := inst.meta.ErrorHandling
	if eh == nil || len(inst.errOutputs) == 0 {
		return re
	}
	if inst.stop.requested() {
		return ErrStopped
	}

	s := re.Schema
	if s == nil {
		s = sc.in
	}
	if s == nil {
		s = sc.out
	}
	if s == nil {
		return fmt.Errorf("%w: rejected row of %s", ErrNoSchema, inst.meta.Name)
	}
	row := re.Row
	if row == nil {
		row = make(schema.Row, s.Len())
	}
	errRow := row.Append(int64(1), re.Description, strings.Join(re.Fields, ","), re.Code)

	target := inst.errOutputs[inst.errNext%len(inst.errOutputs)]
	inst.errNext++
	if err := target.Put(ctx, sc.errorSchema(s, eh), errRow); err != nil {
		return err
	}

	n := inst.linesRejected.Add(1)
	inst.log.Debug("row rejected", "code", re.Code, "description", re.Description, "rejected", n)
	if eh.MaxErrors > 0 && n > int64(eh.MaxErrors) {
		return fmt.Errorf("%w: %d rows rejected, limit %d", ErrTooManyErrors, n, eh.MaxErrors)
	}
	return nil
}

func (sc *StepContext) errorSchema(s *schema.Schema, eh *ErrorHandling) *schema.Schema {
	if es, ok := sc.errSchemas[s]; ok {
		return es
	}
	if sc.errSchemas == nil {
		sc.errSchemas = make(map[*schema.Schema]*schema.Schema, 1)
	}
	origin := sc.inst.meta.Name
	es := s.Append(
		schema.Field{Name: eh.NrErrorsField, Type: schema.TypeInteger, Origin: origin},
		schema.Field{Name: eh.DescriptionsField, Type: schema.TypeString, Origin: origin},
		schema.Field{Name: eh.FieldsField, Type: schema.TypeString, Origin: origin},
		schema.Field{Name: eh.CodesField, Type: schema.TypeString, Origin: origin},
	)
	sc.errSchemas[s] = es
	return es
}

// IncLinesInput counts rows read from an external source (file, table).
func (sc *StepContext) IncLinesInput(n int64) { sc.inst.linesInput.Add(n) }

// IncLinesOutput counts rows written to an external target.
func (sc *StepContext) IncLinesOutput(n int64) { sc.inst.linesOutput.Add(n) }
