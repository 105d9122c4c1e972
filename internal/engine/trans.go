// Package engine runs transformations: directed graphs of steps in which
// every step copy is a goroutine and rows travel through bounded row sets.
//
// A run goes through Prepare (validate the graph, build row sets and step
// copies, run every Init concurrently), Start (one goroutine per copy) and
// Wait. The first fatal error of any copy cancels the run context: every
// other copy is asked to stop and every row set is aborted, so no goroutine
// stays blocked on a full or empty row set.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kettle/internal/rowset"
)

// Reporter receives the final status of every step copy of a run.
type Reporter interface {
	ReportStep(trans string, st StepStatus)
}

// Option configures a Trans.
type Option func(*Trans)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(t *Trans) { t.log = l } }

// WithRowSetSize overrides the row set capacity of the graph.
func WithRowSetSize(n int) Option { return func(t *Trans) { t.rowSetSize = n } }

// WithReporter sets the status reporter.
func WithReporter(r Reporter) Option { return func(t *Trans) { t.reporter = r } }

// WithStateListener registers an observer for step state transitions.
func WithStateListener(l StateListener) Option { return func(t *Trans) { t.listener = l } }

var errWrongPhase = errors.New("engine: transformation in wrong phase")

type phase int

const (
	phaseNew phase = iota
	phasePrepared
	phaseRunning
	phaseFinished
)

// Trans is one execution of a Graph. It is single use.
type Trans struct {
	graph    Graph
	registry *Registry

	log        *slog.Logger
	rowSetSize int
	reporter   Reporter
	listener   StateListener

	runID     string
	instances []*StepInstance
	rowsets   []*rowset.RowSet

	mu      sync.Mutex
	phase   phase
	cancel  context.CancelFunc
	started time.Time
	done    chan struct{}
	result  Result
}

// New returns a Trans for g whose step types are resolved through reg.
func New(g Graph, reg *Registry, opts ...Option) *Trans {
	g.Steps = slices.Clone(g.Steps)
	g.Hops = slices.Clone(g.Hops)
	t := &Trans{
		graph:    g,
		registry: reg,
		log:      slog.Default(),
		runID:    uuid.NewString(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With("trans", g.Name, "run_id", t.runID)
	return t
}

// RunID identifies this execution.
func (t *Trans) RunID() string { return t.runID }

// Instances returns the step copies, in declaration order. It is empty
// before Prepare.
func (t *Trans) Instances() []*StepInstance { return t.instances }

// Prepare validates the graph, wires row sets and step copies and runs Init
// on every copy concurrently. When any of that fails the run is over: Wait
// returns a failed Result and Start is refused.
func (t *Trans) Prepare(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != phaseNew {
		return fmt.Errorf("%w: prepare", errWrongPhase)
	}
	t.started = time.Now()

	if t.rowSetSize > 0 {
		t.graph.RowSetSize = t.rowSetSize
	}
	if err := t.graph.Validate(); err != nil {
		t.finishLocked(err)
		return err
	}
	if err := t.build(); err != nil {
		for _, inst := range t.instances {
			inst.dispose()
		}
		t.finishLocked(err)
		return err
	}

	var g errgroup.Group
	for _, inst := range t.instances {
		g.Go(func() error { return inst.init(ctx) })
	}
	if err := g.Wait(); err != nil {
		for _, inst := range t.instances {
			if inst.State() != StateFailed {
				inst.setState(StateStopped)
			}
			inst.dispose()
		}
		t.log.Error("initialization failed", "err", err)
		t.finishLocked(err)
		return err
	}
	t.phase = phasePrepared
	t.log.Info("prepared", "steps", len(t.graph.Steps), "copies", len(t.instances), "rowsets", len(t.rowsets))
	return nil
}

// build creates one instance per step copy and one row set per pair of
// connected copies.
func (t *Trans) build() error {
	copies := make(map[string][]*StepInstance, len(t.graph.Steps))
	for _, meta := range t.graph.Steps {
		for c := 0; c < meta.Copies; c++ {
			step, err := t.registry.build(meta, c)
			if err != nil {
				return &ConfigError{Path: "steps." + meta.Name, Msg: err.Error(), Err: err}
			}
			inst := newInstance(t.graph.Name, meta, c, step, t.log, t.listener)
			copies[meta.Name] = append(copies[meta.Name], inst)
			t.instances = append(t.instances, inst)
		}
	}

	connect := func(from, to []*StepInstance, errHop bool) {
		for _, src := range from {
			for _, dst := range to {
				name := fmt.Sprintf("%s.%d - %s.%d", src.meta.Name, src.copyNr, dst.meta.Name, dst.copyNr)
				rs := rowset.New(name, t.graph.RowSetSize, 1)
				t.rowsets = append(t.rowsets, rs)
				dst.inputs = append(dst.inputs, rs)
				if errHop {
					src.errOutputs = append(src.errOutputs, rs)
					dst.errInputs = append(dst.errInputs, rs)
				} else {
					src.addOutput(dst.meta.Name, rs)
				}
			}
		}
	}
	for _, meta := range t.graph.Steps {
		for _, to := range t.graph.outputs(meta.Name) {
			connect(copies[meta.Name], copies[to], false)
		}
		if eh := meta.ErrorHandling; eh != nil {
			connect(copies[meta.Name], copies[eh.Target], true)
		}
	}
	for _, inst := range t.instances {
		inst.reader = rowset.NewReader(inst.inputs...)
	}
	return nil
}

// Start launches one goroutine per step copy. It returns at once; use Wait
// for the outcome. Cancelling ctx stops the run.
func (t *Trans) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != phasePrepared {
		return fmt.Errorf("%w: start", errWrongPhase)
	}
	t.phase = phaseRunning

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	stopWatch := context.AfterFunc(gctx, t.cascadeStop)

	for _, inst := range t.instances {
		g.Go(func() error { return inst.run(gctx) })
	}
	t.log.Info("started")

	go func() {
		err := g.Wait()
		stopWatch()
		cancel()
		t.mu.Lock()
		t.finishLocked(err)
		t.mu.Unlock()
	}()
	return nil
}

// cascadeStop runs once the run context ends, whether a copy failed, Stop
// was called or the parent context was cancelled.
func (t *Trans) cascadeStop() {
	for _, inst := range t.instances {
		inst.requestStop()
	}
	for _, rs := range t.rowsets {
		rs.Abort()
	}
}

// Stop asks every step copy to stop. It does not wait; use Wait.
func (t *Trans) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	t.log.Info("stop requested")
	for _, inst := range t.instances {
		inst.requestStop()
	}
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the run is over and returns its Result. It must only be
// called after Prepare.
func (t *Trans) Wait() Result {
	<-t.done
	return t.result
}

// Done is closed when the run is over.
func (t *Trans) Done() <-chan struct{} { return t.done }

// Execute prepares, starts and waits. The returned error is Result.Err: nil
// unless the run failed. A stopped run has status RunStopped and no error.
func (t *Trans) Execute(ctx context.Context) (Result, error) {
	if err := t.Prepare(ctx); err != nil {
		return t.Wait(), err
	}
	if err := t.Start(ctx); err != nil {
		return Result{}, err
	}
	res := t.Wait()
	return res, res.Err
}

func (t *Trans) finishLocked(err error) {
	if t.phase == phaseFinished {
		return
	}
	t.phase = phaseFinished

	res := Result{
		RunID:    t.runID,
		Name:     t.graph.Name,
		Err:      err,
		Started:  t.started,
		Duration: time.Since(t.started),
	}
	for _, inst := range t.instances {
		res.Steps = append(res.Steps, inst.Status())
	}
	switch {
	case err != nil:
		res.Status = RunFailed
	default:
		res.Status = RunFinished
		for _, st := range res.Steps {
			if st.State == StateStopped {
				res.Status = RunStopped
				break
			}
		}
	}
	t.result = res

	if t.reporter != nil {
		for _, st := range res.Steps {
			t.reporter.ReportStep(t.graph.Name, st)
		}
	}
	attrs := []any{"status", res.Status, "duration", res.Duration}
	if err != nil {
		t.log.Error("transformation ended", append(attrs, "err", err)...)
	} else {
		t.log.Info("transformation ended", attrs...)
	}
	close(t.done)
}
