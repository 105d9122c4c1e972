package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"kettle/internal/rowset"
	"kettle/internal/schema"
)

// StateListener observes state transitions of step copies. It is called
// synchronously from the copy's goroutine and must not block.
type StateListener func(step string, copyNr int, from, to State)

// target holds the row sets leading to the copies of one target step. Rows
// are distributed within a target and copied across targets.
type target struct {
	step string
	sets []*rowset.RowSet
	dist Distributor
}

// StepInstance is one running copy of a step: the Step, its row sets, its
// lifecycle state and counters.
type StepInstance struct {
	trans  string
	meta   StepMeta
	copyNr int
	step   Step
	sc     *StepContext
	log    *slog.Logger

	listener StateListener

	state atomic.Int32
	stop  stopFlag

	inputs     []*rowset.RowSet
	errInputs  []*rowset.RowSet // subset of inputs fed by error hops
	outputs    []*rowset.RowSet
	targets    []*target
	errOutputs []*rowset.RowSet
	reader     *rowset.Reader
	errNext    int

	linesRead     atomic.Int64
	linesWritten  atomic.Int64
	linesRejected atomic.Int64
	linesInput    atomic.Int64
	linesOutput   atomic.Int64

	// written by the copy's goroutine, read once it is terminal
	started  time.Time
	finished time.Time
	err      *StepError
}

func newInstance(trans string, meta StepMeta, copyNr int, step Step, log *slog.Logger, l StateListener) *StepInstance {
	inst := &StepInstance{
		trans:    trans,
		meta:     meta,
		copyNr:   copyNr,
		step:     step,
		log:      log.With("step", meta.Name, "copy", copyNr),
		listener: l,
	}
	inst.sc = newStepContext(inst)
	return inst
}

// Name returns the step name.
func (in *StepInstance) Name() string { return in.meta.Name }

// Copy returns the copy number.
func (in *StepInstance) Copy() int { return in.copyNr }

// State returns the current lifecycle state.
func (in *StepInstance) State() State { return State(in.state.Load()) }

func (in *StepInstance) setState(to State) {
	from := State(in.state.Swap(int32(to)))
	if from == to {
		return
	}
	in.log.Debug("state change", "from", from, "to", to)
	if in.listener != nil {
		in.listener(in.meta.Name, in.copyNr, from, to)
	}
}

// requestStop asks the copy to stop at its next row operation or cycle.
func (in *StepInstance) requestStop() {
	if in.stop.request() && !in.State().Terminal() {
		in.log.Debug("stop requested")
	}
}

func (in *StepInstance) init(ctx context.Context) error {
	if err := in.step.Init(ctx, in.sc); err != nil {
		in.err = &StepError{Step: in.meta.Name, Copy: in.copyNr, Phase: "init", Err: err}
		in.log.Error("init failed", "err", err)
		in.setState(StateFailed)
		return in.err
	}
	in.setState(StateInitialized)
	return nil
}

// run drives the copy from Initialized to a terminal state. It returns a
// *StepError when the copy failed and nil when it finished or was stopped.
func (in *StepInstance) run(ctx context.Context) error {
	in.started = time.Now()
	in.setState(StateRunning)

	phase := "run"
	err := in.loop(ctx)
	if err == nil {
		in.setState(StateFinishing)
		phase = "finalize"
		err = in.step.Finalize(ctx, in.sc)
		if err == nil && in.stop.requested() {
			err = ErrStopped
		}
	}
	return in.finish(phase, err)
}

func (in *StepInstance) loop(ctx context.Context) error {
	for {
		if in.stop.requested() && !in.errorsQueued() {
			return ErrStopped
		}
		done, err := in.step.ProcessCycle(ctx, in.sc)
		if err != nil {
			var re *RowError
			switch {
			case errors.As(err, &re) && in.meta.ErrorHandling != nil:
				if err := in.sc.PutError(ctx, re); err != nil {
					return err
				}
			case errors.Is(err, ErrEndOfStream):
				done = true
			default:
				return err
			}
		}
		if done {
			if in.stop.requested() {
				return ErrStopped
			}
			return nil
		}
	}
}

func (in *StepInstance) finish(phase string, err error) error {
	in.finished = time.Now()
	switch {
	case err == nil:
		in.signalOutputs()
		in.dispose()
		in.log.Debug("finished", in.counterAttrs()...)
		in.setState(StateDone)
		return nil
	case isStop(err):
		in.stop.stopped()
		in.signalOutputs()
		in.dispose()
		in.log.Info("stopped", in.counterAttrs()...)
		in.setState(StateStopped)
		return nil
	default:
		in.err = &StepError{Step: in.meta.Name, Copy: in.copyNr, Phase: phase, Err: err}
		in.dispose()
		in.log.Error("step failed", append(in.counterAttrs(), "phase", phase, "err", err)...)
		in.setState(StateFailed)
		return in.err
	}
}

// signalOutputs ends every stream this copy produces. Failed copies skip it
// so that consumers cannot mistake a partial stream for a complete one.
func (in *StepInstance) signalOutputs() {
	for _, rs := range in.outputs {
		rs.SignalEndOfStream()
	}
	for _, rs := range in.errOutputs {
		rs.SignalEndOfStream()
	}
}

// addOutput appends rs to the target group of step, creating the group on
// the first row set for that step.
func (in *StepInstance) addOutput(step string, rs *rowset.RowSet) {
	in.outputs = append(in.outputs, rs)
	if n := len(in.targets); n > 0 && in.targets[n-1].step == step {
		in.targets[n-1].sets = append(in.targets[n-1].sets, rs)
		return
	}
	in.targets = append(in.targets, &target{step: step, sets: []*rowset.RowSet{rs}, dist: newDistributor(in.meta)})
}

// errorsQueued reports whether an error input still holds rows. A stopping
// copy reads them before it stops: a rejected row handed over before the
// cascade belongs to the error target.
func (in *StepInstance) errorsQueued() bool {
	for _, rs := range in.errInputs {
		if rs.Size() > 0 {
			return true
		}
	}
	return false
}

func (in *StepInstance) drainErrors() (schema.Row, *rowset.RowSet, bool) {
	for _, rs := range in.errInputs {
		if row, ok := rs.Drain(); ok {
			return row, rs, true
		}
	}
	return nil, nil, false
}

func (in *StepInstance) dispose() {
	d, ok := in.step.(Disposer)
	if !ok {
		return
	}
	if err := d.Dispose(); err != nil {
		in.log.Warn("dispose", "err", err)
	}
}

func (in *StepInstance) counterAttrs() []any {
	return []any{
		"read", in.linesRead.Load(),
		"written", in.linesWritten.Load(),
		"rejected", in.linesRejected.Load(),
	}
}

// Status returns a snapshot of the copy's state and counters.
func (in *StepInstance) Status() StepStatus {
	st := StepStatus{
		Step:          in.meta.Name,
		Copy:          in.copyNr,
		State:         in.State(),
		LinesRead:     in.linesRead.Load(),
		LinesWritten:  in.linesWritten.Load(),
		LinesRejected: in.linesRejected.Load(),
		LinesInput:    in.linesInput.Load(),
		LinesOutput:   in.linesOutput.Load(),
	}
	if st.State.Terminal() {
		if !in.started.IsZero() {
			st.Duration = in.finished.Sub(in.started)
		}
		if in.err != nil {
			st.Err = in.err
		}
	}
	return st
}
