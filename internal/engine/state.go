package engine

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a step copy.
//
//	Created -> Initialized -> Running -> Finishing -> Done
//	                   \           \-> Failed | Stopped
//	                    \-> Failed
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateFinishing
	StateDone
	StateFailed
	StateStopped
)

var stateNames = [...]string{
	StateCreated:     "Created",
	StateInitialized: "Initialized",
	StateRunning:     "Running",
	StateFinishing:   "Finishing",
	StateDone:        "Done",
	StateFailed:      "Failed",
	StateStopped:     "Stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further row I/O can happen in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateStopped
}

// stop request tri-state, checked at every suspension point.
const (
	runActive int32 = iota
	runStopRequested
	runStopped
)

type stopFlag struct{ v atomic.Int32 }

// request moves active -> stop requested. It reports whether it changed
// anything.
func (f *stopFlag) request() bool { return f.v.CompareAndSwap(runActive, runStopRequested) }

func (f *stopFlag) requested() bool { return f.v.Load() != runActive }

func (f *stopFlag) stopped() { f.v.Store(runStopped) }
