package engine

import (
	"fmt"
	"time"
)

// RunStatus is the outcome of a transformation run.
type RunStatus int

const (
	RunFinished RunStatus = iota
	RunFailed
	RunStopped
)

func (s RunStatus) String() string {
	switch s {
	case RunFinished:
		return "finished"
	case RunFailed:
		return "failed"
	case RunStopped:
		return "stopped"
	}
	return fmt.Sprintf("RunStatus(%d)", int(s))
}

// StepStatus holds the terminal state and counters of one step copy.
type StepStatus struct {
	Step  string
	Copy  int
	State State

	LinesRead     int64 // rows taken from input row sets
	LinesWritten  int64 // rows handed to output row sets
	LinesRejected int64 // rows sent to the error target
	LinesInput    int64 // rows read from files or tables
	LinesOutput   int64 // rows written to files or tables

	Duration time.Duration
	Err      error
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Name     string
	Status   RunStatus
	Err      error // first fatal error, a *StepError or *ConfigError
	Steps    []StepStatus
	Started  time.Time
	Duration time.Duration
}

// Success reports whether every step copy finished.
func (r Result) Success() bool { return r.Status == RunFinished }

// Step returns the status of one copy.
func (r Result) Step(name string, copyNr int) (StepStatus, bool) {
	for _, s := range r.Steps {
		if s.Step == name && s.Copy == copyNr {
			return s, true
		}
	}
	return StepStatus{}, false
}

// StepTotals sums the counters of all copies of name. The state is the most
// severe one among the copies: Failed over Stopped over anything else.
func (r Result) StepTotals(name string) StepStatus {
	tot := StepStatus{Step: name, Copy: -1}
	first := true
	for _, s := range r.Steps {
		if s.Step != name {
			continue
		}
		tot.LinesRead += s.LinesRead
		tot.LinesWritten += s.LinesWritten
		tot.LinesRejected += s.LinesRejected
		tot.LinesInput += s.LinesInput
		tot.LinesOutput += s.LinesOutput
		if s.Duration > tot.Duration {
			tot.Duration = s.Duration
		}
		if first || severity(s.State) > severity(tot.State) {
			tot.State = s.State
		}
		if tot.Err == nil && s.Err != nil {
			tot.Err = s.Err
		}
		first = false
	}
	return tot
}

func severity(s State) int {
	switch s {
	case StateFailed:
		return 2
	case StateStopped:
		return 1
	}
	return 0
}
