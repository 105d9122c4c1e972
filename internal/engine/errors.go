package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kettle/internal/rowset"
	"kettle/internal/schema"
)

var (
	// ErrEndOfStream is returned by StepContext.GetRow when every input is
	// drained.
	ErrEndOfStream = rowset.ErrEndOfStream
	// ErrStopped marks a cooperative stop. It is never reported as a failure.
	ErrStopped = errors.New("engine: stopped")
	// ErrTooManyErrors fails a step whose rejected row count passed the
	// configured maximum.
	ErrTooManyErrors = errors.New("engine: maximum number of row errors exceeded")
	// ErrPartitionOutOfRange means a partition function returned an index
	// outside the output set. It is a logic defect, so it is fatal.
	ErrPartitionOutOfRange = errors.New("engine: partition index out of range")
	// ErrUnknownStepType is returned when no factory is registered for a type.
	ErrUnknownStepType = errors.New("engine: unknown step type")
	// ErrNoSchema is returned when a step emits a row before any schema is
	// known for its output.
	ErrNoSchema = errors.New("engine: no output schema")
)

// ConfigError reports a graph that cannot be built. The pipeline never starts.
type ConfigError struct {
	Path string
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(path, format string, args ...any) *ConfigError {
	return &ConfigError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// StepError is a fatal failure of one step copy.
type StepError struct {
	Step  string
	Copy  int
	Phase string // init, run, finalize
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s.%d: %s: %v", e.Step, e.Copy, e.Phase, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// RowError is a recoverable, row-scoped failure. A step returns one from
// ProcessCycle; the engine redirects the row to the error target when the
// step has error handling, and fails the step otherwise.
type RowError struct {
	Row schema.Row
	// Schema describes Row. When nil the current input schema is assumed,
	// or the output schema for source steps.
	Schema      *schema.Schema
	Code        string
	Description string
	Fields      []string
}

func (e *RowError) Error() string {
	msg := e.Description
	if len(e.Fields) > 0 {
		msg += " [" + strings.Join(e.Fields, ", ") + "]"
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

// RejectRow builds a RowError for row.
func RejectRow(row schema.Row, code, description string, fields ...string) *RowError {
	return &RowError{Row: row, Code: code, Description: description, Fields: fields}
}

// isStop reports whether err means the step was cancelled rather than broken.
func isStop(err error) bool {
	return errors.Is(err, ErrStopped) ||
		errors.Is(err, rowset.ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
