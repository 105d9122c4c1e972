// Package metrics records per-step counters and timings of transformation
// runs. Calls go to one process-wide Backend, a no-op until SetBackend
// installs a real one (see the prompush and datadog subpackages), so the
// engine and the steps can record unconditionally.
package metrics

import (
	"errors"
	"io"
	"sync"
	"time"
)

// Metric names shared by all backends.
const (
	StepTotal           = "kettle_step_total"
	StepDurationSeconds = "kettle_step_duration_seconds"
	RowsTotal           = "kettle_rows_total"
	BatchesTotal        = "kettle_batches_total"
)

// Row kinds used with RecordRows.
const (
	KindRead     = "read"
	KindWritten  = "written"
	KindRejected = "rejected"
	KindInput    = "input"
	KindOutput   = "output"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend receives metric updates.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records one duration-like sample.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush delivers buffered samples. Push-based backends send here.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs b. A nil b leaves the current backend in place.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Flush flushes the current backend.
func Flush() error { return current().Flush() }

// Close flushes the current backend, closes it when it is an io.Closer and
// reinstalls the no-op backend.
func Close() error {
	mu.Lock()
	b := backend
	backend = nopBackend{}
	mu.Unlock()

	err := b.Flush()
	if c, ok := b.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

// RecordStep counts one step copy reaching state and observes its run time.
// state is the lower-cased lifecycle state: done, failed or stopped.
func RecordStep(trans, step, state string, d time.Duration) {
	l := stepLabels(trans, step, "state", state)
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows adds delta rows of kind to a step. Non-positive deltas are
// dropped.
func RecordRows(trans, step, kind string, delta int64) {
	if delta > 0 {
		current().IncCounter(RowsTotal, float64(delta), stepLabels(trans, step, "kind", kind))
	}
}

// RecordBatches adds delta database batches to a step.
func RecordBatches(trans, step string, delta int64) {
	if delta > 0 {
		current().IncCounter(BatchesTotal, float64(delta), stepLabels(trans, step, "", ""))
	}
}

func stepLabels(trans, step, key, value string) Labels {
	l := Labels{"trans": trans, "step": step}
	if key != "" {
		l[key] = value
	}
	return l
}
