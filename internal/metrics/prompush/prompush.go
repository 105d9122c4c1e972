// Package prompush pushes run metrics to a Prometheus Pushgateway.
//
// A transformation is a batch job that is usually gone before a scraper
// would see it, so samples collect in a private registry and Flush pushes
// them under the job grouping key, normally the transformation name.
package prompush

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"kettle/internal/metrics"
)

const defaultJob = "kettle"

// counter pairs a vector with the label keys it is indexed by.
type counter struct {
	vec  *prometheus.CounterVec
	keys []string
}

// Backend implements metrics.Backend on a Pushgateway.
type Backend struct {
	pusher   *push.Pusher
	reg      *prometheus.Registry
	counters map[string]counter
	duration *prometheus.SummaryVec
}

// NewBackend builds a backend pushing to gatewayURL as job. An empty job
// falls back to "kettle".
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, errors.New("prompush: gateway URL is required")
	}
	if job == "" {
		job = defaultJob
	}

	b := &Backend{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]counter),
		duration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Run time of step copies in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "state"}),
	}
	if err := b.reg.Register(b.duration); err != nil {
		return nil, fmt.Errorf("prompush: register %s: %w", metrics.StepDurationSeconds, err)
	}
	for _, def := range []struct {
		name, help string
		keys       []string
	}{
		{metrics.StepTotal, "Step copies that reached a terminal state.", []string{"step", "state"}},
		{metrics.RowsTotal, "Rows handled per step and kind.", []string{"step", "kind"}},
		{metrics.BatchesTotal, "Batches flushed to a database.", []string{"step"}},
	} {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: def.name, Help: def.help}, def.keys)
		if err := b.reg.Register(vec); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", def.name, err)
		}
		b.counters[def.name] = counter{vec: vec, keys: def.keys}
	}
	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

// IncCounter adds delta to a known counter. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	c, ok := b.counters[name]
	if !ok {
		return
	}
	c.vec.WithLabelValues(values(labels, c.keys)...).Add(delta)
}

// ObserveHistogram records step durations. Other names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.duration == nil {
		return
	}
	b.duration.WithLabelValues(labels["step"], labels["state"]).Observe(value)
}

// Flush replaces the job's metric group on the gateway.
func (b *Backend) Flush() error {
	if b.pusher == nil {
		return nil
	}
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

func values(labels metrics.Labels, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = labels[k]
	}
	return out
}
