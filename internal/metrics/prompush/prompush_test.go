package prompush

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"kettle/internal/metrics"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := NewBackend("orders", "http://pushgateway.invalid:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func TestNewBackend_RequiresGateway(t *testing.T) {
	if b, err := NewBackend("orders", ""); err == nil || b != nil {
		t.Fatalf("NewBackend without URL = %v, %v; want nil, error", b, err)
	}
}

func TestIncCounter(t *testing.T) {
	t.Parallel()
	b := newBackend(t)

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"trans": "orders", "step": "load", "state": "done"})
	b.IncCounter(metrics.RowsTotal, 5, metrics.Labels{"step": "load", "kind": metrics.KindOutput})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"step": "load", "kind": metrics.KindOutput})
	b.IncCounter(metrics.BatchesTotal, 0.5, metrics.Labels{"step": "load"})
	b.IncCounter("kettle_unknown_total", 10, metrics.Labels{"step": "load"})

	tests := []struct {
		metric string
		labels []string
		want   float64
	}{
		{metrics.StepTotal, []string{"load", "done"}, 2},
		{metrics.RowsTotal, []string{"load", metrics.KindOutput}, 6},
		{metrics.BatchesTotal, []string{"load"}, 0.5},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(b.counters[tt.metric].vec.WithLabelValues(tt.labels...))
		if got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.metric, tt.labels, got, tt.want)
		}
	}
	n, err := testutil.GatherAndCount(b.reg)
	if err != nil || n != 3 {
		t.Errorf("registry holds %d series (err %v), want 3", n, err)
	}
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()
	b := newBackend(t)

	b.ObserveHistogram(metrics.StepDurationSeconds, 1.5, metrics.Labels{"step": "load", "state": "done"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "load", "state": "done"})
	b.ObserveHistogram("kettle_other_seconds", 2, metrics.Labels{"step": "load", "state": "done"})

	var m dto.Metric
	if err := b.duration.WithLabelValues("load", "done").(interface{ Write(*dto.Metric) error }).Write(&m); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	if s := m.GetSummary(); s.GetSampleCount() != 2 || s.GetSampleSum() != 2 {
		t.Fatalf("summary count=%d sum=%v, want 2 and 2", s.GetSampleCount(), s.GetSampleSum())
	}
}

func TestZeroBackend(t *testing.T) {
	t.Parallel()

	var b Backend
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "s", "state": "done"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush on zero backend: %v", err)
	}
}

func TestFlush_PushesJobGroup(t *testing.T) {
	t.Parallel()

	type push struct {
		method, path, body string
	}
	got := make(chan push, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		_, _ = sb.ReadFrom(r.Body)
		got <- push{r.Method, r.URL.Path, sb.String()}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := NewBackend("orders", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "read", "state": "done"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	select {
	case p := <-got:
		if p.method != http.MethodPut || p.path != "/metrics/job/orders" || p.body == "" {
			t.Fatalf("push = %s %s (%d bytes)", p.method, p.path, len(p.body))
		}
	default:
		t.Fatal("Flush sent nothing to the gateway")
	}
}

func TestFlush_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := NewBackend("", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if err := b.Flush(); err == nil || !strings.HasPrefix(err.Error(), "prompush: push") {
		t.Fatalf("Flush = %v, want push error", err)
	}
}

func BenchmarkIncCounterRows(b *testing.B) {
	be, err := NewBackend("orders", "http://pushgateway.invalid:9091")
	if err != nil {
		b.Fatalf("NewBackend: %v", err)
	}
	labels := metrics.Labels{"step": "read", "kind": metrics.KindRead}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		be.IncCounter(metrics.RowsTotal, 1, labels)
	}
}
