package rowset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kettle/internal/schema"
)

var intSchema = schema.New(schema.Field{Name: "n", Type: schema.TypeInteger})

func row(n int) schema.Row { return schema.Row{int64(n)} }

// TestPut_NeverExceedsCapacity runs a fast producer against a slow consumer
// and samples occupancy after every put.
func TestPut_NeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 7, 64} {
		rs := New("p - c", capacity, 1)
		ctx := context.Background()

		var maxSeen atomic.Int64
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if err := rs.Put(ctx, intSchema, row(i)); err != nil {
					t.Errorf("put: %v", err)
					return
				}
				if n := int64(rs.Size()); n > maxSeen.Load() {
					maxSeen.Store(n)
				}
			}
			rs.SignalEndOfStream()
		}()

		got := 0
		for {
			_, err := rs.Take(ctx)
			if errors.Is(err, ErrEndOfStream) {
				break
			}
			if err != nil {
				t.Fatalf("take: %v", err)
			}
			got++
			if got%50 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
		wg.Wait()

		if got != 500 {
			t.Fatalf("capacity=%d: consumed %d rows; want 500", capacity, got)
		}
		if m := maxSeen.Load(); m > int64(capacity) {
			t.Fatalf("capacity=%d: observed occupancy %d", capacity, m)
		}
	}
}

// TestPut_BlocksUntilTake verifies a producer on a full set is released by
// exactly one take.
func TestPut_BlocksUntilTake(t *testing.T) {
	rs := New("p - c", 1, 1)
	ctx := context.Background()
	if err := rs.Put(ctx, intSchema, row(1)); err != nil {
		t.Fatal(err)
	}

	released := make(chan error, 1)
	go func() { released <- rs.Put(ctx, intSchema, row(2)) }()

	select {
	case <-released:
		t.Fatal("put returned while the set was full")
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := rs.Take(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("put after take: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer not released after take")
	}
}

func TestTake_FIFO(t *testing.T) {
	rs := New("p - c", 3, 1)
	ctx := context.Background()

	go func() {
		for i := 0; i < 1000; i++ {
			_ = rs.Put(ctx, intSchema, row(i))
		}
		rs.SignalEndOfStream()
	}()

	want := int64(0)
	for {
		r, err := rs.Take(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if r[0].(int64) != want {
			t.Fatalf("got row %v; want %d", r[0], want)
		}
		want++
	}
	if want != 1000 {
		t.Fatalf("read %d rows; want 1000", want)
	}
}

func TestEndOfStream_OnlyAfterAllProducersAndDrain(t *testing.T) {
	rs := New("a,b - c", 4, 2)
	ctx := context.Background()

	_ = rs.Put(ctx, intSchema, row(1))
	rs.SignalEndOfStream()
	rs.SignalEndOfStream() // second producer
	rs.SignalEndOfStream() // extra calls are ignored

	if rs.IsDone() {
		t.Fatal("IsDone with a queued row")
	}
	if _, err := rs.Take(ctx); err != nil {
		t.Fatalf("take queued row: %v", err)
	}
	if _, err := rs.Take(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("err=%v; want ErrEndOfStream", err)
	}
	if !rs.IsDone() {
		t.Fatal("IsDone=false after drain")
	}
}

func TestEndOfStream_WaitsForSecondProducer(t *testing.T) {
	rs := New("a,b - c", 4, 2)
	ctx := context.Background()
	rs.SignalEndOfStream()

	res := make(chan error, 1)
	go func() {
		_, err := rs.Take(ctx)
		res <- err
	}()
	select {
	case err := <-res:
		t.Fatalf("take returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	rs.SignalEndOfStream()
	if err := <-res; !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("err=%v; want ErrEndOfStream", err)
	}
}

func TestPut_AfterEndOfStream(t *testing.T) {
	rs := New("p - c", 2, 1)
	rs.SignalEndOfStream()
	err := rs.Put(context.Background(), intSchema, row(1))
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("err=%v; want ErrChannelClosed", err)
	}
}

func TestPut_SchemaMismatch(t *testing.T) {
	rs := New("p - c", 2, 1)
	ctx := context.Background()
	if err := rs.Put(ctx, intSchema, row(1)); err != nil {
		t.Fatal(err)
	}

	renamed := schema.New(schema.Field{Name: "m", Type: schema.TypeInteger})
	if err := rs.Put(ctx, renamed, row(2)); err != nil {
		t.Fatalf("compatible schema rejected: %v", err)
	}

	drift := schema.New(schema.Field{Name: "n", Type: schema.TypeString})
	if err := rs.Put(ctx, drift, schema.Row{"x"}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err=%v; want ErrSchemaMismatch", err)
	}
	if err := rs.Put(ctx, intSchema, schema.Row{int64(1), int64(2)}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("wide row err=%v; want ErrSchemaMismatch", err)
	}
	if rs.Schema() != intSchema {
		t.Fatal("frozen schema replaced")
	}
}

func TestPut_RejectedFirstRowLeavesSchemaOpen(t *testing.T) {
	rs := New("p - c", 2, 1)
	ctx := context.Background()

	wide := schema.New(
		schema.Field{Name: "n", Type: schema.TypeInteger},
		schema.Field{Name: "k", Type: schema.TypeInteger},
	)
	if err := rs.Put(ctx, wide, row(1)); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("short row err=%v; want ErrSchemaMismatch", err)
	}
	if rs.Schema() != nil {
		t.Fatalf("rejected row froze schema %s", rs.Schema())
	}
	if err := rs.Put(ctx, intSchema, row(2)); err != nil {
		t.Fatalf("first valid row: %v", err)
	}
	if rs.Schema() != intSchema {
		t.Fatalf("schema = %s, want %s", rs.Schema(), intSchema)
	}
}

func TestDrain_AfterAbort(t *testing.T) {
	rs := New("p - c", 4, 1)
	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if err := rs.Put(ctx, intSchema, row(i)); err != nil {
			t.Fatal(err)
		}
	}
	rs.Abort()

	if _, err := rs.Take(ctx); !errors.Is(err, ErrAborted) {
		t.Fatalf("Take after Abort err=%v; want ErrAborted", err)
	}
	for want := 1; want <= 2; want++ {
		r, ok := rs.Drain()
		if !ok || r[0] != int64(want) {
			t.Fatalf("Drain = %v, %v; want row %d", r, ok, want)
		}
	}
	if r, ok := rs.Drain(); ok {
		t.Fatalf("Drain on empty set returned %v", r)
	}
}

func TestAbort_WakesBlockedCallers(t *testing.T) {
	full := New("p - c", 1, 1)
	empty := New("p - d", 1, 1)
	ctx := context.Background()
	_ = full.Put(ctx, intSchema, row(1))

	errs := make(chan error, 2)
	go func() { errs <- full.Put(ctx, intSchema, row(2)) }()
	go func() {
		_, err := empty.Take(ctx)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	full.Abort()
	empty.Abort()
	empty.Abort()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrAborted) {
				t.Fatalf("err=%v; want ErrAborted", err)
			}
		case <-time.After(time.Second):
			t.Fatal("blocked caller not woken by Abort")
		}
	}
}

func TestContextCancel_WakesBlockedCallers(t *testing.T) {
	rs := New("p - c", 1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	res := make(chan error, 1)
	go func() {
		_, err := rs.Take(ctx)
		res <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-res:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v; want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("take not woken by cancel")
	}
}

func TestReader_FanIn(t *testing.T) {
	a := New("a - c", 2, 1)
	b := New("b - c", 2, 1)
	r := NewReader(a, b)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, rs := range []*RowSet{a, b} {
		wg.Add(1)
		go func(base int, rs *RowSet) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = rs.Put(ctx, intSchema, row(base+j))
			}
			rs.SignalEndOfStream()
		}(i*1000, rs)
	}

	lastA, lastB := int64(-1), int64(999)
	total := 0
	for {
		got, from, err := r.Read(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n := got[0].(int64)
		// FIFO holds per producer/consumer pair.
		switch from {
		case a:
			if n != lastA+1 {
				t.Fatalf("a: got %d after %d", n, lastA)
			}
			lastA = n
		case b:
			if n != lastB+1 {
				t.Fatalf("b: got %d after %d", n, lastB)
			}
			lastB = n
		}
		total++
	}
	wg.Wait()
	if total != 200 {
		t.Fatalf("read %d rows; want 200", total)
	}
}
