package storage

import (
	"context"
	"errors"
	"testing"
)

// TestBatcher_Basic verifies rows are grouped into batches and copyFn is
// called with the expected counts.
func TestBatcher_Basic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var sizes []int
	copyFn := func(_ context.Context, cols []string, rows [][]any) (int64, error) {
		if len(cols) != 2 {
			t.Errorf("columns = %v, want 2", cols)
		}
		sizes = append(sizes, len(rows))
		return int64(len(rows)), nil
	}

	b, err := NewBatcher([]string{"c1", "c2"}, 3, copyFn, nil)
	if err != nil {
		t.Fatalf("NewBatcher error: %v", err)
	}
	for i := 0; i < 7; i++ {
		if err := b.Add(ctx, []any{i, "x"}); err != nil {
			t.Fatalf("Add(%d) error: %v", i, err)
		}
	}
	if b.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", b.Pending())
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if b.Total() != 7 || b.Batches() != 3 {
		t.Fatalf("total=%d batches=%d, want 7 and 3", b.Total(), b.Batches())
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Fatalf("batch sizes = %v, want [3 3 1]", sizes)
	}
	// Flushing an empty batch is a no-op.
	if err := b.Flush(ctx); err != nil || len(sizes) != 3 {
		t.Fatalf("empty Flush: err=%v calls=%d", err, len(sizes))
	}
}

// TestBatcher_ErrorPropagation ensures a copy error is returned and the
// failed batch is not retried.
func TestBatcher_ErrorPropagation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wantErr := errors.New("copy failed")
	calls := 0
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		calls++
		if calls == 2 {
			return 0, wantErr
		}
		return int64(len(rows)), nil
	}

	b, _ := NewBatcher([]string{"c"}, 2, copyFn, nil)
	var err error
	for i := 0; i < 5 && err == nil; i++ {
		err = b.Add(ctx, []any{i})
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("want error %v, got %v", wantErr, err)
	}
	if b.Total() != 2 || b.Pending() != 0 {
		t.Fatalf("total=%d pending=%d, want 2 and 0", b.Total(), b.Pending())
	}
}

func TestBatcher_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	b, _ := NewBatcher([]string{"c"}, 10, func(context.Context, []string, [][]any) (int64, error) {
		called = true
		return 0, nil
	}, nil)
	_ = b.Add(ctx, []any{1})
	if err := b.Flush(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Flush error = %v, want context.Canceled", err)
	}
	if called {
		t.Fatal("copyFn called after cancel")
	}
}

func TestNewBatcher_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := NewBatcher(nil, 0, func(context.Context, []string, [][]any) (int64, error) { return 0, nil }, nil); err == nil {
		t.Fatal("expected error for size 0")
	}
	if _, err := NewBatcher(nil, 1, nil, nil); err == nil {
		t.Fatal("expected error for nil copyFn")
	}
}
