// Package rowset implements the bounded row queue that connects a producing
// step copy to a consuming step copy.
//
// A RowSet is a fixed-capacity FIFO guarded by a mutex and two condition
// variables. Put blocks while the queue is full and Take blocks while it is
// empty, so a slow consumer throttles a fast producer and memory stays
// bounded by the capacity no matter how many rows pass through. This is the
// only flow-control mechanism of the engine.
//
// Lifecycle:
//
//	New -> Put... -> SignalEndOfStream (once per producer) -> Take until ErrEndOfStream
//
// Abort wakes every blocked caller with ErrAborted and makes all further
// operations except Drain fail; it is used for pipeline-wide cancellation. A cancelled
// context wakes the callers that passed it.
package rowset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kettle/internal/schema"
)

var (
	// ErrEndOfStream is returned by Take once every producer signalled and the
	// queue is drained.
	ErrEndOfStream = errors.New("rowset: end of stream")
	// ErrChannelClosed is returned by Put after the producer side signalled
	// end of stream. It indicates a programming error, not bad data.
	ErrChannelClosed = errors.New("rowset: put after end of stream")
	// ErrAborted is returned by every operation after Abort.
	ErrAborted = errors.New("rowset: aborted")
	// ErrSchemaMismatch is returned by Put when a row does not fit the schema
	// frozen by the first accepted row.
	ErrSchemaMismatch = errors.New("rowset: schema mismatch")
)

// RowSet is a bounded, synchronized FIFO of rows.
type RowSet struct {
	name     string
	capacity int

	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond

	buf   []schema.Row // ring buffer
	head  int
	count int

	schema    *schema.Schema
	producers int
	done      int
	aborted   bool

	// wake is poked (non-blocking) on every state change a multi-input
	// Reader may be waiting for.
	wake chan<- struct{}
}

// New creates a RowSet holding at most capacity rows, fed by the given number
// of producers. Values below 1 are raised to 1.
func New(name string, capacity, producers int) *RowSet {
	if capacity < 1 {
		capacity = 1
	}
	if producers < 1 {
		producers = 1
	}
	rs := &RowSet{
		name:      name,
		capacity:  capacity,
		buf:       make([]schema.Row, capacity),
		producers: producers,
	}
	rs.notFull.L = &rs.mu
	rs.notEmpty.L = &rs.mu
	return rs
}

// Name identifies the row set in logs, e.g. "source.0 - target.1".
func (rs *RowSet) Name() string { return rs.name }

// Capacity returns the fixed buffer size.
func (rs *RowSet) Capacity() int { return rs.capacity }

// Size returns the number of rows currently queued.
func (rs *RowSet) Size() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.count
}

// Schema returns the schema frozen by the first accepted row, or nil.
func (rs *RowSet) Schema() *schema.Schema {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.schema
}

// IsDone reports whether all producers signalled end of stream and the queue
// is empty.
func (rs *RowSet) IsDone() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.done >= rs.producers && rs.count == 0
}

// Put appends row, blocking while the queue is full. The first accepted row
// freezes s as the row set schema; later rows must come with a compatible
// schema.
func (rs *RowSet) Put(ctx context.Context, s *schema.Schema, row schema.Row) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.aborted {
		return ErrAborted
	}
	if rs.done >= rs.producers {
		return fmt.Errorf("%w: %s", ErrChannelClosed, rs.name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: %s: row without schema", ErrSchemaMismatch, rs.name)
	}
	if rs.schema != nil && !rs.schema.Compatible(s) {
		return fmt.Errorf("%w: %s: have %s, got %s", ErrSchemaMismatch, rs.name, rs.schema, s)
	}
	if len(row) != s.Len() {
		return fmt.Errorf("%w: %s: row has %d values for %d fields", ErrSchemaMismatch, rs.name, len(row), s.Len())
	}

	if rs.count == rs.capacity {
		stop := rs.wakeOnDone(ctx)
		defer stop()
		for rs.count == rs.capacity && rs.done < rs.producers && !rs.aborted && ctx.Err() == nil {
			rs.notFull.Wait()
		}
		if rs.aborted {
			return ErrAborted
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if rs.done >= rs.producers {
			return fmt.Errorf("%w: %s", ErrChannelClosed, rs.name)
		}
	}

	if rs.schema == nil {
		rs.schema = s
	}
	rs.buf[(rs.head+rs.count)%rs.capacity] = row
	rs.count++
	rs.notEmpty.Signal()
	rs.poke()
	return nil
}

// Take removes and returns the oldest row, blocking while the queue is empty
// and at least one producer is still active. It returns ErrEndOfStream once
// every producer signalled and the queue is drained.
func (rs *RowSet) Take(ctx context.Context) (schema.Row, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.count == 0 && rs.done < rs.producers && !rs.aborted && ctx.Err() == nil {
		stop := rs.wakeOnDone(ctx)
		defer stop()
		for rs.count == 0 && rs.done < rs.producers && !rs.aborted && ctx.Err() == nil {
			rs.notEmpty.Wait()
		}
	}
	return rs.takeLocked(ctx)
}

// TryTake is the non-blocking form of Take. ok is false when the queue is
// empty but producers are still active.
func (rs *RowSet) TryTake(ctx context.Context) (row schema.Row, ok bool, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.count == 0 && rs.done < rs.producers && !rs.aborted && ctx.Err() == nil {
		return nil, false, nil
	}
	row, err = rs.takeLocked(ctx)
	return row, err == nil, err
}

func (rs *RowSet) takeLocked(ctx context.Context) (schema.Row, error) {
	if rs.aborted {
		return nil, ErrAborted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rs.count == 0 {
		return nil, ErrEndOfStream
	}
	return rs.pop(), nil
}

// Drain removes the oldest queued row without blocking. Unlike TryTake it
// ignores Abort, so a consumer that is stopping can still collect rows a
// producer delivered before the run was cancelled.
func (rs *RowSet) Drain() (schema.Row, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.count == 0 {
		return nil, false
	}
	return rs.pop(), true
}

func (rs *RowSet) pop() schema.Row {
	row := rs.buf[rs.head]
	rs.buf[rs.head] = nil
	rs.head = (rs.head + 1) % rs.capacity
	rs.count--
	rs.notFull.Signal()
	return row
}

// SignalEndOfStream records that one producer finished. Once all producers
// did, consumers drain the remaining rows and then see ErrEndOfStream. Calls
// beyond the producer count are ignored.
func (rs *RowSet) SignalEndOfStream() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.done >= rs.producers {
		return
	}
	rs.done++
	if rs.done == rs.producers {
		rs.notEmpty.Broadcast()
		// Blocked producers of a closed set must fail rather than hang.
		rs.notFull.Broadcast()
		rs.poke()
	}
}

// Abort wakes every blocked caller with ErrAborted. It is idempotent.
func (rs *RowSet) Abort() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.aborted {
		return
	}
	rs.aborted = true
	rs.notFull.Broadcast()
	rs.notEmpty.Broadcast()
	rs.poke()
}

func (rs *RowSet) String() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return fmt.Sprintf("%s [%d/%d]", rs.name, rs.count, rs.capacity)
}

// wakeOnDone broadcasts on both conditions when ctx ends. The callback takes
// the mutex, so it cannot fire between a waiter's ctx check and its Wait.
func (rs *RowSet) wakeOnDone(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		rs.mu.Lock()
		rs.notFull.Broadcast()
		rs.notEmpty.Broadcast()
		rs.mu.Unlock()
	})
}

func (rs *RowSet) poke() {
	if rs.wake == nil {
		return
	}
	select {
	case rs.wake <- struct{}{}:
	default:
	}
}
