package rowset

import (
	"context"

	"kettle/internal/schema"
)

// Reader takes rows from several row sets feeding the same consumer. It
// visits the inputs in rotation so a busy input cannot starve the others,
// and parks on a shared wake channel while every input is empty. Blocking on
// a single input while another one fills up could deadlock a graph in which
// both inputs descend from the same producer.
type Reader struct {
	sets []*RowSet
	next int
	wake chan struct{}
}

// NewReader binds the row sets to a new Reader. A row set must be read by at
// most one Reader.
func NewReader(sets ...*RowSet) *Reader {
	r := &Reader{sets: sets, wake: make(chan struct{}, 1)}
	for _, rs := range sets {
		rs.mu.Lock()
		rs.wake = r.wake
		rs.mu.Unlock()
	}
	return r
}

// Len returns the number of inputs.
func (r *Reader) Len() int { return len(r.sets) }

// Read returns the next row together with the row set it came from. It
// returns ErrEndOfStream when every input is drained, ErrAborted when any
// input was aborted, and the context error when ctx ends first.
func (r *Reader) Read(ctx context.Context) (schema.Row, *RowSet, error) {
	switch len(r.sets) {
	case 0:
		return nil, nil, ErrEndOfStream
	case 1:
		row, err := r.sets[0].Take(ctx)
		return row, r.sets[0], err
	}

	for {
		finished := 0
		for i := 0; i < len(r.sets); i++ {
			rs := r.sets[(r.next+i)%len(r.sets)]
			row, ok, err := rs.TryTake(ctx)
			if ok {
				r.next = (r.next + i + 1) % len(r.sets)
				return row, rs, nil
			}
			switch err {
			case nil:
			case ErrEndOfStream:
				finished++
			default:
				return nil, rs, err
			}
		}
		if finished == len(r.sets) {
			return nil, nil, ErrEndOfStream
		}
		select {
		case <-r.wake:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}
