package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CopyFn abstracts a backend's bulk insert capability. Implementations insert
// the provided rows (aligned to columns) and return the number of rows
// reported as inserted. They should cancel promptly when ctx is done.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// Batcher groups rows into batches of a fixed size and hands each full batch
// to a CopyFn. It is not safe for concurrent use; each step copy owns one.
//
// On every successful flush a progress line is logged with running totals
// and rows/sec since the previous flush.
type Batcher struct {
	columns []string
	size    int
	copyFn  CopyFn
	log     *slog.Logger

	batch     [][]any
	total     int64
	batches   int64
	start     time.Time
	lastFlush time.Time
	lastTotal int64
}

// NewBatcher returns a Batcher flushing every size rows. A nil logger
// discards progress lines.
func NewBatcher(columns []string, size int, copyFn CopyFn, log *slog.Logger) (*Batcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if copyFn == nil {
		return nil, fmt.Errorf("copyFn must not be nil")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := time.Now()
	return &Batcher{
		columns:   columns,
		size:      size,
		copyFn:    copyFn,
		log:       log,
		batch:     make([][]any, 0, size),
		start:     now,
		lastFlush: now,
	}, nil
}

// Add appends row to the pending batch and flushes when the batch is full.
// The Batcher keeps row until the flush; callers must not reuse it.
func (b *Batcher) Add(ctx context.Context, row []any) error {
	b.batch = append(b.batch, row)
	if len(b.batch) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Pending returns the number of rows waiting for the next flush.
func (b *Batcher) Pending() int { return len(b.batch) }

// Total returns the number of rows the backend reported as inserted.
func (b *Batcher) Total() int64 { return b.total }

// Batches returns the number of successful flushes.
func (b *Batcher) Batches() int64 { return b.batches }

// Flush hands the pending rows to the CopyFn. The pending batch is dropped
// even when the copy fails.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := b.copyFn(ctx, b.columns, b.batch)
	b.total += n

	clear(b.batch)
	b.batch = b.batch[:0]

	if err != nil {
		b.log.Error("batch copy failed", "inserted", n, "total", b.total, "err", err)
		return err
	}

	b.batches++
	now := time.Now()
	sinceLast := now.Sub(b.lastFlush)
	rps := float64(0)
	if sinceLast > 0 {
		rps = float64(b.total-b.lastTotal) / sinceLast.Seconds()
	}
	b.log.Debug("batch flushed",
		"batch", b.batches,
		"rps", int64(rps),
		"inserted", n,
		"total", b.total,
		"elapsed", now.Sub(b.start).Truncate(time.Millisecond),
	)
	b.lastFlush = now
	b.lastTotal = b.total
	return nil
}
