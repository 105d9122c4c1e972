package steps

import (
	"context"
	"time"

	"kettle/internal/engine"
)

// rowCounter passes rows through and logs how many it saw.
type rowCounter struct {
	n     int64
	start time.Time
}

func newRowCounter(engine.StepMeta, int) (engine.Step, error) { return &rowCounter{}, nil }

func (c *rowCounter) Init(context.Context, *engine.StepContext) error {
	c.start = time.Now()
	return nil
}

func (c *rowCounter) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	c.n++
	return false, sc.PutRow(ctx, sc.InputSchema(), row)
}

func (c *rowCounter) Finalize(_ context.Context, sc *engine.StepContext) error {
	elapsed := time.Since(c.start)
	rps := float64(0)
	if elapsed > 0 {
		rps = float64(c.n) / elapsed.Seconds()
	}
	sc.Logger().Info("rows counted", "rows", c.n, "rps", int64(rps), "elapsed", elapsed.Truncate(time.Millisecond))
	return nil
}
