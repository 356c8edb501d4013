package catalog

import (
	"context"
	"log/slog"
	"time"
)

const compensationTimeout = 30 * time.Second

type compensation struct {
	name string
	fn   func(context.Context) error
}

// compensations undo side effects of a write that did not commit, newest first.
type compensations []compensation

func (c *compensations) add(name string, fn func(context.Context) error) {
	*c = append(*c, compensation{name: name, fn: fn})
}

func (c compensations) run(ctx context.Context, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].fn(ctx); err != nil {
			logger.Error("compensation failed", "step", c[i].name, "error", err)
		}
	}
}
