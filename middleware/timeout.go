package middleware

import (
	"context"
	"log/slog"

	"github.com/medocr/docflow/step"
)

// Timeout returns middleware that bounds the attempt by inv.Timeout.
// The capability sees the deadline through ctx and is expected to
// return once it passes.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) step.Outcome {
		if inv.Timeout > 0 {
			logger.Debug("step timeout set",
				slog.String("step_id", inv.StepID),
				slog.Duration("timeout", inv.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
