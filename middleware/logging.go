package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/medocr/docflow/step"
)

// Logging returns middleware that logs each step attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) step.Outcome {
		logger.Debug("step started",
			slog.String("run_id", inv.RunID.String()),
			slog.String("step_id", inv.StepID),
			slog.String("step_type", inv.StepType),
			slog.Int("attempt", inv.Attempt),
		)

		start := time.Now()
		out := next(ctx)
		elapsed := time.Since(start)

		if out.Kind() == step.KindFail {
			logger.Warn("step failed",
				slog.String("run_id", inv.RunID.String()),
				slog.String("step_id", inv.StepID),
				slog.String("step_type", inv.StepType),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.Bool("retryable", out.Retryable()),
				slog.String("reason", out.Reason()),
			)
		} else {
			logger.Info("step finished",
				slog.String("run_id", inv.RunID.String()),
				slog.String("step_id", inv.StepID),
				slog.String("step_type", inv.StepType),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("outcome", out.String()),
			)
		}
		return out
	}
}
