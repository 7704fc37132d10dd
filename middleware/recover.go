package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/medocr/docflow/step"
)

// Recover returns middleware that converts a panic in the chain into a
// non-retryable failure. It also replaces an invalid zero Outcome.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (out step.Outcome) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("step panicked",
					slog.String("run_id", inv.RunID.String()),
					slog.String("step_id", inv.StepID),
					slog.String("step_type", inv.StepType),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				out = step.Fail(fmt.Sprintf("panic in step %s: %v", inv.StepID, r), false)
			}
		}()
		out = next(ctx)
		if !out.Valid() {
			out = step.Fail(fmt.Sprintf("step %s returned no outcome", inv.StepID), false)
		}
		return out
	}
}
