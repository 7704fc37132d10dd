package middleware

import (
	"context"
	"time"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/step"
)

// Invocation describes one attempt of one step.
type Invocation struct {
	RunID      id.RunID
	WorkflowID string
	DocumentID string
	OrgID      string
	StepID     string
	StepType   string
	Attempt    int
	External   bool

	// Timeout caps the attempt. Zero means no cap beyond ctx.
	Timeout time.Duration
}

// Handler runs the step and returns its outcome.
type Handler func(ctx context.Context) step.Outcome

// Middleware wraps a Handler with cross-cutting logic.
type Middleware func(ctx context.Context, inv *Invocation, next Handler) step.Outcome

// Chain composes middleware into one. The first middleware in the list
// is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) step.Outcome {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) step.Outcome {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}

func status(o step.Outcome) string {
	if o.Kind() == step.KindFail {
		return "error"
	}
	return "ok"
}
