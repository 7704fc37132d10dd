package middleware

import (
	"context"

	"github.com/medocr/docflow/scope"
	"github.com/medocr/docflow/step"
)

// Scope returns middleware that attaches the run's organization to the
// context, so collaborators called by the capability see the tenant.
func Scope() Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) step.Outcome {
		return next(scope.Restore(ctx, inv.OrgID, ""))
	}
}
