package capability

import (
	"context"

	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/workflow"
)

// DefaultReviewReason is the suspension reason of a review step.
const DefaultReviewReason = "document requires human review"

type review struct {
	deps Deps
}

// Run implements step.Capability. It marks the document for review and
// suspends the run.
func (r *review) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	if err := r.deps.setStatus(ctx, snap, workflow.DocumentNeedsReview); err != nil {
		return step.Fail("review: update document status: "+err.Error(), false)
	}
	return step.AwaitHuman(cfg.String("reason", DefaultReviewReason), map[string]any{
		"status":   workflow.DocumentNeedsReview,
		"assignee": cfg.String("assignee", ""),
	})
}
