package capability

import (
	"context"
	"log/slog"

	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/workflow"
)

// Rule actions.
const (
	ActionApprove     = "approve"
	ActionReject      = "reject"
	ActionNeedsReview = "needs_review"
	ActionContinue    = "continue"
)

type rule struct {
	deps Deps
}

// Run implements step.Capability.
//
// Settings: threshold (default 0.90), action_pass (default approve),
// action_fail (default needs_review), branch (default false; true emits
// Branch("pass"|"fail") instead of Continue), source.
func (r *rule) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	ex, err := r.deps.findExtraction(ctx, cfg, snap)
	if err != nil {
		return step.Fail("rule: "+err.Error(), false)
	}
	if ex == nil {
		return step.Failf("rule: no extraction available for document %s", snap.DocumentID())
	}

	threshold := cfg.Float("threshold", cfg.Float("min_confidence", DefaultMinConfidence))
	low := lowConfidence(ex.Fields, threshold)
	passed := len(low) == 0

	action := cfg.String("action_pass", ActionApprove)
	label := LabelPass
	if !passed {
		action = cfg.String("action_fail", ActionNeedsReview)
		label = LabelFail
	}

	if status := actionStatus(action); status != "" {
		if err := r.deps.setStatus(ctx, snap, status); err != nil {
			return step.Fail("rule: update document status: "+err.Error(), false)
		}
	}

	r.deps.log(snap).Debug("rule evaluated",
		slog.Bool("passed", passed),
		slog.String("action", action),
		slog.Int("low_confidence", len(low)),
	)

	out := map[string]any{
		"passed":          passed,
		"action":          action,
		"threshold":       threshold,
		"low_conf_fields": low,
	}
	if !cfg.Bool("branch", false) {
		return step.Continue(out)
	}
	return step.Branch(label, out)
}

// actionStatus maps a rule action to the document status it sets, or ""
// for actions that leave the status alone.
func actionStatus(action string) string {
	switch action {
	case ActionApprove:
		return workflow.DocumentApproved
	case ActionReject:
		return workflow.DocumentRejected
	case ActionNeedsReview:
		return workflow.DocumentNeedsReview
	}
	return ""
}
