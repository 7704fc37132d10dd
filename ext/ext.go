package ext

import (
	"context"
	"time"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// RunInfo identifies the run an event belongs to.
type RunInfo struct {
	RunID      id.RunID
	WorkflowID string
	DocumentID string
	OrgID      string
	StartedAt  time.Time
}

// RunStarted is called once the run has passed the tenant check.
type RunStarted interface {
	OnRunStarted(ctx context.Context, run RunInfo) error
}

// StepCompleted is called after a step result with status succeeded is
// recorded.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, run RunInfo, result workflow.StepResult) error
}

// StepRetrying is called when an external step failed with a retryable
// reason and another attempt follows after delay.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, run RunInfo, stepID string, attempt int, delay time.Duration, reason string) error
}

// StepFailed is called after a failed step result is recorded.
type StepFailed interface {
	OnStepFailed(ctx context.Context, run RunInfo, result workflow.StepResult) error
}

// RunCompleted is called when a run ends with outcome completed.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, result *workflow.RunResult, elapsed time.Duration) error
}

// RunSuspended is called when a run stops to wait for human review.
type RunSuspended interface {
	OnRunSuspended(ctx context.Context, result *workflow.RunResult) error
}

// RunFailed is called when a run ends with outcome failed. err is the
// error returned by Execute, or nil when a step failure ended the run.
type RunFailed interface {
	OnRunFailed(ctx context.Context, result *workflow.RunResult, err error) error
}
