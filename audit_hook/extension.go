package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medocr/docflow/ext"
	"github.com/medocr/docflow/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.RunStarted    = (*Extension)(nil)
	_ ext.StepCompleted = (*Extension)(nil)
	_ ext.StepRetrying  = (*Extension)(nil)
	_ ext.StepFailed    = (*Extension)(nil)
	_ ext.RunCompleted  = (*Extension)(nil)
	_ ext.RunSuspended  = (*Extension)(nil)
	_ ext.RunFailed     = (*Extension)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one streamed audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	OrgID      string         `json:"org_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)

// Extension bridges docflow lifecycle events to an audit backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, run ext.RunInfo) error {
	return e.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, run.RunID.String(), CategoryRun, run.OrgID, nil,
		"workflow_id", run.WorkflowID,
		"document_id", run.DocumentID,
	)
}

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, run ext.RunInfo, r workflow.StepResult) error {
	kv := []any{
		"run_id", run.RunID.String(),
		"step_type", r.StepType,
		"attempts", r.Attempts,
		"elapsed_ms", r.Duration().Milliseconds(),
	}
	if r.Label != "" {
		kv = append(kv, "label", r.Label)
	}
	return e.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceStep, r.StepID, CategoryStep, run.OrgID, nil, kv...)
}

// OnStepRetrying implements ext.StepRetrying.
func (e *Extension) OnStepRetrying(ctx context.Context, run ext.RunInfo, stepID string, attempt int, delay time.Duration, reason string) error {
	return e.record(ctx, ActionStepRetrying, SeverityWarning, OutcomeFailure,
		ResourceStep, stepID, CategoryStep, run.OrgID, errors.New(reason),
		"run_id", run.RunID.String(),
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, run ext.RunInfo, r workflow.StepResult) error {
	return e.record(ctx, ActionStepFailed, SeverityCritical, OutcomeFailure,
		ResourceStep, r.StepID, CategoryStep, run.OrgID, errors.New(r.Error),
		"run_id", run.RunID.String(),
		"step_type", r.StepType,
		"status", string(r.Status),
		"attempts", r.Attempts,
	)
}

// OnRunCompleted implements ext.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, res *workflow.RunResult, elapsed time.Duration) error {
	return e.record(ctx, ActionRunCompleted, SeverityInfo, OutcomeSuccess,
		ResourceRun, res.RunID.String(), CategoryRun, res.OrgID, nil,
		"workflow_id", res.WorkflowID,
		"document_id", res.DocumentID,
		"step_count", len(res.Steps),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunSuspended implements ext.RunSuspended.
func (e *Extension) OnRunSuspended(ctx context.Context, res *workflow.RunResult) error {
	return e.record(ctx, ActionRunSuspended, SeverityWarning, OutcomePending,
		ResourceRun, res.RunID.String(), CategoryRun, res.OrgID, nil,
		"workflow_id", res.WorkflowID,
		"document_id", res.DocumentID,
		"suspended_at", res.TerminalStepID,
	)
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, res *workflow.RunResult, runErr error) error {
	if runErr == nil && res.Error != "" {
		runErr = errors.New(res.Error)
	}
	return e.record(ctx, ActionRunFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, res.RunID.String(), CategoryRun, res.OrgID, runErr,
		"workflow_id", res.WorkflowID,
		"document_id", res.DocumentID,
		"terminal_step_id", res.TerminalStepID,
	)
}

// record builds and sends an audit event if the action is enabled.
// kvPairs are added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, orgID string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil && err.Error() != "" {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		OrgID:      orgID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
