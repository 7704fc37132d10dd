// Package audit defines the audit trail the executor writes for every run
// and the sink contract backends implement.
//
// The executor collects one [Batch] per run and flushes it once, when the
// run stops. Flushing is best effort: a sink error is logged and never
// changes the run result.
package audit

import (
	"context"
	"time"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/workflow"
)

// Actions written by the executor.
const (
	ActionRunStarted        = "workflow_run_started"
	ActionStepSucceeded     = "workflow_step_succeeded"
	ActionStepFailed        = "workflow_step_failed"
	ActionRunCompleted      = "workflow_run_completed"
	ActionRunFailed         = "workflow_run_failed"
	ActionRunAwaitingReview = "workflow_run_awaiting_review"
)

// Entity types.
const (
	EntityRun  = "workflow_run"
	EntityStep = "workflow_step"
)

// Entry is one audit record. It matches a row of the audit_logs table.
type Entry struct {
	ID         id.ID          `json:"id"`
	RunID      id.RunID       `json:"runId"`
	OrgID      string         `json:"orgId"`
	ActorID    string         `json:"actorId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Sink persists audit entries.
type Sink interface {
	// AppendRunAudit stores every entry of one run's batch. Entries
	// carry the run id; implementations may write them in one
	// transaction.
	AppendRunAudit(ctx context.Context, runID id.RunID, entries []Entry) error
}

// Reader returns the audit trail of a run.
type Reader interface {
	// ListRunAudit returns the entries of a run in the order they were
	// written.
	ListRunAudit(ctx context.Context, runID id.RunID) ([]Entry, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, runID id.RunID, entries []Entry) error

// AppendRunAudit calls f.
func (f SinkFunc) AppendRunAudit(ctx context.Context, runID id.RunID, entries []Entry) error {
	return f(ctx, runID, entries)
}

// Batch accumulates the entries of one run.
type Batch struct {
	runID   id.RunID
	orgID   string
	actorID string
	now     func() time.Time
	entries []Entry
}

// NewBatch starts a batch for a run. now supplies timestamps; nil means
// time.Now.
func NewBatch(runID id.RunID, orgID, actorID string, now func() time.Time) *Batch {
	if now == nil {
		now = time.Now
	}
	return &Batch{runID: runID, orgID: orgID, actorID: actorID, now: now}
}

// Add appends an entry.
func (b *Batch) Add(action, entityType, entityID string, details map[string]any) {
	b.entries = append(b.entries, Entry{
		ID:         id.NewAuditID(),
		RunID:      b.runID,
		OrgID:      b.orgID,
		ActorID:    b.actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  b.now(),
	})
}

// RunStarted records the start of the run.
func (b *Batch) RunStarted(workflowID, documentID string) {
	b.Add(ActionRunStarted, EntityRun, b.runID.String(), map[string]any{
		"workflow_id": workflowID,
		"document_id": documentID,
	})
}

// Step records a step result.
func (b *Batch) Step(r workflow.StepResult) {
	action := ActionStepSucceeded
	if r.Status != workflow.StepSucceeded {
		action = ActionStepFailed
	}
	details := map[string]any{
		"run_id":    b.runID.String(),
		"step_type": r.StepType,
		"status":    string(r.Status),
		"sequence":  r.Sequence,
		"attempts":  r.Attempts,
	}
	if r.Label != "" {
		details["label"] = r.Label
	}
	if r.Suspended {
		details["suspended"] = true
	}
	if r.Error != "" {
		details["error"] = r.Error
	}
	b.Add(action, EntityStep, r.StepID, details)
}

// RunFinished records how the run ended.
func (b *Batch) RunFinished(res *workflow.RunResult) {
	action := ActionRunCompleted
	switch res.Outcome {
	case workflow.OutcomeFailed:
		action = ActionRunFailed
	case workflow.OutcomeAwaitingReview:
		action = ActionRunAwaitingReview
	}
	details := map[string]any{
		"workflow_id":      res.WorkflowID,
		"document_id":      res.DocumentID,
		"outcome":          string(res.Outcome),
		"step_count":       len(res.Steps),
		"terminal_step_id": res.TerminalStepID,
	}
	if res.Error != "" {
		details["error"] = res.Error
	}
	b.Add(action, EntityRun, b.runID.String(), details)
}

// RunID returns the run the batch belongs to.
func (b *Batch) RunID() id.RunID { return b.runID }

// Entries returns the accumulated entries in order.
func (b *Batch) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of entries.
func (b *Batch) Len() int { return len(b.entries) }
