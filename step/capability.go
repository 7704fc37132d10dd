package step

import (
	"context"
	"time"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/workflow"
)

// Capability implements one step type.
//
// Run must honor ctx: its deadline is the lesser of the step timeout and
// the time left in the run. A capability that fans out work internally
// must aggregate it before returning; it never writes to the run.
type Capability interface {
	Run(ctx context.Context, cfg Config, snap Snapshot) Outcome
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, cfg Config, snap Snapshot) Outcome

// Run calls f.
func (f CapabilityFunc) Run(ctx context.Context, cfg Config, snap Snapshot) Outcome {
	return f(ctx, cfg, snap)
}

// Snapshot is the read-only view of a run given to a capability.
type Snapshot interface {
	RunID() id.RunID
	WorkflowID() string
	OrgID() string
	DocumentID() string
	Document() workflow.Document

	// StepID is the id of the step being run.
	StepID() string
	// Attempt is 1 on the first try of the step.
	Attempt() int

	// Output returns a copy of an earlier step's output, or nil.
	Output(stepID string) map[string]any
	// Results returns the results recorded so far, in visitation order.
	Results() []workflow.StepResult

	Remaining() time.Duration
	Deadline() time.Time
}

// IdempotencyKey returns the key that identifies the side effects of the
// current step across retries: "<runID>:<stepID>".
func IdempotencyKey(s Snapshot) string {
	return s.RunID().String() + ":" + s.StepID()
}

type snapshot struct {
	exec    *workflow.Execution
	stepID  string
	attempt int
}

// NewSnapshot returns the view of exec for one attempt of stepID.
func NewSnapshot(exec *workflow.Execution, stepID string, attempt int) Snapshot {
	return &snapshot{exec: exec, stepID: stepID, attempt: attempt}
}

func (s *snapshot) RunID() id.RunID { return s.exec.RunID() }
func (s *snapshot) WorkflowID() string { return s.exec.WorkflowID() }
func (s *snapshot) OrgID() string { return s.exec.OrgID() }
func (s *snapshot) DocumentID() string { return s.exec.DocumentID() }
func (s *snapshot) Document() workflow.Document { return s.exec.Document() }
func (s *snapshot) StepID() string { return s.stepID }
func (s *snapshot) Attempt() int { return s.attempt }
func (s *snapshot) Output(stepID string) map[string]any { return s.exec.Output(stepID) }
func (s *snapshot) Results() []workflow.StepResult { return s.exec.Results() }
func (s *snapshot) Remaining() time.Duration { return s.exec.Remaining() }
func (s *snapshot) Deadline() time.Time { return s.exec.Deadline() }
