package workflow

import (
	"time"

	"github.com/medocr/docflow/id"
)

// StepStatus is the recorded status of one visited step.
type StepStatus string

const (
	StepSucceeded         StepStatus = "succeeded"
	StepFailed            StepStatus = "failed"
	StepSkipped           StepStatus = "skipped"
	StepRetriedThenFailed StepStatus = "retried-then-failed"
)

// RunOutcome is how a run ended.
type RunOutcome string

const (
	OutcomeCompleted      RunOutcome = "completed"
	OutcomeFailed         RunOutcome = "failed"
	OutcomeAwaitingReview RunOutcome = "partially-completed-awaiting-human-review"
)

// TimeoutReason is the error detail recorded on the step that was in
// flight when the run deadline passed.
const TimeoutReason = "timeout"

// StepResult is the record of one visited step.
type StepResult struct {
	StepID   string     `json:"stepId"`
	StepType string     `json:"stepType"`
	Sequence int        `json:"sequence"`
	Status   StepStatus `json:"status"`
	Attempts int        `json:"attempt"`

	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`

	// Label is the branch label the step chose, if any.
	Label string `json:"label,omitempty"`

	// Suspended marks the step at which the run stopped to wait for a
	// human.
	Suspended bool `json:"suspended,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration returns how long the step ran, including retries.
func (r StepResult) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// RunResult is the aggregate result of one Execute call.
type RunResult struct {
	RunID      id.RunID `json:"runId"`
	WorkflowID string   `json:"workflowId"`
	DocumentID string   `json:"documentId"`
	OrgID      string   `json:"orgId"`

	Outcome RunOutcome   `json:"outcome"`
	Steps   []StepResult `json:"steps"`

	// TerminalStepID is the id of the last visited step.
	TerminalStepID string `json:"terminalStepId"`

	// Error is the reason of the step that failed the run, or the
	// reason the run was stopped.
	Error string `json:"error,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Step returns the result recorded for stepID.
func (r *RunResult) Step(stepID string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepResult{}, false
}

// StepIDs returns the ids of the visited steps in visitation order.
func (r *RunResult) StepIDs() []string {
	out := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.StepID
	}
	return out
}
