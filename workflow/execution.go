package workflow

import (
	"fmt"
	"maps"
	"time"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/id"
)

// Execution is the Execution Context of one run. It holds the definition
// snapshot, the target document, the recorded step results and the run
// deadline.
type Execution struct {
	def      *Definition
	doc      Document
	runID    id.RunID
	started  time.Time
	deadline time.Time
	now      func() time.Time

	results []StepResult
	index   map[string]int
}

// NewExecution creates the context for one run. now supplies the clock;
// nil means time.Now. The definition is cloned so later changes to def
// do not leak into the run.
func NewExecution(def *Definition, doc Document, runID id.RunID, deadline time.Time, now func() time.Time) *Execution {
	if now == nil {
		now = time.Now
	}
	return &Execution{
		def:      def.Clone(),
		doc:      doc,
		runID:    runID,
		started:  now(),
		deadline: deadline,
		now:      now,
		index:    make(map[string]int),
	}
}

// RunID returns the run identifier.
func (e *Execution) RunID() id.RunID { return e.runID }

// WorkflowID returns the id of the running workflow.
func (e *Execution) WorkflowID() string { return e.def.ID }

// OrgID returns the organization that owns the workflow and document.
func (e *Execution) OrgID() string { return e.doc.OrgID }

// DocumentID returns the id of the target document.
func (e *Execution) DocumentID() string { return e.doc.ID }

// Document returns the document as loaded at run start.
func (e *Execution) Document() Document { return e.doc }

// Definition returns the workflow snapshot. Callers must not modify it.
func (e *Execution) Definition() *Definition { return e.def }

// StartedAt returns the time the run started.
func (e *Execution) StartedAt() time.Time { return e.started }

// Deadline returns the run deadline.
func (e *Execution) Deadline() time.Time { return e.deadline }

// Elapsed returns the time since the run started.
func (e *Execution) Elapsed() time.Duration { return e.now().Sub(e.started) }

// Remaining returns the time left before the deadline. It is zero or
// negative once the deadline has passed.
func (e *Execution) Remaining() time.Duration { return e.deadline.Sub(e.now()) }

// Expired reports whether the deadline has passed.
func (e *Execution) Expired() bool { return e.Remaining() <= 0 }

// RecordResult appends the result of a visited step and assigns its
// sequence number. A step id can be recorded once per run; a second
// attempt returns ErrDuplicateStepResult and leaves the first untouched.
func (e *Execution) RecordResult(r StepResult) (StepResult, error) {
	if r.StepID == "" {
		return StepResult{}, fmt.Errorf("workflow: record result: empty step id")
	}
	if _, ok := e.index[r.StepID]; ok {
		return StepResult{}, fmt.Errorf("%w: run %s step %q", docflow.ErrDuplicateStepResult, e.runID, r.StepID)
	}
	r.Sequence = len(e.results) + 1
	r.Output = maps.Clone(r.Output)
	e.index[r.StepID] = len(e.results)
	e.results = append(e.results, r)
	return r, nil
}

// Recorded reports whether stepID already has a result.
func (e *Execution) Recorded(stepID string) bool {
	_, ok := e.index[stepID]
	return ok
}

// Result returns the result recorded for stepID.
func (e *Execution) Result(stepID string) (StepResult, bool) {
	i, ok := e.index[stepID]
	if !ok {
		return StepResult{}, false
	}
	r := e.results[i]
	r.Output = maps.Clone(r.Output)
	return r, true
}

// Output returns a copy of the output recorded for stepID, or nil.
func (e *Execution) Output(stepID string) map[string]any {
	i, ok := e.index[stepID]
	if !ok {
		return nil
	}
	return maps.Clone(e.results[i].Output)
}

// Results returns a copy of the recorded results in visitation order.
func (e *Execution) Results() []StepResult {
	out := make([]StepResult, len(e.results))
	copy(out, e.results)
	return out
}

// Len returns the number of recorded results.
func (e *Execution) Len() int { return len(e.results) }

// Last returns the most recently recorded result.
func (e *Execution) Last() (StepResult, bool) {
	if len(e.results) == 0 {
		return StepResult{}, false
	}
	return e.results[len(e.results)-1], true
}
