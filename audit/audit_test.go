package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/workflow"
)

func TestBatch_RecordsRunLifecycle(t *testing.T) {
	runID := id.NewRunID()
	fixed := time.Unix(1700000000, 0)
	b := audit.NewBatch(runID, "org-1", "system:workflow-engine", func() time.Time { return fixed })

	b.RunStarted("wf-1", "doc-1")
	b.Step(workflow.StepResult{StepID: "extract", StepType: "extract", Status: workflow.StepSucceeded, Sequence: 1, Attempts: 1})
	b.Step(workflow.StepResult{StepID: "emr", StepType: "emr_sync", Status: workflow.StepRetriedThenFailed, Sequence: 2, Attempts: 3, Error: "503"})
	b.RunFinished(&workflow.RunResult{RunID: runID, Outcome: workflow.OutcomeFailed, Error: "503", TerminalStepID: "emr"})

	entries := b.Entries()
	wantActions := []string{
		audit.ActionRunStarted,
		audit.ActionStepSucceeded,
		audit.ActionStepFailed,
		audit.ActionRunFailed,
	}
	if len(entries) != len(wantActions) {
		t.Fatalf("got %d entries, want %d", len(entries), len(wantActions))
	}
	for i, e := range entries {
		if e.Action != wantActions[i] {
			t.Errorf("entry %d action = %q, want %q", i, e.Action, wantActions[i])
		}
		if e.RunID != runID || e.OrgID != "org-1" || e.ActorID != "system:workflow-engine" {
			t.Errorf("entry %d not tagged with run: %+v", i, e)
		}
		if !e.CreatedAt.Equal(fixed) {
			t.Errorf("entry %d CreatedAt = %v", i, e.CreatedAt)
		}
		if e.ID.Prefix() != id.PrefixAudit {
			t.Errorf("entry %d id prefix = %q", i, e.ID.Prefix())
		}
	}
	if entries[2].Details["attempts"] != 3 || entries[2].Details["error"] != "503" {
		t.Errorf("step details = %v", entries[2].Details)
	}
}

func TestBatch_AwaitingReviewAction(t *testing.T) {
	b := audit.NewBatch(id.NewRunID(), "org", "actor", nil)
	b.RunFinished(&workflow.RunResult{Outcome: workflow.OutcomeAwaitingReview})
	if got := b.Entries()[0].Action; got != audit.ActionRunAwaitingReview {
		t.Fatalf("action = %q", got)
	}
}

func TestSinkFunc(t *testing.T) {
	var got int
	sink := audit.SinkFunc(func(_ context.Context, _ id.RunID, entries []audit.Entry) error {
		got = len(entries)
		return nil
	})
	b := audit.NewBatch(id.NewRunID(), "org", "actor", nil)
	b.RunStarted("wf", "doc")
	if err := sink.AppendRunAudit(context.Background(), b.RunID(), b.Entries()); err != nil {
		t.Fatalf("AppendRunAudit: %v", err)
	}
	if got != 1 {
		t.Fatalf("sink saw %d entries", got)
	}
}
