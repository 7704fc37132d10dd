// Package storetest is a conformance suite every store backend runs from
// its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/store"
	"github.com/medocr/docflow/workflow"
)

// Backend is what the suite exercises.
type Backend interface {
	store.Store
	store.Seeder
}

// Run executes the suite against the store returned by open. open is
// called once per subtest; backends sharing a database must tolerate
// records left by earlier subtests.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s Backend)
	}{
		{"DefinitionRoundTrip", testDefinitionRoundTrip},
		{"DefinitionReplace", testDefinitionReplace},
		{"DefinitionNotFound", testDefinitionNotFound},
		{"FindActiveDefinition", testFindActiveDefinition},
		{"DefaultDefinition", testDefaultDefinition},
		{"DocumentStatus", testDocumentStatus},
		{"ExtractionLatest", testExtractionLatest},
		{"RunRoundTrip", testRunRoundTrip},
		{"RunList", testRunList},
		{"AuditOrder", testAuditOrder},
		{"Recipients", testRecipients},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

// uniq returns a key no earlier run of the suite has used.
func uniq(prefix string) string {
	return prefix + "-" + id.NewAuditID().String()
}

// at returns a fixed second-precision UTC time offset by d.
func at(d time.Duration) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(d)
}

// ──────────────────────────────────────────────────
// Definitions
// ──────────────────────────────────────────────────

func reviewDefinition(wfID, orgID string) *workflow.Definition {
	return &workflow.Definition{
		ID:      wfID,
		OrgID:   orgID,
		Name:    "Invoice review",
		DocType: "invoice",
		Active:  true,
		Steps: []workflow.StepDefinition{
			{ID: "upload", Type: "upload", Next: "extract"},
			{ID: "extract", Type: "extract", Next: "validate"},
			{ID: "validate", Type: "validate", Config: map[string]any{"min_confidence": 0.8},
				Branches: map[string]string{"pass": "export", "fail": workflow.AwaitHumanTarget}},
			{ID: "export", Type: "csv_export", Config: map[string]any{"fields_to_export": []any{"total"}}},
		},
	}
}

func testDefinitionRoundTrip(t *testing.T, s Backend) {
	ctx := context.Background()
	want := reviewDefinition(uniq("wf"), "org-1")
	if err := s.SaveDefinition(ctx, want); err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}

	got, err := s.LoadDefinition(ctx, want.ID)
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if got.OrgID != "org-1" || got.Name != want.Name || got.DocType != "invoice" || !got.Active {
		t.Fatalf("header = %+v", got)
	}
	if len(got.Steps) != len(want.Steps) {
		t.Fatalf("steps = %d, want %d", len(got.Steps), len(want.Steps))
	}
	for i, st := range got.Steps {
		w := want.Steps[i]
		if st.ID != w.ID || st.Type != w.Type || st.Next != w.Next {
			t.Fatalf("step %d = %+v, want %+v", i, st, w)
		}
		if len(st.Branches) != len(w.Branches) {
			t.Fatalf("step %s branches = %v", st.ID, st.Branches)
		}
		for label, target := range w.Branches {
			if st.Branches[label] != target {
				t.Fatalf("step %s branch %s = %q, want %q", st.ID, label, st.Branches[label], target)
			}
		}
	}
	if v := got.Steps[2].Config["min_confidence"]; v != 0.8 {
		t.Fatalf("min_confidence = %v", v)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("loaded definition invalid: %v", err)
	}
}

func testDefinitionReplace(t *testing.T, s Backend) {
	ctx := context.Background()
	def := reviewDefinition(uniq("wf"), "org-1")
	if err := s.SaveDefinition(ctx, def); err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}
	def.Name = "renamed"
	def.Steps = def.Steps[:1]
	def.Steps[0].Next = ""
	if err := s.SaveDefinition(ctx, def); err != nil {
		t.Fatalf("SaveDefinition replace: %v", err)
	}

	got, err := s.LoadDefinition(ctx, def.ID)
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if got.Name != "renamed" || len(got.Steps) != 1 || got.Steps[0].Next != "" {
		t.Fatalf("definition = %+v", got)
	}
}

func testDefinitionNotFound(t *testing.T, s Backend) {
	_, err := s.LoadDefinition(context.Background(), uniq("missing"))
	if !errors.Is(err, docflow.ErrWorkflowNotFound) {
		t.Fatalf("err = %v, want ErrWorkflowNotFound", err)
	}
}

func testFindActiveDefinition(t *testing.T, s Backend) {
	ctx := context.Background()
	org := uniq("org")

	inactive := reviewDefinition(uniq("wf-a"), org)
	inactive.Active = false
	otherType := reviewDefinition(uniq("wf-a"), org)
	otherType.DocType = "receipt"
	otherOrg := reviewDefinition(uniq("wf-a"), uniq("org"))
	for _, def := range []*workflow.Definition{inactive, otherType, otherOrg} {
		if err := s.SaveDefinition(ctx, def); err != nil {
			t.Fatalf("SaveDefinition: %v", err)
		}
	}
	if _, err := s.FindActiveDefinition(ctx, org, "invoice"); !errors.Is(err, docflow.ErrWorkflowNotFound) {
		t.Fatalf("err = %v, want ErrWorkflowNotFound", err)
	}

	first := reviewDefinition(uniq("wf-b"), org)
	if err := s.SaveDefinition(ctx, first); err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}
	second := reviewDefinition(uniq("wf-c"), org)
	if err := s.SaveDefinition(ctx, second); err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}
	got, err := s.FindActiveDefinition(ctx, org, "invoice")
	if err != nil {
		t.Fatalf("FindActiveDefinition: %v", err)
	}
	if got.ID != first.ID || len(got.Steps) != len(first.Steps) {
		t.Fatalf("definition = %+v, want %s", got, first.ID)
	}
}

func testDefaultDefinition(t *testing.T, s Backend) {
	ctx := context.Background()
	def := workflow.DefaultDefinition(uniq("org"), "lab_report")
	if err := s.SaveDefinition(ctx, def); err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}
	got, err := s.FindActiveDefinition(ctx, def.OrgID, "lab_report")
	if err != nil {
		t.Fatalf("FindActiveDefinition: %v", err)
	}
	if got.ID != def.ID || len(got.Steps) != 1 || got.Steps[0].Type != "extract" || got.Steps[0].Next != "" {
		t.Fatalf("definition = %+v", got)
	}
}

// ──────────────────────────────────────────────────
// Documents and extractions
// ──────────────────────────────────────────────────

func testDocumentStatus(t *testing.T, s Backend) {
	ctx := context.Background()
	doc := &workflow.Document{ID: uniq("doc"), OrgID: "org-1", Filename: "scan.pdf", MimeType: "application/pdf", PageCount: 2}
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.LoadDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if got.OrgID != "org-1" || got.PageCount != 2 || got.Status != workflow.DocumentUploaded {
		t.Fatalf("document = %+v", got)
	}

	if err := s.UpdateDocumentStatus(ctx, doc.ID, workflow.DocumentApproved); err != nil {
		t.Fatalf("UpdateDocumentStatus: %v", err)
	}
	if got, _ = s.LoadDocument(ctx, doc.ID); got.Status != workflow.DocumentApproved {
		t.Fatalf("status = %q", got.Status)
	}

	if err := s.UpdateDocumentStatus(ctx, uniq("missing"), workflow.DocumentApproved); !errors.Is(err, docflow.ErrDocumentNotFound) {
		t.Fatalf("update missing err = %v", err)
	}
	if _, err := s.LoadDocument(ctx, uniq("missing")); !errors.Is(err, docflow.ErrDocumentNotFound) {
		t.Fatalf("load missing err = %v", err)
	}
}

func testExtractionLatest(t *testing.T, s Backend) {
	ctx := context.Background()
	doc := &workflow.Document{ID: uniq("doc"), OrgID: "org-1", Filename: "scan.pdf"}
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	if _, err := s.LatestExtraction(ctx, doc.ID); !errors.Is(err, extraction.ErrNotFound) {
		t.Fatalf("err = %v, want extraction.ErrNotFound", err)
	}

	older := &extraction.Extraction{
		ID: id.NewExtractionID(), DocumentID: doc.ID, OrgID: "org-1", Provider: "mock",
		Fields:    []extraction.Field{{Key: "total", Value: "1", Confidence: 0.5, Page: 1}},
		CreatedAt: at(0),
	}
	newer := &extraction.Extraction{
		ID: id.NewExtractionID(), DocumentID: doc.ID, OrgID: "org-1", Provider: "mock",
		Fields: []extraction.Field{
			{Key: "vendor", Value: "Acme", Confidence: 0.97, Page: 1,
				BBox: &extraction.BBox{X: 0.1, Y: 0.2, W: 0.3, H: 0.05}},
			{Key: "total", Value: "120.50", Confidence: 0.91, Page: 2},
		},
		Text:      "ACME INVOICE",
		CreatedAt: at(time.Minute),
	}
	for _, e := range []*extraction.Extraction{older, newer} {
		if err := s.SaveExtraction(ctx, e); err != nil {
			t.Fatalf("SaveExtraction: %v", err)
		}
	}

	got, err := s.LatestExtraction(ctx, doc.ID)
	if err != nil {
		t.Fatalf("LatestExtraction: %v", err)
	}
	if got.ID != newer.ID || got.Text != "ACME INVOICE" || len(got.Fields) != 2 {
		t.Fatalf("extraction = %+v", got)
	}
	if got.Fields[0].Key != "vendor" || got.Fields[1].Key != "total" || got.Fields[1].Page != 2 {
		t.Fatalf("fields = %+v", got.Fields)
	}
	if b := got.Fields[0].BBox; b == nil || b.W != 0.3 {
		t.Fatalf("bbox = %+v", b)
	}
	if got.MinConfidence() != 0.91 {
		t.Fatalf("min confidence = %v", got.MinConfidence())
	}
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

func sampleRun(wfID, docID string, started time.Time, outcome workflow.RunOutcome) *workflow.RunResult {
	run := &workflow.RunResult{
		RunID:      id.NewRunID(),
		WorkflowID: wfID,
		DocumentID: docID,
		OrgID:      "org-1",
		Outcome:    outcome,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Steps: []workflow.StepResult{
			{StepID: "extract", StepType: "extract", Sequence: 1, Status: workflow.StepSucceeded, Attempts: 1,
				Output: map[string]any{"field_count": 2.0}, StartedAt: started, FinishedAt: started.Add(time.Second)},
			{StepID: "validate", StepType: "validate", Sequence: 2, Status: workflow.StepSucceeded, Attempts: 1,
				Label: "fail", Suspended: true, StartedAt: started.Add(time.Second), FinishedAt: started.Add(2 * time.Second)},
		},
		TerminalStepID: "validate",
	}
	if outcome == workflow.OutcomeFailed {
		run.Steps[1].Status = workflow.StepRetriedThenFailed
		run.Steps[1].Attempts = 3
		run.Steps[1].Error = "503 from endpoint"
		run.Steps[1].Label = ""
		run.Steps[1].Suspended = false
		run.Error = "503 from endpoint"
	}
	return run
}

func testRunRoundTrip(t *testing.T, s Backend) {
	ctx := context.Background()
	want := sampleRun(uniq("wf"), uniq("doc"), at(0), workflow.OutcomeAwaitingReview)
	if err := s.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, want.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.RunID != want.RunID || got.Outcome != workflow.OutcomeAwaitingReview || got.TerminalStepID != "validate" {
		t.Fatalf("run = %+v", got)
	}
	if !got.StartedAt.Equal(want.StartedAt) || !got.FinishedAt.Equal(want.FinishedAt) {
		t.Fatalf("times = %v..%v", got.StartedAt, got.FinishedAt)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d", len(got.Steps))
	}
	v := got.Steps[1]
	if v.Sequence != 2 || v.Label != "fail" || !v.Suspended || v.Status != workflow.StepSucceeded {
		t.Fatalf("validate = %+v", v)
	}
	if got.Steps[0].Output["field_count"] != 2.0 {
		t.Fatalf("output = %v", got.Steps[0].Output)
	}

	// Saving again replaces the record.
	want.Outcome = workflow.OutcomeCompleted
	want.Steps = want.Steps[:1]
	if err := s.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun replace: %v", err)
	}
	got, err = s.GetRun(ctx, want.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Outcome != workflow.OutcomeCompleted || len(got.Steps) != 1 {
		t.Fatalf("replaced run = %+v", got)
	}

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, docflow.ErrRunNotFound) {
		t.Fatalf("missing run err = %v", err)
	}
}

func testRunList(t *testing.T, s Backend) {
	ctx := context.Background()
	wfID, docID := uniq("wf"), uniq("doc")
	first := sampleRun(wfID, docID, at(0), workflow.OutcomeCompleted)
	second := sampleRun(wfID, docID, at(time.Minute), workflow.OutcomeFailed)
	third := sampleRun(wfID, docID, at(2*time.Minute), workflow.OutcomeCompleted)
	other := sampleRun(uniq("wf"), docID, at(3*time.Minute), workflow.OutcomeCompleted)
	for _, r := range []*workflow.RunResult{first, second, third, other} {
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, workflow.ListOpts{WorkflowID: wfID})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 || runs[0].RunID != third.RunID || runs[2].RunID != first.RunID {
		t.Fatalf("runs = %d, newest first expected", len(runs))
	}

	failed, err := s.ListRuns(ctx, workflow.ListOpts{WorkflowID: wfID, Outcome: workflow.OutcomeFailed})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Error != "503 from endpoint" || failed[0].Steps[1].Attempts != 3 {
		t.Fatalf("failed runs = %+v", failed)
	}

	page, err := s.ListRuns(ctx, workflow.ListOpts{WorkflowID: wfID, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns page: %v", err)
	}
	if len(page) != 1 || page[0].RunID != second.RunID {
		t.Fatalf("page = %d runs", len(page))
	}

	byDoc, err := s.ListRuns(ctx, workflow.ListOpts{DocumentID: docID})
	if err != nil {
		t.Fatalf("ListRuns by document: %v", err)
	}
	if len(byDoc) != 4 {
		t.Fatalf("runs for document = %d, want 4", len(byDoc))
	}
}

// ──────────────────────────────────────────────────
// Audit and recipients
// ──────────────────────────────────────────────────

func testAuditOrder(t *testing.T, s Backend) {
	ctx := context.Background()
	runID := id.NewRunID()
	clock := at(0)
	b := audit.NewBatch(runID, "org-1", "user:7", func() time.Time { return clock })
	b.RunStarted("wf-1", "doc-1")
	b.Step(workflow.StepResult{StepID: "extract", StepType: "extract", Sequence: 1, Status: workflow.StepSucceeded, Attempts: 1})
	b.Step(workflow.StepResult{StepID: "notify", StepType: "notify", Sequence: 2, Status: workflow.StepFailed, Attempts: 1, Error: "no recipients"})
	b.RunFinished(&workflow.RunResult{RunID: runID, WorkflowID: "wf-1", DocumentID: "doc-1", Outcome: workflow.OutcomeFailed, Error: "no recipients"})

	if err := s.AppendRunAudit(ctx, runID, b.Entries()); err != nil {
		t.Fatalf("AppendRunAudit: %v", err)
	}

	got, err := s.ListRunAudit(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunAudit: %v", err)
	}
	wantActions := []string{audit.ActionRunStarted, audit.ActionStepSucceeded, audit.ActionStepFailed, audit.ActionRunFailed}
	if len(got) != len(wantActions) {
		t.Fatalf("entries = %d, want %d", len(got), len(wantActions))
	}
	for i, e := range got {
		if e.Action != wantActions[i] || e.RunID != runID || e.ActorID != "user:7" {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
	if got[2].EntityID != "notify" || got[2].Details["error"] != "no recipients" {
		t.Fatalf("step entry = %+v", got[2])
	}

	empty, err := s.ListRunAudit(ctx, id.NewRunID())
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown run audit = %v, %v", empty, err)
	}
}

func testRecipients(t *testing.T, s Backend) {
	ctx := context.Background()
	org := uniq("org")
	if err := s.SetPreference(ctx, org, "u1", "b@example.com", notify.EventWorkflowError, notify.EventNeedsReview); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := s.SetPreference(ctx, org, "u2", "a@example.com", notify.EventWorkflowError); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := s.SetPreference(ctx, uniq("org"), "u3", "c@example.com", notify.EventWorkflowError); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	got, err := s.Recipients(ctx, org, notify.EventWorkflowError)
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	if len(got) != 2 || got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Fatalf("recipients = %v", got)
	}

	review, _ := s.Recipients(ctx, org, notify.EventNeedsReview)
	if len(review) != 1 || review[0] != "b@example.com" {
		t.Fatalf("needs_review recipients = %v", review)
	}

	// Changing a preference opts the user out of unlisted events.
	if err := s.SetPreference(ctx, org, "u1", "b@example.com", notify.EventDocumentApproved); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if review, _ = s.Recipients(ctx, org, notify.EventNeedsReview); len(review) != 0 {
		t.Fatalf("needs_review after opt-out = %v", review)
	}

	unknown, err := s.Recipients(ctx, org, "unknown_event")
	if err != nil || len(unknown) != 0 {
		t.Fatalf("unknown event = %v, %v", unknown, err)
	}
}
