package capability_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medocr/docflow/capability"
	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/objectstore"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/store/memory"
	"github.com/medocr/docflow/workflow"
)

var testDoc = workflow.Document{
	ID:        "doc-1",
	OrgID:     "org-1",
	Filename:  "invoice.pdf",
	MimeType:  "application/pdf",
	DocType:   "invoice",
	Status:    workflow.DocumentUploaded,
	PageCount: 2,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store   *memory.Store
	objects *objectstore.Memory
	deps    capability.Deps
	reg     *step.Registry
}

func newFixture(t *testing.T, mutate ...func(*capability.Deps)) *fixture {
	t.Helper()
	s := memory.New()
	s.PutDocument(testDoc)
	objects := objectstore.NewMemory()
	deps := capability.Deps{
		Documents:   s,
		Extractions: s,
		Provider: &extraction.Static{Fields: []extraction.Field{
			{Key: "invoice_number", Value: "INV-1", Confidence: 0.97, Page: 1},
			{Key: "total", Value: "120.00", Confidence: 0.95, Page: 2},
		}},
		Sink:       notify.NewHTTPSink(notify.WithRateLimit(0, 0), notify.WithLogger(discardLogger())),
		Recipients: s,
		Objects:    objects,
		Clock:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		Logger:     discardLogger(),
	}
	for _, m := range mutate {
		m(&deps)
	}
	return &fixture{store: s, objects: objects, deps: deps, reg: capability.NewRegistry(deps)}
}

// snapshot builds a run positioned at stepID with the given results
// already recorded.
func snapshot(t *testing.T, stepID string, prior ...workflow.StepResult) step.Snapshot {
	t.Helper()
	def := &workflow.Definition{ID: "wf-1", OrgID: testDoc.OrgID}
	exec := workflow.NewExecution(def, testDoc, id.NewRunID(), time.Now().Add(time.Minute), nil)
	for _, r := range prior {
		if _, err := exec.RecordResult(r); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
	}
	return step.NewSnapshot(exec, stepID, 1)
}

// extracted is an extract step result with the given field confidences.
func extracted(conf ...float64) workflow.StepResult {
	fields := make([]any, 0, len(conf))
	for i, c := range conf {
		fields = append(fields, map[string]any{
			"key":        "field_" + string(rune('a'+i)),
			"value":      "v",
			"confidence": c,
			"page":       1,
		})
	}
	return workflow.StepResult{
		StepID:   "extract",
		StepType: "extract",
		Status:   workflow.StepSucceeded,
		Output:   map[string]any{"extraction_id": id.NewExtractionID().String(), "fields": fields},
	}
}

func (f *fixture) run(t *testing.T, stepType string, cfg step.Config, snap step.Snapshot) step.Outcome {
	t.Helper()
	e, err := f.reg.Resolve(stepType)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", stepType, err)
	}
	return e.Capability.Run(context.Background(), cfg, snap)
}

func (f *fixture) status(t *testing.T) string {
	t.Helper()
	doc, err := f.store.LoadDocument(context.Background(), testDoc.ID)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	return doc.Status
}

// ──────────────────────────────────────────────────
// Registration
// ──────────────────────────────────────────────────

func TestRegister_TypesAndExternal(t *testing.T) {
	f := newFixture(t)
	want := map[string]bool{
		"upload": false, "api_ingest": false, "email_ingest": false,
		"extract": false, "validate": false, "rule": false, "branch": false,
		"review": false, "await_human": false, "csv_export": false,
		"webhook": true, "webhook_export": true, "emr_sync": true, "notify": true,
	}
	for typ, external := range want {
		e, err := f.reg.Resolve(typ)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", typ, err)
		}
		if e.External != external {
			t.Errorf("%s external = %v, want %v", typ, e.External, external)
		}
	}
}

func TestIngest_Continues(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "email_ingest", nil, snapshot(t, "in"))
	if out.Kind() != step.KindContinue {
		t.Fatalf("outcome = %s", out)
	}
	if out.Output()["source"] != "email_ingest" {
		t.Fatalf("output = %v", out.Output())
	}
}

// ──────────────────────────────────────────────────
// Extract
// ──────────────────────────────────────────────────

func TestExtract_StoresAndReuses(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, "extract", nil, snapshot(t, "extract"))
	if out.Kind() != step.KindContinue {
		t.Fatalf("outcome = %s", out)
	}
	if out.Output()["field_count"] != 2 || out.Output()["reused"] != false {
		t.Fatalf("output = %v", out.Output())
	}
	if f.status(t) != workflow.DocumentProcessing {
		t.Fatalf("status = %q", f.status(t))
	}

	stored, err := f.store.LatestExtraction(context.Background(), testDoc.ID)
	if err != nil {
		t.Fatalf("LatestExtraction: %v", err)
	}
	if stored.Fields[0].Page != 1 || stored.Fields[1].Page != 2 {
		t.Fatalf("fields out of page order: %+v", stored.Fields)
	}

	again := f.run(t, "extract", nil, snapshot(t, "extract"))
	if again.Output()["reused"] != true {
		t.Fatalf("second extract should reuse: %v", again.Output())
	}
	if again.Output()["extraction_id"] != stored.ID.String() {
		t.Fatalf("reused id = %v, want %s", again.Output()["extraction_id"], stored.ID)
	}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) ExtractPage(context.Context, workflow.Document, int) (extraction.PageResult, error) {
	return extraction.PageResult{}, io.ErrUnexpectedEOF
}

func TestExtract_ProviderErrorFails(t *testing.T) {
	f := newFixture(t, func(d *capability.Deps) { d.Provider = failingProvider{} })
	out := f.run(t, "extract", nil, snapshot(t, "extract"))
	if out.Kind() != step.KindFail || out.Retryable() {
		t.Fatalf("outcome = %s", out)
	}
}

// ──────────────────────────────────────────────────
// Validate and rule
// ──────────────────────────────────────────────────

func TestValidate_LowConfidenceTakesFailBranch(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "validate", step.Config{"min_confidence": 0.8}, snapshot(t, "validate", extracted(0.95, 0.6)))
	if out.Kind() != step.KindBranch || out.Label() != capability.LabelFail {
		t.Fatalf("outcome = %s", out)
	}
	low, _ := out.Output()["low_confidence_fields"].([]string)
	if len(low) != 1 || low[0] != "field_b" {
		t.Fatalf("low_confidence_fields = %v", out.Output()["low_confidence_fields"])
	}
}

func TestValidate_PassBranch(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "validate", step.Config{"min_confidence": 0.8}, snapshot(t, "validate", extracted(0.95, 0.85)))
	if out.Label() != capability.LabelPass {
		t.Fatalf("outcome = %s", out)
	}
}

func TestValidate_RequiredFieldMissing(t *testing.T) {
	f := newFixture(t)
	cfg := step.Config{"min_confidence": 0.5, "required_fields": "field_a, patient_id"}
	out := f.run(t, "validate", cfg, snapshot(t, "validate", extracted(0.95)))
	if out.Label() != capability.LabelFail {
		t.Fatalf("outcome = %s", out)
	}
	missing, _ := out.Output()["missing_fields"].([]string)
	if len(missing) != 1 || missing[0] != "patient_id" {
		t.Fatalf("missing_fields = %v", out.Output()["missing_fields"])
	}
}

func TestValidate_SchemaViolation(t *testing.T) {
	f := newFixture(t)
	schema := map[string]any{
		"type":     "object",
		"required": []any{"field_z"},
	}

	soft := f.run(t, "validate", step.Config{"min_confidence": 0.1, "schema": schema},
		snapshot(t, "validate", extracted(0.95)))
	if soft.Label() != capability.LabelFail {
		t.Fatalf("soft outcome = %s", soft)
	}

	hard := f.run(t, "validate", step.Config{"min_confidence": 0.1, "schema": schema, "hard_reject": true},
		snapshot(t, "validate", extracted(0.95)))
	if hard.Kind() != step.KindFail || hard.Retryable() {
		t.Fatalf("hard outcome = %s", hard)
	}
}

func TestValidate_NoExtractionFails(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "validate", nil, snapshot(t, "validate"))
	if out.Kind() != step.KindFail {
		t.Fatalf("outcome = %s", out)
	}
}

func TestRule_ApprovesAboveThreshold(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "rule", step.Config{"branch": true}, snapshot(t, "rule", extracted(0.95, 0.99)))
	if out.Label() != capability.LabelPass || out.Output()["action"] != capability.ActionApprove {
		t.Fatalf("outcome = %s %v", out, out.Output())
	}
	if f.status(t) != workflow.DocumentApproved {
		t.Fatalf("status = %q", f.status(t))
	}
}

func TestRule_FailActionSetsStatus(t *testing.T) {
	f := newFixture(t)
	cfg := step.Config{"threshold": 0.9, "action_fail": "reject"}
	out := f.run(t, "rule", cfg, snapshot(t, "rule", extracted(0.95, 0.5)))
	if out.Kind() != step.KindContinue || out.Output()["passed"] != false {
		t.Fatalf("outcome = %s %v", out, out.Output())
	}
	if f.status(t) != workflow.DocumentRejected {
		t.Fatalf("status = %q", f.status(t))
	}
}

// ──────────────────────────────────────────────────
// Branch and review
// ──────────────────────────────────────────────────

func TestBranch_FirstMatchingConditionWins(t *testing.T) {
	f := newFixture(t)
	cfg := step.Config{"conditions": []any{
		map[string]any{"label": "low", "when": "min_confidence < 0.5"},
		map[string]any{"label": "invoice", "when": `document.doc_type == "invoice"`},
		map[string]any{"label": "any", "when": "true"},
	}}
	out := f.run(t, "branch", cfg, snapshot(t, "route", extracted(0.9)))
	if out.Kind() != step.KindBranch || out.Label() != "invoice" {
		t.Fatalf("outcome = %s", out)
	}
}

func TestBranch_StepOutputsVisible(t *testing.T) {
	f := newFixture(t)
	cfg := step.Config{"conditions": []any{
		map[string]any{"label": "many", "when": "len(steps.extract.fields) > 1"},
	}, "default": "few"}
	out := f.run(t, "branch", cfg, snapshot(t, "route", extracted(0.9)))
	if out.Label() != "few" {
		t.Fatalf("outcome = %s", out)
	}
}

func TestBranch_NoMatchNoDefaultFails(t *testing.T) {
	f := newFixture(t)
	cfg := step.Config{"conditions": []any{map[string]any{"label": "x", "when": "false"}}}
	out := f.run(t, "branch", cfg, snapshot(t, "route"))
	if out.Kind() != step.KindFail || out.Retryable() {
		t.Fatalf("outcome = %s", out)
	}
}

func TestBranch_BadExpressionFails(t *testing.T) {
	f := newFixture(t)
	cfg := step.Config{"conditions": []any{map[string]any{"label": "x", "when": "document.("}}}
	out := f.run(t, "branch", cfg, snapshot(t, "route"))
	if out.Kind() != step.KindFail {
		t.Fatalf("outcome = %s", out)
	}
}

func TestReview_AwaitsHuman(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "await_human", nil, snapshot(t, "review"))
	if out.Kind() != step.KindAwaitHuman || out.Reason() != capability.DefaultReviewReason {
		t.Fatalf("outcome = %s", out)
	}
	if f.status(t) != workflow.DocumentNeedsReview {
		t.Fatalf("status = %q", f.status(t))
	}
}

// ──────────────────────────────────────────────────
// External deliveries
// ──────────────────────────────────────────────────

func TestWebhook_DeliversPayload(t *testing.T) {
	var payload map[string]any
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	f := newFixture(t)
	snap := snapshot(t, "hook", extracted(0.9))
	out := f.run(t, "webhook_export", step.Config{"url": srv.URL, "secret": "shh"}, snap)
	if out.Kind() != step.KindContinue {
		t.Fatalf("outcome = %s", out)
	}
	if out.Output()["status_code"] != 200 || out.Output()["response_body"] != `{"received":true}` {
		t.Fatalf("output = %v", out.Output())
	}
	if payload["workflow_run_id"] != snap.RunID().String() || payload["event"] != capability.DefaultWebhookEvent {
		t.Fatalf("payload = %v", payload)
	}
	if payload["document"] == nil || payload["extraction"] == nil {
		t.Fatalf("payload missing document or extraction: %v", payload)
	}
	if headers.Get("Idempotency-Key") != step.IdempotencyKey(snap) || headers.Get("X-Webhook-Secret") != "shh" {
		t.Fatalf("headers = %v", headers)
	}
}

func TestWebhook_MalformedExtractionIDFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	prior := extracted(0.9)
	prior.Output["extraction_id"] = "ext_not-a-valid-id"

	f := newFixture(t)
	out := f.run(t, "webhook", step.Config{"url": srv.URL}, snapshot(t, "hook", prior))
	if out.Kind() != step.KindFail || out.Retryable() {
		t.Fatalf("outcome = %s", out)
	}
	if !strings.Contains(out.Reason(), "extraction_id") {
		t.Fatalf("reason = %q", out.Reason())
	}
	if hits.Load() != 0 {
		t.Fatal("payload delivered with a zero extraction id")
	}
}

func TestWebhook_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		retryable bool
	}{
		{"server error", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"client error", http.StatusUnprocessableEntity, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			f := newFixture(t)
			out := f.run(t, "webhook", step.Config{"url": srv.URL}, snapshot(t, "hook"))
			if out.Kind() != step.KindFail || out.Retryable() != tt.retryable {
				t.Fatalf("outcome = %s", out)
			}
		})
	}
}

func TestWebhook_MissingURL(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "webhook", nil, snapshot(t, "hook"))
	if out.Kind() != step.KindFail || out.Retryable() {
		t.Fatalf("outcome = %s", out)
	}
}

func TestWebhook_DeduplicatedAcrossReissue(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	f := newFixture(t, func(d *capability.Deps) { d.Deduper = notify.NewMemoryDeduper() })
	snap := snapshot(t, "hook")
	first := f.run(t, "webhook", step.Config{"url": srv.URL}, snap)
	second := f.run(t, "webhook", step.Config{"url": srv.URL}, snap)
	if first.Kind() != step.KindContinue || second.Output()["duplicate"] != true {
		t.Fatalf("first = %s, second = %v", first, second.Output())
	}
	if calls.Load() != 1 {
		t.Fatalf("endpoint called %d times, want 1", calls.Load())
	}
}

func TestEMRSync_PostsDocumentReference(t *testing.T) {
	var resource map[string]any
	var path, contentType, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&resource)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	prior := extracted(0.9)
	prior.Output["fields"] = append(prior.Output["fields"].([]any),
		map[string]any{"key": "patient_id", "value": "p-42", "confidence": 0.99, "page": 1})

	f := newFixture(t)
	out := f.run(t, "emr_sync", step.Config{"base_url": srv.URL + "/fhir/", "token": "tok"}, snapshot(t, "emr", prior))
	if out.Kind() != step.KindContinue || out.Output()["status_code"] != http.StatusCreated {
		t.Fatalf("outcome = %s %v", out, out.Output())
	}
	if path != "/fhir/DocumentReference" || contentType != "application/fhir+json" || auth != "Bearer tok" {
		t.Fatalf("path=%q content-type=%q auth=%q", path, contentType, auth)
	}
	if resource["resourceType"] != "DocumentReference" {
		t.Fatalf("resource = %v", resource)
	}
	subject, _ := resource["subject"].(map[string]any)
	if subject["reference"] != "Patient/p-42" {
		t.Fatalf("subject = %v", resource["subject"])
	}
}

type recordingNotifier struct {
	msgs []notify.Message
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, msg notify.Message) (notify.Receipt, error) {
	r.msgs = append(r.msgs, msg)
	return notify.Receipt{StatusCode: 202}, r.err
}

func TestNotify_MergesRecipients(t *testing.T) {
	n := &recordingNotifier{}
	f := newFixture(t, func(d *capability.Deps) { d.Notifier = n })
	f.store.SetRecipients(testDoc.OrgID, notify.EventNeedsReview, []string{"ops@example.com"})

	cfg := step.Config{"notify_event": "needs_review", "email_to": "qa@example.com; ops@example.com"}
	snap := snapshot(t, "notify")
	out := f.run(t, "notify", cfg, snap)
	if out.Kind() != step.KindContinue {
		t.Fatalf("outcome = %s", out)
	}
	if len(n.msgs) != 1 {
		t.Fatalf("messages = %d", len(n.msgs))
	}
	msg := n.msgs[0]
	if strings.Join(msg.To, ",") != "ops@example.com,qa@example.com" {
		t.Fatalf("to = %v", msg.To)
	}
	if msg.IdempotencyKey != step.IdempotencyKey(snap) || msg.Event != notify.EventNeedsReview {
		t.Fatalf("message = %+v", msg)
	}
}

func TestNotify_NoRecipientsFails(t *testing.T) {
	f := newFixture(t, func(d *capability.Deps) { d.Notifier = &recordingNotifier{} })
	out := f.run(t, "notify", nil, snapshot(t, "notify"))
	if out.Kind() != step.KindFail || out.Retryable() {
		t.Fatalf("outcome = %s", out)
	}
}

func TestNotify_TransientErrorRetryable(t *testing.T) {
	n := &recordingNotifier{err: &notify.DeliveryError{StatusCode: 503, Retryable: true}}
	f := newFixture(t, func(d *capability.Deps) { d.Notifier = n })
	out := f.run(t, "notify", step.Config{"email_to": "a@example.com"}, snapshot(t, "notify"))
	if out.Kind() != step.KindFail || !out.Retryable() {
		t.Fatalf("outcome = %s", out)
	}
}

// ──────────────────────────────────────────────────
// CSV export
// ──────────────────────────────────────────────────

func TestCSVExport_WritesObject(t *testing.T) {
	f := newFixture(t)
	cfg := step.Config{"fields_to_export": []any{"field_a"}}
	out := f.run(t, "csv_export", cfg, snapshot(t, "csv", extracted(0.9, 0.8)))
	if out.Kind() != step.KindContinue {
		t.Fatalf("outcome = %s", out)
	}

	path, _ := out.Output()["csv_path"].(string)
	want := "org-1/doc-1/export_" + "1772366400000" + ".csv"
	if path != want {
		t.Fatalf("csv_path = %q, want %q", path, want)
	}
	data, info, err := f.objects.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.ContentType != "text/csv" {
		t.Fatalf("content type = %q", info.ContentType)
	}
	if string(data) != "key,value,confidence\nfield_a,v,0.9\n" {
		t.Fatalf("csv = %q", data)
	}
	if f.status(t) != workflow.DocumentExported {
		t.Fatalf("status = %q", f.status(t))
	}
}

func TestCSVExport_NoExtractionFails(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "csv_export", nil, snapshot(t, "csv"))
	if out.Kind() != step.KindFail {
		t.Fatalf("outcome = %s", out)
	}
}
