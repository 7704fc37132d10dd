package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medocr/docflow/api"
	"github.com/medocr/docflow/engine"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/store/memory"
	"github.com/medocr/docflow/stream"
	"github.com/medocr/docflow/workflow"
)

// ──────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *memory.Store
	srv   *httptest.Server
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()
	s := memory.New()
	s.PutDocument(workflow.Document{ID: "doc-1", OrgID: "org-1", Filename: "a.pdf"})
	s.PutDocument(workflow.Document{ID: "doc-2", OrgID: "org-2", Filename: "b.pdf"})
	s.PutDocument(workflow.Document{ID: "doc-inv", OrgID: "org-1", Filename: "inv.pdf", DocType: "invoice"})
	s.PutDocument(workflow.Document{ID: "doc-lab", OrgID: "org-1", Filename: "lab.pdf", DocType: "lab_report"})
	s.PutDefinition(&workflow.Definition{
		ID: "wf-ok", OrgID: "org-1", Name: "ok",
		Steps: []workflow.StepDefinition{
			{ID: "a", Type: "ok", Next: "b"},
			{ID: "b", Type: "ok"},
		},
	})
	s.PutDefinition(&workflow.Definition{
		ID: "wf-invoice", OrgID: "org-1", Name: "invoices", DocType: "invoice", Active: true,
		Steps: []workflow.StepDefinition{{ID: "a", Type: "ok"}},
	})
	s.PutDefinition(&workflow.Definition{
		ID: "wf-bad", OrgID: "org-1", Name: "bad",
		Steps: []workflow.StepDefinition{{ID: "a", Type: "missing"}},
	})

	reg := step.NewRegistry()
	reg.Register("ok", step.CapabilityFunc(func(context.Context, step.Config, step.Snapshot) step.Outcome {
		return step.Continue(nil)
	}), step.Describe("always succeeds"))
	reg.Register("fail", step.CapabilityFunc(func(context.Context, step.Config, step.Snapshot) step.Outcome {
		return step.Fail("boom", false)
	}))
	reg.Register("extract", step.CapabilityFunc(func(context.Context, step.Config, step.Snapshot) step.Outcome {
		return step.Continue(map[string]any{"fields": []any{}})
	}))

	broker := stream.NewBroker(discardLogger())
	exec := engine.New(s, s, reg,
		engine.WithLogger(discardLogger()),
		engine.WithRunStore(s),
		engine.WithExtension(broker),
	)
	opts = append([]api.Option{api.WithLogger(discardLogger()), api.WithBroker(broker)}, opts...)
	srv := httptest.NewServer(api.New(exec, opts...).Handler())
	t.Cleanup(srv.Close)
	return &fixture{store: s, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

// ──────────────────────────────────────────────────
// Run trigger
// ──────────────────────────────────────────────────

func TestRunWorkflow_Completes(t *testing.T) {
	f := newFixture(t)
	resp, data := f.do(t, http.MethodPost, "/v1/workflows/wf-ok/run", `{"documentId":"doc-1"}`,
		map[string]string{api.HeaderActorID: "user:9"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	out := decode[api.RunResponse](t, data)
	if out.Result == nil || out.Result.Outcome != workflow.OutcomeCompleted {
		t.Fatalf("result = %+v", out.Result)
	}
	if got := out.Result.StepIDs(); len(got) != 2 {
		t.Errorf("steps = %v", got)
	}
	if out.Error != "" {
		t.Errorf("error = %q", out.Error)
	}
}

func TestRunWorkflow_StatusMapping(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		path   string
		body   string
		header map[string]string
		want   int
	}{
		{"missing workflow", "/v1/workflows/nope/run", `{"documentId":"doc-1"}`, nil, http.StatusNotFound},
		{"missing document", "/v1/workflows/wf-ok/run", `{"documentId":"nope"}`, nil, http.StatusNotFound},
		{"cross tenant", "/v1/workflows/wf-ok/run", `{"documentId":"doc-2"}`, nil, http.StatusForbidden},
		{"scope mismatch", "/v1/workflows/wf-ok/run", `{"documentId":"doc-1"}`, map[string]string{api.HeaderOrgID: "org-2"}, http.StatusNotFound},
		{"unknown step type", "/v1/workflows/wf-bad/run", `{"documentId":"doc-1"}`, nil, http.StatusUnprocessableEntity},
		{"empty document", "/v1/workflows/wf-ok/run", `{"documentId":" "}`, nil, http.StatusBadRequest},
		{"unknown field", "/v1/workflows/wf-ok/run", `{"doc":"doc-1"}`, nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := f.do(t, http.MethodPost, tc.path, tc.body, tc.header)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tc.want, data)
			}
		})
	}
}

func TestRunWorkflow_ConfigurationErrorCarriesPartialResult(t *testing.T) {
	f := newFixture(t)
	_, data := f.do(t, http.MethodPost, "/v1/workflows/wf-bad/run", `{"documentId":"doc-1"}`, nil)
	out := decode[api.RunResponse](t, data)
	if out.Error == "" {
		t.Fatal("expected error text")
	}
	if out.Result == nil || out.Result.Outcome != workflow.OutcomeFailed {
		t.Fatalf("result = %+v", out.Result)
	}
}

func TestProcessDocument_UsesActiveWorkflow(t *testing.T) {
	f := newFixture(t)
	resp, data := f.do(t, http.MethodPost, "/v1/documents/doc-inv/process", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	out := decode[api.RunResponse](t, data)
	if out.Result == nil || out.Result.WorkflowID != "wf-invoice" || out.Result.Outcome != workflow.OutcomeCompleted {
		t.Fatalf("result = %+v", out.Result)
	}
}

func TestProcessDocument_CreatesDefaultWorkflow(t *testing.T) {
	f := newFixture(t)
	resp, data := f.do(t, http.MethodPost, "/v1/documents/doc-lab/process", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	out := decode[api.RunResponse](t, data)
	want := workflow.DefaultDefinition("org-1", "lab_report")
	if out.Result == nil || out.Result.WorkflowID != want.ID {
		t.Fatalf("result = %+v", out.Result)
	}
	if got := out.Result.StepIDs(); len(got) != 1 || got[0] != workflow.DefaultStepID {
		t.Fatalf("steps = %v", got)
	}
	if _, err := f.store.LoadDefinition(context.Background(), want.ID); err != nil {
		t.Fatalf("default workflow not saved: %v", err)
	}
}

func TestProcessDocument_StatusMapping(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing document", "/v1/documents/nope/process", nil, http.StatusNotFound},
		{"foreign org", "/v1/documents/doc-inv/process", map[string]string{api.HeaderOrgID: "org-2"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := f.do(t, http.MethodPost, tc.path, "", tc.header)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tc.want, data)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Saved runs
// ──────────────────────────────────────────────────

func TestGetRun(t *testing.T) {
	f := newFixture(t)
	_, data := f.do(t, http.MethodPost, "/v1/workflows/wf-ok/run", `{"documentId":"doc-1"}`, nil)
	runID := decode[api.RunResponse](t, data).Result.RunID.String()

	resp, data := f.do(t, http.MethodGet, "/v1/runs/"+runID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	got := decode[workflow.RunResult](t, data)
	if got.RunID.String() != runID {
		t.Errorf("run id = %s, want %s", got.RunID, runID)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/runs/"+runID, "", map[string]string{api.HeaderOrgID: "org-2"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("other org status = %d, want 404", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/runs/not-an-id", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/runs/run_0190a0b0c0d07e008000000000000000", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	for range 3 {
		f.do(t, http.MethodPost, "/v1/workflows/wf-ok/run", `{"documentId":"doc-1"}`, nil)
	}

	_, data := f.do(t, http.MethodGet, "/v1/runs?workflowId=wf-ok&limit=2", "", nil)
	if got := decode[api.ListRunsResponse](t, data); len(got.Runs) != 2 {
		t.Errorf("runs = %d, want 2", len(got.Runs))
	}

	_, data = f.do(t, http.MethodGet, "/v1/runs", "", map[string]string{api.HeaderOrgID: "org-2"})
	if got := decode[api.ListRunsResponse](t, data); len(got.Runs) != 0 {
		t.Errorf("org-2 runs = %d, want 0", len(got.Runs))
	}

	resp, _ := f.do(t, http.MethodGet, "/v1/runs?limit=-1", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

// ──────────────────────────────────────────────────
// Steps and auth
// ──────────────────────────────────────────────────

func TestListSteps(t *testing.T) {
	f := newFixture(t)
	_, data := f.do(t, http.MethodGet, "/v1/steps", "", nil)
	got := decode[api.ListStepsResponse](t, data)
	if len(got.Steps) != 3 || got.Steps[0].Type != "extract" || got.Steps[1].Type != "fail" || got.Steps[2].Type != "ok" {
		t.Fatalf("steps = %+v", got.Steps)
	}
	if got.Steps[2].Description != "always succeeds" {
		t.Errorf("description = %q", got.Steps[2].Description)
	}
}

func TestToken(t *testing.T) {
	f := newFixture(t, api.WithToken("s3cret"))

	resp, _ := f.do(t, http.MethodGet, "/v1/steps", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/v1/steps", "", map[string]string{"Authorization": "Bearer s3cret"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("token status = %d, want 200", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestToken_RejectsNearMisses(t *testing.T) {
	f := newFixture(t, api.WithToken("s3cret"))
	for _, auth := range []string{
		"Bearer s3creT",
		"Bearer s3cre",
		"Bearer s3cret2",
		"Bearer ",
		"bearer s3cret",
		"s3cret",
	} {
		resp, _ := f.do(t, http.MethodGet, "/v1/steps", "", map[string]string{"Authorization": auth})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Authorization %q status = %d, want 401", auth, resp.StatusCode)
		}
	}
}

// ──────────────────────────────────────────────────
// Event stream
// ──────────────────────────────────────────────────

// openStream subscribes to /v1/events and returns the event names as
// they arrive.
func (f *fixture) openStream(t *testing.T, query, orgID string) <-chan string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/v1/events"+query, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if orgID != "" {
		req.Header.Set(api.HeaderOrgID, orgID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	names := make(chan string, 32)
	go func() {
		defer close(names)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				names <- name
			}
		}
	}()
	return names
}

func expectEvents(t *testing.T, names <-chan string, want ...string) {
	t.Helper()
	for i, w := range want {
		select {
		case got := <-names:
			if got != w {
				t.Fatalf("event %d = %q, want %q", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func TestStreamEvents_RunLifecycle(t *testing.T) {
	f := newFixture(t)
	names := f.openStream(t, "", "org-1")

	resp, data := f.do(t, http.MethodPost, "/v1/workflows/wf-ok/run", `{"documentId":"doc-1"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d, body %s", resp.StatusCode, data)
	}
	expectEvents(t, names, "run.started", "step.completed", "step.completed", "run.completed")
}

func TestStreamEvents_OtherOrgSeesNothing(t *testing.T) {
	f := newFixture(t)
	foreign := f.openStream(t, "", "org-2")
	own := f.openStream(t, "", "org-1")

	f.do(t, http.MethodPost, "/v1/workflows/wf-ok/run", `{"documentId":"doc-1"}`, nil)
	expectEvents(t, own, "run.started", "step.completed", "step.completed", "run.completed")

	select {
	case name := <-foreign:
		t.Fatalf("org-2 stream received %q", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamEvents_InvalidRunID(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/v1/events?runId=not-a-run", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
