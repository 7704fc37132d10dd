package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/workflow"
)

// ──────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────

const reviewWorkflow = `
id: intake-review
org_id: org-1
name: Intake and review
steps:
  - id: intake
    type: upload
    next: extract
  - id: extract
    type: extract
    next: review
  - id: review
    type: review
`

const ghostWorkflow = `
id: ghost
org_id: org-1
name: Unknown step
steps:
  - id: a
    type: ghost
`

const fixture = `
workflows:
  - id: intake-review
    org_id: org-1
    name: Intake and review
    steps:
      - id: intake
        type: upload
        next: review
      - id: review
        type: review
documents:
  - id: doc-1
    org_id: org-1
    filename: scan.pdf
    mime_type: application/pdf
    page_count: 1
`

type workspace struct {
	dir       string
	workflows string
	fixture   string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:       dir,
		workflows: filepath.Join(dir, "workflows"),
		fixture:   filepath.Join(dir, "fixture.yaml"),
	}
	if err := os.Mkdir(ws.workflows, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ws.write(t, filepath.Join("workflows", "review.yaml"), reviewWorkflow)
	ws.write(t, filepath.Join("workflows", "ghost.yaml"), ghostWorkflow)
	ws.write(t, "fixture.yaml", fixture)
	return ws
}

func (ws *workspace) write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(ws.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// memoryConfig seeds a fresh memory store from the fixture on every
// invocation and reads definitions from the workflow directory.
func (ws *workspace) memoryConfig(t *testing.T) string {
	t.Helper()
	return ws.write(t, "memory.toml", fmt.Sprintf(`
[store]
driver = "memory"
fixture = %q

[workflows]
dir = %q

[logging]
level = "error"
`, ws.fixture, ws.workflows))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// ──────────────────────────────────────────────────
// validate / steps
// ──────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "validate", filepath.Join(ws.workflows, "review.yaml"))
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "validate", ws.workflows)
	if err == nil {
		t.Fatal("expected failure for unknown step type")
	}
	if !strings.Contains(out, `unknown step type "ghost"`) {
		t.Errorf("output = %q", out)
	}
}

func TestValidate_StructuralDefects(t *testing.T) {
	ws := newWorkspace(t)
	path := ws.write(t, "broken.yaml", `
id: broken
org_id: org-1
steps:
  - id: a
    type: upload
    next: nowhere
  - id: a
    type: upload
`)
	out, err := execute(t, "validate", path)
	if err == nil {
		t.Fatal("expected failure")
	}
	for _, want := range []string{"duplicate id", `next "nowhere" does not exist`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSteps(t *testing.T) {
	out, err := execute(t, "steps")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	for _, want := range []string{"extract", "webhook", "csv_export", "await_human"} {
		if !strings.Contains(out, want) {
			t.Errorf("steps output missing %q", want)
		}
	}
}

// ──────────────────────────────────────────────────
// run
// ──────────────────────────────────────────────────

func TestRun_AwaitsReview(t *testing.T) {
	ws := newWorkspace(t)
	out, err := execute(t, "--config", ws.memoryConfig(t), "run", "intake-review", "doc-1", "--actor", "user:3")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, string(workflow.OutcomeAwaitingReview)) {
		t.Errorf("output missing outcome:\n%s", out)
	}
	for _, step := range []string{"intake", "extract", "review"} {
		if !strings.Contains(out, step) {
			t.Errorf("output missing step %q", step)
		}
	}
}

func TestRun_JSON(t *testing.T) {
	ws := newWorkspace(t)
	out, err := execute(t, "--config", ws.memoryConfig(t), "run", "intake-review", "doc-1", "--json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res workflow.RunResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if got := res.StepIDs(); len(got) != 3 || got[2] != "review" {
		t.Errorf("steps = %v", got)
	}
	if res.Outcome != workflow.OutcomeAwaitingReview {
		t.Errorf("outcome = %q", res.Outcome)
	}
}

func TestRun_ConfigurationError(t *testing.T) {
	ws := newWorkspace(t)
	_, err := execute(t, "--config", ws.memoryConfig(t), "run", "ghost", "doc-1")
	if !errors.Is(err, docflow.ErrUnknownStepType) {
		t.Fatalf("err = %v, want ErrUnknownStepType", err)
	}
}

func TestRun_ForeignOrgSeesNotFound(t *testing.T) {
	ws := newWorkspace(t)
	_, err := execute(t, "--config", ws.memoryConfig(t), "run", "intake-review", "doc-1", "--org", "org-9")
	if !errors.Is(err, docflow.ErrWorkflowNotFound) {
		t.Fatalf("err = %v, want ErrWorkflowNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// seed / runs against SQLite
// ──────────────────────────────────────────────────

func TestSeedRunList_SQLite(t *testing.T) {
	ws := newWorkspace(t)
	cfg := ws.write(t, "sqlite.toml", fmt.Sprintf(`
[store]
driver = "sqlite"
dsn = %q

[logging]
level = "error"
`, filepath.Join(ws.dir, "docflow.db")))

	out, err := execute(t, "--config", cfg, "seed", ws.fixture)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "seeded 1 workflows, 1 documents") {
		t.Errorf("seed output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "run", "intake-review", "doc-1", "--json")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var res workflow.RunResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode run: %v", err)
	}

	out, err = execute(t, "--config", cfg, "runs", "--json")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	var runs []workflow.RunResult
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].RunID != res.RunID {
		t.Fatalf("runs = %+v, want the one run %s", runs, res.RunID)
	}

	out, err = execute(t, "--config", cfg, "runs", res.RunID.String())
	if err != nil {
		t.Fatalf("runs <id>: %v", err)
	}
	if !strings.Contains(out, res.RunID.String()) {
		t.Errorf("show output = %q", out)
	}
}

func TestProcess_SQLiteCreatesDefaultWorkflow(t *testing.T) {
	ws := newWorkspace(t)
	cfg := ws.write(t, "sqlite.toml", fmt.Sprintf(`
[store]
driver = "sqlite"
dsn = %q

[logging]
level = "error"
`, filepath.Join(ws.dir, "docflow.db")))

	if out, err := execute(t, "--config", cfg, "seed", ws.fixture); err != nil {
		t.Fatalf("seed: %v\n%s", err, out)
	}

	var first, second workflow.RunResult
	for _, res := range []*workflow.RunResult{&first, &second} {
		out, err := execute(t, "--config", cfg, "process", "doc-1", "--json")
		if err != nil {
			t.Fatalf("process: %v\n%s", err, out)
		}
		if err := json.Unmarshal([]byte(out), res); err != nil {
			t.Fatalf("decode: %v\n%s", err, out)
		}
	}
	want := workflow.DefaultDefinition("org-1", "")
	if first.WorkflowID != want.ID || second.WorkflowID != want.ID {
		t.Fatalf("workflows = %s, %s, want %s", first.WorkflowID, second.WorkflowID, want.ID)
	}
	if got := first.StepIDs(); len(got) != 1 || got[0] != workflow.DefaultStepID {
		t.Fatalf("steps = %v", got)
	}
}

func TestProcess_WorkflowDirUnsupported(t *testing.T) {
	ws := newWorkspace(t)
	if _, err := execute(t, "--config", ws.memoryConfig(t), "process", "doc-1"); err == nil {
		t.Fatal("expected an error when definitions come from a directory")
	}
}
