package sqlmodel

import (
	"testing"

	"github.com/medocr/docflow/workflow"
)

func TestFlattenSteps_RoundTrip(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Steps: []workflow.StepDefinition{
			{ID: "extract", Type: "extract", Next: "validate"},
			{ID: "validate", Type: "validate", Config: map[string]any{"min_confidence": 0.8},
				Branches: map[string]string{"pass": "notify", "fail": workflow.AwaitHumanTarget}},
			{ID: "notify", Type: "notify"},
		},
	}

	nodes, edges, err := Flatten(def)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if len(nodes) != 3 || len(edges) != 3 {
		t.Fatalf("nodes = %d, edges = %d", len(nodes), len(edges))
	}

	// Reverse node order to check that Order, not row order, decides.
	nodes[0], nodes[2] = nodes[2], nodes[0]
	steps, err := Steps(nodes, edges)
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if steps[0].ID != "extract" || steps[0].Next != "validate" {
		t.Fatalf("step 0 = %+v", steps[0])
	}
	v := steps[1]
	if v.Branches["pass"] != "notify" || v.Branches["fail"] != workflow.AwaitHumanTarget || v.Next != "" {
		t.Fatalf("validate = %+v", v)
	}
	if v.Config["min_confidence"] != 0.8 {
		t.Fatalf("config = %v", v.Config)
	}
	if steps[2].Config != nil {
		t.Fatalf("empty config should decode to nil, got %v", steps[2].Config)
	}
}

func TestSteps_FirstUnlabelledEdgeWins(t *testing.T) {
	steps, err := Steps(
		[]Node{{ID: "a", Type: "upload"}, {ID: "b", Type: "extract", Order: 1}, {ID: "c", Type: "extract", Order: 2}},
		[]Edge{{Source: "a", Target: "b"}, {Source: "a", Target: "c"}, {Source: "ghost", Target: "a"}},
	)
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if steps[0].Next != "b" {
		t.Fatalf("next = %q", steps[0].Next)
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		outcome workflow.RunOutcome
		want    string
	}{
		{workflow.OutcomeCompleted, RunCompleted},
		{workflow.OutcomeFailed, RunFailed},
		{workflow.OutcomeAwaitingReview, RunPaused},
	}
	for _, tt := range tests {
		if got := RunStatus(tt.outcome); got != tt.want {
			t.Errorf("RunStatus(%s) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestRecipientColumn(t *testing.T) {
	if RecipientColumn("workflow_error") != "workflow_error" {
		t.Fatal("workflow_error should map to its column")
	}
	if RecipientColumn("x; DROP TABLE orgs") != "" {
		t.Fatal("unknown events must not map to a column")
	}
}
