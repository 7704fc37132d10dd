// Package sqlmodel maps the engine's types onto the row shapes shared by
// the SQL backends: workflow graphs stored as nodes and edges, run
// outcomes stored as run statuses, and JSON columns.
package sqlmodel

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/workflow"
)

// Run status values of the workflow_runs table.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunPaused    = "paused"
)

// Node is a row of workflow_nodes.
type Node struct {
	ID     string
	Type   string
	Config []byte
	Order  int
}

// Edge is a row of workflow_edges. An empty Handle is the step's single
// successor; any other handle is a branch label.
type Edge struct {
	ID     string
	Source string
	Target string
	Handle string
}

// Steps rebuilds the ordered step list from node and edge rows. Nodes are
// ordered by Order, then by id. When a node has more than one unlabelled
// edge the first one wins.
func Steps(nodes []Node, edges []Edge) ([]workflow.StepDefinition, error) {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})

	steps := make([]workflow.StepDefinition, len(sorted))
	index := make(map[string]int, len(sorted))
	for i, n := range sorted {
		cfg, err := DecodeMap(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %s config: %w", n.ID, err)
		}
		steps[i] = workflow.StepDefinition{ID: n.ID, Type: n.Type, Config: cfg}
		index[n.ID] = i
	}

	for _, e := range edges {
		i, ok := index[e.Source]
		if !ok {
			continue
		}
		s := &steps[i]
		if e.Handle == "" {
			if s.Next == "" {
				s.Next = e.Target
			}
			continue
		}
		if s.Branches == nil {
			s.Branches = make(map[string]string)
		}
		s.Branches[e.Handle] = e.Target
	}
	return steps, nil
}

// Flatten is the inverse of Steps.
func Flatten(def *workflow.Definition) ([]Node, []Edge, error) {
	nodes := make([]Node, 0, len(def.Steps))
	var edges []Edge
	for i, s := range def.Steps {
		cfg, err := EncodeJSON(s.Config)
		if err != nil {
			return nil, nil, fmt.Errorf("step %s config: %w", s.ID, err)
		}
		nodes = append(nodes, Node{ID: s.ID, Type: s.Type, Config: cfg, Order: i})

		if s.Next != "" {
			edges = append(edges, Edge{ID: s.ID + "->" + s.Next, Source: s.ID, Target: s.Next})
		}
		labels := make([]string, 0, len(s.Branches))
		for l := range s.Branches {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			edges = append(edges, Edge{
				ID:     s.ID + ":" + l + "->" + s.Branches[l],
				Source: s.ID,
				Target: s.Branches[l],
				Handle: l,
			})
		}
	}
	return nodes, edges, nil
}

// RunStatus maps a run outcome to the status column.
func RunStatus(o workflow.RunOutcome) string {
	switch o {
	case workflow.OutcomeCompleted:
		return RunCompleted
	case workflow.OutcomeAwaitingReview:
		return RunPaused
	default:
		return RunFailed
	}
}

// EncodeJSON marshals v. Nil and empty maps encode to nil so the column
// stays NULL.
func EncodeJSON(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

// DecodeMap unmarshals a JSON object column. NULL decodes to nil.
func DecodeMap(b []byte) (map[string]any, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecipientColumn returns the notification_preferences column that opts a
// user in to event, or "" for an unknown event.
func RecipientColumn(event string) string {
	switch event {
	case notify.EventDocumentApproved, notify.EventNeedsReview, notify.EventWorkflowError:
		return event
	default:
		return ""
	}
}
