package workflow

import (
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/google/uuid"
)

// AwaitHumanTarget is a reserved successor id. A branch label mapped to it
// suspends the run at the branching step instead of visiting another step.
const AwaitHumanTarget = "@await_human"

// Definition is a workflow: an ordered set of steps and the edges between
// them. The executor treats a loaded Definition as an immutable snapshot.
type Definition struct {
	ID      string `json:"id" yaml:"id"`
	OrgID   string `json:"orgId" yaml:"org_id"`
	Name    string `json:"name" yaml:"name"`
	DocType string `json:"docType,omitempty" yaml:"doc_type,omitempty"`
	Active  bool   `json:"active" yaml:"active"`

	// Entry is the id of the first step. Empty means the first step in
	// definition order.
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty"`

	Steps []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition is one node of the workflow graph.
type StepDefinition struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Next is the single successor of a linear step. Empty is terminal.
	Next string `json:"next,omitempty" yaml:"next,omitempty"`

	// Branches maps an outcome label to the successor step id.
	Branches map[string]string `json:"branches,omitempty" yaml:"branches,omitempty"`
}

// Successors returns every step id this step can advance to, Next first
// and then branch targets ordered by label.
func (s StepDefinition) Successors() []string {
	var out []string
	if s.Next != "" {
		out = append(out, s.Next)
	}
	labels := make([]string, 0, len(s.Branches))
	for l := range s.Branches {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		out = append(out, s.Branches[l])
	}
	return out
}

// EntryID returns the id of the step the run starts at, or "" when the
// definition has no steps.
func (d *Definition) EntryID() string {
	if d.Entry != "" {
		return d.Entry
	}
	if len(d.Steps) == 0 {
		return ""
	}
	return d.Steps[0].ID
}

// Step looks up a step by id.
func (d *Definition) Step(stepID string) (*StepDefinition, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// Clone returns a copy that shares no maps or slices with d at the top
// two levels. Nested config values are shared.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Steps = make([]StepDefinition, len(d.Steps))
	for i, s := range d.Steps {
		s.Config = maps.Clone(s.Config)
		s.Branches = maps.Clone(s.Branches)
		c.Steps[i] = s
	}
	return &c
}

// Validate checks the structure of the graph: non-empty unique step ids,
// a step type on every step, and successors that exist. It reports every
// problem found. Step types are not checked against a registry here.
//
// The executor does not require a valid definition up front; it detects
// the same defects when the run reaches them.
func (d *Definition) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("workflow id is empty"))
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("step %d: id is empty", i))
			continue
		case s.ID == AwaitHumanTarget:
			errs = append(errs, fmt.Errorf("step %d: id %q is reserved", i, s.ID))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("step %q: duplicate id", s.ID))
		}
		seen[s.ID] = true
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("step %q: type is empty", s.ID))
		}
		if s.Next != "" && len(s.Branches) > 0 {
			errs = append(errs, fmt.Errorf("step %q: has both next and branches", s.ID))
		}
	}
	if d.Entry != "" && !seen[d.Entry] {
		errs = append(errs, fmt.Errorf("entry step %q does not exist", d.Entry))
	}
	for _, s := range d.Steps {
		if s.Next != "" && !seen[s.Next] {
			errs = append(errs, fmt.Errorf("step %q: next %q does not exist", s.ID, s.Next))
		}
		for label, target := range s.Branches {
			if target != AwaitHumanTarget && !seen[target] {
				errs = append(errs, fmt.Errorf("step %q: branch %q targets unknown step %q", s.ID, label, target))
			}
		}
	}
	return errors.Join(errs...)
}

// DefaultStepID is the id of the single step in a default definition.
const DefaultStepID = "extract_1"

// DefaultDefinition returns the active extract-only workflow used for a
// document type that has no workflow of its own. The id is derived from
// orgID and docType, so saving it twice replaces the same record.
func DefaultDefinition(orgID, docType string) *Definition {
	key := orgID + "/" + docType
	return &Definition{
		ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
		OrgID:   orgID,
		Name:    fmt.Sprintf("Default %s Workflow", docType),
		DocType: docType,
		Active:  true,
		Steps: []StepDefinition{
			{ID: DefaultStepID, Type: "extract", Config: map[string]any{}},
		},
	}
}
