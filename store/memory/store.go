// Package memory is a fully in-memory implementation of store.Store.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/store"
	"github.com/medocr/docflow/workflow"
)

// Ensure Store implements store.Store at compile time.
var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	definitions map[string]*workflow.Definition
	// defOrder lists definition ids in the order they were first saved.
	defOrder  []string
	documents map[string]*workflow.Document
	// extractions holds every extraction of a document, oldest first.
	extractions map[string][]*extraction.Extraction
	runs        map[string]*workflow.RunResult
	audit       map[string][]audit.Entry
	// recipients is keyed by "orgID:event".
	recipients map[string][]string
	// prefs is keyed by "orgID:userID".
	prefs map[string]preference
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		definitions: make(map[string]*workflow.Definition),
		documents:   make(map[string]*workflow.Document),
		extractions: make(map[string][]*extraction.Extraction),
		runs:        make(map[string]*workflow.RunResult),
		audit:       make(map[string][]audit.Entry),
		recipients:  make(map[string][]string),
		prefs:       make(map[string]preference),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Definitions
// ──────────────────────────────────────────────────

// PutDefinition stores a copy of def, replacing any workflow with the
// same id.
func (m *Store) PutDefinition(def *workflow.Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[def.ID]; !ok {
		m.defOrder = append(m.defOrder, def.ID)
	}
	m.definitions[def.ID] = def.Clone()
}

// SaveDefinition implements store.Seeder.
func (m *Store) SaveDefinition(_ context.Context, def *workflow.Definition) error {
	m.PutDefinition(def)
	return nil
}

// LoadDefinition implements workflow.DefinitionStore.
func (m *Store) LoadDefinition(_ context.Context, workflowID string) (*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docflow.ErrWorkflowNotFound, workflowID)
	}
	return def.Clone(), nil
}

// FindActiveDefinition implements workflow.DefinitionIndex. Ties go to
// the definition saved first.
func (m *Store) FindActiveDefinition(_ context.Context, orgID, docType string) (*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wfID := range m.defOrder {
		def := m.definitions[wfID]
		if def.Active && def.OrgID == orgID && def.DocType == docType {
			return def.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: no active workflow for org %s, doc type %q", docflow.ErrWorkflowNotFound, orgID, docType)
}

// ──────────────────────────────────────────────────
// Documents
// ──────────────────────────────────────────────────

// PutDocument stores a copy of doc.
func (m *Store) PutDocument(doc workflow.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = &doc
}

// SaveDocument implements store.Seeder. An empty status is stored as
// uploaded.
func (m *Store) SaveDocument(_ context.Context, doc *workflow.Document) error {
	cp := *doc
	if cp.Status == "" {
		cp.Status = workflow.DocumentUploaded
	}
	m.PutDocument(cp)
	return nil
}

// LoadDocument implements workflow.DocumentStore.
func (m *Store) LoadDocument(_ context.Context, documentID string) (*workflow.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docflow.ErrDocumentNotFound, documentID)
	}
	cp := *doc
	return &cp, nil
}

// UpdateDocumentStatus implements workflow.DocumentStore.
func (m *Store) UpdateDocumentStatus(_ context.Context, documentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return fmt.Errorf("%w: %s", docflow.ErrDocumentNotFound, documentID)
	}
	doc.Status = status
	return nil
}

// ──────────────────────────────────────────────────
// Extractions
// ──────────────────────────────────────────────────

// LatestExtraction implements extraction.Store.
func (m *Store) LatestExtraction(_ context.Context, documentID string) (*extraction.Extraction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.extractions[documentID]
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: document %s", extraction.ErrNotFound, documentID)
	}
	return cloneExtraction(list[len(list)-1]), nil
}

// SaveExtraction implements extraction.Store.
func (m *Store) SaveExtraction(_ context.Context, e *extraction.Extraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[e.DocumentID] = append(m.extractions[e.DocumentID], cloneExtraction(e))
	return nil
}

func cloneExtraction(e *extraction.Extraction) *extraction.Extraction {
	cp := *e
	cp.Fields = slices.Clone(e.Fields)
	return &cp
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// SaveRun implements workflow.RunStore.
func (m *Store) SaveRun(_ context.Context, run *workflow.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.RunID.String()] = cloneRun(run)
	return nil
}

// GetRun implements workflow.RunStore.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docflow.ErrRunNotFound, runID)
	}
	return cloneRun(run), nil
}

// ListRuns implements workflow.RunStore.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.RunResult
	for _, run := range m.runs {
		if opts.WorkflowID != "" && run.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.DocumentID != "" && run.DocumentID != opts.DocumentID {
			continue
		}
		if opts.Outcome != "" && run.Outcome != opts.Outcome {
			continue
		}
		out = append(out, cloneRun(run))
	}

	// Run ids are time-ordered, so newest first is descending id order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID.String() > out[j].RunID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func cloneRun(r *workflow.RunResult) *workflow.RunResult {
	cp := *r
	cp.Steps = make([]workflow.StepResult, len(r.Steps))
	for i, s := range r.Steps {
		s.Output = maps.Clone(s.Output)
		cp.Steps[i] = s
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Audit
// ──────────────────────────────────────────────────

// AppendRunAudit implements audit.Sink.
func (m *Store) AppendRunAudit(_ context.Context, runID id.RunID, entries []audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := runID.String()
	m.audit[key] = append(m.audit[key], entries...)
	return nil
}

// ListRunAudit implements audit.Reader.
func (m *Store) ListRunAudit(_ context.Context, runID id.RunID) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.audit[runID.String()]), nil
}

// ──────────────────────────────────────────────────
// Notification preferences
// ──────────────────────────────────────────────────

// SetRecipients sets who receives event notifications in an
// organization.
func (m *Store) SetRecipients(orgID, event string, to []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients[orgID+":"+event] = slices.Clone(to)
}

type preference struct {
	orgID  string
	email  string
	events []string
}

// SetPreference implements store.Seeder.
func (m *Store) SetPreference(_ context.Context, orgID, userID, email string, events ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[orgID+":"+userID] = preference{orgID: orgID, email: email, events: slices.Clone(events)}
	return nil
}

// Recipients implements notify.RecipientStore. Addresses set with
// SetRecipients come first, followed by opted-in users sorted by email.
func (m *Store) Recipients(_ context.Context, orgID, event string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.recipients[orgID+":"+event])
	var opted []string
	for _, p := range m.prefs {
		if p.orgID == orgID && slices.Contains(p.events, event) {
			opted = append(opted, p.email)
		}
	}
	sort.Strings(opted)
	return append(out, opted...), nil
}
