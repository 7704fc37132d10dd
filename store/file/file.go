// Package file loads workflow definitions and fixtures from YAML files.
//
// A definition file holds one workflow:
//
//	id: invoice-review
//	org_id: org-1
//	name: Invoice review
//	steps:
//	  - id: extract
//	    type: extract
//	    next: validate
//	  - id: validate
//	    type: validate
//	    config: {min_confidence: 0.8}
//	    branches: {pass: export, fail: "@await_human"}
//	  - id: export
//	    type: csv_export
//
// Unknown fields are rejected.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/store"
	"github.com/medocr/docflow/workflow"
)

// LoadDefinitionFile reads and parses one definition file.
func LoadDefinitionFile(path string) (*workflow.Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workflow: %w", err)
	}
	defer f.Close()
	def, err := LoadDefinition(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDefinition parses a definition with strict unknown-field rejection.
func LoadDefinition(r io.Reader) (*workflow.Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def workflow.Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &def, nil
}

// Dir is a read-only workflow.DefinitionStore over the *.yaml and *.yml
// files of a directory. Files are parsed once, on first use.
type Dir struct {
	path string

	once sync.Once
	defs map[string]*workflow.Definition
	err  error
}

var _ workflow.DefinitionStore = (*Dir)(nil)

// NewDir returns a store reading the definitions in path.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// LoadDefinition implements workflow.DefinitionStore.
func (d *Dir) LoadDefinition(_ context.Context, workflowID string) (*workflow.Definition, error) {
	d.once.Do(d.load)
	if d.err != nil {
		return nil, d.err
	}
	def, ok := d.defs[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docflow.ErrWorkflowNotFound, workflowID)
	}
	return def.Clone(), nil
}

// IDs returns the ids of every definition in the directory, sorted.
func (d *Dir) IDs() ([]string, error) {
	d.once.Do(d.load)
	if d.err != nil {
		return nil, d.err
	}
	ids := make([]string, 0, len(d.defs))
	for id := range d.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *Dir) load() {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		d.err = fmt.Errorf("docflow/file: read %s: %w", d.path, err)
		return
	}
	d.defs = make(map[string]*workflow.Definition)
	origin := make(map[string]string)
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isYAML(name) {
			continue
		}
		path := filepath.Join(d.path, name)
		def, err := LoadDefinitionFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := origin[def.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: workflow %q already defined in %s", path, def.ID, prev))
			continue
		}
		origin[def.ID] = path
		d.defs[def.ID] = def
	}
	if len(errs) > 0 {
		d.err = fmt.Errorf("docflow/file: %w", errors.Join(errs...))
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Fixture is a bundle of records to seed a store with.
type Fixture struct {
	Workflows   []workflow.Definition `yaml:"workflows"`
	Documents   []workflow.Document   `yaml:"documents"`
	Preferences []Preference          `yaml:"preferences"`
}

// Preference opts a user in to notification events.
type Preference struct {
	OrgID  string   `yaml:"org_id"`
	UserID string   `yaml:"user_id"`
	Email  string   `yaml:"email"`
	Events []string `yaml:"events"`
}

// LoadFixtureFile reads and parses a fixture file.
func LoadFixtureFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("%s: decode fixture: %w", path, err)
	}
	return &fx, nil
}

// Seed writes every record of the fixture to s. Workflows are validated
// first; nothing is written when one is invalid.
func (fx *Fixture) Seed(ctx context.Context, s store.Seeder) error {
	for i := range fx.Workflows {
		if err := fx.Workflows[i].Validate(); err != nil {
			return fmt.Errorf("workflow %q: %w", fx.Workflows[i].ID, err)
		}
	}
	for i := range fx.Workflows {
		if err := s.SaveDefinition(ctx, &fx.Workflows[i]); err != nil {
			return err
		}
	}
	for i := range fx.Documents {
		if err := s.SaveDocument(ctx, &fx.Documents[i]); err != nil {
			return err
		}
	}
	for _, p := range fx.Preferences {
		if err := s.SetPreference(ctx, p.OrgID, p.UserID, p.Email, p.Events...); err != nil {
			return err
		}
	}
	return nil
}
