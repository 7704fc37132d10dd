// Package store defines the aggregate persistence interface. Each concern
// (definitions, documents, runs, extractions, audit, notification
// preferences) has its own interface in the package that uses it. The
// composite Store composes them all. Backends: Postgres, SQLite and
// Memory; Redis backs delivery deduplication and the run cache.
package store

import (
	"context"

	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/workflow"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, sqlite, memory) implements all of them.
type Store interface {
	workflow.DefinitionStore
	workflow.DefinitionIndex
	workflow.DocumentStore
	workflow.RunStore
	extraction.Store
	audit.Sink
	audit.Reader
	notify.RecipientStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Seeder writes the records the engine only reads: workflow definitions,
// documents and notification preferences. The CLI uses it to load
// fixtures into a backend.
type Seeder interface {
	// SaveDefinition inserts or replaces a workflow and its steps.
	SaveDefinition(ctx context.Context, def *workflow.Definition) error

	// SaveDocument inserts or replaces a document.
	SaveDocument(ctx context.Context, doc *workflow.Document) error

	// SetPreference opts a user in to the listed notification events and
	// out of the others.
	SetPreference(ctx context.Context, orgID, userID, email string, events ...string) error
}
