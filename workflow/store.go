package workflow

import (
	"context"

	"github.com/medocr/docflow/id"
)

// Document status values written by built-in steps.
const (
	DocumentUploaded    = "uploaded"
	DocumentProcessing  = "processing"
	DocumentApproved    = "approved"
	DocumentNeedsReview = "needs_review"
	DocumentRejected    = "rejected"
	DocumentExported    = "exported"
)

// Document is the subject of a run.
type Document struct {
	ID       string `json:"id" yaml:"id"`
	OrgID    string `json:"orgId" yaml:"org_id"`
	Filename string `json:"filename" yaml:"filename"`
	MimeType string `json:"mimeType" yaml:"mime_type,omitempty"`
	DocType  string `json:"docType,omitempty" yaml:"doc_type,omitempty"`
	Status   string `json:"status" yaml:"status,omitempty"`
	// StoragePath locates the original file in object storage.
	StoragePath string `json:"storagePath,omitempty" yaml:"storage_path,omitempty"`
	PageCount   int    `json:"pageCount,omitempty" yaml:"page_count,omitempty"`
}

// DefinitionStore loads workflow definitions.
type DefinitionStore interface {
	// LoadDefinition returns the workflow with the given id. A missing
	// workflow is reported with an error wrapping docflow.ErrWorkflowNotFound.
	LoadDefinition(ctx context.Context, workflowID string) (*Definition, error)
}

// DefinitionIndex finds the workflow that processes a document type and
// records new ones.
type DefinitionIndex interface {
	// FindActiveDefinition returns the oldest active workflow of orgID
	// for docType, or an error wrapping docflow.ErrWorkflowNotFound.
	FindActiveDefinition(ctx context.Context, orgID, docType string) (*Definition, error)

	// SaveDefinition inserts or replaces a workflow and its steps.
	SaveDefinition(ctx context.Context, def *Definition) error
}

// DocumentStore loads documents and records their review status.
type DocumentStore interface {
	// LoadDocument returns the document with the given id. A missing
	// document is reported with an error wrapping docflow.ErrDocumentNotFound.
	LoadDocument(ctx context.Context, documentID string) (*Document, error)

	// UpdateDocumentStatus sets the document status.
	UpdateDocumentStatus(ctx context.Context, documentID, status string) error
}

// ListOpts filters and paginates RunStore.ListRuns.
type ListOpts struct {
	WorkflowID string
	DocumentID string
	// Outcome filters by run outcome. Empty means all outcomes.
	Outcome RunOutcome
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit  int
	Offset int
}

// RunStore persists finished runs.
type RunStore interface {
	// SaveRun stores a run result. Saving the same run id twice replaces
	// the earlier record.
	SaveRun(ctx context.Context, run *RunResult) error

	// GetRun returns the run with the given id, or an error wrapping
	// docflow.ErrRunNotFound.
	GetRun(ctx context.Context, runID id.RunID) (*RunResult, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*RunResult, error)
}
