package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/scope"
	"github.com/medocr/docflow/workflow"
)

var errNoDefinitionIndex = errors.New("engine: definition store cannot look up workflows by document type")

// Process runs the active workflow for the document's organization and
// type. When the organization has none, a default extract-only workflow
// is saved first and run. A document outside the caller's scoped
// organization is reported as not found.
func (e *Executor) Process(ctx context.Context, documentID string) (*workflow.RunResult, error) {
	idx, ok := e.defs.(workflow.DefinitionIndex)
	if !ok {
		return nil, errNoDefinitionIndex
	}
	doc, err := e.docs.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if org, scoped := scope.OrgFrom(ctx); scoped && org != doc.OrgID {
		return nil, fmt.Errorf("%w: %s", docflow.ErrDocumentNotFound, documentID)
	}

	def, err := idx.FindActiveDefinition(ctx, doc.OrgID, doc.DocType)
	switch {
	case errors.Is(err, docflow.ErrWorkflowNotFound):
		def = workflow.DefaultDefinition(doc.OrgID, doc.DocType)
		if err := idx.SaveDefinition(ctx, def); err != nil {
			return nil, fmt.Errorf("engine: save default workflow: %w", err)
		}
		e.logger.Info("created default workflow",
			slog.String("workflow_id", def.ID),
			slog.String("org_id", doc.OrgID),
			slog.String("doc_type", doc.DocType),
		)
	case err != nil:
		return nil, err
	}

	e.logger.Debug("processing document",
		slog.String("document_id", documentID),
		slog.String("workflow_id", def.ID),
	)
	return e.Execute(ctx, def.ID, documentID)
}
