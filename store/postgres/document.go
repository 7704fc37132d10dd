package postgres

import (
	"context"
	"fmt"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/workflow"
)

// LoadDocument reads a document row.
func (s *Store) LoadDocument(ctx context.Context, documentID string) (*workflow.Document, error) {
	doc := &workflow.Document{ID: documentID}
	err := s.pool.QueryRow(ctx, `
		SELECT org_id, filename, mime_type, doc_type, status, storage_path, page_count
		FROM documents WHERE id = $1`,
		documentID,
	).Scan(&doc.OrgID, &doc.Filename, &doc.MimeType, &doc.DocType, &doc.Status, &doc.StoragePath, &doc.PageCount)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", docflow.ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("docflow/postgres: load document: %w", err)
	}
	return doc, nil
}

// SaveDocument inserts or replaces a document row.
func (s *Store) SaveDocument(ctx context.Context, doc *workflow.Document) error {
	status := doc.Status
	if status == "" {
		status = workflow.DocumentUploaded
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, org_id, filename, storage_path, mime_type, doc_type, status, page_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			filename = EXCLUDED.filename,
			storage_path = EXCLUDED.storage_path,
			mime_type = EXCLUDED.mime_type,
			doc_type = EXCLUDED.doc_type,
			status = EXCLUDED.status,
			page_count = EXCLUDED.page_count,
			updated_at = NOW()`,
		doc.ID, doc.OrgID, doc.Filename, doc.StoragePath, doc.MimeType, doc.DocType, status, doc.PageCount,
	)
	if err != nil {
		return fmt.Errorf("docflow/postgres: save document: %w", err)
	}
	return nil
}

// UpdateDocumentStatus sets a document's status.
func (s *Store) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1`,
		documentID, status,
	)
	if err != nil {
		return fmt.Errorf("docflow/postgres: update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", docflow.ErrDocumentNotFound, documentID)
	}
	return nil
}
