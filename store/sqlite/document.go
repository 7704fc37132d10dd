package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/workflow"
)

// LoadDocument reads a document row.
func (s *Store) LoadDocument(ctx context.Context, documentID string) (*workflow.Document, error) {
	doc := &workflow.Document{ID: documentID}
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, filename, mime_type, doc_type, status, storage_path, page_count
		FROM documents WHERE id = ?`,
		documentID,
	).Scan(&doc.OrgID, &doc.Filename, &doc.MimeType, &doc.DocType, &doc.Status, &doc.StoragePath, &doc.PageCount)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", docflow.ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("docflow/sqlite: load document: %w", err)
	}
	return doc, nil
}

// SaveDocument inserts or replaces a document row.
func (s *Store) SaveDocument(ctx context.Context, doc *workflow.Document) error {
	status := doc.Status
	if status == "" {
		status = workflow.DocumentUploaded
	}
	_, err := s.execWithRetry(ctx, `
		INSERT INTO documents (id, org_id, filename, storage_path, mime_type, doc_type, status, page_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			org_id = excluded.org_id,
			filename = excluded.filename,
			storage_path = excluded.storage_path,
			mime_type = excluded.mime_type,
			doc_type = excluded.doc_type,
			status = excluded.status,
			page_count = excluded.page_count,
			updated_at = excluded.updated_at`,
		doc.ID, doc.OrgID, doc.Filename, doc.StoragePath, doc.MimeType, doc.DocType, status, doc.PageCount,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("docflow/sqlite: save document: %w", err)
	}
	return nil
}

// UpdateDocumentStatus sets a document's status.
func (s *Store) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), documentID,
	)
	if err != nil {
		return fmt.Errorf("docflow/sqlite: update document status: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return fmt.Errorf("%w: %s", docflow.ErrDocumentNotFound, documentID)
	}
	return nil
}
