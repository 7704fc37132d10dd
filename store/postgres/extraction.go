package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/id"
)

// LatestExtraction returns the newest extraction of a document with its
// fields in extraction order.
func (s *Store) LatestExtraction(ctx context.Context, documentID string) (*extraction.Extraction, error) {
	e := &extraction.Extraction{DocumentID: documentID}
	var (
		rawID string
		text  *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, provider, full_text, created_at
		FROM extractions WHERE document_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		documentID,
	).Scan(&rawID, &e.OrgID, &e.Provider, &text, &e.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: document %s", extraction.ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("docflow/postgres: latest extraction: %w", err)
	}
	if e.ID, err = id.Parse(rawID); err != nil {
		return nil, fmt.Errorf("docflow/postgres: extraction id: %w", err)
	}
	if text != nil {
		e.Text = *text
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, value, confidence, page, bbox
		FROM extraction_fields WHERE extraction_id = $1
		ORDER BY position`,
		rawID,
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: load fields: %w", err)
	}
	e.Fields, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (extraction.Field, error) {
		var (
			f    extraction.Field
			bbox []byte
		)
		if err := row.Scan(&f.Key, &f.Value, &f.Confidence, &f.Page, &bbox); err != nil {
			return f, err
		}
		if len(bbox) > 0 {
			f.BBox = new(extraction.BBox)
			if err := json.Unmarshal(bbox, f.BBox); err != nil {
				return f, fmt.Errorf("field %s bbox: %w", f.Key, err)
			}
		}
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: scan fields: %w", err)
	}
	return e, nil
}

// SaveExtraction inserts an extraction and its fields in one transaction.
func (s *Store) SaveExtraction(ctx context.Context, e *extraction.Extraction) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO extractions (id, document_id, org_id, provider, full_text, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID.String(), e.DocumentID, e.OrgID, e.Provider, nullable(e.Text), e.CreatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("docflow/postgres: extraction %s already saved", e.ID)
			}
			return fmt.Errorf("docflow/postgres: save extraction: %w", err)
		}

		batch := &pgx.Batch{}
		for i, f := range e.Fields {
			var bbox []byte
			if f.BBox != nil {
				if bbox, err = json.Marshal(f.BBox); err != nil {
					return fmt.Errorf("docflow/postgres: field %s bbox: %w", f.Key, err)
				}
			}
			batch.Queue(`
				INSERT INTO extraction_fields (extraction_id, position, key, value, confidence, bbox, page)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				e.ID.String(), i, f.Key, f.Value, f.Confidence, bbox, f.Page,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("docflow/postgres: save fields: %w", err)
		}
		return nil
	})
}
