package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/id"
)

// LatestExtraction returns the newest extraction of a document with its
// fields in extraction order.
func (s *Store) LatestExtraction(ctx context.Context, documentID string) (*extraction.Extraction, error) {
	e := &extraction.Extraction{DocumentID: documentID}
	var (
		rawID   string
		text    sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, provider, full_text, created_at
		FROM extractions WHERE document_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		documentID,
	).Scan(&rawID, &e.OrgID, &e.Provider, &text, &created)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: document %s", extraction.ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("docflow/sqlite: latest extraction: %w", err)
	}
	if e.ID, err = id.Parse(rawID); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: extraction id: %w", err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: extraction created_at: %w", err)
	}
	e.Text = text.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, confidence, page, bbox
		FROM extraction_fields WHERE extraction_id = ?
		ORDER BY position`,
		rawID,
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/sqlite: load fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f    extraction.Field
			bbox sql.NullString
		)
		if err := rows.Scan(&f.Key, &f.Value, &f.Confidence, &f.Page, &bbox); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: scan field: %w", err)
		}
		if bbox.Valid && bbox.String != "" {
			f.BBox = new(extraction.BBox)
			if err := json.Unmarshal([]byte(bbox.String), f.BBox); err != nil {
				return nil, fmt.Errorf("docflow/sqlite: field %s bbox: %w", f.Key, err)
			}
		}
		e.Fields = append(e.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: iterate fields: %w", err)
	}
	return e, nil
}

// SaveExtraction inserts an extraction and its fields in one transaction.
func (s *Store) SaveExtraction(ctx context.Context, e *extraction.Extraction) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO extractions (id, document_id, org_id, provider, full_text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID.String(), e.DocumentID, e.OrgID, e.Provider, nullableString(e.Text), formatTime(e.CreatedAt),
		)
		if err != nil {
			return err
		}
		for i, f := range e.Fields {
			var bbox []byte
			if f.BBox != nil {
				if bbox, err = json.Marshal(f.BBox); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO extraction_fields (extraction_id, position, key, value, confidence, bbox, page)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				e.ID.String(), i, f.Key, f.Value, f.Confidence, nullableBytes(bbox), f.Page,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("docflow/sqlite: extraction %s already saved", e.ID)
		}
		return fmt.Errorf("docflow/sqlite: save extraction: %w", err)
	}
	return nil
}
