package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/store/internal/sqlmodel"
)

// AppendRunAudit inserts a run's audit batch in one transaction.
func (s *Store) AppendRunAudit(ctx context.Context, runID id.RunID, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i, e := range entries {
			details, err := sqlmodel.EncodeJSON(e.Details)
			if err != nil {
				return fmt.Errorf("audit %s details: %w", e.Action, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO audit_logs (
					id, org_id, actor_id, workflow_run_id, action, entity_type,
					entity_id, details, seq, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO NOTHING`,
				e.ID.String(), e.OrgID, nullableString(e.ActorID), runID.String(), e.Action, e.EntityType,
				nullableString(e.EntityID), nullableBytes(details), i, formatTime(e.CreatedAt),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("docflow/sqlite: append audit: %w", err)
	}
	return nil
}

// ListRunAudit returns a run's audit entries in write order.
func (s *Store) ListRunAudit(ctx context.Context, runID id.RunID) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, COALESCE(actor_id, ''), action, entity_type,
			COALESCE(entity_id, ''), details, created_at
		FROM audit_logs WHERE workflow_run_id = ?
		ORDER BY created_at, seq`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/sqlite: list audit: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e       = audit.Entry{RunID: runID}
			rawID   string
			details sql.NullString
			created string
		)
		if err := rows.Scan(&rawID, &e.OrgID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &created); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: scan audit: %w", err)
		}
		if e.ID, err = id.Parse(rawID); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: audit id: %w", err)
		}
		if e.Details, err = sqlmodel.DecodeMap([]byte(details.String)); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: audit details: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: audit created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: iterate audit: %w", err)
	}
	return entries, nil
}
