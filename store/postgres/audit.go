package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/store/internal/sqlmodel"
)

// AppendRunAudit inserts a run's audit batch in one transaction.
func (s *Store) AppendRunAudit(ctx context.Context, runID id.RunID, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, e := range entries {
			details, err := sqlmodel.EncodeJSON(e.Details)
			if err != nil {
				return fmt.Errorf("docflow/postgres: audit %s details: %w", e.Action, err)
			}
			batch.Queue(`
				INSERT INTO audit_logs (
					id, org_id, actor_id, workflow_run_id, action, entity_type,
					entity_id, details, seq, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (id) DO NOTHING`,
				e.ID.String(), e.OrgID, nullable(e.ActorID), runID.String(), e.Action, e.EntityType,
				nullable(e.EntityID), details, i, e.CreatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("docflow/postgres: append audit: %w", err)
		}
		return nil
	})
}

// ListRunAudit returns a run's audit entries in write order.
func (s *Store) ListRunAudit(ctx context.Context, runID id.RunID) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, COALESCE(actor_id, ''), action, entity_type,
			COALESCE(entity_id, ''), details, created_at
		FROM audit_logs WHERE workflow_run_id = $1
		ORDER BY created_at, seq`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Entry, error) {
		var (
			e       = audit.Entry{RunID: runID}
			rawID   string
			details []byte
		)
		err := row.Scan(&rawID, &e.OrgID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &e.CreatedAt)
		if err != nil {
			return e, err
		}
		if e.ID, err = id.Parse(rawID); err != nil {
			return e, err
		}
		e.Details, err = sqlmodel.DecodeMap(details)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: scan audit: %w", err)
	}
	return entries, nil
}
