package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medocr/docflow/store/internal/sqlmodel"
)

// Recipients returns the emails of users in orgID that opted in to event.
func (s *Store) Recipients(ctx context.Context, orgID, event string) ([]string, error) {
	col := sqlmodel.RecipientColumn(event)
	if col == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT email FROM notification_preferences WHERE org_id = $1 AND `+col+` ORDER BY email`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: recipients: %w", err)
	}
	to, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: scan recipients: %w", err)
	}
	return to, nil
}

// SetPreference opts a user in or out of the notification events.
func (s *Store) SetPreference(ctx context.Context, orgID, userID, email string, events ...string) error {
	on := make(map[string]bool, len(events))
	for _, ev := range events {
		if col := sqlmodel.RecipientColumn(ev); col != "" {
			on[col] = true
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_preferences (org_id, user_id, email, document_approved, needs_review, workflow_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, user_id) DO UPDATE SET
			email = EXCLUDED.email,
			document_approved = EXCLUDED.document_approved,
			needs_review = EXCLUDED.needs_review,
			workflow_error = EXCLUDED.workflow_error`,
		orgID, userID, email, on["document_approved"], on["needs_review"], on["workflow_error"],
	)
	if err != nil {
		return fmt.Errorf("docflow/postgres: set preference: %w", err)
	}
	return nil
}
