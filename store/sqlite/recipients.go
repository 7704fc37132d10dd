package sqlite

import (
	"context"
	"fmt"

	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/store/internal/sqlmodel"
)

// Recipients returns the emails of users in orgID that opted in to event.
func (s *Store) Recipients(ctx context.Context, orgID, event string) ([]string, error) {
	col := sqlmodel.RecipientColumn(event)
	if col == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM notification_preferences WHERE org_id = ? AND `+col+` = 1 ORDER BY email`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/sqlite: recipients: %w", err)
	}
	defer rows.Close()

	var to []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: scan recipient: %w", err)
		}
		to = append(to, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: iterate recipients: %w", err)
	}
	return to, nil
}

// SetPreference opts a user in to the listed events and out of the others.
func (s *Store) SetPreference(ctx context.Context, orgID, userID, email string, events ...string) error {
	on := make(map[string]bool, len(events))
	for _, ev := range events {
		on[ev] = true
	}
	_, err := s.execWithRetry(ctx, `
		INSERT INTO notification_preferences (org_id, user_id, email, document_approved, needs_review, workflow_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, user_id) DO UPDATE SET
			email = excluded.email,
			document_approved = excluded.document_approved,
			needs_review = excluded.needs_review,
			workflow_error = excluded.workflow_error`,
		orgID, userID, email,
		boolToInt(on[notify.EventDocumentApproved]),
		boolToInt(on[notify.EventNeedsReview]),
		boolToInt(on[notify.EventWorkflowError]),
	)
	if err != nil {
		return fmt.Errorf("docflow/sqlite: set preference: %w", err)
	}
	return nil
}
