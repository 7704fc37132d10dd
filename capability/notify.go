package capability

import (
	"context"
	"log/slog"
	"slices"

	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/step"
)

var notifyEvents = []string{
	notify.EventDocumentApproved,
	notify.EventNeedsReview,
	notify.EventWorkflowError,
}

type notifyStep struct {
	deps Deps
}

// Run implements step.Capability.
//
// Settings: notify_event (default document_approved), email_to, subject,
// reason, timeout. Recipients are the organization's preferences for the
// event merged with email_to.
func (n *notifyStep) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	event := cfg.String("notify_event", notify.EventDocumentApproved)
	if !slices.Contains(notifyEvents, event) {
		return step.Failf("notify: unknown event %q", event)
	}

	var preferred []string
	if n.deps.Recipients != nil {
		var err error
		preferred, err = n.deps.Recipients.Recipients(ctx, snap.OrgID(), event)
		if err != nil {
			n.deps.log(snap).Warn("recipient lookup failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	to := notify.MergeRecipients(preferred, cfg.Strings("email_to"))
	if len(to) == 0 {
		return step.Failf("notify: no recipients for %s", event)
	}

	doc := snap.Document()
	subject, text := notify.Render(event, notify.Content{
		DocumentID:   doc.ID,
		DocumentName: doc.Filename,
		RunID:        snap.RunID().String(),
		Reason:       cfg.String("reason", ""),
	})
	if s := cfg.String("subject", ""); s != "" {
		subject = s
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()
	rcpt, err := n.deps.Notifier.Notify(ctx, notify.Message{
		Event:          event,
		To:             to,
		Subject:        subject,
		Text:           text,
		OrgID:          snap.OrgID(),
		DocumentID:     doc.ID,
		RunID:          snap.RunID().String(),
		IdempotencyKey: step.IdempotencyKey(snap),
	})
	if err != nil {
		return step.Fail("notify: "+err.Error(), notify.IsRetryable(err))
	}
	return step.Continue(map[string]any{
		"event":       event,
		"recipients":  to,
		"status_code": rcpt.StatusCode,
		"duplicate":   rcpt.Duplicate,
	})
}
