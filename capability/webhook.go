package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/step"
)

// DefaultWebhookEvent is the event name of webhook payloads.
const DefaultWebhookEvent = "document.processed"

type webhook struct {
	deps Deps
}

// Run implements step.Capability.
//
// Settings: url (required), method (default POST), headers, secret,
// event, timeout, source.
func (w *webhook) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	url := cfg.String("url", "")
	if url == "" {
		return step.Failf("webhook: url is required")
	}
	ex, err := w.deps.findExtraction(ctx, cfg, snap)
	if err != nil {
		return step.Fail("webhook: "+err.Error(), false)
	}

	deliveryID := id.NewDeliveryID()
	body, err := json.Marshal(map[string]any{
		"id":              deliveryID.String(),
		"event":           cfg.String("event", DefaultWebhookEvent),
		"timestamp":       w.deps.Clock().UTC().Format(time.RFC3339),
		"workflow_run_id": snap.RunID().String(),
		"document":        documentMap(snap.Document()),
		"extraction":      extractionPayload(ex),
	})
	if err != nil {
		return step.Failf("webhook: encode payload: %v", err)
	}

	return deliver(ctx, cfg, snap, w.deps, "webhook", notify.Delivery{
		ID:             deliveryID,
		IdempotencyKey: step.IdempotencyKey(snap),
		URL:            url,
		Method:         strings.ToUpper(cfg.String("method", "POST")),
		Headers:        cfg.StringMap("headers"),
		Secret:         cfg.String("secret", ""),
		Body:           body,
	})
}

// deliver sends d and maps the result onto an outcome: success continues,
// transient failures are retryable and anything else is final.
func deliver(ctx context.Context, cfg step.Config, snap step.Snapshot, deps Deps, name string, d notify.Delivery) step.Outcome {
	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	rcpt, err := deps.Sink.Deliver(ctx, d)
	if err != nil {
		deps.log(snap).Warn(name+" delivery failed",
			slog.String("delivery_id", d.ID.String()),
			slog.Int("attempt", snap.Attempt()),
			slog.Int("status", rcpt.StatusCode),
			slog.String("error", err.Error()),
		)
		reason := fmt.Sprintf("%s: %v", name, err)
		if rcpt.Body != "" {
			reason += ": " + rcpt.Body
		}
		return step.Fail(reason, notify.IsRetryable(err))
	}
	return step.Continue(map[string]any{
		"delivery_id":   d.ID.String(),
		"status_code":   rcpt.StatusCode,
		"response_body": rcpt.Body,
		"duplicate":     rcpt.Duplicate,
	})
}
