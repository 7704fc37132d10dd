package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/medocr/docflow/id"
)

// Notification events.
const (
	EventDocumentApproved = "document_approved"
	EventNeedsReview      = "needs_review"
	EventWorkflowError    = "workflow_error"
)

// Message is a notification to people, as opposed to a machine webhook.
type Message struct {
	Event      string   `json:"event"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Text       string   `json:"text"`
	OrgID      string   `json:"org_id"`
	DocumentID string   `json:"document_id,omitempty"`
	RunID      string   `json:"workflow_run_id,omitempty"`
	// IdempotencyKey overrides the key derived from RunID and Event.
	IdempotencyKey string `json:"-"`
}

// Notifier sends messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) (Receipt, error)
}

// RecipientStore resolves who wants a notification event in an
// organization.
type RecipientStore interface {
	Recipients(ctx context.Context, orgID, event string) ([]string, error)
}

// Content is the data rendered into a message.
type Content struct {
	OrgName      string
	DocumentID   string
	DocumentName string
	RunID        string
	Reason       string
}

// Render returns the subject and plain-text body for event.
func Render(event string, c Content) (subject, text string) {
	doc := c.DocumentName
	if doc == "" {
		doc = c.DocumentID
	}
	switch event {
	case EventDocumentApproved:
		subject = "Document approved: " + doc
		text = fmt.Sprintf("The document %s was approved by workflow run %s.", doc, c.RunID)
	case EventNeedsReview:
		subject = "Review needed: " + doc
		text = fmt.Sprintf("The document %s needs human review (workflow run %s).", doc, c.RunID)
	case EventWorkflowError:
		subject = "Workflow failed: " + doc
		text = fmt.Sprintf("Workflow run %s failed on document %s: %s", c.RunID, doc, c.Reason)
	default:
		subject = "Notification: " + event
		text = fmt.Sprintf("Event %s for document %s.", event, doc)
	}
	if c.OrgName != "" {
		subject = "[" + c.OrgName + "] " + subject
	}
	return subject, text
}

// ParseRecipients splits a recipient list on commas, semicolons and
// whitespace and drops duplicates and entries without an @.
func ParseRecipients(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	return MergeRecipients(parts)
}

// MergeRecipients merges lists, keeping first-seen order and dropping
// duplicates compared case-insensitively.
func MergeRecipients(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, r := range list {
			r = strings.TrimSpace(r)
			key := strings.ToLower(r)
			if !strings.Contains(r, "@") || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
		}
	}
	return out
}

// HTTPNotifier posts messages as JSON to a relay endpoint through a Sink.
type HTTPNotifier struct {
	sink     Sink
	endpoint string
	secret   string
}

// NewHTTPNotifier creates a notifier posting to endpoint.
func NewHTTPNotifier(sink Sink, endpoint, secret string) *HTTPNotifier {
	return &HTTPNotifier{sink: sink, endpoint: endpoint, secret: secret}
}

var _ Notifier = (*HTTPNotifier)(nil)

// Notify implements Notifier. Without an explicit idempotency key one is
// derived from the run and event, so a message is sent once per run.
func (n *HTTPNotifier) Notify(ctx context.Context, msg Message) (Receipt, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, &DeliveryError{Err: err}
	}
	key := msg.IdempotencyKey
	if key == "" && msg.RunID != "" {
		key = msg.RunID + ":notify:" + msg.Event
	}
	return n.sink.Deliver(ctx, Delivery{
		ID:             id.NewDeliveryID(),
		IdempotencyKey: key,
		URL:            n.endpoint,
		Secret:         n.secret,
		Body:           body,
	})
}

// LogNotifier logs messages instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

var _ Notifier = LogNotifier{}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, msg Message) (Receipt, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("event", msg.Event),
		slog.String("to", strings.Join(msg.To, ",")),
		slog.String("subject", msg.Subject),
		slog.String("org_id", msg.OrgID),
	)
	return Receipt{StatusCode: 200}, nil
}

// StaticRecipients is a RecipientStore backed by a fixed map of event to
// addresses, shared by every organization.
type StaticRecipients map[string][]string

// Recipients implements RecipientStore.
func (s StaticRecipients) Recipients(_ context.Context, _ string, event string) ([]string, error) {
	return slices.Clone(s[event]), nil
}
