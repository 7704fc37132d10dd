package relayhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/medocr/docflow/ext"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.RunStarted    = (*Extension)(nil)
	_ ext.StepCompleted = (*Extension)(nil)
	_ ext.StepRetrying  = (*Extension)(nil)
	_ ext.StepFailed    = (*Extension)(nil)
	_ ext.RunCompleted  = (*Extension)(nil)
	_ ext.RunSuspended  = (*Extension)(nil)
	_ ext.RunFailed     = (*Extension)(nil)
)

// Envelope is the JSON body of every relayed event.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OrgID      string    `json:"org_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Extension relays lifecycle events to one endpoint.
type Extension struct {
	sink     notify.Sink
	endpoint string
	secret   string
	enabled  map[string]bool        // nil = all enabled
	payloads map[string]PayloadFunc // custom payload builders
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension posting events to endpoint through sink.
func New(sink notify.Sink, endpoint string, opts ...Option) *Extension {
	h := &Extension{
		sink:     sink,
		endpoint: endpoint,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "relay-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (h *Extension) OnRunStarted(ctx context.Context, run ext.RunInfo) error {
	return h.send(ctx, EventRunStarted, run.RunID, "", run.OrgID, newRunPayload(run))
}

// OnRunCompleted implements ext.RunCompleted.
func (h *Extension) OnRunCompleted(ctx context.Context, res *workflow.RunResult, elapsed time.Duration) error {
	return h.send(ctx, EventRunCompleted, res.RunID, "", res.OrgID, &runFinishedPayload{
		runPayload:     *newResultPayload(res),
		Outcome:        string(res.Outcome),
		TerminalStepID: res.TerminalStepID,
		Steps:          len(res.Steps),
		ElapsedMs:      elapsed.Milliseconds(),
	})
}

// OnRunSuspended implements ext.RunSuspended.
func (h *Extension) OnRunSuspended(ctx context.Context, res *workflow.RunResult) error {
	return h.send(ctx, EventRunSuspended, res.RunID, "", res.OrgID, &runFinishedPayload{
		runPayload:     *newResultPayload(res),
		Outcome:        string(res.Outcome),
		TerminalStepID: res.TerminalStepID,
		Steps:          len(res.Steps),
	})
}

// OnRunFailed implements ext.RunFailed.
func (h *Extension) OnRunFailed(ctx context.Context, res *workflow.RunResult, runErr error) error {
	p := &runFinishedPayload{
		runPayload:     *newResultPayload(res),
		Outcome:        string(res.Outcome),
		TerminalStepID: res.TerminalStepID,
		Steps:          len(res.Steps),
		Error:          res.Error,
	}
	if runErr != nil {
		p.Error = runErr.Error()
	}
	return h.send(ctx, EventRunFailed, res.RunID, "", res.OrgID, p)
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (h *Extension) OnStepCompleted(ctx context.Context, run ext.RunInfo, r workflow.StepResult) error {
	return h.send(ctx, EventStepCompleted, run.RunID, r.StepID, run.OrgID, newStepPayload(run, r))
}

// OnStepRetrying implements ext.StepRetrying.
func (h *Extension) OnStepRetrying(ctx context.Context, run ext.RunInfo, stepID string, attempt int, delay time.Duration, reason string) error {
	return h.send(ctx, EventStepRetrying, run.RunID, fmt.Sprintf("%s:%d", stepID, attempt), run.OrgID, &stepRetryingPayload{
		runPayload: *newRunPayload(run),
		StepID:     stepID,
		Attempt:    attempt,
		DelayMs:    delay.Milliseconds(),
		Reason:     reason,
	})
}

// OnStepFailed implements ext.StepFailed.
func (h *Extension) OnStepFailed(ctx context.Context, run ext.RunInfo, r workflow.StepResult) error {
	return h.send(ctx, EventStepFailed, run.RunID, r.StepID, run.OrgID, newStepPayload(run, r))
}

// ── Internal helpers ────────────────────────────────

// send posts an event if its type is enabled. The idempotency key is
// derived from the run, the event type and subject, so a deduplicating
// sink relays each event once.
func (h *Extension) send(ctx context.Context, eventType string, runID id.RunID, subject, orgID string, defaultData any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	deliveryID := id.NewDeliveryID()
	body, err := json.Marshal(Envelope{
		ID:         deliveryID.String(),
		Type:       eventType,
		OrgID:      orgID,
		OccurredAt: h.now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("relayhook: encode %s: %w", eventType, err)
	}

	key := runID.String() + ":" + eventType
	if subject != "" {
		key += ":" + subject
	}
	rcpt, err := h.sink.Deliver(ctx, notify.Delivery{
		ID:             deliveryID,
		IdempotencyKey: key,
		URL:            h.endpoint,
		Secret:         h.secret,
		Body:           body,
	})
	if err != nil {
		return fmt.Errorf("relayhook: deliver %s: %w", eventType, err)
	}
	h.logger.Debug("event relayed",
		slog.String("event", eventType),
		slog.String("idempotency_key", key),
		slog.Int("status", rcpt.StatusCode),
		slog.Bool("duplicate", rcpt.Duplicate),
	)
	return nil
}

// ── Default payload types ───────────────────────────

type runPayload struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	DocumentID string `json:"document_id"`
}

func newRunPayload(run ext.RunInfo) *runPayload {
	return &runPayload{
		RunID:      run.RunID.String(),
		WorkflowID: run.WorkflowID,
		DocumentID: run.DocumentID,
	}
}

func newResultPayload(res *workflow.RunResult) *runPayload {
	return &runPayload{
		RunID:      res.RunID.String(),
		WorkflowID: res.WorkflowID,
		DocumentID: res.DocumentID,
	}
}

type runFinishedPayload struct {
	runPayload
	Outcome        string `json:"outcome"`
	TerminalStepID string `json:"terminal_step_id,omitempty"`
	Steps          int    `json:"steps"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}

type stepPayload struct {
	runPayload
	StepID    string `json:"step_id"`
	StepType  string `json:"step_type"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Label     string `json:"label,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

func newStepPayload(run ext.RunInfo, r workflow.StepResult) *stepPayload {
	return &stepPayload{
		runPayload: *newRunPayload(run),
		StepID:     r.StepID,
		StepType:   r.StepType,
		Status:     string(r.Status),
		Attempts:   r.Attempts,
		Label:      r.Label,
		ElapsedMs:  r.Duration().Milliseconds(),
		Error:      r.Error,
	}
}

type stepRetryingPayload struct {
	runPayload
	StepID  string `json:"step_id"`
	Attempt int    `json:"attempt"`
	DelayMs int64  `json:"delay_ms"`
	Reason  string `json:"reason"`
}
