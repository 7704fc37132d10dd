// Package stream fans run lifecycle events out to live subscribers. The
// Broker is an ext.Extension; the HTTP API exposes it as server-sent
// events.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventStepCompleted EventType = "step.completed"
	EventStepRetrying  EventType = "step.retrying"
	EventStepFailed    EventType = "step.failed"
	EventRunCompleted  EventType = "run.completed"
	EventRunSuspended  EventType = "run.suspended"
	EventRunFailed     EventType = "run.failed"
)

// Event is the envelope sent to subscribers.
type Event struct {
	// Seq increases by one per published event. SSE clients see it as
	// the event id.
	Seq int64 `json:"seq"`

	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`

	RunID string `json:"run_id"`
	OrgID string `json:"org_id"`

	Data json.RawMessage `json:"data"`
}

// RunEventData is the payload of every run and step event.
type RunEventData struct {
	WorkflowID string `json:"workflow_id"`
	DocumentID string `json:"document_id"`

	StepID   string `json:"step_id,omitempty"`
	StepType string `json:"step_type,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Label    string `json:"label,omitempty"`
	DelayMs  int64  `json:"delay_ms,omitempty"`

	Outcome        string `json:"outcome,omitempty"`
	TerminalStepID string `json:"terminal_step_id,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}
