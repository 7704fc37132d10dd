package relayhook

import "fmt"

// Lifecycle event types. Each constant maps to one ext lifecycle hook and
// is used as the envelope type.
const (
	EventRunStarted    = "docflow.run.started"
	EventStepCompleted = "docflow.step.completed"
	EventStepRetrying  = "docflow.step.retrying"
	EventStepFailed    = "docflow.step.failed"
	EventRunCompleted  = "docflow.run.completed"
	EventRunSuspended  = "docflow.run.suspended"
	EventRunFailed     = "docflow.run.failed"
)

// Definition describes one event type for subscribers.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Group       string `json:"group"`
	Version     string `json:"version"`
}

// AllDefinitions returns the definitions of every lifecycle event type.
func AllDefinitions() []Definition {
	return []Definition{
		// ── Run events ──────────────────────────────────
		{
			Name:        EventRunStarted,
			Description: "Fired when a run passes the tenant check and begins.",
			Group:       "runs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventRunCompleted,
			Description: "Fired when a run reaches a terminal step without failure.",
			Group:       "runs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventRunSuspended,
			Description: "Fired when a run stops to wait for human review.",
			Group:       "runs",
			Version:     "2026-01-01",
		},
		{
			Name:        EventRunFailed,
			Description: "Fired when a run ends with outcome failed.",
			Group:       "runs",
			Version:     "2026-01-01",
		},
		// ── Step events ─────────────────────────────────
		{
			Name:        EventStepCompleted,
			Description: "Fired after a step succeeds.",
			Group:       "steps",
			Version:     "2026-01-01",
		},
		{
			Name:        EventStepRetrying,
			Description: "Fired when an external step failed and will be attempted again.",
			Group:       "steps",
			Version:     "2026-01-01",
		},
		{
			Name:        EventStepFailed,
			Description: "Fired after a step fails terminally.",
			Group:       "steps",
			Version:     "2026-01-01",
		},
	}
}

// CheckEvents reports event names that are not lifecycle event types.
func CheckEvents(names ...string) error {
	known := make(map[string]bool)
	for _, d := range AllDefinitions() {
		known[d.Name] = true
	}
	for _, n := range names {
		if !known[n] {
			return fmt.Errorf("relayhook: unknown event type %q", n)
		}
	}
	return nil
}
