package relayhook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// PayloadFunc builds a custom payload for a specific event type. The
// argument is the default payload and the returned value replaces it as
// the envelope data.
type PayloadFunc func(data any) (any, error)

// WithEvents restricts the extension to emit only the listed event types.
// By default every event type is enabled. Unknown types are ignored.
func WithEvents(events ...string) Option {
	return func(h *Extension) {
		h.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}

// WithPayloadFunc registers a custom payload builder for the given event
// type.
func WithPayloadFunc(eventType string, fn PayloadFunc) Option {
	return func(h *Extension) {
		if h.payloads == nil {
			h.payloads = make(map[string]PayloadFunc)
		}
		h.payloads[eventType] = fn
	}
}

// WithSecret sets the value of the X-Webhook-Secret header.
func WithSecret(secret string) Option {
	return func(h *Extension) { h.secret = secret }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Extension) { h.logger = l }
}
