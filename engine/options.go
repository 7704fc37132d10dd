package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/admission"
	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/backoff"
	"github.com/medocr/docflow/ext"
	mw "github.com/medocr/docflow/middleware"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/workflow"
)

// Option configures an Executor.
type Option func(*Executor)

// WithConfig sets the run policy. Zero fields take their defaults.
func WithConfig(cfg docflow.Config) Option {
	return func(e *Executor) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithAuditSink sets where each run's audit batch is flushed.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Executor) { e.auditSink = s }
}

// WithRunStore persists every finished run.
func WithRunStore(s workflow.RunStore) Option {
	return func(e *Executor) { e.runs = s }
}

// WithExtension registers a lifecycle extension.
func WithExtension(x ext.Extension) Option {
	return func(e *Executor) { e.pending = append(e.pending, x) }
}

// WithMiddleware adds middleware around every step attempt. It runs
// inside the built-in chain and outside the attempt timeout.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Executor) { e.mws = append(e.mws, m) }
}

// WithRetryPolicy sets the retry policy of external steps. By default
// it is derived from the config: MaxAttempts attempts with exponential
// backoff from InitialBackoff to MaxBackoff.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(e *Executor) {
		e.policy = p
		e.policySet = true
	}
}

// WithClock sets the time source. Run deadlines, step timestamps and audit
// entries use it.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithAdmission gates run starts on per-workflow and per-organization
// limits. Rejected runs fail with ErrRunRejected before any step executes.
func WithAdmission(m *admission.Manager) Option {
	return func(e *Executor) { e.admit = m }
}

// WithErrorNotifier sends a workflow_error notification to the
// organization's recipients when a run fails. Delivery is best effort.
func WithErrorNotifier(n notify.Notifier, recipients notify.RecipientStore) Option {
	return func(e *Executor) {
		e.notifier = n
		e.recipients = recipients
	}
}

// WithActor sets the actor recorded on audit entries when the request
// context carries none.
func WithActor(actorID string) Option {
	return func(e *Executor) { e.actor = actorID }
}

// WithTracerProvider sets a custom OTel TracerProvider for the executor.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the metrics
// middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Executor) { e.meterProvider = mp }
}
