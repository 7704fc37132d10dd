package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medocr/docflow/ext"
	"github.com/medocr/docflow/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.RunStarted    = (*MetricsExtension)(nil)
	_ ext.StepCompleted = (*MetricsExtension)(nil)
	_ ext.StepRetrying  = (*MetricsExtension)(nil)
	_ ext.StepFailed    = (*MetricsExtension)(nil)
	_ ext.RunCompleted  = (*MetricsExtension)(nil)
	_ ext.RunSuspended  = (*MetricsExtension)(nil)
	_ ext.RunFailed     = (*MetricsExtension)(nil)
)

const meterName = "github.com/medocr/docflow/observability"

// MetricsExtension records run lifecycle metrics.
//
// Instruments:
//   - docflow.run.started (counter)
//   - docflow.run.finished (counter, attribute outcome)
//   - docflow.run.duration (histogram, seconds, attribute outcome)
//   - docflow.step.results (counter, attributes step_type, status)
//   - docflow.step.retries (counter)
type MetricsExtension struct {
	runStarted  metric.Int64Counter
	runFinished metric.Int64Counter
	runDuration metric.Float64Histogram
	stepResults metric.Int64Counter
	stepRetries metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// The OTel API returns usable noop instruments alongside an error.
	m := &MetricsExtension{}
	m.runStarted, _ = meter.Int64Counter("docflow.run.started",
		metric.WithDescription("Runs that passed the tenant check"),
		metric.WithUnit("{run}"))
	m.runFinished, _ = meter.Int64Counter("docflow.run.finished",
		metric.WithDescription("Runs by outcome"),
		metric.WithUnit("{run}"))
	m.runDuration, _ = meter.Float64Histogram("docflow.run.duration",
		metric.WithDescription("Run duration in seconds"),
		metric.WithUnit("s"))
	m.stepResults, _ = meter.Int64Counter("docflow.step.results",
		metric.WithDescription("Recorded step results by status"),
		metric.WithUnit("{step}"))
	m.stepRetries, _ = meter.Int64Counter("docflow.step.retries",
		metric.WithDescription("Retries of external steps"),
		metric.WithUnit("{retry}"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, _ ext.RunInfo) error {
	m.runStarted.Add(ctx, 1)
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, _ ext.RunInfo, r workflow.StepResult) error {
	m.step(ctx, r)
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, _ ext.RunInfo, _ string, _ int, _ time.Duration, _ string) error {
	m.stepRetries.Add(ctx, 1)
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, _ ext.RunInfo, r workflow.StepResult) error {
	m.step(ctx, r)
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, res *workflow.RunResult, _ time.Duration) error {
	m.finished(ctx, res)
	return nil
}

// OnRunSuspended implements ext.RunSuspended.
func (m *MetricsExtension) OnRunSuspended(ctx context.Context, res *workflow.RunResult) error {
	m.finished(ctx, res)
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, res *workflow.RunResult, _ error) error {
	m.finished(ctx, res)
	return nil
}

func (m *MetricsExtension) step(ctx context.Context, r workflow.StepResult) {
	m.stepResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step_type", r.StepType),
		attribute.String("status", string(r.Status)),
	))
}

func (m *MetricsExtension) finished(ctx context.Context, res *workflow.RunResult) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(res.Outcome)))
	m.runFinished.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, res.FinishedAt.Sub(res.StartedAt).Seconds(), attrs)
}
