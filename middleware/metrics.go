package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medocr/docflow/step"
)

// meterName is the instrumentation scope name for docflow metrics.
const meterName = "github.com/medocr/docflow"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - docflow.step.duration (Float64Histogram): attempt time in seconds
//   - docflow.step.attempts (Int64Counter): attempts made
//
// Both carry the attributes step_type, outcome and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns usable noop instruments alongside an error.
	duration, _ := meter.Float64Histogram(
		"docflow.step.duration",
		metric.WithDescription("Duration of step attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"docflow.step.attempts",
		metric.WithDescription("Total number of step attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, inv *Invocation, next Handler) step.Outcome {
		start := time.Now()
		out := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("step_type", inv.StepType),
			attribute.String("outcome", out.Kind().String()),
			attribute.String("status", status(out)),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)
		return out
	}
}
