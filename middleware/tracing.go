package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medocr/docflow/step"
)

// tracerName is the instrumentation scope name for docflow tracing.
const tracerName = "github.com/medocr/docflow"

// Tracing returns middleware that wraps each step attempt in a span from
// the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: docflow.run.id, docflow.workflow.id, docflow.step.id,
// docflow.step.type, docflow.attempt, docflow.org.id. A Fail outcome sets
// the span status to codes.Error with the failure reason.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) step.Outcome {
		ctx, span := tracer.Start(ctx, "docflow.step."+inv.StepType,
			trace.WithAttributes(
				attribute.String("docflow.run.id", inv.RunID.String()),
				attribute.String("docflow.workflow.id", inv.WorkflowID),
				attribute.String("docflow.step.id", inv.StepID),
				attribute.String("docflow.step.type", inv.StepType),
				attribute.Int("docflow.attempt", inv.Attempt),
				attribute.String("docflow.org.id", inv.OrgID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out := next(ctx)
		span.SetAttributes(attribute.String("docflow.outcome", out.Kind().String()))
		if out.Kind() == step.KindFail {
			span.SetStatus(codes.Error, out.Reason())
			span.SetAttributes(attribute.Bool("docflow.retryable", out.Retryable()))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return out
	}
}
