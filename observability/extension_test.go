package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/medocr/docflow/ext"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/observability"
	"github.com/medocr/docflow/workflow"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func counterValues(t *testing.T, reader *sdkmetric.ManualReader, name, attrKey string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64]", name)
			}
			for _, dp := range sum.DataPoints {
				key := ""
				if attrKey != "" {
					v, _ := dp.Attributes.Value(attribute.Key(attrKey))
					key = v.AsString()
				}
				out[key] += dp.Value
			}
		}
	}
	return out
}

func newResult(outcome workflow.RunOutcome) *workflow.RunResult {
	start := time.Now()
	return &workflow.RunResult{
		RunID:      id.NewRunID(),
		Outcome:    outcome,
		StartedAt:  start,
		FinishedAt: start.Add(120 * time.Millisecond),
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestMetricsExtension_RunsByOutcome(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnRunStarted(ctx, ext.RunInfo{})
	_ = e.OnRunStarted(ctx, ext.RunInfo{})
	_ = e.OnRunStarted(ctx, ext.RunInfo{})
	_ = e.OnRunCompleted(ctx, newResult(workflow.OutcomeCompleted), time.Second)
	_ = e.OnRunSuspended(ctx, newResult(workflow.OutcomeAwaitingReview))
	_ = e.OnRunFailed(ctx, newResult(workflow.OutcomeFailed), errors.New("x"))

	if got := counterValues(t, reader, "docflow.run.started", "")[""]; got != 3 {
		t.Errorf("run.started = %d, want 3", got)
	}
	finished := counterValues(t, reader, "docflow.run.finished", "outcome")
	for _, o := range []workflow.RunOutcome{workflow.OutcomeCompleted, workflow.OutcomeAwaitingReview, workflow.OutcomeFailed} {
		if finished[string(o)] != 1 {
			t.Errorf("run.finished[%s] = %d, want 1", o, finished[string(o)])
		}
	}
}

func TestMetricsExtension_StepResultsAndRetries(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	run := ext.RunInfo{}

	_ = e.OnStepCompleted(ctx, run, workflow.StepResult{StepType: "extract", Status: workflow.StepSucceeded})
	_ = e.OnStepRetrying(ctx, run, "emr", 1, time.Second, "503")
	_ = e.OnStepRetrying(ctx, run, "emr", 2, time.Second, "503")
	_ = e.OnStepFailed(ctx, run, workflow.StepResult{StepType: "emr_sync", Status: workflow.StepRetriedThenFailed})

	results := counterValues(t, reader, "docflow.step.results", "status")
	if results["succeeded"] != 1 || results["retried-then-failed"] != 1 {
		t.Errorf("step.results = %v", results)
	}
	if got := counterValues(t, reader, "docflow.step.retries", "")[""]; got != 2 {
		t.Errorf("step.retries = %d, want 2", got)
	}
}
