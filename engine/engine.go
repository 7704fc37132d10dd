package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/admission"
	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/backoff"
	"github.com/medocr/docflow/ext"
	"github.com/medocr/docflow/id"
	mw "github.com/medocr/docflow/middleware"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/observability"
	"github.com/medocr/docflow/scope"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/workflow"
)

const instrumentationName = "github.com/medocr/docflow"

// flushTimeout bounds the audit flush and run persistence after a run
// stops, independent of the caller's context.
const flushTimeout = 5 * time.Second

// Executor runs workflow definitions against documents.
type Executor struct {
	defs     workflow.DefinitionStore
	docs     workflow.DocumentStore
	registry *step.Registry

	cfg        docflow.Config
	logger     *slog.Logger
	now        func() time.Time
	actor      string
	auditSink  audit.Sink
	runs       workflow.RunStore
	notifier   notify.Notifier
	recipients notify.RecipientStore
	admit      *admission.Manager

	policy    backoff.Policy
	policySet bool

	extensions *ext.Registry
	pending    []ext.Extension
	mws        []mw.Middleware
	chain      mw.Middleware

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// New creates an Executor. The registry is frozen: step types must be
// registered before the executor is built.
func New(defs workflow.DefinitionStore, docs workflow.DocumentStore, reg *step.Registry, opts ...Option) *Executor {
	e := &Executor{
		defs:     defs,
		docs:     docs,
		registry: reg,
		cfg:      docflow.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cfg = e.cfg.Normalize()
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.actor == "" {
		e.actor = e.cfg.ActorID
	}
	if !e.policySet {
		e.policy = backoff.Policy{
			MaxAttempts: e.cfg.MaxAttempts,
			Strategy:    backoff.NewExponential(e.cfg.InitialBackoff, e.cfg.MaxBackoff),
		}
	}
	reg.Freeze()

	// Register the observability metrics extension ahead of user
	// extensions.
	e.extensions = ext.NewRegistry(e.logger)
	if e.meterProvider != nil {
		e.extensions.Register(observability.NewMetricsExtensionWithMeter(
			e.meterProvider.Meter(instrumentationName + "/observability")))
	} else {
		e.extensions.Register(observability.NewMetricsExtension())
	}
	for _, x := range e.pending {
		e.extensions.Register(x)
	}
	e.pending = nil

	var tracingMw, metricsMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// recover → tracing → metrics → logging → scope → user → timeout.
	all := []mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
		mw.Scope(),
	}
	all = append(all, e.mws...)
	all = append(all, mw.Timeout(e.logger))
	e.chain = mw.Chain(all...)

	return e
}

// Registry returns the step registry.
func (e *Executor) Registry() *step.Registry { return e.registry }

// Extensions returns the extension registry.
func (e *Executor) Extensions() *ext.Registry { return e.extensions }

// Config returns the effective run policy.
func (e *Executor) Config() docflow.Config { return e.cfg }

// Execute runs a workflow against a document and returns the run result.
//
// A missing workflow or document, or a workflow and document owned by
// different organizations, returns an error before any step runs. A
// workflow outside the caller's scoped organization is reported as not
// found. A run
// that started always returns a result; the error is non-nil only for
// configuration errors, the run deadline and caller cancellation.
func (e *Executor) Execute(ctx context.Context, workflowID, documentID string) (*workflow.RunResult, error) {
	def, err := e.defs.LoadDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	doc, err := e.docs.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	orgID, actorID := scope.Capture(ctx)
	if orgID != "" && orgID != def.OrgID {
		e.logger.Warn("workflow outside caller org",
			slog.String("workflow_id", workflowID),
			slog.String("org_id", orgID),
		)
		return nil, fmt.Errorf("%w: %s", docflow.ErrWorkflowNotFound, workflowID)
	}
	if def.OrgID != doc.OrgID {
		e.logger.Warn("cross-tenant run rejected",
			slog.String("workflow_id", workflowID),
			slog.String("document_id", documentID),
			slog.String("workflow_org_id", def.OrgID),
			slog.String("document_org_id", doc.OrgID),
		)
		return nil, fmt.Errorf("%w: workflow %s, document %s", docflow.ErrCrossTenant, workflowID, documentID)
	}
	if actorID == "" {
		actorID = e.actor
	}

	if e.admit != nil {
		if !e.admit.Acquire(def.ID, doc.OrgID) {
			e.logger.Warn("run rejected by admission limits",
				slog.String("workflow_id", def.ID),
				slog.String("org_id", doc.OrgID),
			)
			return nil, fmt.Errorf("%w: workflow %s, org %s", docflow.ErrRunRejected, def.ID, doc.OrgID)
		}
		defer e.admit.Release(def.ID, doc.OrgID)
	}

	start := e.now()
	deadline := start.Add(e.cfg.MaxRunDuration)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	exec := workflow.NewExecution(def, *doc, id.NewRunID(), deadline, e.now)
	r := &run{
		e:     e,
		exec:  exec,
		batch: audit.NewBatch(exec.RunID(), doc.OrgID, actorID, e.now),
		info: ext.RunInfo{
			RunID:      exec.RunID(),
			WorkflowID: def.ID,
			DocumentID: doc.ID,
			OrgID:      doc.OrgID,
			StartedAt:  exec.StartedAt(),
		},
		logger: e.logger.With(
			slog.String("run_id", exec.RunID().String()),
			slog.String("workflow_id", def.ID),
			slog.String("document_id", doc.ID),
			slog.String("org_id", doc.OrgID),
		),
	}
	return r.execute(scope.Restore(ctx, doc.OrgID, actorID))
}

// GetRun returns a saved run. Without a run store every lookup misses.
func (e *Executor) GetRun(ctx context.Context, runID id.RunID) (*workflow.RunResult, error) {
	if e.runs == nil {
		return nil, fmt.Errorf("%w: %s", docflow.ErrRunNotFound, runID)
	}
	return e.runs.GetRun(ctx, runID)
}

// ListRuns lists saved runs newest first.
func (e *Executor) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.RunResult, error) {
	if e.runs == nil {
		return nil, nil
	}
	return e.runs.ListRuns(ctx, opts)
}
