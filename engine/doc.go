// Package engine runs workflows.
//
// An [Executor] executes one workflow definition against one document in a
// single synchronous call:
//
//	reg := capability.NewRegistry(capability.Deps{Documents: st, Extractions: st})
//	exec := engine.New(st, st, reg,
//	    engine.WithAuditSink(st),
//	    engine.WithRunStore(st),
//	)
//	res, err := exec.Execute(ctx, "wf_invoices", "doc_123")
//
// Execute walks the step graph from the entry step. Each step is resolved
// in the registry and invoked through the middleware chain with a deadline
// that is the lesser of the step timeout and the time left in the run.
// External steps are retried on retryable failures with exponential
// backoff; other steps run once.
//
// A run ends in one of three outcomes: completed, failed, or awaiting human
// review. A failed step is a result, not an error: Execute returns a nil
// error. Configuration problems (unknown step type, dangling branch, cycle),
// the run deadline and caller cancellation return the partial result
// together with an error matching the docflow sentinels.
//
// When a run stops its audit trail is flushed to the audit sink in one
// batch, the result is saved to the run store and lifecycle extensions are
// notified. None of these can change the result.
//
// The executor holds no per-run state and is safe for concurrent use.
package engine
