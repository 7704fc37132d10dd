// Package docflow is a workflow execution engine for document intake.
//
// A workflow is a graph of steps (extract, validate, branch, webhook,
// EMR sync, human review, ...) stored outside the engine. One call to
// the executor runs one workflow against one document, synchronously,
// within a bounded deadline, and returns a RunResult listing every step
// that was visited in order.
//
// # Quick Start
//
//	reg := capability.NewRegistry(capability.Deps{...})
//	exec := engine.New(store, store, reg,
//	    engine.WithAuditSink(store),
//	    engine.WithLogger(logger),
//	)
//	res, err := exec.Execute(ctx, workflowID, documentID)
//
// # Architecture
//
// The root package holds the error taxonomy and run policy. Subsystems
// live in their own packages: workflow (data model and execution
// context), step (registry and outcome variants), capability (built-in
// step types), engine (the executor), and store/* backends that
// implement the collaborator interfaces. Extensions (audit_hook,
// observability, relay_hook, stream) observe run and step lifecycle
// events; admission limits how many runs may start.
//
// All run-scoped identifiers use prefixed, K-sortable UUIDv7 values.
package docflow
