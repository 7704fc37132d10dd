// Package postgres implements store.Store using pgx/v5 with raw SQL and
// embedded migrations.
//
// Workflow graphs live in workflow_nodes and workflow_edges; an edge with
// a source_handle is a branch label. Finished runs are written to
// workflow_runs with one workflow_logs row per visited step, and a run's
// audit batch is inserted into audit_logs in a single transaction.
package postgres
