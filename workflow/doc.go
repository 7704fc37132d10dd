// Package workflow defines the data model of a document workflow run.
//
// A [Definition] is an ordered list of [StepDefinition]s forming a graph:
// each step names either a single successor (Next) or a set of successors
// keyed by branch label (Branches). The executor walks the graph for one
// document and produces a [RunResult] holding one [StepResult] per visited
// step, in visitation order.
//
// # Execution Context
//
// [Execution] is the per-run record the executor threads through a run.
// It is append-only: recording a second result for the same step id fails
// with [docflow.ErrDuplicateStepResult], which is what the cycle guard
// relies on. It also tracks the run deadline. An Execution belongs to one
// Execute call and is not safe for concurrent use.
//
// # Outcomes
//
// A run ends in one of three outcomes:
//
//	completed                                  terminal step reached
//	failed                                     a step failed for good
//	partially-completed-awaiting-human-review  a step asked for a human
//
// # Collaborators
//
//   - [DefinitionStore] loads workflow definitions
//   - [DocumentStore] loads documents and updates their status
//   - [RunStore] persists finished run results
package workflow
