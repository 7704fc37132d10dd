// Package step defines the capability contract that step types implement
// and the registry the executor resolves them through.
//
// A [Capability] runs one step against a read-only [Snapshot] of the run
// and returns an [Outcome]. Outcomes form a closed set built only by the
// constructors in this package:
//
//	Continue(output)            advance to the single successor
//	Branch(label, output)       advance to the successor mapped to label
//	Fail(reason, retryable)     stop, or retry when the step is external
//	AwaitHuman(reason, output)  suspend the run for human review
//
// # Registry
//
// Step types are registered at process start. [Registry.Freeze] makes the
// registry read-only; the executor freezes the registry it is given.
//
//	reg := step.NewRegistry()
//	reg.Register("webhook", webhook, step.External(), step.Timeout(5*time.Second))
//	reg.Freeze()
package step
