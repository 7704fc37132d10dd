// Package ext defines the extension system for docflow.
//
// Extensions are notified of run and step lifecycle events and can react
// to them: recording metrics, writing audit logs, alerting. Each hook is a
// separate interface so extensions opt in only to the events they care
// about. Hook errors are logged and never affect the run.
//
// # Implementing an Extension
//
//	type SlowStepAlert struct{}
//
//	func (SlowStepAlert) Name() string { return "slow-step-alert" }
//
//	func (SlowStepAlert) OnStepCompleted(ctx context.Context, run ext.RunInfo, r workflow.StepResult) error {
//	    if r.Duration() > 5*time.Second {
//	        log.Printf("step %s of run %s took %s", r.StepID, run.RunID, r.Duration())
//	    }
//	    return nil
//	}
//
// # Hooks
//
//   - [RunStarted] — the run passed the tenant check and began
//   - [StepCompleted] — a step succeeded
//   - [StepRetrying] — an external step failed and will be tried again
//   - [StepFailed] — a step failed for good
//   - [RunCompleted] — the run reached a terminal step
//   - [RunSuspended] — the run stopped to wait for a human
//   - [RunFailed] — the run stopped on a failure, timeout or config error
package ext
