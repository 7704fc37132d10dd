package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRunStarted    = "run.started"
	ActionStepCompleted = "step.completed"
	ActionStepRetrying  = "step.retrying"
	ActionStepFailed    = "step.failed"
	ActionRunCompleted  = "run.completed"
	ActionRunSuspended  = "run.suspended"
	ActionRunFailed     = "run.failed"
)

// Audit event categories group related actions.
const (
	CategoryRun  = "docflow.run"
	CategoryStep = "docflow.step"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRun  = "workflow_run"
	ResourceStep = "workflow_step"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionStepCompleted,
		ActionStepRetrying,
		ActionStepFailed,
		ActionRunCompleted,
		ActionRunSuspended,
		ActionRunFailed,
	}
}
