package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/medocr/docflow/workflow"
)

// Named entry types pair a hook with the extension name captured at
// registration time.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepRetryingEntry struct {
	name string
	hook StepRetrying
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runSuspendedEntry struct {
	name string
	hook RunSuspended
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions are type-cached at registration so each emit
// iterates only over the ones implementing that hook.
//
// Register is not safe to call concurrently with the Emit methods; wire
// extensions before the first run.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runStarted    []runStartedEntry
	stepCompleted []stepCompletedEntry
	stepRetrying  []stepRetryingEntry
	stepFailed    []stepFailedEntry
	runCompleted  []runCompletedEntry
	runSuspended  []runSuspendedEntry
	runFailed     []runFailedEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, stepRetryingEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunSuspended); ok {
		r.runSuspended = append(r.runSuspended, runSuspendedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitRunStarted notifies extensions implementing RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run RunInfo) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, run); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitStepCompleted notifies extensions implementing StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run RunInfo, result workflow.StepResult) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, run, result); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepRetrying notifies extensions implementing StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, run RunInfo, stepID string, attempt int, delay time.Duration, reason string) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, run, stepID, attempt, delay, reason); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// EmitStepFailed notifies extensions implementing StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run RunInfo, result workflow.StepResult) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, run, result); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitRunCompleted notifies extensions implementing RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, result *workflow.RunResult, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, result, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunSuspended notifies extensions implementing RunSuspended.
func (r *Registry) EmitRunSuspended(ctx context.Context, result *workflow.RunResult) {
	for _, e := range r.runSuspended {
		if err := e.hook.OnRunSuspended(ctx, result); err != nil {
			r.logHookError("OnRunSuspended", e.name, err)
		}
	}
}

// EmitRunFailed notifies extensions implementing RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, result *workflow.RunResult, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, result, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
