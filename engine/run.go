package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/audit"
	"github.com/medocr/docflow/backoff"
	"github.com/medocr/docflow/ext"
	mw "github.com/medocr/docflow/middleware"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/workflow"
)

// run is the state of one Execute call. It is owned by a single goroutine.
type run struct {
	e      *Executor
	exec   *workflow.Execution
	batch  *audit.Batch
	info   ext.RunInfo
	logger *slog.Logger

	outcome workflow.RunOutcome
	reason  string
	err     error
}

func (r *run) execute(ctx context.Context) (*workflow.RunResult, error) {
	def := r.exec.Definition()
	r.batch.RunStarted(def.ID, r.exec.DocumentID())
	r.e.extensions.EmitRunStarted(ctx, r.info)
	r.logger.Info("run started", slog.Int("steps", len(def.Steps)))

	r.outcome = workflow.OutcomeCompleted
	current, prev := def.EntryID(), ""

	for current != "" {
		if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			r.fail(fmt.Errorf("%w: before step %q: %v", docflow.ErrRunCanceled, current, err))
			break
		}

		sd, ok := def.Step(current)
		if !ok {
			r.fail(fmt.Errorf("%w: %q (successor of %q)", docflow.ErrUnknownSuccessor, current, prev))
			break
		}
		// Results are append-only, so reaching a recorded step means the
		// graph looped back on itself.
		if r.exec.Recorded(sd.ID) {
			r.fail(fmt.Errorf("%w: step %q reached again after %q", docflow.ErrCycleLimit, sd.ID, prev))
			break
		}

		if r.exec.Expired() || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.record(ctx, workflow.StepResult{
				StepID:     sd.ID,
				StepType:   sd.Type,
				Status:     workflow.StepFailed,
				Error:      workflow.TimeoutReason,
				StartedAt:  r.e.now(),
				FinishedAt: r.e.now(),
			})
			r.fail(fmt.Errorf("%w: before step %q", docflow.ErrRunTimeout, sd.ID))
			break
		}

		entry, err := r.e.registry.Resolve(sd.Type)
		if err != nil {
			r.record(ctx, workflow.StepResult{
				StepID:     sd.ID,
				StepType:   sd.Type,
				Status:     workflow.StepFailed,
				Error:      err.Error(),
				StartedAt:  r.e.now(),
				FinishedAt: r.e.now(),
			})
			r.fail(fmt.Errorf("step %q: %w", sd.ID, err))
			break
		}

		next, stop := r.step(ctx, sd, entry)
		if stop {
			break
		}
		prev, current = sd.ID, next
	}

	return r.finish(ctx)
}

// step runs one step to a recorded result and returns the id of the next
// step. stop is set when the run ends at this step.
func (r *run) step(ctx context.Context, sd *workflow.StepDefinition, entry step.Entry) (next string, stop bool) {
	started := r.e.now()
	out, attempts, canceled := r.attempts(ctx, sd, entry)

	res := workflow.StepResult{
		StepID:     sd.ID,
		StepType:   sd.Type,
		Attempts:   attempts,
		Output:     out.Output(),
		StartedAt:  started,
		FinishedAt: r.e.now(),
	}

	switch out.Kind() {
	case step.KindContinue:
		res.Status = workflow.StepSucceeded
		r.record(ctx, res)
		return sd.Next, false

	case step.KindBranch:
		res.Status = workflow.StepSucceeded
		res.Label = out.Label()
		target, ok := sd.Branches[out.Label()]
		if target == workflow.AwaitHumanTarget {
			res.Suspended = true
		}
		r.record(ctx, res)
		switch {
		case !ok:
			r.fail(fmt.Errorf("%w: step %q label %q", docflow.ErrDanglingBranch, sd.ID, out.Label()))
			return "", true
		case target == workflow.AwaitHumanTarget:
			r.suspend(sd.ID, "branch "+out.Label()+" requires human review")
			return "", true
		}
		return target, false

	case step.KindAwaitHuman:
		res.Status = workflow.StepSucceeded
		res.Suspended = true
		r.record(ctx, res)
		r.suspend(sd.ID, out.Reason())
		return "", true
	}

	// Fail.
	res.Status = workflow.StepFailed
	if attempts > 1 {
		res.Status = workflow.StepRetriedThenFailed
	}
	res.Error = out.Reason()
	if r.exec.Expired() {
		res.Error = workflow.TimeoutReason
	}
	r.record(ctx, res)

	switch {
	case res.Error == workflow.TimeoutReason:
		r.fail(fmt.Errorf("%w: step %q: %s", docflow.ErrRunTimeout, sd.ID, out.Reason()))
	case canceled:
		r.fail(fmt.Errorf("%w: retrying step %q: %s", docflow.ErrRunCanceled, sd.ID, out.Reason()))
	default:
		r.outcome = workflow.OutcomeFailed
		r.reason = out.Reason()
	}
	return "", true
}

// attempts invokes the step until it stops failing retryably, the retry
// policy is exhausted, the next backoff would pass the run deadline or the
// caller cancels. Only external steps are retried.
func (r *run) attempts(ctx context.Context, sd *workflow.StepDefinition, entry step.Entry) (out step.Outcome, attempts int, canceled bool) {
	policy := backoff.NoRetry()
	if entry.External {
		policy = r.e.policy
	}

	for {
		attempts++
		out = r.invoke(ctx, sd, entry, attempts)
		if out.Kind() != step.KindFail || !out.Retryable() || r.exec.Expired() {
			return out, attempts, false
		}

		delay, ok := policy.Next(attempts)
		if !ok {
			return out, attempts, false
		}
		if delay >= r.exec.Remaining() {
			r.logger.Warn("retry skipped: backoff passes run deadline",
				slog.String("step_id", sd.ID),
				slog.Duration("delay", delay),
				slog.Duration("remaining", r.exec.Remaining()),
			)
			return out, attempts, false
		}

		r.logger.Info("step retrying",
			slog.String("step_id", sd.ID),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.String("reason", out.Reason()),
		)
		r.e.extensions.EmitStepRetrying(ctx, r.info, sd.ID, attempts, delay, out.Reason())
		if err := backoff.Sleep(ctx, delay); err != nil {
			return out, attempts, true
		}
	}
}

// invoke runs one attempt through the middleware chain. The attempt gets
// its own context so a caller cancellation never abandons a call in
// flight; its deadline is the lesser of the step timeout and the time
// left in the run.
func (r *run) invoke(ctx context.Context, sd *workflow.StepDefinition, entry step.Entry, attempt int) step.Outcome {
	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = r.e.cfg.StepTimeout
	}
	if rem := r.exec.Remaining(); rem < timeout {
		timeout = max(rem, 1)
	}

	inv := &mw.Invocation{
		RunID:      r.exec.RunID(),
		WorkflowID: r.exec.WorkflowID(),
		DocumentID: r.exec.DocumentID(),
		OrgID:      r.exec.OrgID(),
		StepID:     sd.ID,
		StepType:   sd.Type,
		Attempt:    attempt,
		External:   entry.External,
		Timeout:    timeout,
	}
	cfg := step.Config(maps.Clone(sd.Config))
	snap := step.NewSnapshot(r.exec, sd.ID, attempt)

	return r.e.chain(context.WithoutCancel(ctx), inv, func(ctx context.Context) step.Outcome {
		return entry.Capability.Run(ctx, cfg, snap)
	})
}

// record appends a result. A duplicate means the loop visited a step
// twice, which the cycle check rules out; it is logged and kept out of
// the audit batch.
func (r *run) record(ctx context.Context, res workflow.StepResult) {
	recorded, err := r.exec.RecordResult(res)
	if err != nil {
		r.logger.Error("record step result", slog.String("step_id", res.StepID), slog.String("error", err.Error()))
		r.fail(err)
		return
	}
	r.batch.Step(recorded)
	if recorded.Status == workflow.StepSucceeded {
		r.e.extensions.EmitStepCompleted(ctx, r.info, recorded)
	} else {
		r.e.extensions.EmitStepFailed(ctx, r.info, recorded)
	}
}

func (r *run) fail(err error) {
	r.outcome = workflow.OutcomeFailed
	if r.err == nil {
		r.err = err
		r.reason = err.Error()
	}
}

func (r *run) suspend(stepID, reason string) {
	r.outcome = workflow.OutcomeAwaitingReview
	r.logger.Info("run suspended for review",
		slog.String("step_id", stepID),
		slog.String("reason", reason),
	)
}

// finish builds the result and flushes audit, persistence, extensions and
// the error notification. None of them can change the result.
func (r *run) finish(ctx context.Context) (*workflow.RunResult, error) {
	res := &workflow.RunResult{
		RunID:      r.exec.RunID(),
		WorkflowID: r.exec.WorkflowID(),
		DocumentID: r.exec.DocumentID(),
		OrgID:      r.exec.OrgID(),
		Outcome:    r.outcome,
		Steps:      r.exec.Results(),
		StartedAt:  r.exec.StartedAt(),
		FinishedAt: r.e.now(),
	}
	if last, ok := r.exec.Last(); ok {
		res.TerminalStepID = last.StepID
	}
	if r.outcome == workflow.OutcomeFailed {
		res.Error = r.reason
	}
	r.batch.RunFinished(res)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	if r.e.auditSink != nil {
		if err := r.e.auditSink.AppendRunAudit(flushCtx, res.RunID, r.batch.Entries()); err != nil {
			r.logger.Error("audit flush failed",
				slog.Int("entries", r.batch.Len()),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.e.runs != nil {
		if err := r.e.runs.SaveRun(flushCtx, res); err != nil {
			r.logger.Error("save run failed", slog.String("error", err.Error()))
		}
	}

	elapsed := res.FinishedAt.Sub(res.StartedAt)
	switch res.Outcome {
	case workflow.OutcomeCompleted:
		r.logger.Info("run completed", slog.Int("steps", len(res.Steps)), slog.Duration("elapsed", elapsed))
		r.e.extensions.EmitRunCompleted(flushCtx, res, elapsed)
	case workflow.OutcomeAwaitingReview:
		r.e.extensions.EmitRunSuspended(flushCtx, res)
	case workflow.OutcomeFailed:
		r.logger.Warn("run failed",
			slog.String("terminal_step_id", res.TerminalStepID),
			slog.String("error", res.Error),
		)
		r.e.extensions.EmitRunFailed(flushCtx, res, r.err)
		r.notifyFailure(flushCtx, res)
	}

	return res, r.err
}

// notifyFailure sends the workflow_error notification. Errors are logged.
func (r *run) notifyFailure(ctx context.Context, res *workflow.RunResult) {
	if r.e.notifier == nil || r.e.recipients == nil {
		return
	}
	to, err := r.e.recipients.Recipients(ctx, res.OrgID, notify.EventWorkflowError)
	if err != nil {
		r.logger.Warn("error notification recipients", slog.String("error", err.Error()))
		return
	}
	if len(to) == 0 {
		return
	}
	doc := r.exec.Document()
	subject, text := notify.Render(notify.EventWorkflowError, notify.Content{
		DocumentID:   doc.ID,
		DocumentName: doc.Filename,
		RunID:        res.RunID.String(),
		Reason:       res.Error,
	})
	if _, err := r.e.notifier.Notify(ctx, notify.Message{
		Event:      notify.EventWorkflowError,
		To:         to,
		Subject:    subject,
		Text:       text,
		OrgID:      res.OrgID,
		DocumentID: doc.ID,
		RunID:      res.RunID.String(),
	}); err != nil {
		r.logger.Warn("error notification failed", slog.String("error", err.Error()))
	}
}
