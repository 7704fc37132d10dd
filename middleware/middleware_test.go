package middleware_test

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/middleware"
	"github.com/medocr/docflow/scope"
	"github.com/medocr/docflow/step"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newInvocation() *middleware.Invocation {
	return &middleware.Invocation{
		RunID:      id.NewRunID(),
		WorkflowID: "wf-intake",
		DocumentID: "doc-1",
		OrgID:      "org-1",
		StepID:     "emr",
		StepType:   "emr_sync",
		Attempt:    2,
		External:   true,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	wrap := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *middleware.Invocation, next middleware.Handler) step.Outcome {
			order = append(order, name+"-before")
			out := next(ctx)
			order = append(order, name+"-after")
			return out
		}
	}

	chain := middleware.Chain(wrap("mw1"), wrap("mw2"))
	out := chain(context.Background(), newInvocation(), func(context.Context) step.Outcome {
		order = append(order, "handler")
		return step.Continue(nil)
	})

	if out.Kind() != step.KindContinue {
		t.Fatalf("outcome = %v", out)
	}
	want := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestChain_EmptyCallsHandler(t *testing.T) {
	called := false
	middleware.Chain()(context.Background(), newInvocation(), func(context.Context) step.Outcome {
		called = true
		return step.Continue(nil)
	})
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	deny := func(context.Context, *middleware.Invocation, middleware.Handler) step.Outcome {
		return step.Fail("denied", false)
	}
	called := false
	out := middleware.Chain(deny)(context.Background(), newInvocation(), func(context.Context) step.Outcome {
		called = true
		return step.Continue(nil)
	})
	if called || out.Reason() != "denied" {
		t.Fatalf("called=%v out=%v", called, out)
	}
}

func TestRecover_ConvertsPanicToFailure(t *testing.T) {
	mw := middleware.Recover(discard())
	out := mw(context.Background(), newInvocation(), func(context.Context) step.Outcome {
		panic("nil map write")
	})
	if out.Kind() != step.KindFail || out.Retryable() {
		t.Fatalf("outcome = %v, want non-retryable fail", out)
	}
	if out.Reason() != "panic in step emr: nil map write" {
		t.Fatalf("reason = %q", out.Reason())
	}
}

func TestRecover_ReplacesZeroOutcome(t *testing.T) {
	mw := middleware.Recover(discard())
	out := mw(context.Background(), newInvocation(), func(context.Context) step.Outcome {
		return step.Outcome{}
	})
	if out.Kind() != step.KindFail {
		t.Fatalf("outcome = %v, want fail", out)
	}
}

func TestTimeout_SetsDeadline(t *testing.T) {
	inv := newInvocation()
	inv.Timeout = 50 * time.Millisecond

	var deadline time.Time
	var ok bool
	middleware.Timeout(discard())(context.Background(), inv, func(ctx context.Context) step.Outcome {
		deadline, ok = ctx.Deadline()
		return step.Continue(nil)
	})
	if !ok {
		t.Fatal("no deadline on context")
	}
	if time.Until(deadline) > 50*time.Millisecond {
		t.Fatalf("deadline too far: %v", time.Until(deadline))
	}
}

func TestTimeout_ZeroLeavesContext(t *testing.T) {
	middleware.Timeout(discard())(context.Background(), newInvocation(), func(ctx context.Context) step.Outcome {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("unexpected deadline")
		}
		return step.Continue(nil)
	})
}

func TestScope_AttachesOrg(t *testing.T) {
	middleware.Scope()(context.Background(), newInvocation(), func(ctx context.Context) step.Outcome {
		if org, _ := scope.OrgFrom(ctx); org != "org-1" {
			t.Fatalf("org = %q, want org-1", org)
		}
		return step.Continue(nil)
	})
}

func TestLogging_PassesOutcomeThrough(t *testing.T) {
	out := middleware.Logging(discard())(context.Background(), newInvocation(), func(context.Context) step.Outcome {
		return step.Branch("pass", nil)
	})
	if out.Label() != "pass" {
		t.Fatalf("outcome = %v", out)
	}
}
