package scope_test

import (
	"context"
	"testing"

	"github.com/medocr/docflow/scope"
)

func TestCaptureRestore(t *testing.T) {
	ctx := scope.Restore(context.Background(), "org-1", "user-7")
	org, actor := scope.Capture(ctx)
	if org != "org-1" || actor != "user-7" {
		t.Fatalf("Capture = %q, %q", org, actor)
	}
}

func TestRestore_EmptyIsNoop(t *testing.T) {
	base := context.Background()
	if scope.Restore(base, "", "") != base {
		t.Fatal("Restore with empty ids changed the context")
	}
	if _, ok := scope.OrgFrom(base); ok {
		t.Fatal("OrgFrom on empty context reported ok")
	}
}

func TestWithActor_Overrides(t *testing.T) {
	ctx := scope.WithActor(context.Background(), "a")
	ctx = scope.WithActor(ctx, "b")
	if actor, _ := scope.ActorFrom(ctx); actor != "b" {
		t.Fatalf("ActorFrom = %q, want b", actor)
	}
}
