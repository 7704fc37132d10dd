package step_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/step"
)

var noop = step.CapabilityFunc(func(context.Context, step.Config, step.Snapshot) step.Outcome {
	return step.Continue(nil)
})

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := step.NewRegistry()
	reg.Register("webhook", noop, step.External(), step.Timeout(5*time.Second), step.Describe("POST to a URL"))

	e, err := reg.Resolve("webhook")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !e.External || e.Timeout != 5*time.Second || e.Description != "POST to a URL" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestRegistry_UnknownTypeIsConfigurationError(t *testing.T) {
	reg := step.NewRegistry()
	_, err := reg.Resolve("ocr_magic")
	if !errors.Is(err, docflow.ErrUnknownStepType) {
		t.Fatalf("err = %v, want ErrUnknownStepType", err)
	}
	if !docflow.IsConfiguration(err) {
		t.Fatal("unknown step type should be a configuration error")
	}
}

func TestRegistry_TypesSorted(t *testing.T) {
	reg := step.NewRegistry()
	for _, name := range []string{"notify", "extract", "validate"} {
		reg.Register(name, noop)
	}
	if got := reg.Types(); !slices.Equal(got, []string{"extract", "notify", "validate"}) {
		t.Fatalf("Types = %v", got)
	}
}

func TestRegistry_AliasCopiesFlags(t *testing.T) {
	reg := step.NewRegistry()
	reg.Register("webhook", noop, step.External())
	reg.Alias("webhook_export", "webhook")

	e, err := reg.Resolve("webhook_export")
	if err != nil {
		t.Fatalf("Resolve alias: %v", err)
	}
	if !e.External || e.Type != "webhook_export" {
		t.Fatalf("alias entry = %+v", e)
	}
}

func TestRegistry_RegisterAfterFreezePanics(t *testing.T) {
	reg := step.NewRegistry()
	reg.Register("extract", noop)
	reg.Freeze()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering into a frozen registry")
		}
		if !reg.Has("extract") || reg.Has("late") {
			t.Fatal("frozen registry contents changed")
		}
	}()
	reg.Register("late", noop)
}

func TestRegistry_NilCapabilityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	step.NewRegistry().Register("x", nil)
}
