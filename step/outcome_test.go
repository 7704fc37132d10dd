package step_test

import (
	"testing"

	"github.com/medocr/docflow/step"
)

func TestOutcome_Variants(t *testing.T) {
	c := step.Continue(map[string]any{"n": 1})
	if c.Kind() != step.KindContinue || c.Output()["n"] != 1 {
		t.Fatalf("continue = %v", c)
	}

	b := step.Branch("fail", nil)
	if b.Kind() != step.KindBranch || b.Label() != "fail" {
		t.Fatalf("branch = %v", b)
	}

	f := step.Fail("503 from EMR", true)
	if f.Kind() != step.KindFail || !f.Retryable() || f.Reason() != "503 from EMR" {
		t.Fatalf("fail = %v", f)
	}
	if step.Failf("bad %s", "config").Retryable() {
		t.Fatal("Failf must not be retryable")
	}

	a := step.AwaitHuman("needs review", nil)
	if a.Kind() != step.KindAwaitHuman || a.Retryable() {
		t.Fatalf("await = %v", a)
	}
}

func TestOutcome_ZeroValueInvalid(t *testing.T) {
	var o step.Outcome
	if o.Valid() {
		t.Fatal("zero Outcome reported valid")
	}
	if !step.Continue(nil).Valid() {
		t.Fatal("Continue reported invalid")
	}
}

func TestOutcome_OutputIsCopied(t *testing.T) {
	o := step.Continue(map[string]any{"k": "v"})
	o.Output()["k"] = "changed"
	if o.Output()["k"] != "v" {
		t.Fatal("Output exposed internal map")
	}
}
