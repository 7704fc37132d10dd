package capability

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/medocr/docflow/step"
)

type branch struct {
	deps Deps
}

// Run implements step.Capability.
//
// Settings: conditions, a list of {label, when} evaluated in order, and
// default, the label taken when no condition holds. Expressions see
// document, org_id, run_id, workflow_id, steps (outputs by step id),
// fields (latest extracted values) and min_confidence.
func (b *branch) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	env, err := b.env(ctx, cfg, snap)
	if err != nil {
		return step.Fail("branch: "+err.Error(), false)
	}

	for i, cond := range cfg.List("conditions") {
		label := stringOf(cond["label"])
		when := stringOf(cond["when"])
		if label == "" || when == "" {
			return step.Failf("branch: condition %d needs label and when", i)
		}
		ok, err := evalCondition(when, env)
		if err != nil {
			return step.Failf("branch: condition %q: %v", label, err)
		}
		if ok {
			return step.Branch(label, map[string]any{"label": label, "matched": when})
		}
	}

	if def := cfg.String("default", ""); def != "" {
		return step.Branch(def, map[string]any{"label": def, "matched": ""})
	}
	return step.Failf("branch: no condition matched and no default label")
}

func (b *branch) env(ctx context.Context, cfg step.Config, snap step.Snapshot) (map[string]any, error) {
	steps := make(map[string]any)
	for _, r := range snap.Results() {
		steps[r.StepID] = r.Output
	}
	env := map[string]any{
		"document":       documentMap(snap.Document()),
		"org_id":         snap.OrgID(),
		"run_id":         snap.RunID().String(),
		"workflow_id":    snap.WorkflowID(),
		"steps":          steps,
		"fields":         map[string]any{},
		"min_confidence": 0.0,
	}
	ex, err := b.deps.findExtraction(ctx, cfg, snap)
	if err != nil {
		return nil, err
	}
	if ex != nil {
		env["fields"] = ex.Values()
		env["min_confidence"] = ex.MinConfidence()
	}
	return env, nil
}

func evalCondition(when string, env map[string]any) (bool, error) {
	program, err := expr.Compile(when, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("did not return bool (got %T)", out)
	}
	return ok, nil
}
