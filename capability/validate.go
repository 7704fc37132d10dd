package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/medocr/docflow/step"
)

// DefaultMinConfidence is the confidence threshold of validate and rule.
const DefaultMinConfidence = 0.90

// Branch labels emitted by validate and rule.
const (
	LabelPass = "pass"
	LabelFail = "fail"
)

type validate struct {
	deps Deps
}

// Run implements step.Capability.
//
// Settings: min_confidence, required_fields, schema (a JSON Schema object
// applied to the field values), hard_reject (a schema violation fails the
// run instead of taking the fail branch), source.
func (v *validate) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	ex, err := v.deps.findExtraction(ctx, cfg, snap)
	if err != nil {
		return step.Fail("validate: "+err.Error(), false)
	}
	if ex == nil {
		return step.Failf("validate: no extraction available for document %s", snap.DocumentID())
	}

	threshold := cfg.Float("min_confidence", DefaultMinConfidence)
	low := lowConfidence(ex.Fields, threshold)

	var missing []string
	for _, key := range cfg.Strings("required_fields") {
		if f, ok := ex.Field(key); !ok || strings.TrimSpace(f.Value) == "" {
			missing = append(missing, key)
		}
	}

	var violations []string
	if schema := cfg.Map("schema"); schema != nil {
		violations, err = checkSchema(schema, ex.Values())
		if err != nil {
			return step.Failf("validate: %v", err)
		}
		if len(violations) > 0 && cfg.Bool("hard_reject", false) {
			return step.Failf("validate: schema violations: %s", strings.Join(violations, "; "))
		}
	}

	passed := len(low) == 0 && len(missing) == 0 && len(violations) == 0
	label := LabelFail
	if passed {
		label = LabelPass
	}
	return step.Branch(label, map[string]any{
		"passed":                passed,
		"threshold":             threshold,
		"min_confidence":        ex.MinConfidence(),
		"low_confidence_fields": low,
		"missing_fields":        missing,
		"schema_errors":         violations,
	})
}

// checkSchema validates values against schema and returns one message per
// violated leaf. A schema that does not compile is an error.
func checkSchema(schema map[string]any, values map[string]any) ([]string, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("fields.json", doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile("fields.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	err = sch.Validate(values)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}, nil
	}
	var out []string
	for _, cause := range flattenValidationErrors(ve) {
		path := "/" + strings.Join(cause.InstanceLocation, "/")
		out = append(out, fmt.Sprintf("%s: %v", path, cause.ErrorKind))
	}
	return out, nil
}

func flattenValidationErrors(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var flat []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
