package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/step"
)

// fieldsOutput encodes fields for a step output.
func fieldsOutput(fields []extraction.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{
			"key":        f.Key,
			"value":      f.Value,
			"confidence": f.Confidence,
			"page":       f.Page,
		})
	}
	return out
}

// fieldsFromOutput decodes fields written by fieldsOutput. Outputs that
// went through a store come back with other concrete types, so anything
// unrecognized is decoded through JSON.
func fieldsFromOutput(v any) ([]extraction.Field, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []extraction.Field:
		return list, nil
	case []any:
		out := make([]extraction.Field, 0, len(list))
		for _, e := range list {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("field has type %T", e)
			}
			out = append(out, extraction.Field{
				Key:        fmt.Sprint(m["key"]),
				Value:      stringOf(m["value"]),
				Confidence: floatOf(m["confidence"]),
				Page:       int(floatOf(m["page"])),
			})
		}
		return out, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out []extraction.Field
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

// findExtraction returns the extraction the step should work on. It looks
// at the output of the step named by the "source" setting, or else the
// most recent extract step of the run, and falls back to the newest stored
// extraction of the document. It returns nil when there is none.
func (d Deps) findExtraction(ctx context.Context, cfg step.Config, snap step.Snapshot) (*extraction.Extraction, error) {
	if ex, err := extractionFromRun(cfg, snap); ex != nil || err != nil {
		return ex, err
	}
	if d.Extractions == nil {
		return nil, nil
	}
	ex, err := d.Extractions.LatestExtraction(ctx, snap.DocumentID())
	if errors.Is(err, extraction.ErrNotFound) {
		return nil, nil
	}
	return ex, err
}

func extractionFromRun(cfg step.Config, snap step.Snapshot) (*extraction.Extraction, error) {
	var out map[string]any
	if source := cfg.String("source", ""); source != "" {
		out = snap.Output(source)
	} else {
		results := snap.Results()
		for i := len(results) - 1; i >= 0; i-- {
			if results[i].StepType == "extract" {
				out = results[i].Output
				break
			}
		}
	}
	if out == nil {
		return nil, nil
	}
	if _, ok := out["fields"]; !ok {
		return nil, nil
	}
	fields, err := fieldsFromOutput(out["fields"])
	if err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	var exID id.ID
	if raw := stringOf(out["extraction_id"]); raw != "" {
		if exID, err = id.ParseWithPrefix(raw, id.PrefixExtract); err != nil {
			return nil, fmt.Errorf("decode extraction_id: %w", err)
		}
	}
	return &extraction.Extraction{
		ID:         exID,
		DocumentID: snap.DocumentID(),
		OrgID:      snap.OrgID(),
		Provider:   stringOf(out["provider"]),
		Fields:     fields,
	}, nil
}

// lowConfidence returns the keys of fields below threshold.
func lowConfidence(fields []extraction.Field, threshold float64) []string {
	var keys []string
	for _, f := range fields {
		if f.Confidence < threshold {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// extractionPayload is the extraction as delivered to external systems.
func extractionPayload(ex *extraction.Extraction) map[string]any {
	if ex == nil {
		return nil
	}
	return map[string]any{
		"id":             ex.ID.String(),
		"provider":       ex.Provider,
		"fields":         fieldsOutput(ex.Fields),
		"min_confidence": ex.MinConfidence(),
	}
}
