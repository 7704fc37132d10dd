package capability

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/workflow"
)

type emrSync struct {
	deps Deps
}

// Run implements step.Capability. It posts a FHIR DocumentReference for
// the document to <base_url>/DocumentReference.
//
// Settings: base_url (required), token (bearer), patient_field (default
// patient_id), headers, secret, timeout, source.
func (e *emrSync) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	base := strings.TrimRight(cfg.String("base_url", ""), "/")
	if base == "" {
		return step.Failf("emr_sync: base_url is required")
	}
	ex, err := e.deps.findExtraction(ctx, cfg, snap)
	if err != nil {
		return step.Fail("emr_sync: "+err.Error(), false)
	}

	resource := documentReference(snap.Document(), ex, snap.RunID().String(),
		cfg.String("patient_field", "patient_id"), e.deps.Clock().UTC())
	body, err := json.Marshal(resource)
	if err != nil {
		return step.Failf("emr_sync: encode resource: %v", err)
	}

	headers := map[string]string{"Content-Type": "application/fhir+json", "Accept": "application/fhir+json"}
	maps.Copy(headers, cfg.StringMap("headers"))
	if token := cfg.String("token", ""); token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	out := deliver(ctx, cfg, snap, e.deps, "emr_sync", notify.Delivery{
		ID:             id.NewDeliveryID(),
		IdempotencyKey: step.IdempotencyKey(snap),
		URL:            base + "/DocumentReference",
		Method:         "POST",
		Headers:        headers,
		Secret:         cfg.String("secret", ""),
		Body:           body,
	})
	if out.Kind() != step.KindContinue {
		return out
	}
	result := out.Output()
	result["resource_type"] = "DocumentReference"
	return step.Continue(result)
}

// documentReference builds a minimal FHIR R4 DocumentReference.
func documentReference(doc workflow.Document, ex *extraction.Extraction, runID, patientField string, now time.Time) map[string]any {
	res := map[string]any{
		"resourceType": "DocumentReference",
		"status":       "current",
		"docStatus":    "final",
		"identifier": []any{
			map[string]any{"system": "urn:medocr:document", "value": doc.ID},
		},
		"date":        now.Format(time.RFC3339),
		"description": doc.Filename,
		"content": []any{
			map[string]any{"attachment": map[string]any{
				"contentType": doc.MimeType,
				"title":       doc.Filename,
				"url":         doc.StoragePath,
			}},
		},
		"context": map[string]any{
			"related": []any{map[string]any{"reference": "WorkflowRun/" + runID}},
		},
	}
	if doc.DocType != "" {
		res["type"] = map[string]any{"text": doc.DocType}
	}
	if ex == nil {
		return res
	}

	values := ex.Values()
	if patient := stringOf(values[patientField]); patient != "" {
		res["subject"] = map[string]any{"reference": "Patient/" + patient}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	exts := make([]any, 0, len(keys))
	for _, k := range keys {
		exts = append(exts, map[string]any{
			"url":         "urn:medocr:extracted-field:" + k,
			"valueString": stringOf(values[k]),
		})
	}
	res["extension"] = exts
	return res
}
