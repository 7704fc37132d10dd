package capability

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/workflow"
)

type csvExport struct {
	deps Deps
}

// Run implements step.Capability. It writes key,value,confidence rows to
// <org>/<document>/export_<unix ms>.csv and marks the document exported.
//
// Settings: fields_to_export, source.
func (c *csvExport) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	if c.deps.Objects == nil {
		return step.Failf("csv_export: no object store configured")
	}
	ex, err := c.deps.findExtraction(ctx, cfg, snap)
	if err != nil {
		return step.Fail("csv_export: "+err.Error(), false)
	}
	if ex == nil || len(ex.Fields) == 0 {
		return step.Failf("csv_export: no extraction data for document %s", snap.DocumentID())
	}

	fields := ex.Fields
	if only := cfg.Strings("fields_to_export"); len(only) > 0 {
		fields = slices.DeleteFunc(slices.Clone(fields), func(f extraction.Field) bool {
			return !slices.Contains(only, f.Key)
		})
	}

	data, err := encodeCSV(fields)
	if err != nil {
		return step.Failf("csv_export: %v", err)
	}

	path := fmt.Sprintf("%s/%s/export_%d.csv", snap.OrgID(), snap.DocumentID(), c.deps.Clock().UnixMilli())
	info, err := c.deps.Objects.Put(ctx, path, "text/csv", data)
	if err != nil {
		return step.Fail("csv_export: "+err.Error(), false)
	}
	if err := c.deps.setStatus(ctx, snap, workflow.DocumentExported); err != nil {
		return step.Fail("csv_export: update document status: "+err.Error(), false)
	}

	c.deps.log(snap).Info("csv exported",
		slog.String("path", path),
		slog.Int("fields", len(fields)),
	)
	return step.Continue(map[string]any{
		"csv_path":    path,
		"field_count": len(fields),
		"size":        info.Size,
	})
}

func encodeCSV(fields []extraction.Field) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"key", "value", "confidence"})
	for _, f := range fields {
		_ = w.Write([]string{f.Key, f.Value, strconv.FormatFloat(f.Confidence, 'f', -1, 64)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
