package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/workflow"
)

// DefaultExtractConcurrency bounds concurrent page extractions.
const DefaultExtractConcurrency = 4

type extract struct {
	deps Deps
}

// Run implements step.Capability.
//
// Settings: force (re-extract even if an extraction exists), concurrency,
// max_pages.
func (x *extract) Run(ctx context.Context, cfg step.Config, snap step.Snapshot) step.Outcome {
	doc := snap.Document()
	logger := x.deps.log(snap)

	if !cfg.Bool("force", false) && x.deps.Extractions != nil {
		ex, err := x.deps.Extractions.LatestExtraction(ctx, doc.ID)
		switch {
		case err == nil:
			logger.Debug("reusing extraction", slog.String("extraction_id", ex.ID.String()))
			return step.Continue(extractOutput(ex, true))
		case !errors.Is(err, extraction.ErrNotFound):
			return step.Fail("load extraction: "+err.Error(), false)
		}
	}

	if err := x.deps.setStatus(ctx, snap, workflow.DocumentProcessing); err != nil {
		return step.Fail("mark document processing: "+err.Error(), false)
	}

	pages := doc.PageCount
	if pages < 1 {
		pages = 1
	}
	if limit := cfg.Int("max_pages", 0); limit > 0 && pages > limit {
		pages = limit
	}

	results := make([]extraction.PageResult, pages)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Int("concurrency", DefaultExtractConcurrency), 1))
	for i := range pages {
		g.Go(func() error {
			res, err := x.deps.Provider.ExtractPage(gctx, doc, i+1)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return step.Fail("extract: "+err.Error(), false)
	}

	ex := &extraction.Extraction{
		ID:         id.NewExtractionID(),
		DocumentID: doc.ID,
		OrgID:      snap.OrgID(),
		Provider:   x.deps.Provider.Name(),
		CreatedAt:  x.deps.Clock().UTC(),
	}
	var text []string
	for _, res := range results {
		for _, f := range res.Fields {
			if f.Page == 0 {
				f.Page = res.Page
			}
			ex.Fields = append(ex.Fields, f)
		}
		if res.Text != "" {
			text = append(text, res.Text)
		}
	}
	ex.Text = strings.Join(text, "\n\n")

	if x.deps.Extractions != nil {
		if err := x.deps.Extractions.SaveExtraction(ctx, ex); err != nil {
			return step.Fail("save extraction: "+err.Error(), false)
		}
	}

	logger.Info("document extracted",
		slog.String("extraction_id", ex.ID.String()),
		slog.Int("pages", pages),
		slog.Int("fields", len(ex.Fields)),
	)
	return step.Continue(extractOutput(ex, false))
}

func extractOutput(ex *extraction.Extraction, reused bool) map[string]any {
	return map[string]any{
		"extraction_id":  ex.ID.String(),
		"provider":       ex.Provider,
		"field_count":    len(ex.Fields),
		"min_confidence": ex.MinConfidence(),
		"fields":         fieldsOutput(ex.Fields),
		"reused":         reused,
	}
}
