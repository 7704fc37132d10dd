package capability

import (
	"context"
	"log/slog"
	"time"

	"github.com/medocr/docflow/extraction"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/objectstore"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/workflow"
)

// Deps are the collaborators the built-in steps use. Nil collaborators
// are tolerated: a step that needs a missing one fails without retry.
type Deps struct {
	Documents   workflow.DocumentStore
	Extractions extraction.Store
	// Provider defaults to extraction.Mock.
	Provider extraction.Provider

	// Sink delivers webhook and EMR calls. Defaults to an HTTPSink.
	Sink notify.Sink
	// Deduper, when set, suppresses deliveries whose idempotency key was
	// already delivered.
	Deduper  notify.Deduper
	DedupTTL time.Duration

	// Notifier defaults to a LogNotifier.
	Notifier   notify.Notifier
	Recipients notify.RecipientStore

	Objects objectstore.Store

	Clock  func() time.Time
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Provider == nil {
		d.Provider = extraction.Mock{}
	}
	if d.Sink == nil {
		d.Sink = notify.NewHTTPSink(notify.WithLogger(d.Logger))
	}
	if d.Deduper != nil {
		d.Sink = notify.Deduplicated(d.Sink, d.Deduper, d.DedupTTL, d.Logger)
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogNotifier{Logger: d.Logger}
	}
	return d
}

// Register installs the built-in step types into reg.
func Register(reg *step.Registry, d Deps) {
	d = d.withDefaults()

	for _, source := range []string{"upload", "api_ingest", "email_ingest"} {
		reg.Register(source, ingest{source: source}, step.Describe("input: "+source))
	}
	reg.Register("extract", &extract{deps: d}, step.Describe("run OCR extraction"))
	reg.Register("validate", &validate{deps: d}, step.Describe("check confidence, required fields and schema"))
	reg.Register("rule", &rule{deps: d}, step.Describe("confidence threshold rule"))
	reg.Register("branch", &branch{deps: d}, step.Describe("route by expression"))
	reg.Register("review", &review{deps: d}, step.Describe("suspend for human review"))
	reg.Alias("await_human", "review")
	reg.Register("webhook", &webhook{deps: d}, step.External(), step.Describe("deliver to a webhook"))
	reg.Alias("webhook_export", "webhook")
	reg.Register("emr_sync", &emrSync{deps: d}, step.External(), step.Describe("push a DocumentReference to an EMR"))
	reg.Register("notify", &notifyStep{deps: d}, step.External(), step.Describe("send a notification"))
	reg.Register("csv_export", &csvExport{deps: d}, step.Describe("export fields as CSV"))
}

// NewRegistry returns a registry holding the built-in step types.
func NewRegistry(d Deps) *step.Registry {
	reg := step.NewRegistry()
	Register(reg, d)
	return reg
}

// setStatus updates the document status when a document store is wired.
func (d Deps) setStatus(ctx context.Context, snap step.Snapshot, status string) error {
	if d.Documents == nil {
		return nil
	}
	return d.Documents.UpdateDocumentStatus(ctx, snap.DocumentID(), status)
}

func (d Deps) log(snap step.Snapshot) *slog.Logger {
	return d.Logger.With(
		slog.String("run_id", snap.RunID().String()),
		slog.String("step_id", snap.StepID()),
	)
}

// documentMap is the document as seen by payloads and expressions.
func documentMap(doc workflow.Document) map[string]any {
	return map[string]any{
		"id":         doc.ID,
		"org_id":     doc.OrgID,
		"filename":   doc.Filename,
		"mime_type":  doc.MimeType,
		"doc_type":   doc.DocType,
		"status":     doc.Status,
		"page_count": doc.PageCount,
	}
}

// withTimeout applies the step's optional "timeout" setting on top of the
// deadline the executor already placed on ctx.
func withTimeout(ctx context.Context, cfg step.Config) (context.Context, context.CancelFunc) {
	if d := cfg.Duration("timeout", 0); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

type ingest struct {
	source string
}

// Run implements step.Capability. The document was ingested before the
// run started.
func (i ingest) Run(_ context.Context, _ step.Config, snap step.Snapshot) step.Outcome {
	doc := snap.Document()
	return step.Continue(map[string]any{
		"document_id": doc.ID,
		"source":      i.source,
		"status":      doc.Status,
	})
}
