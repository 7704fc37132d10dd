package extraction

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/medocr/docflow/workflow"
)

var vendorNames = []string{
	"Acme Corp", "TechFlow Inc", "Global Supplies Ltd", "Metro Services",
	"CloudNet Solutions", "DataPrime LLC", "Apex Manufacturing", "Summit Trading Co",
}

var lineItems = []struct {
	desc string
	unit float64
}{
	{"Cloud Hosting (Monthly)", 299.99},
	{"Software License - Enterprise", 1499.00},
	{"Professional Services - 40hrs", 6000.00},
	{"Data Storage - 500GB", 49.99},
	{"Technical Support - Premium", 499.00},
	{"Network Equipment", 2340.00},
}

// Mock is a deterministic provider for development and tests. The same
// filename always yields the same fields and confidences. Invoices get
// invoice fields on page 1; other documents get generic fields. Pages
// after the first carry a single summary field.
type Mock struct{}

var _ Provider = Mock{}

// Name implements Provider.
func (Mock) Name() string { return "mock" }

// ExtractPage implements Provider.
func (Mock) ExtractPage(ctx context.Context, doc workflow.Document, page int) (PageResult, error) {
	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s#%d", doc.Filename, page)
	seed := h.Sum64()
	g := &generator{rng: rand.New(rand.NewPCG(seed, seed>>7)), page: page, y: 0.08}

	if page > 1 {
		return PageResult{Page: page, Fields: []Field{
			g.field(fmt.Sprintf("page_%d_summary", page), fmt.Sprintf("Continuation page %d", page), 0.9),
		}}, nil
	}
	if isInvoice(doc) {
		return g.invoice(seed), nil
	}
	return g.generic(doc.Filename), nil
}

func isInvoice(doc workflow.Document) bool {
	return strings.EqualFold(doc.DocType, "invoice") || strings.Contains(strings.ToLower(doc.Filename), "invoice")
}

type generator struct {
	rng  *rand.Rand
	page int
	y    float64
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (g *generator) confidence(base float64) float64 {
	v := round(base+g.rng.Float64()*0.1-0.05, 2)
	return math.Min(0.99, math.Max(0.65, v))
}

func (g *generator) field(key, value string, base float64) Field {
	b := &BBox{
		X: round(0.1+g.rng.Float64()*0.15, 3),
		Y: round(g.y, 3),
		W: round(0.3+g.rng.Float64()*0.25, 3),
		H: round(0.02+g.rng.Float64()*0.015, 3),
	}
	g.y += 0.04 + g.rng.Float64()*0.03
	if g.y > 0.85 {
		g.y = 0.15
	}
	return Field{Key: key, Value: value, Confidence: g.confidence(base), Page: g.page, BBox: b}
}

func (g *generator) invoice(seed uint64) PageResult {
	vendor := vendorNames[seed%uint64(len(vendorNames))]
	number := fmt.Sprintf("INV-%d", 2024000+seed%1000)
	month := 1 + g.rng.IntN(12)
	day := 1 + g.rng.IntN(28)

	count := 1 + g.rng.IntN(3)
	var subtotal float64
	fields := []Field{
		g.field("invoice_number", number, 0.97),
		g.field("invoice_date", fmt.Sprintf("2024-%02d-%02d", month, day), 0.95),
		g.field("vendor_name", vendor, 0.96),
		g.field("po_number", fmt.Sprintf("PO-%d", 50000+seed%10000), 0.91),
	}
	for i := range count {
		item := lineItems[(int(seed%1000)+i)%len(lineItems)]
		subtotal += item.unit
		fields = append(fields,
			g.field(fmt.Sprintf("line_item_%d_description", i+1), item.desc, 0.89),
			g.field(fmt.Sprintf("line_item_%d_amount", i+1), fmt.Sprintf("%.2f", item.unit), 0.92),
		)
	}
	taxRate := 0.08 + g.rng.Float64()*0.04
	tax := subtotal * taxRate
	fields = append(fields,
		g.field("subtotal", fmt.Sprintf("%.2f", subtotal), 0.94),
		g.field("tax_amount", fmt.Sprintf("%.2f", tax), 0.90),
		g.field("total_amount", fmt.Sprintf("%.2f", subtotal+tax), 0.96),
		g.field("currency", "USD", 0.98),
		g.field("payment_terms", "Net 30", 0.82),
	)
	return PageResult{
		Page:   1,
		Fields: fields,
		Text:   fmt.Sprintf("INVOICE\n%s\nInvoice #: %s\nTotal: %.2f USD", vendor, number, subtotal+tax),
	}
}

func (g *generator) generic(filename string) PageResult {
	title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	title = strings.NewReplacer("_", " ", "-", " ").Replace(title)
	return PageResult{
		Page: 1,
		Fields: []Field{
			g.field("document_title", title, 0.90),
			g.field("date", "2024-01-15", 0.85),
			g.field("author", "Document Author", 0.75),
			g.field("category", "General", 0.70),
		},
		Text: "Document: " + filename,
	}
}

// Static returns the same fields for every document. Fields are placed
// on the page that asks for them; a field with Page 0 belongs to page 1.
type Static struct {
	Fields []Field
}

var _ Provider = (*Static)(nil)

// Name implements Provider.
func (*Static) Name() string { return "static" }

// ExtractPage implements Provider.
func (s *Static) ExtractPage(ctx context.Context, _ workflow.Document, page int) (PageResult, error) {
	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}
	res := PageResult{Page: page}
	for _, f := range s.Fields {
		p := f.Page
		if p == 0 {
			p = 1
		}
		if p == page {
			f.Page = p
			res.Fields = append(res.Fields, f)
		}
	}
	return res, nil
}
