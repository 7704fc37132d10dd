// Package extraction defines the OCR collaborator the extract step calls
// and the record it produces. The engine never performs OCR itself; a
// Provider does, one page at a time.
package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/workflow"
)

// ErrNotFound is returned by Store.LatestExtraction when a document has
// not been extracted yet.
var ErrNotFound = errors.New("extraction: not found")

// BBox is a field's location on the page in normalized coordinates.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Field is one extracted key/value pair.
type Field struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Page       int     `json:"page"`
	BBox       *BBox   `json:"bbox,omitempty"`
}

// Extraction is the stored result of extracting one document.
type Extraction struct {
	ID         id.ID     `json:"id"`
	DocumentID string    `json:"documentId"`
	OrgID      string    `json:"orgId"`
	Provider   string    `json:"provider"`
	Fields     []Field   `json:"fields"`
	Text       string    `json:"text,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MinConfidence returns the lowest field confidence, or 0 when there are
// no fields.
func (e *Extraction) MinConfidence() float64 {
	if len(e.Fields) == 0 {
		return 0
	}
	lowest := e.Fields[0].Confidence
	for _, f := range e.Fields[1:] {
		if f.Confidence < lowest {
			lowest = f.Confidence
		}
	}
	return lowest
}

// Field returns the first field with the given key.
func (e *Extraction) Field(key string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Values returns the fields as a key to value map.
func (e *Extraction) Values() map[string]any {
	out := make(map[string]any, len(e.Fields))
	for _, f := range e.Fields {
		out[f.Key] = f.Value
	}
	return out
}

// PageResult is what a provider returns for one page.
type PageResult struct {
	Page   int
	Fields []Field
	Text   string
}

// Provider extracts fields from one page of a document.
type Provider interface {
	Name() string
	ExtractPage(ctx context.Context, doc workflow.Document, page int) (PageResult, error)
}

// Store persists extractions.
type Store interface {
	// LatestExtraction returns the newest extraction of a document, or
	// an error wrapping ErrNotFound.
	LatestExtraction(ctx context.Context, documentID string) (*Extraction, error)
	SaveExtraction(ctx context.Context, e *Extraction) error
}
