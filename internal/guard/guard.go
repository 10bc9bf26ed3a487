// Package guard re-checks access on retrieved chunks and masks PII before
// anything reaches a prompt.
//
// The retriever already scopes its search, but the guard does not trust it:
// every hit is re-checked against the access table, and a document missing
// from the table is dropped. Text that survives is redacted in place. Hit
// order is preserved so citation numbering stays stable.
package guard

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	wardenotel "github.com/wardenhq/warden/internal/otel"
	"github.com/wardenhq/warden/internal/retrieval"
)

var tracer = wardenotel.Tracer("github.com/wardenhq/warden/internal/guard")

// AccessChecker answers whether a tenant may read a document. Implementations
// must default to deny when the document is unknown.
type AccessChecker interface {
	Allowed(docID, tenant string) bool
}

// Masker redacts PII spans in text.
type Masker interface {
	Apply(ctx context.Context, text string) (string, int)
}

// Result is the outcome of guarding one retrieval batch.
type Result struct {
	Hits       []retrieval.Hit // surviving hits with redacted text, original order
	Dropped    int             // hits removed by the access re-check
	DroppedAll bool            // true when input was non-empty but nothing survived
	Redactions int             // total PII spans masked across surviving hits
}

// Guard filters and masks retrieval hits.
type Guard struct {
	access AccessChecker
	masker Masker
}

// New creates a Guard over the given access table and redactor.
func New(access AccessChecker, masker Masker) *Guard {
	return &Guard{access: access, masker: masker}
}

// Apply re-checks access for each hit and redacts the text of those that
// survive. DroppedAll distinguishes "everything was forbidden" from "the
// index had nothing": callers must refuse on the former and may proceed on
// the latter.
func (g *Guard) Apply(ctx context.Context, tenant string, hits []retrieval.Hit) Result {
	ctx, span := tracer.Start(ctx, "guard.apply")
	defer span.End()

	result := Result{}
	for _, h := range hits {
		if !g.access.Allowed(h.DocID, tenant) {
			result.Dropped++
			continue
		}
		masked, n := g.masker.Apply(ctx, h.Text)
		h.Text = masked
		result.Redactions += n
		result.Hits = append(result.Hits, h)
	}
	result.DroppedAll = len(hits) > 0 && len(result.Hits) == 0

	span.SetAttributes(
		attribute.Int("guard.input_count", len(hits)),
		attribute.Int("guard.dropped_count", result.Dropped),
		attribute.Int("guard.redaction_count", result.Redactions),
		attribute.Bool("guard.dropped_all", result.DroppedAll),
	)
	return result
}
