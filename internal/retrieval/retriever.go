package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnavailable marks transient retrieval failures (index locked, timeout).
// Callers surface these as retryable errors, never as refusals.
var ErrUnavailable = errors.New("retrieval unavailable")

// DefaultTimeout bounds a single search against the index.
const DefaultTimeout = 5 * time.Second

// Retriever wraps a Searcher and pins the search scope to exactly the
// requesting tenant plus the public corpus. Nothing the query says can widen
// the scope; hits from any other tenant are discarded even if the underlying
// index returns them.
type Retriever struct {
	searcher Searcher
	topK     int
	timeout  time.Duration
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithTopK overrides the default result count.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) { r.topK = k }
}

// WithTimeout overrides the per-search timeout.
func WithTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) { r.timeout = d }
}

// NewRetriever creates a scoped retriever over the given index.
func NewRetriever(searcher Searcher, opts ...RetrieverOption) *Retriever {
	r := &Retriever{searcher: searcher, topK: 6, timeout: DefaultTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve searches the tenant's own scope and the public corpus, merges the
// results by descending score, and returns at most topK hits. Zero hits is a
// valid result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query, tenant string) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scopes := []string{tenant, "public"}
	hits, err := r.searcher.Search(ctx, query, scopes, r.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	allowed := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		allowed[s] = true
	}
	filtered := hits[:0]
	for _, h := range hits {
		if allowed[h.Tenant] {
			filtered = append(filtered, h)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	if len(filtered) > r.topK {
		filtered = filtered[:r.topK]
	}
	return filtered, nil
}
