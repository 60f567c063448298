package search

import (
	"context"
	"errors"
)

// Backend failure modes the pipeline maps to distinct user-facing
// messages.
var (
	// ErrNotProvisioned means the documentation corpus for this tenant
	// does not exist on the backend.
	ErrNotProvisioned = errors.New("documentation corpus not provisioned")
	// ErrIndexing means the corpus exists but its index is still being
	// built; the query may succeed later.
	ErrIndexing = errors.New("documentation corpus still indexing")
)

// Options tune a single query. The two registered tools use fixed
// presets: broad recall (high limit, low threshold, query rewriting on)
// versus precise example lookup (low limit, high threshold, rewriting
// off).
type Options struct {
	// ResultLimit caps how many passages the backend considers when
	// composing the answer.
	ResultLimit int
	// RelevanceThreshold drops passages scoring below it, 0..1.
	RelevanceThreshold float64
	// Rewrite lets the backend expand or rephrase the query before
	// retrieval.
	Rewrite bool
}

// Source identifies a document passage that contributed to an answer.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Answer is the backend's composed response for one query.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources,omitempty"`
}

// Querier answers documentation queries. Implementations must honor
// context cancellation.
type Querier interface {
	Query(ctx context.Context, text string, opts Options) (*Answer, error)
}
