package source

import (
	"context"
	"time"
)

// RawDocument is the adapter-local shape of one fetched document before
// normalization. ID must be stable within the source namespace.
type RawDocument struct {
	ID            string
	Title         string
	Content       string
	URL           string
	PublishedDate *time.Time
	TypeHint      string
	Metadata      map[string]string
}

// Adapter fetches recent documents from one external source. Implementations
// own pagination and content retrieval for their source family and must be
// idempotent: overlapping windows may return the same documents twice,
// deduplication happens downstream. A single document failure is skipped and
// must not abort the batch. Adapters never write to the document store.
type Adapter interface {
	Source() Source
	FetchRecent(ctx context.Context, since time.Time, maxDocuments int) ([]RawDocument, error)
}
