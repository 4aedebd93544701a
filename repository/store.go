package repository

import (
	"context"
	"sort"
	"time"
)

// SearchFilter narrows similarity and keyword queries. Zero values mean
// "no constraint".
type SearchFilter struct {
	Sources        []string
	MinScore       float32
	PublishedAfter *time.Time
}

// DocumentStore owns persisted canonical documents, their embeddings, and
// the ingestion run audit trail. Reads observe only committed documents;
// concurrent upserts to the same document key serialize with
// last-committed-wins on conflicting fields.
type DocumentStore interface {
	// Upsert writes a document and, when non-nil, its current embedding as
	// one atomic unit. A nil embedding with an unchanged content hash keeps
	// the prior embedding; a nil embedding with a changed hash leaves the
	// document without a current embedding (excluded from similarity search).
	Upsert(ctx context.Context, doc CanonicalDocument, emb *EmbeddingRecord) error

	// GetEmbedding returns the current embedding for a document under the
	// given model, or ErrNotFound.
	GetEmbedding(ctx context.Context, source, id, model string) (*EmbeddingRecord, error)

	// SimilaritySearch returns up to topK documents ordered by score
	// descending; ties break by more recent published date, then id
	// ascending. Scores are in [0,1] and never below filter.MinScore.
	SimilaritySearch(ctx context.Context, vector []float32, filter SearchFilter, topK int) ([]ScoredDocument, error)

	// KeywordSearch matches stemmed query terms against document text.
	// Results are ordered by published date descending, then id ascending.
	KeywordSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]CanonicalDocument, error)

	GetByID(ctx context.Context, source, id string) (*CanonicalDocument, error)
	GetBySource(ctx context.Context, source string, limit int) ([]CanonicalDocument, error)

	// PutRun records or updates an ingestion run audit record.
	PutRun(ctx context.Context, run IngestionRun) error
	// GetRuns returns runs for one source, most recent first. An empty
	// source returns runs across all sources.
	GetRuns(ctx context.Context, source string, limit int) ([]IngestionRun, error)
}

// SortScored orders results by score descending, breaking ties by more
// recent published date and then by id ascending for determinism.
func SortScored(results []ScoredDocument) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		pi, pj := results[i].Document.PublishedDate, results[j].Document.PublishedDate
		switch {
		case pi != nil && pj != nil && !pi.Equal(*pj):
			return pi.After(*pj)
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return results[i].Document.ID < results[j].Document.ID
	})
}

// SortByPublished orders documents newest first, ties by id ascending.
func SortByPublished(docs []CanonicalDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		pi, pj := docs[i].PublishedDate, docs[j].PublishedDate
		switch {
		case pi != nil && pj != nil && !pi.Equal(*pj):
			return pi.After(*pj)
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return docs[i].ID < docs[j].ID
	})
}
