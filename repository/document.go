package repository

import (
	"time"
)

// CanonicalDocument is the normalized representation of one piece of
// intelligence content. ID is stable and unique within a source namespace;
// re-ingesting the same source document updates the existing record.
type CanonicalDocument struct {
	ID            string            `json:"id"`
	Source        string            `json:"source"`
	Title         string            `json:"title"`
	Content       string            `json:"content"`
	DocumentType  string            `json:"document_type"`
	Category      string            `json:"category"`
	PublishedDate *time.Time        `json:"published_date,omitempty"`
	URL           string            `json:"url"`
	ContentHash   string            `json:"content_hash"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Key returns the storage key for a document, unique across sources.
func (d *CanonicalDocument) Key() string {
	return d.Source + "/" + d.ID
}

// EmbeddingRecord holds the document-level vector for one embedding model.
// A document has at most one current record per model; records from retired
// models are excluded from queries by default.
type EmbeddingRecord struct {
	DocumentID string    `json:"document_id"`
	Vector     []float32 `json:"vector"`
	Model      string    `json:"model"`
}

// ScoredDocument pairs a document with its similarity score in [0,1].
type ScoredDocument struct {
	Document CanonicalDocument `json:"document"`
	Score    float32           `json:"score"`
}
