package repository

import (
	"context"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/kljensen/snowball"
)

// MemStore is an in-memory DocumentStore. It backs tests and small
// single-node deployments that run without a vector database.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]CanonicalDocument
	// embeddings keyed by document key, then model.
	embeddings map[string]map[string]EmbeddingRecord
	runs       []IngestionRun
	model      string
}

// NewMemStore creates an empty store. Similarity search considers only
// embeddings written under the given active model.
func NewMemStore(model string) *MemStore {
	return &MemStore{
		docs:       make(map[string]CanonicalDocument),
		embeddings: make(map[string]map[string]EmbeddingRecord),
		model:      model,
	}
}

func (s *MemStore) Upsert(_ context.Context, doc CanonicalDocument, emb *EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := doc.Key()
	prev, existed := s.docs[key]
	s.docs[key] = doc

	if emb != nil {
		byModel := s.embeddings[key]
		if byModel == nil {
			byModel = make(map[string]EmbeddingRecord)
			s.embeddings[key] = byModel
		}
		byModel[emb.Model] = *emb
		return nil
	}

	// No embedding supplied: a changed content hash invalidates the
	// current one so the document drops out of similarity search.
	if existed && prev.ContentHash != doc.ContentHash {
		delete(s.embeddings[key], s.model)
	}
	return nil
}

func (s *MemStore) GetEmbedding(_ context.Context, source, id, model string) (*EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.embeddings[source+"/"+id][model]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *MemStore) SimilaritySearch(_ context.Context, vector []float32, filter SearchFilter, topK int) ([]ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		topK = 5
	}
	var results []ScoredDocument
	for key, doc := range s.docs {
		if !matchesFilter(&doc, filter) {
			continue
		}
		rec, ok := s.embeddings[key][s.model]
		if !ok {
			continue
		}
		score := cosine(vector, rec.Vector)
		if score < 0 {
			score = 0
		}
		if score < filter.MinScore {
			continue
		}
		results = append(results, ScoredDocument{Document: doc, Score: score})
	}
	SortScored(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemStore) KeywordSearch(_ context.Context, query string, filter SearchFilter, limit int) ([]CanonicalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := stemTokens(query)
	if len(terms) == 0 {
		return nil, nil
	}
	var docs []CanonicalDocument
	for _, doc := range s.docs {
		if !matchesFilter(&doc, filter) {
			continue
		}
		stems := stemSet(doc.Title + " " + doc.Content)
		for _, term := range terms {
			if _, ok := stems[term]; ok {
				docs = append(docs, doc)
				break
			}
		}
	}
	SortByPublished(docs)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *MemStore) GetByID(_ context.Context, source, id string) (*CanonicalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[source+"/"+id]
	if !ok {
		return nil, ErrNotFound
	}
	out := doc
	return &out, nil
}

func (s *MemStore) GetBySource(_ context.Context, source string, limit int) ([]CanonicalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []CanonicalDocument
	for _, doc := range s.docs {
		if doc.Source == source {
			docs = append(docs, doc)
		}
	}
	SortByPublished(docs)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *MemStore) PutRun(_ context.Context, run IngestionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemStore) GetRuns(_ context.Context, source string, limit int) ([]IngestionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []IngestionRun
	for i := len(s.runs) - 1; i >= 0; i-- {
		if source != "" && s.runs[i].Source != source {
			continue
		}
		runs = append(runs, s.runs[i])
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	return runs, nil
}

func matchesFilter(doc *CanonicalDocument, filter SearchFilter) bool {
	if len(filter.Sources) > 0 {
		found := false
		for _, src := range filter.Sources {
			if doc.Source == src {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.PublishedAfter != nil {
		if doc.PublishedDate == nil || doc.PublishedDate.Before(*filter.PublishedAfter) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func stemTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-' && r != '.'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		stemmed, err := snowball.Stem(f, "english", true)
		if err != nil || stemmed == "" {
			out = append(out, f)
			continue
		}
		out = append(out, stemmed)
	}
	return out
}

func stemSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range stemTokens(text) {
		set[t] = struct{}{}
	}
	return set
}

var _ DocumentStore = (*MemStore)(nil)
