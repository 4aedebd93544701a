package embedding

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"veridano/repository"
	"veridano/resilience"
)

const (
	// maxInputRunes is the longest text sent to the provider in one call.
	// Longer content is chunked and the chunk vectors pooled.
	maxInputRunes = 8000
	chunkSize     = 2000
	chunkOverlap  = 200
	maxBatchSize  = 32
)

// Pipeline converts normalized text into document-level vectors. Content
// longer than maxInputRunes is split with a recursive character splitter,
// the chunk vectors are mean-pooled, and the pooled vector is L2-normalized.
// The strategy is fixed so re-embedding the same content is reproducible.
type Pipeline struct {
	provider Client
	store    repository.DocumentStore
	guard    *resilience.Guard
	logger   *zap.Logger
}

func NewPipeline(provider Client, store repository.DocumentStore, guard *resilience.Guard, logger *zap.Logger) *Pipeline {
	return &Pipeline{provider: provider, store: store, guard: guard, logger: logger}
}

func (p *Pipeline) Model() string { return p.provider.Model() }

// EmbedDocument returns the current embedding for doc. An unchanged content
// hash reuses the stored record without touching the provider. Provider
// failures after retry exhaustion surface as EmbeddingError; the caller
// persists the document without a current embedding.
func (p *Pipeline) EmbedDocument(ctx context.Context, doc *repository.CanonicalDocument) (*repository.EmbeddingRecord, error) {
	existing, err := p.store.GetByID(ctx, doc.Source, doc.ID)
	if err == nil && existing.ContentHash == doc.ContentHash {
		rec, gerr := p.store.GetEmbedding(ctx, doc.Source, doc.ID, p.provider.Model())
		if gerr == nil {
			p.logger.Debug("embedding cache hit",
				zap.String("document", doc.Key()),
				zap.String("model", p.provider.Model()))
			return rec, nil
		}
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	vector, err := p.Embed(ctx, doc.Content)
	if err != nil {
		return nil, err
	}
	return &repository.EmbeddingRecord{
		DocumentID: doc.ID,
		Vector:     vector,
		Model:      p.provider.Model(),
	}, nil
}

// Embed vectorizes one text, chunking when it exceeds the provider input
// limit.
func (p *Pipeline) Embed(ctx context.Context, text string) ([]float32, error) {
	chunks, err := p.split(text)
	if err != nil {
		return nil, &repository.EmbeddingError{Model: p.provider.Model(), Err: err}
	}
	if len(chunks) == 0 {
		return nil, &repository.EmbeddingError{Model: p.provider.Model(), Err: errors.New("empty text")}
	}

	vectors := make([][]float32, 0, len(chunks))
	for i := 0; i < len(chunks); i += maxBatchSize {
		end := min(i+maxBatchSize, len(chunks))
		batch := chunks[i:end]
		got, err := resilience.Call(ctx, p.guard, func(ctx context.Context) ([][]float32, error) {
			return p.provider.GetEmbeddings(ctx, batch)
		})
		if err != nil {
			return nil, &repository.EmbeddingError{Model: p.provider.Model(), Err: err}
		}
		vectors = append(vectors, got...)
	}
	return meanPool(vectors), nil
}

func (p *Pipeline) split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if len([]rune(text)) <= maxInputRunes {
		return []string{text}, nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " "}),
	)
	return splitter.SplitText(text)
}

// meanPool averages chunk vectors element-wise and L2-normalizes the result.
func meanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}
	dim := len(vectors[0])
	pooled := make([]float64, dim)
	for _, vec := range vectors {
		for i, v := range vec {
			pooled[i] += float64(v)
		}
	}
	var norm float64
	for i := range pooled {
		pooled[i] /= float64(len(vectors))
		norm += pooled[i] * pooled[i]
	}
	norm = math.Sqrt(norm)
	out := make([]float32, dim)
	for i := range pooled {
		if norm > 0 {
			out[i] = float32(pooled[i] / norm)
		}
	}
	return out
}
