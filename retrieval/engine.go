package retrieval

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"veridano/repository"
	"veridano/source"
)

const (
	DefaultMinScore     = 0.6
	DefaultTopK         = 5
	MaxTopK             = 50
	MinQueryLength      = 3
	DefaultCorrelation  = 0.8
	defaultKeywordLimit = 20

	summaryScanLimit   = 200
	summaryLatestLimit = 5
)

// Embedder vectorizes query text. The embedding pipeline satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache holds query results between identical calls.
type Cache interface {
	Key(params any) string
	Get(key string) (any, bool)
	Set(key string, value any)
}

// SearchOptions narrows a semantic search. Zero values take defaults.
type SearchOptions struct {
	TopK           int
	MinScore       *float32
	Sources        []string
	PublishedAfter *time.Time
}

// CorrelateOptions tunes cross-source correlation.
type CorrelateOptions struct {
	Sources        []string
	PublishedAfter *time.Time
	Threshold      *float32
}

// IndicatorGroup holds the matches for one input indicator with their
// per-indicator scores preserved.
type IndicatorGroup struct {
	Indicator string                      `json:"indicator"`
	Matches   []repository.ScoredDocument `json:"matches"`
}

// Engine answers semantic, keyword, and correlation queries against the
// document store. It is stateless and safe for concurrent use.
type Engine struct {
	store    repository.DocumentStore
	embedder Embedder
	cache    Cache
	logger   *zap.Logger
}

func NewEngine(store repository.DocumentStore, embedder Embedder, cache Cache, logger *zap.Logger) *Engine {
	return &Engine{store: store, embedder: embedder, cache: cache, logger: logger}
}

type searchKey struct {
	Kind     string     `json:"kind"`
	Query    string     `json:"query"`
	TopK     int        `json:"top_k"`
	MinScore float32    `json:"min_score"`
	Sources  []string   `json:"sources,omitempty"`
	After    *time.Time `json:"after,omitempty"`
}

// Search expands the query, embeds it, and runs a filtered similarity
// search. Sub-minimum-length queries fail fast with ErrInvalidQuery before
// any external call.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]repository.ScoredDocument, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinQueryLength {
		return nil, repository.ErrInvalidQuery
	}
	if err := validateSources(opts.Sources); err != nil {
		return nil, err
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	minScore := float32(DefaultMinScore)
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	expanded := ExpandQuery(query)
	key := ""
	if e.cache != nil {
		key = e.cache.Key(searchKey{
			Kind: "semantic", Query: expanded, TopK: topK,
			MinScore: minScore, Sources: opts.Sources, After: opts.PublishedAfter,
		})
		if cached, ok := e.cache.Get(key); ok {
			if results, ok := cached.([]repository.ScoredDocument); ok {
				return results, nil
			}
		}
	}

	vector, err := e.embedder.Embed(ctx, expanded)
	if err != nil {
		return nil, err
	}
	results, err := e.store.SimilaritySearch(ctx, vector, repository.SearchFilter{
		Sources:        opts.Sources,
		MinScore:       minScore,
		PublishedAfter: opts.PublishedAfter,
	}, topK)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, results)
	}
	e.logger.Debug("semantic search",
		zap.String("query", query),
		zap.String("expanded", expanded),
		zap.Int("results", len(results)))
	return results, nil
}

// SourceSearch restricts a search to one source.
func (e *Engine) SourceSearch(ctx context.Context, query, src string, limit int) ([]repository.ScoredDocument, error) {
	if _, err := source.Parse(src); err != nil {
		return nil, err
	}
	return e.Search(ctx, query, SearchOptions{TopK: limit, Sources: []string{src}})
}

// KeywordSearch matches stemmed terms without ranking beyond recency.
func (e *Engine) KeywordSearch(ctx context.Context, query string, opts SearchOptions) ([]repository.CanonicalDocument, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinQueryLength {
		return nil, repository.ErrInvalidQuery
	}
	if err := validateSources(opts.Sources); err != nil {
		return nil, err
	}
	limit := opts.TopK
	if limit <= 0 {
		limit = defaultKeywordLimit
	}
	return e.store.KeywordSearch(ctx, query, repository.SearchFilter{
		Sources:        opts.Sources,
		PublishedAfter: opts.PublishedAfter,
	}, limit)
}

// Correlate issues one similarity query per indicator and groups results
// above the correlation threshold by indicator. Provenance is preserved:
// a document matching two indicators appears in both groups with its
// per-indicator score. Indicators with no matches produce no group.
func (e *Engine) Correlate(ctx context.Context, indicators []string, opts CorrelateOptions) ([]IndicatorGroup, error) {
	if len(indicators) == 0 {
		return nil, repository.ErrInvalidQuery
	}
	if err := validateSources(opts.Sources); err != nil {
		return nil, err
	}
	threshold := float32(DefaultCorrelation)
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	groups := make([]IndicatorGroup, 0, len(indicators))
	for _, indicator := range indicators {
		indicator = strings.TrimSpace(indicator)
		if indicator == "" {
			continue
		}
		vector, err := e.embedder.Embed(ctx, indicator)
		if err != nil {
			return nil, err
		}
		matches, err := e.store.SimilaritySearch(ctx, vector, repository.SearchFilter{
			Sources:        opts.Sources,
			MinScore:       threshold,
			PublishedAfter: opts.PublishedAfter,
		}, MaxTopK)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			continue
		}
		groups = append(groups, IndicatorGroup{Indicator: indicator, Matches: matches})
	}
	return groups, nil
}

// SourceActivity summarizes one source's output inside a time window.
type SourceActivity struct {
	Source        string                         `json:"source"`
	DocumentCount int                            `json:"document_count"`
	Latest        []repository.CanonicalDocument `json:"latest"`
}

// Summary reports per-source activity since publishedAfter: how many
// documents each source published in the window and the most recent few.
// Sources with no documents in the window produce no entry.
func (e *Engine) Summary(ctx context.Context, publishedAfter *time.Time, sources []string) ([]SourceActivity, error) {
	if err := validateSources(sources); err != nil {
		return nil, err
	}
	scope := sources
	if len(scope) == 0 {
		scope = make([]string, 0, len(source.All))
		for _, src := range source.All {
			scope = append(scope, string(src))
		}
	}

	activity := make([]SourceActivity, 0, len(scope))
	for _, src := range scope {
		docs, err := e.store.GetBySource(ctx, src, summaryScanLimit)
		if err != nil {
			return nil, err
		}
		var kept []repository.CanonicalDocument
		for _, doc := range docs {
			if publishedAfter != nil && (doc.PublishedDate == nil || doc.PublishedDate.Before(*publishedAfter)) {
				continue
			}
			kept = append(kept, doc)
		}
		if len(kept) == 0 {
			continue
		}
		latest := kept
		if len(latest) > summaryLatestLimit {
			latest = latest[:summaryLatestLimit]
		}
		activity = append(activity, SourceActivity{
			Source:        src,
			DocumentCount: len(kept),
			Latest:        latest,
		})
	}
	return activity, nil
}

func validateSources(sources []string) error {
	for _, src := range sources {
		if !source.Valid(src) {
			return repository.ErrInvalidSource
		}
	}
	return nil
}
