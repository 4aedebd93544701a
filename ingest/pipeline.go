package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"veridano/embedding"
	"veridano/normalize"
	"veridano/pkg/blobstore"
	"veridano/repository"
	"veridano/resilience"
	"veridano/source"
)

// ErrRunInProgress means another invocation holds the source lease.
var ErrRunInProgress = errors.New("ingestion already in progress for source")

const (
	defaultWorkers    = 4
	defaultMaxDocs    = 100
	defaultBackfill   = 7 * 24 * time.Hour
	recentWindowLimit = 200
)

// Pipeline drives one source through fetch, raw archive, normalize, dedup,
// embed, and upsert. Per-document failures are counted and skipped; they
// never abort the batch.
type Pipeline struct {
	adapters     map[source.Source]source.Adapter
	standardizer *normalize.Standardizer
	dedup        *normalize.Deduplicator
	embedder     *embedding.Pipeline
	store        repository.DocumentStore
	blobs        *blobstore.Store
	leases       *LeaseManager
	guards       map[source.Source]*resilience.Guard
	guardCfg     resilience.GuardConfig
	workers      int
	maxDocs      int
	logger       *zap.Logger

	mu sync.Mutex
}

type PipelineConfig struct {
	Workers      int
	MaxDocuments int
	Guard        resilience.GuardConfig
}

func NewPipeline(
	adapters map[source.Source]source.Adapter,
	store repository.DocumentStore,
	blobs *blobstore.Store,
	leases *LeaseManager,
	embedder *embedding.Pipeline,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	maxDocs := cfg.MaxDocuments
	if maxDocs <= 0 {
		maxDocs = defaultMaxDocs
	}
	return &Pipeline{
		adapters:     adapters,
		standardizer: normalize.NewStandardizer(),
		dedup:        normalize.NewDeduplicator(),
		embedder:     embedder,
		store:        store,
		blobs:        blobs,
		leases:       leases,
		guards:       make(map[source.Source]*resilience.Guard),
		guardCfg:     cfg.Guard,
		workers:      workers,
		maxDocs:      maxDocs,
		logger:       logger,
	}
}

func (p *Pipeline) guard(src source.Source) *resilience.Guard {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.guards[src]
	if !ok {
		g = resilience.NewGuard("source:"+string(src), p.guardCfg, p.logger)
		p.guards[src] = g
	}
	return g
}

// Run executes one ingestion run for a source and returns its audit record.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (*repository.IngestionRun, error) {
	adapter, ok := p.adapters[src]
	if !ok {
		return nil, repository.ErrInvalidSource
	}

	acquired, err := p.leases.Acquire(string(src))
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := p.leases.Release(string(src)); err != nil {
			p.logger.Warn("lease release failed", zap.String("source", string(src)), zap.Error(err))
		}
	}()

	run := repository.IngestionRun{
		ID:        uuid.NewString(),
		Source:    string(src),
		StartedAt: time.Now().UTC(),
		Status:    repository.RunRunning,
	}
	if err := p.store.PutRun(ctx, run); err != nil {
		return nil, err
	}

	since := p.lastWindowStart(ctx, src)
	raws, fetchErr := resilience.Call(ctx, p.guard(src), func(ctx context.Context) ([]source.RawDocument, error) {
		return adapter.FetchRecent(ctx, since, p.maxDocs)
	})
	if fetchErr != nil && len(raws) == 0 {
		run.ErrorCount++
		run.Finish(time.Now().UTC())
		_ = p.store.PutRun(ctx, run)
		p.logger.Error("ingestion fetch failed",
			zap.String("source", string(src)), zap.Error(fetchErr))
		return &run, fetchErr
	}
	if fetchErr != nil {
		// Partial page set; process what arrived, record the error.
		run.ErrorCount++
	}

	recent := p.recentIndex(ctx, src)

	var (
		counters  sync.Mutex
		processed int
		failed    int
	)
	jobs := make(chan source.RawDocument)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range jobs {
				ok := p.processOne(ctx, src, raw, recent)
				counters.Lock()
				if ok {
					processed++
				} else {
					failed++
				}
				counters.Unlock()
			}
		}()
	}

feed:
	for _, raw := range raws {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- raw:
		}
	}
	close(jobs)
	wg.Wait()

	run.ProcessedCount = processed
	run.ErrorCount += failed
	run.Finish(time.Now().UTC())
	if err := p.store.PutRun(ctx, run); err != nil {
		return &run, err
	}
	p.logger.Info("ingestion run finished",
		zap.String("source", string(src)),
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.ProcessedCount),
		zap.Int("errors", run.ErrorCount))
	return &run, nil
}

// processOne handles a single raw document. It returns false when the
// document was rejected or failed to persist. Embedding degradation still
// counts as success for processing but records an error upstream via logs.
func (p *Pipeline) processOne(ctx context.Context, src source.Source, raw source.RawDocument, recent *recentIndex) bool {
	if raw.ID != "" {
		if data, err := json.Marshal(raw); err == nil {
			if err := p.blobs.Put(string(src)+"/"+raw.ID, data); err != nil {
				p.logger.Warn("raw archive write failed",
					zap.String("source", string(src)), zap.String("id", raw.ID), zap.Error(err))
			}
		}
	}

	doc, err := p.standardizer.Normalize(raw, src)
	if err != nil {
		p.logger.Warn("document rejected",
			zap.String("source", string(src)), zap.String("id", raw.ID), zap.Error(err))
		return false
	}

	if existing := recent.match(p.dedup, &doc); existing != nil {
		if existing.ContentHash == doc.ContentHash {
			// Pure duplicate: fold newer metadata and url into the
			// existing record, keep its embedding.
			p.dedup.Merge(existing, &doc)
			if err := p.store.Upsert(ctx, *existing, nil); err != nil {
				p.logger.Error("duplicate merge failed",
					zap.String("document", existing.Key()), zap.Error(err))
				return false
			}
			return true
		}
		// Same document, changed content: fall through and re-embed under
		// the existing identifier.
		doc.ID = existing.ID
	}

	emb, embErr := p.embedder.EmbedDocument(ctx, &doc)
	if embErr != nil {
		var embeddingErr *repository.EmbeddingError
		if !errors.As(embErr, &embeddingErr) {
			p.logger.Error("embedding lookup failed", zap.String("document", doc.Key()), zap.Error(embErr))
			return false
		}
		// Provider exhausted: persist without a current embedding so the
		// document stays reachable by keyword and filtered lookups.
		p.logger.Warn("document persisted without embedding",
			zap.String("document", doc.Key()), zap.Error(embErr))
		emb = nil
	}

	if err := p.store.Upsert(ctx, doc, emb); err != nil {
		p.logger.Error("upsert failed", zap.String("document", doc.Key()), zap.Error(err))
		return false
	}
	recent.add(&doc)
	return true
}

// lastWindowStart picks the incremental window: the start of the last
// successful run, else a fixed backfill horizon.
func (p *Pipeline) lastWindowStart(ctx context.Context, src source.Source) time.Time {
	runs, err := p.store.GetRuns(ctx, string(src), 10)
	if err == nil {
		for _, run := range runs {
			if run.Status == repository.RunSucceeded || run.Status == repository.RunPartial {
				return run.StartedAt
			}
		}
	}
	return time.Now().UTC().Add(-defaultBackfill)
}

// recentIndex caches a bounded window of the source's stored documents for
// duplicate checks without a store round trip per candidate.
type recentIndex struct {
	mu     sync.Mutex
	byID   map[string]*repository.CanonicalDocument
	byHash map[string]*repository.CanonicalDocument
	bySig  map[string]*repository.CanonicalDocument
}

func (p *Pipeline) recentIndex(ctx context.Context, src source.Source) *recentIndex {
	idx := &recentIndex{
		byID:   make(map[string]*repository.CanonicalDocument),
		byHash: make(map[string]*repository.CanonicalDocument),
		bySig:  make(map[string]*repository.CanonicalDocument),
	}
	docs, err := p.store.GetBySource(ctx, string(src), recentWindowLimit)
	if err != nil {
		p.logger.Warn("recent window load failed", zap.String("source", string(src)), zap.Error(err))
		return idx
	}
	for i := range docs {
		idx.add(&docs[i])
	}
	return idx
}

func (idx *recentIndex) add(doc *repository.CanonicalDocument) {
	copied := *doc
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byID[copied.ID] = &copied
	if copied.ContentHash != "" {
		idx.byHash[copied.ContentHash] = &copied
	}
	if copied.Content != "" {
		idx.bySig[normalize.Signature(copied.Content)] = &copied
	}
}

// match returns the stored document the candidate duplicates, or nil.
func (idx *recentIndex) match(d *normalize.Deduplicator, candidate *repository.CanonicalDocument) *repository.CanonicalDocument {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, existing := range []*repository.CanonicalDocument{
		idx.byID[candidate.ID],
		idx.byHash[candidate.ContentHash],
		idx.bySig[normalize.Signature(candidate.Content)],
	} {
		if existing != nil && d.IsDuplicate(candidate, existing) {
			out := *existing
			return &out
		}
	}
	return nil
}
