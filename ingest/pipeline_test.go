package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veridano/embedding"
	"veridano/pkg/blobstore"
	"veridano/repository"
	"veridano/resilience"
	"veridano/source"
)

const testModel = "test-model"

type stubAdapter struct {
	src  source.Source
	docs []source.RawDocument
	err  error
}

func (a *stubAdapter) Source() source.Source { return a.src }

func (a *stubAdapter) FetchRecent(ctx context.Context, since time.Time, maxDocuments int) ([]source.RawDocument, error) {
	return a.docs, a.err
}

type stubEmbedClient struct {
	err   error
	calls int
}

func (c *stubEmbedClient) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (c *stubEmbedClient) Model() string  { return testModel }
func (c *stubEmbedClient) Dimension() int { return 2 }

type fixture struct {
	pipeline *Pipeline
	store    *repository.MemStore
	blobs    *blobstore.Store
	client   *stubEmbedClient
}

func newFixture(t *testing.T, adapter *stubAdapter, client *stubEmbedClient) *fixture {
	t.Helper()
	db, err := blobstore.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	blobs, err := blobstore.New(db)
	require.NoError(t, err)
	leases, err := NewLeaseManager(db, time.Minute)
	require.NoError(t, err)

	store := repository.NewMemStore(testModel)
	guardCfg := resilience.GuardConfig{RatePerSecond: 1000, Burst: 1000, MaxAttempts: 1, Timeout: time.Second}
	embedder := embedding.NewPipeline(client, store, resilience.NewGuard("embed", guardCfg, zap.NewNop()), zap.NewNop())

	p := NewPipeline(
		map[source.Source]source.Adapter{adapter.src: adapter},
		store, blobs, leases, embedder,
		PipelineConfig{Workers: 2, MaxDocuments: 100, Guard: guardCfg},
		zap.NewNop(),
	)
	return &fixture{pipeline: p, store: store, blobs: blobs, client: client}
}

func rawDoc(id, content string) source.RawDocument {
	published := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return source.RawDocument{
		ID: id, Title: "Advisory " + id, Content: content,
		URL: "https://example.gov/" + id, PublishedDate: &published,
		TypeHint: "advisory",
	}
}

func TestRunPartialOnRejectedDocument(t *testing.T) {
	adapter := &stubAdapter{src: source.CISA, docs: []source.RawDocument{
		rawDoc("AA25-1", "first advisory body"),
		rawDoc("AA25-2", "second advisory body"),
		rawDoc("AA25-3", "third advisory body"),
		rawDoc("AA25-4", "fourth advisory body"),
		{Title: "no identifier", Content: "rejected"},
	}}
	f := newFixture(t, adapter, &stubEmbedClient{})

	run, err := f.pipeline.Run(context.Background(), source.CISA)
	require.NoError(t, err)
	assert.Equal(t, repository.RunPartial, run.Status)
	assert.Equal(t, 4, run.ProcessedCount)
	assert.Equal(t, 1, run.ErrorCount)

	docs, err := f.store.GetBySource(context.Background(), "CISA", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 4)

	// Raw payloads are archived before normalization.
	_, err = f.blobs.Get("CISA/AA25-1")
	assert.NoError(t, err)

	runs, err := f.store.GetRuns(context.Background(), "CISA", 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, repository.RunPartial, runs[0].Status)
}

func TestRunSucceeds(t *testing.T) {
	adapter := &stubAdapter{src: source.NVD, docs: []source.RawDocument{
		rawDoc("CVE-2025-1", "heap overflow in parser"),
		rawDoc("CVE-2025-2", "auth bypass in gateway"),
	}}
	f := newFixture(t, adapter, &stubEmbedClient{})

	run, err := f.pipeline.Run(context.Background(), source.NVD)
	require.NoError(t, err)
	assert.Equal(t, repository.RunSucceeded, run.Status)
	assert.Equal(t, 2, run.ProcessedCount)
	assert.Zero(t, run.ErrorCount)
}

func TestRunTotalFetchFailure(t *testing.T) {
	fetchErr := errors.New("upstream unreachable")
	adapter := &stubAdapter{src: source.FBI, err: fetchErr}
	f := newFixture(t, adapter, &stubEmbedClient{})

	run, err := f.pipeline.Run(context.Background(), source.FBI)
	require.ErrorIs(t, err, fetchErr)
	require.NotNil(t, run)
	assert.Equal(t, repository.RunFailed, run.Status)
	assert.Zero(t, run.ProcessedCount)

	// The lease is released, so the next run can start immediately.
	_, err = f.pipeline.Run(context.Background(), source.FBI)
	assert.ErrorIs(t, err, fetchErr)
}

func TestRunUnknownSource(t *testing.T) {
	f := newFixture(t, &stubAdapter{src: source.CISA}, &stubEmbedClient{})

	_, err := f.pipeline.Run(context.Background(), source.NSA)
	assert.ErrorIs(t, err, repository.ErrInvalidSource)
}

func TestRunDuplicateMergesMetadata(t *testing.T) {
	first := rawDoc("AA25-9", "stable advisory content")
	f := newFixture(t, &stubAdapter{src: source.CISA, docs: []source.RawDocument{first}}, &stubEmbedClient{})
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, source.CISA)
	require.NoError(t, err)
	callsAfterFirst := f.client.calls

	// Same content re-fetched with richer metadata: merged, not re-embedded.
	second := first
	second.Metadata = map[string]string{"severity": "CRITICAL"}
	f.pipeline.adapters[source.CISA] = &stubAdapter{src: source.CISA, docs: []source.RawDocument{second}}

	run, err := f.pipeline.Run(ctx, source.CISA)
	require.NoError(t, err)
	assert.Equal(t, repository.RunSucceeded, run.Status)
	assert.Equal(t, callsAfterFirst, f.client.calls)

	docs, err := f.store.GetBySource(ctx, "CISA", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "CRITICAL", docs[0].Metadata["severity"])

	_, err = f.store.GetEmbedding(ctx, "CISA", "AA25-9", testModel)
	assert.NoError(t, err, "embedding survives a duplicate merge")
}

func TestRunKeepsDistinctTitleOnlyDocuments(t *testing.T) {
	published := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	adapter := &stubAdapter{src: source.FBI, docs: []source.RawDocument{
		{ID: "press-1", Title: "FBI warns of scheme A", URL: "https://fbi.gov/1", PublishedDate: &published, TypeHint: "press_release"},
		{ID: "press-2", Title: "FBI indicts group B", URL: "https://fbi.gov/2", PublishedDate: &published, TypeHint: "press_release"},
	}}
	f := newFixture(t, adapter, &stubEmbedClient{})
	ctx := context.Background()

	run, err := f.pipeline.Run(ctx, source.FBI)
	require.NoError(t, err)
	assert.Equal(t, 2, run.ProcessedCount)

	docs, err := f.store.GetBySource(ctx, "FBI", 0)
	require.NoError(t, err)
	require.Len(t, docs, 2, "title-only items share an empty content hash but are distinct")

	byID := map[string]repository.CanonicalDocument{}
	for _, d := range docs {
		byID[d.ID] = d
	}
	assert.Equal(t, "https://fbi.gov/1", byID["press-1"].URL)
	assert.Equal(t, "FBI warns of scheme A", byID["press-1"].Title)
	assert.Equal(t, "https://fbi.gov/2", byID["press-2"].URL)
	assert.Equal(t, "FBI indicts group B", byID["press-2"].Title)
}

func TestRunChangedContentReembedsUnderSameID(t *testing.T) {
	first := rawDoc("AA25-10", "original advisory content")
	f := newFixture(t, &stubAdapter{src: source.CISA, docs: []source.RawDocument{first}}, &stubEmbedClient{})
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, source.CISA)
	require.NoError(t, err)
	callsAfterFirst := f.client.calls

	updated := rawDoc("AA25-10", "original advisory content with revised mitigations")
	f.pipeline.adapters[source.CISA] = &stubAdapter{src: source.CISA, docs: []source.RawDocument{updated}}

	_, err = f.pipeline.Run(ctx, source.CISA)
	require.NoError(t, err)
	assert.Greater(t, f.client.calls, callsAfterFirst)

	docs, err := f.store.GetBySource(ctx, "CISA", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "revised mitigations")
}

func TestRunEmbeddingDegradation(t *testing.T) {
	adapter := &stubAdapter{src: source.CISA, docs: []source.RawDocument{
		rawDoc("AA25-20", "advisory while the embedder is down"),
	}}
	f := newFixture(t, adapter, &stubEmbedClient{err: errors.New("provider down")})
	ctx := context.Background()

	run, err := f.pipeline.Run(ctx, source.CISA)
	require.NoError(t, err)
	assert.Equal(t, repository.RunSucceeded, run.Status)
	assert.Equal(t, 1, run.ProcessedCount)

	// Document persisted, reachable by lookup, but without an embedding.
	doc, err := f.store.GetByID(ctx, "CISA", "AA25-20")
	require.NoError(t, err)
	assert.Equal(t, "AA25-20", doc.ID)
	_, err = f.store.GetEmbedding(ctx, "CISA", "AA25-20", testModel)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRunIncrementalWindow(t *testing.T) {
	adapter := &stubAdapter{src: source.CISA, docs: []source.RawDocument{rawDoc("AA25-30", "body")}}
	f := newFixture(t, adapter, &stubEmbedClient{})
	ctx := context.Background()

	started := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, f.store.PutRun(ctx, repository.IngestionRun{
		ID: "prev", Source: "CISA", StartedAt: started,
		Status: repository.RunSucceeded, ProcessedCount: 3,
	}))

	since := f.pipeline.lastWindowStart(ctx, source.CISA)
	assert.WithinDuration(t, started, since, time.Second)

	// No prior successful run falls back to the backfill horizon.
	since = f.pipeline.lastWindowStart(ctx, source.NVD)
	assert.WithinDuration(t, time.Now().UTC().Add(-defaultBackfill), since, time.Minute)
}
