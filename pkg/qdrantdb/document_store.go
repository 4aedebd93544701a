package qdrantdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	bolt "go.etcd.io/bbolt"

	"veridano/repository"
)

const CollectionName = "intel_documents"

// idNamespace makes point IDs a pure function of source and document id, so
// re-ingesting the same document updates the existing point.
var idNamespace = uuid.MustParse("7f6c1b2e-55dd-4c43-9d38-08c6a1c0a3f1")

var runsBucket = []byte("ingestion_runs")

// DocumentStore is the qdrant-backed repository.DocumentStore. Documents and
// vectors live in one collection; payload fields carry the canonical fields
// and ingestion run audit records live in bbolt alongside the blob store.
type DocumentStore struct {
	client *Client
	db     *bolt.DB
	model  string
	dim    uint64
}

func NewDocumentStore(client *Client, db *bolt.DB, model string, dimension int) (*DocumentStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		return nil, &repository.StoreError{Op: "init runs bucket", Err: err}
	}
	return &DocumentStore{client: client, db: db, model: model, dim: uint64(dimension)}, nil
}

// EnsureCollection creates the collection and payload indexes when missing.
func (s *DocumentStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.Client.CollectionExists(ctx, CollectionName)
	if err != nil {
		return &repository.StoreError{Op: "collection exists", Err: err}
	}
	if !exists {
		err = s.client.Client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return &repository.StoreError{Op: "create collection", Err: err}
		}
	}

	indexes := []struct {
		field string
		kind  qdrant.FieldType
	}{
		{"source", qdrant.FieldType_FieldTypeKeyword},
		{"content_hash", qdrant.FieldType_FieldTypeKeyword},
		{"has_embedding", qdrant.FieldType_FieldTypeBool},
		{"model", qdrant.FieldType_FieldTypeKeyword},
		{"published_at", qdrant.FieldType_FieldTypeFloat},
		{"content", qdrant.FieldType_FieldTypeText},
	}
	for _, idx := range indexes {
		_, err = s.client.Client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: CollectionName,
			FieldName:      idx.field,
			FieldType:      idx.kind.Enum(),
		})
		if err != nil {
			return &repository.StoreError{Op: "create " + idx.field + " index", Err: err}
		}
	}
	return nil
}

func pointID(source, id string) string {
	return uuid.NewSHA1(idNamespace, []byte(source+"/"+id)).String()
}

func (s *DocumentStore) Upsert(ctx context.Context, doc repository.CanonicalDocument, emb *repository.EmbeddingRecord) error {
	payload := map[string]any{
		"doc_id":        doc.ID,
		"source":        doc.Source,
		"title":         doc.Title,
		"content":       doc.Content,
		"document_type": doc.DocumentType,
		"category":      doc.Category,
		"url":           doc.URL,
		"content_hash":  doc.ContentHash,
	}
	if doc.PublishedDate != nil {
		payload["published_at"] = float64(doc.PublishedDate.Unix())
	}
	for k, v := range doc.Metadata {
		payload["meta_"+k] = v
	}

	vector := make([]float32, s.dim)
	hasEmbedding := false
	model := ""
	if emb != nil {
		vector = emb.Vector
		hasEmbedding = true
		model = emb.Model
	} else {
		// No fresh embedding: keep the stored vector when the content is
		// unchanged, otherwise the document drops out of similarity search.
		prev, err := s.getPoint(ctx, doc.Source, doc.ID, true)
		if err == nil && prev.payload["content_hash"].GetStringValue() == doc.ContentHash &&
			prev.payload["has_embedding"].GetBoolValue() {
			vector = prev.vector
			hasEmbedding = true
			model = prev.payload["model"].GetStringValue()
		}
	}
	payload["has_embedding"] = hasEmbedding
	payload["model"] = model

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(pointID(doc.Source, doc.ID)),
		Vectors: qdrant.NewVectorsDense(vector),
		Payload: qdrant.NewValueMap(payload),
	}
	_, err := s.client.Client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionName,
		Points:         []*qdrant.PointStruct{point},
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return &repository.StoreError{Op: "upsert", Err: err}
	}
	return nil
}

type storedPoint struct {
	payload map[string]*qdrant.Value
	vector  []float32
}

func (s *DocumentStore) getPoint(ctx context.Context, source, id string, withVector bool) (*storedPoint, error) {
	resp, err := s.client.Client.Get(ctx, &qdrant.GetPoints{
		CollectionName: CollectionName,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID(source, id))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withVector),
	})
	if err != nil {
		return nil, &repository.StoreError{Op: "get", Err: err}
	}
	if len(resp) == 0 {
		return nil, repository.ErrNotFound
	}
	sp := &storedPoint{payload: resp[0].Payload}
	if withVector {
		if v := resp[0].Vectors.GetVector(); v != nil {
			sp.vector = v.Data
		}
	}
	return sp, nil
}

func (s *DocumentStore) GetEmbedding(ctx context.Context, source, id, model string) (*repository.EmbeddingRecord, error) {
	point, err := s.getPoint(ctx, source, id, true)
	if err != nil {
		return nil, err
	}
	if !point.payload["has_embedding"].GetBoolValue() || point.payload["model"].GetStringValue() != model {
		return nil, repository.ErrNotFound
	}
	return &repository.EmbeddingRecord{
		DocumentID: id,
		Vector:     point.vector,
		Model:      model,
	}, nil
}

func (s *DocumentStore) SimilaritySearch(ctx context.Context, vector []float32, filter repository.SearchFilter, topK int) ([]repository.ScoredDocument, error) {
	if topK <= 0 {
		topK = 5
	}
	conditions := []*qdrant.Condition{
		qdrant.NewMatchBool("has_embedding", true),
		qdrant.NewMatch("model", s.model),
	}
	conditions = append(conditions, filterConditions(filter)...)

	points, err := s.client.Client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          qdrant.PtrOf(uint64(topK)),
		ScoreThreshold: qdrant.PtrOf(filter.MinScore),
		Filter:         &qdrant.Filter{Must: conditions},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &repository.StoreError{Op: "similarity search", Err: err}
	}

	results := make([]repository.ScoredDocument, 0, len(points))
	for _, p := range points {
		score := p.Score
		if score < 0 {
			score = 0
		}
		if score < filter.MinScore {
			continue
		}
		results = append(results, repository.ScoredDocument{
			Document: docFromPayload(p.Payload),
			Score:    score,
		})
	}
	repository.SortScored(results)
	return results, nil
}

func (s *DocumentStore) KeywordSearch(ctx context.Context, query string, filter repository.SearchFilter, limit int) ([]repository.CanonicalDocument, error) {
	if limit <= 0 {
		limit = 20
	}
	conditions := []*qdrant.Condition{qdrant.NewMatchText("content", query)}
	conditions = append(conditions, filterConditions(filter)...)

	points, err := s.client.Client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: CollectionName,
		Filter:         &qdrant.Filter{Must: conditions},
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &repository.StoreError{Op: "keyword search", Err: err}
	}

	docs := make([]repository.CanonicalDocument, 0, len(points))
	for _, p := range points {
		docs = append(docs, docFromPayload(p.Payload))
	}
	repository.SortByPublished(docs)
	return docs, nil
}

func (s *DocumentStore) GetByID(ctx context.Context, source, id string) (*repository.CanonicalDocument, error) {
	point, err := s.getPoint(ctx, source, id, false)
	if err != nil {
		return nil, err
	}
	doc := docFromPayload(point.payload)
	return &doc, nil
}

func (s *DocumentStore) GetBySource(ctx context.Context, source string, limit int) ([]repository.CanonicalDocument, error) {
	if limit <= 0 {
		limit = 50
	}
	points, err := s.client.Client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: CollectionName,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("source", source)},
		},
		Limit:       qdrant.PtrOf(uint32(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &repository.StoreError{Op: "get by source", Err: err}
	}
	docs := make([]repository.CanonicalDocument, 0, len(points))
	for _, p := range points {
		docs = append(docs, docFromPayload(p.Payload))
	}
	repository.SortByPublished(docs)
	return docs, nil
}

func (s *DocumentStore) PutRun(_ context.Context, run repository.IngestionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return &repository.StoreError{Op: "marshal run", Err: err}
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Put(runKey(run), data)
	})
	if err != nil {
		return &repository.StoreError{Op: "put run", Err: err}
	}
	return nil
}

func (s *DocumentStore) GetRuns(_ context.Context, source string, limit int) ([]repository.IngestionRun, error) {
	var runs []repository.IngestionRun
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var run repository.IngestionRun
			if err := json.Unmarshal(v, &run); err != nil {
				continue
			}
			if source != "" && run.Source != source {
				continue
			}
			runs = append(runs, run)
			if limit > 0 && len(runs) == limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, &repository.StoreError{Op: "get runs", Err: err}
	}
	return runs, nil
}

// runKey orders runs chronologically in the bucket.
func runKey(run repository.IngestionRun) []byte {
	key := make([]byte, 8, 8+len(run.ID))
	binary.BigEndian.PutUint64(key, uint64(run.StartedAt.UnixNano()))
	return append(key, run.ID...)
}

func filterConditions(filter repository.SearchFilter) []*qdrant.Condition {
	var conditions []*qdrant.Condition
	if len(filter.Sources) > 0 {
		conditions = append(conditions, qdrant.NewMatchKeywords("source", filter.Sources...))
	}
	if filter.PublishedAfter != nil {
		conditions = append(conditions, qdrant.NewRange("published_at", &qdrant.Range{
			Gte: qdrant.PtrOf(float64(filter.PublishedAfter.Unix())),
		}))
	}
	return conditions
}

func docFromPayload(payload map[string]*qdrant.Value) repository.CanonicalDocument {
	doc := repository.CanonicalDocument{
		ID:           payload["doc_id"].GetStringValue(),
		Source:       payload["source"].GetStringValue(),
		Title:        payload["title"].GetStringValue(),
		Content:      payload["content"].GetStringValue(),
		DocumentType: payload["document_type"].GetStringValue(),
		Category:     payload["category"].GetStringValue(),
		URL:          payload["url"].GetStringValue(),
		ContentHash:  payload["content_hash"].GetStringValue(),
	}
	if ts := payload["published_at"].GetDoubleValue(); ts > 0 {
		published := time.Unix(int64(ts), 0).UTC()
		doc.PublishedDate = &published
	}
	for key, value := range payload {
		if len(key) > 5 && key[:5] == "meta_" {
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string)
			}
			doc.Metadata[key[5:]] = value.GetStringValue()
		}
	}
	return doc
}

var _ repository.DocumentStore = (*DocumentStore)(nil)
