package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for the Qdrant-backed scoped store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection holding user-owned chunks.
	Collection string

	// VectorSize is the dimensionality of the embeddings in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements ScopedStore backed by one Qdrant collection.
// Chunks from every user share the collection; isolation is enforced by an
// exact payload filter on owner_scope, source_type and source_id applied to
// every query, plus a catalog ownership check before any vector search runs.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// embedder converts query text to a dense vector at query time.
	embedder Embedder

	// catalog resolves artifact ownership and processing status.
	catalog Catalog
}

// NewQdrantStore creates a QdrantStore, ensuring the target collection exists
// (creating it with cosine distance if necessary).
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig, embedder Embedder, catalog Catalog) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("qdrant: embedder must not be nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("qdrant: catalog must not be nil")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg, embedder: embedder, catalog: catalog}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// ScoreKind declares the score direction of query hits. The collection is
// created with cosine distance, for which Qdrant returns the score as cosine
// similarity: already higher-is-better, so no conversion is needed beyond
// the ranker's [0,1] clamp.
func (s *QdrantStore) ScoreKind() ScoreKind { return ScoreSimilarity }

// Query resolves the target artifact through the catalog, embeds the query
// text, and runs a filtered similarity search over the artifact's chunks.
//
// A missing artifact and an artifact owned by a different scope both return
// ErrAccessDenied, so callers cannot probe for existence. An artifact still
// processing returns an empty hit list and no error.
func (s *QdrantStore) Query(ctx context.Context, q ScopedQuery) ([]Hit, error) {
	artifact, err := s.catalog.Artifact(ctx, q.SourceType, q.SourceID)
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			// Same error as an ownership mismatch so a caller cannot tell
			// "does not exist" from "not yours".
			return nil, fmt.Errorf("qdrant: %s target: %w", q.SourceType, ErrAccessDenied)
		}
		return nil, fmt.Errorf("qdrant: catalog lookup: %w", err)
	}
	if artifact.OwnerScope != q.UserScope {
		return nil, fmt.Errorf("qdrant: %s target: %w", q.SourceType, ErrAccessDenied)
	}
	if artifact.Status != StatusReady {
		// Not embedded yet (or ingestion failed): nothing to search, which
		// is a valid empty result rather than an error.
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("qdrant: embedding query failed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("qdrant: embedder returned empty result for query")
	}

	limit := uint64(q.TopK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          &limit,
		Filter:         scopeFilter(q.UserScope, q.SourceType, q.SourceID),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Chunk: chunkFromPayload(r.Id.GetUuid(), r.Payload),
			Score: float64(r.Score),
		})
	}

	return hits, nil
}

// Upsert stores a batch of chunks with their pre-computed embeddings.
// Chunks without an embedding are rejected: a zero vector would silently
// corrupt every subsequent similarity ranking against the artifact.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("qdrant: chunk %s has no embedding", c.ID)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"text":        c.Text,
				"owner_scope": c.OwnerScope,
				"source_type": string(c.SourceType),
				"source_id":   c.SourceID,
				"locator":     c.Locator,
				"title":       c.Title,
				"created_at":  c.CreatedAt.Unix(),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// DeleteBySource removes every chunk belonging to one artifact. Called when
// the parent artifact is deleted (cascade).
func (s *QdrantStore) DeleteBySource(ctx context.Context, ownerScope string, sourceType SourceType, sourceID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(scopeFilter(ownerScope, sourceType, sourceID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// Ping probes the Qdrant server for readiness checks.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// scopeFilter builds the exact-match payload filter that pins a query or
// delete to one user's one artifact. All three conditions are required.
func scopeFilter(ownerScope string, sourceType SourceType, sourceID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("owner_scope", ownerScope),
			qdrant.NewMatch("source_type", string(sourceType)),
			qdrant.NewMatch("source_id", sourceID),
		},
	}
}

// chunkFromPayload normalises a Qdrant point payload into the pipeline's
// Chunk shape. Missing fields default to zero values; the rest of the
// pipeline never sees backend-native payload maps.
func chunkFromPayload(id string, payload map[string]*qdrant.Value) Chunk {
	c := Chunk{ID: id}
	if payload == nil {
		return c
	}
	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["owner_scope"]; ok {
		c.OwnerScope = v.GetStringValue()
	}
	if v, ok := payload["source_type"]; ok {
		c.SourceType = SourceType(v.GetStringValue())
	}
	if v, ok := payload["source_id"]; ok {
		c.SourceID = v.GetStringValue()
	}
	if v, ok := payload["locator"]; ok {
		c.Locator = v.GetStringValue()
	}
	if v, ok := payload["title"]; ok {
		c.Title = v.GetStringValue()
	}
	if v, ok := payload["created_at"]; ok {
		c.CreatedAt = time.Unix(v.GetIntegerValue(), 0)
	}
	return c
}
