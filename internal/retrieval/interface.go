package retrieval

import (
	"context"
	"time"
)

// ScoreKind declares the direction of a store's native relevance score.
// The ranker uses it to normalise everything to similarity in [0,1] before
// merging hit lists from different stores.
type ScoreKind string

const (
	// ScoreSimilarity means higher is better (cosine similarity and friends).
	ScoreSimilarity ScoreKind = "similarity"
	// ScoreDistance means lower is better (L2/cosine distance).
	ScoreDistance ScoreKind = "distance"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ScopedQuery restricts a scoped-store search to exactly one user-owned
// artifact. All three scope fields must match; cross-user and cross-source
// results are never returned.
type ScopedQuery struct {
	// Text is the query text; the store embeds it before searching.
	Text string
	// UserScope is the requesting user's identifier.
	UserScope string
	// SourceType is the artifact kind being searched.
	SourceType SourceType
	// SourceID is the artifact identifier.
	SourceID string
	// TopK is the maximum number of hits to return.
	TopK int
}

// ScopedStore stores and queries chunks owned by individual users, keyed by
// (user scope, source type, source id). Implementations must be safe to call
// from multiple goroutines.
type ScopedStore interface {
	// Query embeds q.Text and returns up to q.TopK hits from the selected
	// artifact, ordered best-first in the store's native rank.
	// Returns ErrAccessDenied when the artifact is missing or owned by a
	// different scope, and an empty list (no error) while the artifact is
	// still processing.
	Query(ctx context.Context, q ScopedQuery) ([]Hit, error)

	// Upsert stores a batch of chunks with their pre-computed embeddings.
	// Called by the ingestion pipeline, never by retrieval.
	Upsert(ctx context.Context, chunks []Chunk) error

	// DeleteBySource removes every chunk of one artifact (cascade on
	// artifact deletion).
	DeleteBySource(ctx context.Context, ownerScope string, sourceType SourceType, sourceID string) error

	// ScoreKind declares the direction of the native score in query hits.
	ScoreKind() ScoreKind

	// Close releases any resources held by the store.
	Close() error
}

// SharedIndex queries the pre-populated, multi-tenant knowledge base spanning
// external content platforms. It is read-only from the retrieval core's
// perspective; writes happen via the offline ingestion path.
// Implementations must be safe to call from multiple goroutines.
type SharedIndex interface {
	// Query returns up to topK hits for the given platform tag, or across
	// all platforms when platform is PlatformAll. A partial platform outage
	// must not fail the whole query: hits from healthy platforms are
	// returned and the failure is logged.
	Query(ctx context.Context, text, platform string, topK int) ([]Hit, error)

	// ScoreKind declares the direction of the native score in query hits.
	ScoreKind() ScoreKind

	// Close releases any resources held by the index.
	Close() error
}

// ArtifactStatus tracks an artifact's processing lifecycle.
type ArtifactStatus string

const (
	// StatusProcessing means ingestion is still embedding the artifact.
	StatusProcessing ArtifactStatus = "processing"
	// StatusReady means every chunk of the artifact is embedded and queryable.
	StatusReady ArtifactStatus = "ready"
	// StatusFailed means ingestion aborted; the artifact has no usable chunks.
	StatusFailed ArtifactStatus = "failed"
)

// Artifact is the catalog record of one uploaded or scraped source.
type Artifact struct {
	// SourceType is the artifact kind.
	SourceType SourceType
	// SourceID is the artifact identifier.
	SourceID string
	// OwnerScope is the owning user's identifier.
	OwnerScope string
	// Title is the display label (filename, page title, dataset name).
	Title string
	// Status is the current processing status.
	Status ArtifactStatus
	// CreatedAt is when the artifact was registered.
	CreatedAt time.Time
}

// Catalog resolves artifact ownership and processing status for scoped
// stores. Implementations must be safe to call from multiple goroutines.
type Catalog interface {
	// Artifact returns the catalog record for (sourceType, sourceID), or
	// ErrArtifactNotFound when no such artifact is registered.
	Artifact(ctx context.Context, sourceType SourceType, sourceID string) (*Artifact, error)
}
