// Package retrieval implements the multi-source semantic retrieval and
// context-assembly pipeline: routing a request to the right vector store(s),
// merging and deduplicating the raw hits, and assembling a bounded context
// window with provenance metadata for the answer layer.
// Concrete store backends (Qdrant, Postgres/pgvector) satisfy the interfaces
// in interface.go so the pipeline never depends on a specific backend.
package retrieval

import (
	"time"
)

// SourceType identifies the kind of artifact a chunk was extracted from.
type SourceType string

const (
	// SourceDocument is an uploaded document (PDF pages extracted to text).
	SourceDocument SourceType = "document"
	// SourceDataset is an uploaded tabular dataset (CSV rows).
	SourceDataset SourceType = "dataset"
	// SourceWebPage is a scraped web page.
	SourceWebPage SourceType = "web"
	// SourcePost is a post from an external content platform. Posts live in
	// the shared index and are never user-scoped.
	SourcePost SourceType = "post"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceDocument, SourceDataset, SourceWebPage, SourcePost:
		return true
	}
	return false
}

// Platforms lists the external content platforms covered by the shared index.
var Platforms = []string{"reddit", "stackoverflow", "github", "devto", "hackernews"}

// PlatformAll is the wildcard platform filter meaning "search every platform".
const PlatformAll = "all"

// KnownPlatform reports whether p is a known platform tag or the wildcard.
func KnownPlatform(p string) bool {
	if p == PlatformAll {
		return true
	}
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// Defaults applied by the router when the request leaves a field zero.
const (
	// DefaultScopedTopK is the per-target fetch count for user-owned targets.
	DefaultScopedTopK = 5
	// DefaultSharedTopK is the fetch count for shared-index queries, which
	// span several platforms and benefit from a deeper candidate pool.
	DefaultSharedTopK = 10
	// MaxTopK bounds the per-target fetch count regardless of the request.
	MaxTopK = 50
	// DefaultBudgetChars is the maximum assembled context size in characters.
	DefaultBudgetChars = 32000
)

// Chunk is an immutable unit of retrievable text tied to one source artifact.
// The embedding is computed once at ingestion time and never mutated.
type Chunk struct {
	// ID is the unique identifier of this chunk.
	ID string

	// Text is the raw chunk text.
	Text string

	// Embedding is the dense vector for Text, present on ingestion and
	// omitted on retrieval (stores return only the scored text).
	Embedding []float32

	// OwnerScope is the owning user identifier. Empty for shared chunks.
	OwnerScope string

	// SourceType is the kind of artifact this chunk came from.
	SourceType SourceType

	// SourceID is the opaque identifier of the originating artifact.
	SourceID string

	// Locator is the human-readable position within the artifact:
	// "Page 3" for documents, "Rows 50-99" for datasets, a URL for pages.
	Locator string

	// Title is the display label of the originating artifact.
	Title string

	// CreatedAt is when the chunk was ingested. Used as a ranking tie-break.
	CreatedAt time.Time
}

// Hit pairs a chunk with the relevance score a store computed for one query.
// The score is store-native until the ranker normalises it; after ranking it
// is always a similarity in [0,1], higher is better.
type Hit struct {
	// Chunk is the retrieved chunk.
	Chunk Chunk

	// Score is the relevance score for the query that produced this hit.
	Score float64
}

// Target selects one user-owned artifact to search.
type Target struct {
	// SourceType is the artifact kind (document, dataset, or web).
	SourceType SourceType

	// SourceID is the artifact identifier (UUID).
	SourceID string
}

// Request describes one retrieval invocation.
type Request struct {
	// Query is the user's question text.
	Query string

	// UserScope is the requesting user's identifier. Required when Targets
	// is non-empty; ignored for shared-index queries.
	UserScope string

	// Targets selects one or more user-owned artifacts. When empty the
	// request is routed to the shared index instead.
	Targets []Target

	// Platform filters shared-index queries to one platform tag, or
	// PlatformAll for a cross-platform search. Only meaningful when
	// Targets is empty; defaults to PlatformAll.
	Platform string

	// TopK is the per-target fetch count. Zero selects the default for the
	// routed store kind.
	TopK int

	// BudgetChars caps the assembled context length in characters.
	// Zero selects DefaultBudgetChars.
	BudgetChars int
}

// SourceRef is one citation record attached to an assembled context.
type SourceRef struct {
	// Title is the display label of the cited artifact.
	Title string `json:"title"`

	// Locator is the human-readable position within the artifact.
	Locator string `json:"locator"`

	// SourceType is the artifact kind the citation points at.
	SourceType SourceType `json:"source_type"`

	// Score is the normalised relevance score, rounded for display.
	Score float64 `json:"relevance_score"`
}

// AssembledContext is the bounded, provenance-annotated context produced for
// one request. It is created fresh per request and never persisted; the only
// derivative that outlives it is the citation snapshot stored on the chat
// message by the caller.
type AssembledContext struct {
	// Text is the selected chunk texts joined with the context separator.
	Text string

	// Sources cites the first few included chunks (display cap applies even
	// when more chunks feed the raw context).
	Sources []SourceRef

	// Included is the number of chunks that made it into Text.
	Included int
}

// Empty reports whether no chunk survived assembly. An empty result is a
// valid outcome, distinct from an error: the caller should render a
// "no relevant content found" message instead of invoking the model.
func (a *AssembledContext) Empty() bool {
	return a == nil || a.Included == 0
}
