package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nova-rag/nova-go/internal/answer"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per client on
	// rate-limited endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per client. Defaults to 20 if zero.
	RateBurst int
	// APIToken is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIToken string
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// answerer is the interface handleChat calls to stream a grounded answer.
// *answer.Service satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, req answer.Request, sink *answer.Sink) (*answer.Result, error)
}

// searcher is the interface handleSearch calls for raw retrieval.
// *retrieval.Orchestrator satisfies it; tests inject a fake.
type searcher interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.AssembledContext, error)
}

// artifactStore is the slice of the catalog the source handlers use.
type artifactStore interface {
	Artifact(ctx context.Context, sourceType retrieval.SourceType, sourceID string) (*retrieval.Artifact, error)
	ListArtifacts(ctx context.Context, ownerScope string) ([]retrieval.Artifact, error)
	DeleteArtifact(ctx context.Context, sourceType retrieval.SourceType, sourceID string) error
}

// chunkDeleter removes a deleted artifact's vectors from the scoped store.
type chunkDeleter interface {
	DeleteBySource(ctx context.Context, ownerScope string, sourceType retrieval.SourceType, sourceID string) error
}

// ingester is the interface the upload handlers call.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type ingester interface {
	IngestDocument(ctx context.Context, ownerScope, title string, pages []string) (string, error)
	IngestDataset(ctx context.Context, ownerScope, title string, r io.Reader) (string, error)
	IngestWebPage(ctx context.Context, ownerScope, url string) (string, error)
}

// Server is the HTTP server that fronts the retrieval and answer pipelines.
type Server struct {
	// answerer streams grounded answers for POST /api/chat.
	answerer answerer
	// searcher serves raw retrieval for POST /api/search.
	searcher searcher
	// artifacts backs the /api/sources handlers.
	artifacts artifactStore
	// chunks removes vectors when an artifact is deleted. May be nil in tests.
	chunks chunkDeleter
	// ingest backs the /api/ingest handlers. May be nil, disabling uploads.
	ingest ingester
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// SessionID continues an existing chat session. Empty starts a new one.
	SessionID string `json:"session_id,omitempty"`
	// Message is the user's question.
	Message string `json:"message"`
	// Targets selects user-owned artifacts to search.
	Targets []targetRef `json:"targets,omitempty"`
	// Platform filters shared-index search to one platform tag.
	Platform string `json:"platform,omitempty"`
	// TopK overrides the per-target result count.
	TopK int `json:"top_k,omitempty"`
}

// targetRef is the wire form of a retrieval target.
type targetRef struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query       string      `json:"query"`
	Targets     []targetRef `json:"targets,omitempty"`
	Platform    string      `json:"platform,omitempty"`
	TopK        int         `json:"top_k,omitempty"`
	BudgetChars int         `json:"budget_chars,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Context is the assembled context text.
	Context string `json:"context"`
	// Sources is the citation list, highest ranked first.
	Sources []retrieval.SourceRef `json:"sources"`
	// Included is the number of chunks that fit the budget.
	Included int `json:"included"`
}

// sourcesResponse is the JSON response for GET /api/sources.
type sourcesResponse struct {
	Sources []retrieval.Artifact `json:"sources"`
}

// ingestDocumentRequest is the JSON body for POST /api/ingest/document.
type ingestDocumentRequest struct {
	// Title is the display title, typically the original filename.
	Title string `json:"title"`
	// Pages holds the extracted text of each page in order.
	Pages []string `json:"pages"`
}

// ingestWebRequest is the JSON body for POST /api/ingest/web.
type ingestWebRequest struct {
	// URL is the page to fetch and index.
	URL string `json:"url"`
}

// ingestResponse is the JSON response for all /api/ingest endpoints.
type ingestResponse struct {
	// SourceID identifies the new artifact for use as a retrieval target.
	SourceID string `json:"source_id"`
	// Status is the artifact lifecycle state after ingestion.
	Status string `json:"status"`
}

// errorResponse is the JSON error body for non-SSE endpoints.
type errorResponse struct {
	Error string `json:"error"`
}

// toTargets converts wire targets to retrieval targets.
func toTargets(refs []targetRef) []retrieval.Target {
	if len(refs) == 0 {
		return nil
	}
	out := make([]retrieval.Target, len(refs))
	for i, r := range refs {
		out[i] = retrieval.Target{
			SourceType: retrieval.SourceType(r.SourceType),
			SourceID:   r.SourceID,
		}
	}
	return out
}
