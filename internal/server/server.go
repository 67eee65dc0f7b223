// Package server implements the HTTP server that exposes retrieval, chat,
// and ingestion over a REST/SSE API.
// The server is started by the `nova serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps holds the pipeline components the server fronts.
type Deps struct {
	// Answerer streams grounded answers. Required.
	Answerer answerer
	// Searcher serves raw retrieval. Required.
	Searcher searcher
	// Artifacts backs the /api/sources handlers. Required.
	Artifacts artifactStore
	// Chunks removes vectors for deleted artifacts. Optional.
	Chunks chunkDeleter
	// Ingest backs the /api/ingest handlers. Optional; nil disables uploads.
	Ingest ingester
}

// New constructs a Server from the provided dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Answerer == nil {
		return nil, fmt.Errorf("server: Answerer must not be nil")
	}
	if deps.Searcher == nil {
		return nil, fmt.Errorf("server: Searcher must not be nil")
	}
	if deps.Artifacts == nil {
		return nil, fmt.Errorf("server: Artifacts must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		answerer:  deps.Answerer,
		searcher:  deps.Searcher,
		artifacts: deps.Artifacts,
		chunks:    deps.Chunks,
		ingest:    deps.Ingest,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIToken == "" {
		s.log.Warn("server: NOVA_API_TOKEN not set, API authentication disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	// protected wraps a handler with auth, rate limiting, and per-handler metrics.
	protected := func(name string, h http.Handler) http.Handler {
		return authMiddleware(cfg.APIToken, rl.middleware(s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", protected("chat", http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /api/search", protected("search", http.HandlerFunc(s.handleSearch)))
	mux.Handle("GET /api/sources", protected("sources_list", http.HandlerFunc(s.handleListSources)))
	mux.Handle("DELETE /api/sources/{type}/{id}", protected("sources_delete", http.HandlerFunc(s.handleDeleteSource)))
	mux.Handle("POST /api/ingest/document", protected("ingest_document", http.HandlerFunc(s.handleIngestDocument)))
	mux.Handle("POST /api/ingest/dataset", protected("ingest_dataset", http.HandlerFunc(s.handleIngestDataset)))
	mux.Handle("POST /api/ingest/web", protected("ingest_web", http.HandlerFunc(s.handleIngestWeb)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// userScope returns the caller's user scope. Requests without an explicit
// scope header share the "local" scope, matching single-user deployments.
func userScope(r *http.Request) string {
	if scope := r.Header.Get("X-Nova-User"); scope != "" {
		return scope
	}
	return "local"
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
