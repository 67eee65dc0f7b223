package server

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nova-rag/nova-go/internal/answer"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// ---------------------------------------------------------------------------
// Shared fakes and constructors for handler tests
// ---------------------------------------------------------------------------

// fakeAnswerer implements the answerer interface for tests. It emits the
// configured sources and tokens through the sink, then returns the result.
type fakeAnswerer struct {
	// sources is passed to the sink's OnSources callback.
	sources []retrieval.SourceRef
	// tokens is streamed through the sink's OnToken callback in order.
	tokens []string
	// sessionID is returned on the result.
	sessionID string
	// err, when set, is returned instead of streaming anything.
	err error
	// lastReq records the request the handler built.
	lastReq answer.Request
}

func (f *fakeAnswerer) Answer(_ context.Context, req answer.Request, sink *answer.Sink) (*answer.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if sink != nil && sink.OnSources != nil {
		if err := sink.OnSources(f.sources); err != nil {
			return nil, err
		}
	}
	var full string
	for _, tok := range f.tokens {
		full += tok
		if sink != nil && sink.OnToken != nil {
			if err := sink.OnToken(tok); err != nil {
				return nil, err
			}
		}
	}
	return &answer.Result{SessionID: f.sessionID, Answer: full, Sources: f.sources}, nil
}

// fakeSearcher implements the searcher interface for tests.
type fakeSearcher struct {
	assembled *retrieval.AssembledContext
	err       error
	lastReq   retrieval.Request
}

func (f *fakeSearcher) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.AssembledContext, error) {
	f.lastReq = req
	return f.assembled, f.err
}

// fakeArtifacts implements the artifactStore interface for tests.
type fakeArtifacts struct {
	artifacts map[string]*retrieval.Artifact
	deleted   []string
	listErr   error
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{artifacts: make(map[string]*retrieval.Artifact)}
}

func (f *fakeArtifacts) Artifact(_ context.Context, _ retrieval.SourceType, sourceID string) (*retrieval.Artifact, error) {
	a, ok := f.artifacts[sourceID]
	if !ok {
		return nil, retrieval.ErrArtifactNotFound
	}
	return a, nil
}

func (f *fakeArtifacts) ListArtifacts(_ context.Context, ownerScope string) ([]retrieval.Artifact, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []retrieval.Artifact
	for _, a := range f.artifacts {
		if a.OwnerScope == ownerScope {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeArtifacts) DeleteArtifact(_ context.Context, _ retrieval.SourceType, sourceID string) error {
	delete(f.artifacts, sourceID)
	f.deleted = append(f.deleted, sourceID)
	return nil
}

// fakeChunkDeleter implements the chunkDeleter interface for tests.
type fakeChunkDeleter struct {
	deleted []string
	err     error
}

func (f *fakeChunkDeleter) DeleteBySource(_ context.Context, _ string, _ retrieval.SourceType, sourceID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, sourceID)
	return nil
}

// fakeIngester implements the ingester interface for tests.
type fakeIngester struct {
	sourceID string
	err      error
	// calls records which ingest method ran, in order.
	calls []string
	// datasetBody captures the dataset body for assertions.
	datasetBody string
}

func (f *fakeIngester) IngestDocument(_ context.Context, _, _ string, _ []string) (string, error) {
	f.calls = append(f.calls, "document")
	return f.sourceID, f.err
}

func (f *fakeIngester) IngestDataset(_ context.Context, _, _ string, r io.Reader) (string, error) {
	f.calls = append(f.calls, "dataset")
	b, _ := io.ReadAll(r)
	f.datasetBody = string(b)
	return f.sourceID, f.err
}

func (f *fakeIngester) IngestWebPage(_ context.Context, _, _ string) (string, error) {
	f.calls = append(f.calls, "web")
	return f.sourceID, f.err
}

// newTestServer builds a *Server with fakes and an isolated metrics registry.
func newTestServer() *Server {
	return &Server{
		answerer:  &fakeAnswerer{},
		searcher:  &fakeSearcher{assembled: &retrieval.AssembledContext{}},
		artifacts: newFakeArtifacts(),
		cfg:       &Config{Port: 8080, ShutdownTimeout: time.Second},
		log:       slog.Default(),
		metrics:   newServerMetrics(prometheus.NewRegistry()),
	}
}
