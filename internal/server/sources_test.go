package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nova-rag/nova-go/internal/retrieval"
)

// ---------------------------------------------------------------------------
// GET /api/sources
// ---------------------------------------------------------------------------

func TestHandleListSources_ScopedToCaller(t *testing.T) {
	t.Parallel()

	arts := newFakeArtifacts()
	arts.artifacts["doc-1"] = &retrieval.Artifact{
		SourceType: retrieval.SourceDocument, SourceID: "doc-1",
		OwnerScope: "alice", Title: "report.pdf", Status: retrieval.StatusReady,
	}
	arts.artifacts["doc-2"] = &retrieval.Artifact{
		SourceType: retrieval.SourceDocument, SourceID: "doc-2",
		OwnerScope: "bob", Title: "private.pdf", Status: retrieval.StatusReady,
	}
	s := newTestServer()
	s.artifacts = arts

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	req.Header.Set("X-Nova-User", "alice")
	w := httptest.NewRecorder()

	s.handleListSources(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp sourcesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].SourceID != "doc-1" {
		t.Errorf("sources = %+v, want only alice's artifact", resp.Sources)
	}
}

func TestHandleListSources_EmptyIsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	w := httptest.NewRecorder()

	s.handleListSources(w, req)

	if !strings.Contains(w.Body.String(), `"sources":[]`) {
		t.Errorf("expected empty array, got: %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// DELETE /api/sources/{type}/{id}
// ---------------------------------------------------------------------------

// deleteRequest builds a DELETE request with mux path values populated.
func deleteRequest(sourceType, sourceID, scope string) *http.Request {
	req := httptest.NewRequest(http.MethodDelete,
		"/api/sources/"+sourceType+"/"+sourceID, nil)
	req.SetPathValue("type", sourceType)
	req.SetPathValue("id", sourceID)
	if scope != "" {
		req.Header.Set("X-Nova-User", scope)
	}
	return req
}

func TestHandleDeleteSource_RemovesVectorsAndCatalogRow(t *testing.T) {
	t.Parallel()

	arts := newFakeArtifacts()
	arts.artifacts["doc-1"] = &retrieval.Artifact{
		SourceType: retrieval.SourceDocument, SourceID: "doc-1",
		OwnerScope: "alice", Status: retrieval.StatusReady,
	}
	chunks := &fakeChunkDeleter{}
	s := newTestServer()
	s.artifacts = arts
	s.chunks = chunks

	w := httptest.NewRecorder()
	s.handleDeleteSource(w, deleteRequest("document", "doc-1", "alice"))

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(chunks.deleted) != 1 || chunks.deleted[0] != "doc-1" {
		t.Errorf("vector deletes = %v, want doc-1", chunks.deleted)
	}
	if len(arts.deleted) != 1 || arts.deleted[0] != "doc-1" {
		t.Errorf("catalog deletes = %v, want doc-1", arts.deleted)
	}
}

// TestHandleDeleteSource_ForeignAndMissingLookAlike verifies that deleting
// another user's artifact and deleting a nonexistent one produce identical
// 404 responses.
func TestHandleDeleteSource_ForeignAndMissingLookAlike(t *testing.T) {
	t.Parallel()

	arts := newFakeArtifacts()
	arts.artifacts["doc-1"] = &retrieval.Artifact{
		SourceType: retrieval.SourceDocument, SourceID: "doc-1",
		OwnerScope: "alice", Status: retrieval.StatusReady,
	}
	s := newTestServer()
	s.artifacts = arts

	foreign := httptest.NewRecorder()
	s.handleDeleteSource(foreign, deleteRequest("document", "doc-1", "bob"))

	missing := httptest.NewRecorder()
	s.handleDeleteSource(missing, deleteRequest("document", "no-such-id", "bob"))

	if foreign.Code != http.StatusNotFound || missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404/404, got %d/%d", foreign.Code, missing.Code)
	}
	if foreign.Body.String() != missing.Body.String() {
		t.Errorf("foreign body %q differs from missing body %q, responses must be indistinguishable",
			foreign.Body.String(), missing.Body.String())
	}
	if len(arts.deleted) != 0 {
		t.Errorf("deletes = %v, want none", arts.deleted)
	}
}

func TestHandleDeleteSource_RejectsPostType(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleDeleteSource(w, deleteRequest("post", "any", "alice"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for shared post type, got %d", w.Code)
	}
}

func TestHandleDeleteSource_VectorFailureKeepsCatalogRow(t *testing.T) {
	t.Parallel()

	arts := newFakeArtifacts()
	arts.artifacts["doc-1"] = &retrieval.Artifact{
		SourceType: retrieval.SourceDocument, SourceID: "doc-1",
		OwnerScope: "alice", Status: retrieval.StatusReady,
	}
	s := newTestServer()
	s.artifacts = arts
	s.chunks = &fakeChunkDeleter{err: retrieval.ErrAllTargetsFailed}

	w := httptest.NewRecorder()
	s.handleDeleteSource(w, deleteRequest("document", "doc-1", "alice"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if _, ok := arts.artifacts["doc-1"]; !ok {
		t.Error("catalog row must survive a failed vector delete so the delete can be retried")
	}
}

// ---------------------------------------------------------------------------
// POST /api/ingest/*
// ---------------------------------------------------------------------------

func TestHandleIngestDocument_Success(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{sourceID: "new-doc"}
	s := newTestServer()
	s.ingest = ing

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/document",
		strings.NewReader(`{"title":"report.pdf","pages":["page one text","page two text"]}`))
	w := httptest.NewRecorder()

	s.handleIngestDocument(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SourceID != "new-doc" || resp.Status != "ready" {
		t.Errorf("resp = %+v, want new-doc/ready", resp)
	}
}

func TestHandleIngestDocument_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"pages":["text"]}`},
		{"missing pages", `{"title":"report.pdf"}`},
		{"invalid json", `not-json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer()
			s.ingest = &fakeIngester{}
			req := httptest.NewRequest(http.MethodPost, "/api/ingest/document",
				strings.NewReader(tc.body))
			w := httptest.NewRecorder()

			s.handleIngestDocument(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestHandleIngestDataset_BodyAndTitle(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{sourceID: "new-ds"}
	s := newTestServer()
	s.ingest = ing

	csv := "region,revenue\nwest,100\neast,200\n"
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/dataset?title=sales.csv",
		strings.NewReader(csv))
	w := httptest.NewRecorder()

	s.handleIngestDataset(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}
	if ing.datasetBody != csv {
		t.Errorf("dataset body = %q, want the raw CSV passed through", ing.datasetBody)
	}
}

func TestHandleIngestDataset_MissingTitle(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.ingest = &fakeIngester{}
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/dataset",
		strings.NewReader("a,b\n1,2\n"))
	w := httptest.NewRecorder()

	s.handleIngestDataset(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleIngestWeb_ValidatesURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid https", `{"url":"https://example.com/docs/intro"}`, http.StatusCreated},
		{"missing scheme", `{"url":"example.com/docs"}`, http.StatusBadRequest},
		{"ftp scheme", `{"url":"ftp://example.com/file"}`, http.StatusBadRequest},
		{"empty", `{"url":""}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer()
			s.ingest = &fakeIngester{sourceID: "new-web"}
			req := httptest.NewRequest(http.MethodPost, "/api/ingest/web",
				strings.NewReader(tc.body))
			w := httptest.NewRecorder()

			s.handleIngestWeb(w, req)

			if w.Code != tc.wantCode {
				t.Errorf("expected %d, got %d — body: %s", tc.wantCode, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleIngest_DisabledWithoutPipeline(t *testing.T) {
	t.Parallel()

	s := newTestServer() // no ingester wired
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/web",
		strings.NewReader(`{"url":"https://example.com"}`))
	w := httptest.NewRecorder()

	s.handleIngestWeb(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 when ingestion is not configured, got %d", w.Code)
	}
}

func TestHandleIngest_PipelineFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.ingest = &fakeIngester{err: retrieval.ErrAllTargetsFailed}
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/document",
		strings.NewReader(`{"title":"report.pdf","pages":["text"]}`))
	w := httptest.NewRecorder()

	s.handleIngestDocument(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}
