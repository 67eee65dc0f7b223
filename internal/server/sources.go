package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nova-rag/nova-go/internal/logging"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// maxUploadBytes caps ingest request bodies. Large corpora should be split
// into multiple artifacts rather than uploaded as one request.
const maxUploadBytes = 32 << 20

// handleListSources handles GET /api/sources. It lists the caller's
// artifacts, newest first.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	artifacts, err := s.artifacts.ListArtifacts(r.Context(), userScope(r))
	if err != nil {
		log.Error("listing sources failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if artifacts == nil {
		artifacts = []retrieval.Artifact{}
	}
	writeJSON(w, http.StatusOK, sourcesResponse{Sources: artifacts})
}

// handleDeleteSource handles DELETE /api/sources/{type}/{id}. It removes the
// artifact's vectors and catalog row. A missing artifact and one owned by a
// different user both produce 404.
func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	sourceType := retrieval.SourceType(r.PathValue("type"))
	sourceID := r.PathValue("id")
	if !sourceType.Valid() || sourceType == retrieval.SourcePost {
		writeError(w, http.StatusBadRequest, "invalid source type")
		return
	}

	scope := userScope(r)
	artifact, err := s.artifacts.Artifact(r.Context(), sourceType, sourceID)
	if err != nil {
		if errors.Is(err, retrieval.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		log.Error("loading artifact failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if artifact.OwnerScope != scope {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}

	// Vectors first: if vector deletion fails the catalog row survives and the
	// delete can be retried. Citation snapshots in chat history are unaffected.
	if s.chunks != nil {
		if err := s.chunks.DeleteBySource(r.Context(), scope, sourceType, sourceID); err != nil {
			log.Error("deleting vectors failed",
				slog.String("source_id", sourceID),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if err := s.artifacts.DeleteArtifact(r.Context(), sourceType, sourceID); err != nil {
		log.Error("deleting artifact failed",
			slog.String("source_id", sourceID),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleIngestDocument handles POST /api/ingest/document. The body carries
// the document's extracted page texts; the server chunks, embeds, and indexes
// them as a new artifact.
func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}

	var req ingestDocumentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if len(req.Pages) == 0 {
		writeError(w, http.StatusBadRequest, "pages are required")
		return
	}

	sourceID, err := s.ingest.IngestDocument(r.Context(), userScope(r), req.Title, req.Pages)
	s.writeIngestResult(w, r, sourceID, err)
}

// handleIngestDataset handles POST /api/ingest/dataset. The CSV file is the
// request body; the title comes from the "title" query parameter.
func (s *Server) handleIngestDataset(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}

	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "title query parameter is required")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	sourceID, err := s.ingest.IngestDataset(r.Context(), userScope(r), title, body)
	s.writeIngestResult(w, r, sourceID, err)
}

// handleIngestWeb handles POST /api/ingest/web. The server fetches the URL,
// extracts its text, and indexes it as a new artifact.
func (s *Server) handleIngestWeb(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}

	var req ingestWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "a valid http(s) url is required")
		return
	}

	sourceID, err := s.ingest.IngestWebPage(r.Context(), userScope(r), req.URL)
	s.writeIngestResult(w, r, sourceID, err)
}

// writeIngestResult writes the shared response shape for ingest handlers.
// On failure the artifact, if it was registered at all, remains in the
// catalog with status "failed" and shows up in GET /api/sources.
func (s *Server) writeIngestResult(w http.ResponseWriter, r *http.Request, sourceID string, err error) {
	log := logging.FromContext(r.Context())
	if err != nil {
		log.Error("ingestion failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "ingestion failed")
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		SourceID: sourceID,
		Status:   string(retrieval.StatusReady),
	})
}
