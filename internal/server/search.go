package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nova-rag/nova-go/internal/logging"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// handleSearch handles POST /api/search. It runs the retrieval pipeline
// without invoking the chat model and returns the assembled context as JSON.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	assembled, err := s.searcher.Retrieve(r.Context(), retrieval.Request{
		Query:       req.Query,
		UserScope:   userScope(r),
		Targets:     toTargets(req.Targets),
		Platform:    req.Platform,
		TopK:        req.TopK,
		BudgetChars: req.BudgetChars,
	})
	if err != nil {
		status, msg := retrievalErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error("search failed", slog.Any("error", err))
		} else {
			log.Warn("search rejected", slog.Any("error", err))
		}
		writeError(w, status, msg)
		return
	}

	resp := searchResponse{
		Context:  assembled.Text,
		Sources:  assembled.Sources,
		Included: assembled.Included,
	}
	if resp.Sources == nil {
		resp.Sources = []retrieval.SourceRef{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// retrievalErrorStatus maps a retrieval error to an HTTP status and a
// client-facing message. Access denials map to 404 with a fixed message so
// the response never reveals whether the target exists.
func retrievalErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, retrieval.ErrAccessDenied):
		return http.StatusNotFound, "source not found"
	case errors.Is(err, retrieval.ErrAllTargetsFailed):
		return http.StatusBadGateway, "all retrieval targets failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
