package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nova-rag/nova-go/internal/answer"
	"github.com/nova-rag/nova-go/internal/logging"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// handleChat handles POST /api/chat requests. It streams the grounded answer
// using Server-Sent Events (SSE): a "sources" event carrying the citation
// list, then token data frames, then a "session" event with the session id
// and a terminating "done" event. Validation failures are reported via HTTP
// status; failures after the stream has started are delivered in-band as an
// "error" event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()
	start := time.Now()

	sink := &answer.Sink{
		OnSources: func(refs []retrieval.SourceRef) error {
			data, err := json.Marshal(refs)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: sources\ndata: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		OnToken: func(token string) error {
			if err := writeSSEData(w, token); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
	}

	res, err := s.answerer.Answer(r.Context(), answer.Request{
		SessionID: req.SessionID,
		UserScope: userScope(r),
		Question:  req.Message,
		Targets:   toTargets(req.Targets),
		Platform:  req.Platform,
		TopK:      req.TopK,
	}, sink)
	if err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues(chatOutcome(err)).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(chatOutcome(err)).Observe(time.Since(start).Seconds())
		log.Warn("chat request failed", slog.Any("error", err))
		// Headers are already sent; the error travels in-band.
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", chatErrorMessage(err))
		flusher.Flush()
		return
	}

	if res.SessionID != "" {
		fmt.Fprintf(w, "event: session\ndata: %s\n\n", res.SessionID)
	}
	// Signal stream completion.
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()

	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
}

// chatOutcome maps an answer error to a metrics outcome label.
func chatOutcome(err error) string {
	switch {
	case errors.Is(err, retrieval.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, retrieval.ErrAccessDenied), errors.Is(err, answer.ErrSessionDenied):
		return "denied"
	case errors.Is(err, retrieval.ErrAllTargetsFailed):
		return "failed"
	default:
		return "error"
	}
}

// chatErrorMessage returns the client-facing error text for an in-band SSE
// error event. Denied errors use a fixed message so responses never reveal
// whether the requested resource exists.
func chatErrorMessage(err error) string {
	switch {
	case errors.Is(err, retrieval.ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, retrieval.ErrAccessDenied), errors.Is(err, answer.ErrSessionDenied):
		return "source or session not found"
	case errors.Is(err, retrieval.ErrAllTargetsFailed):
		return "all retrieval targets failed"
	default:
		return "internal error"
	}
}

// writeSSEData formats p as one or more SSE data lines. Each newline in p is
// prefixed with "data: " so multi-line tokens never break the SSE frame
// boundary.
func writeSSEData(w http.ResponseWriter, p string) error {
	lines := strings.Split(strings.TrimRight(p, "\n"), "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	_, err := fmt.Fprint(w, buf.String())
	return err
}
