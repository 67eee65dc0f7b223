// Package answer generates grounded, streamed answers from retrieved context.
// It joins the retrieval pipeline, the chat history, and the configured chat
// model: context is retrieved once per question, citations are surfaced to
// the caller before the first token, and the completed turn is persisted with
// its citation snapshot.
package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/nova-rag/nova-go/internal/budget"
	"github.com/nova-rag/nova-go/internal/catalog"
	"github.com/nova-rag/nova-go/internal/logging"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// ErrSessionDenied marks a session owned by a different user. The message
// never states whether the session exists.
var ErrSessionDenied = errors.New("answer: session access denied")

// maxSessionTitle caps the session title derived from the first question.
const maxSessionTitle = 80

// retriever is the read side of the retrieval pipeline.
type retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.AssembledContext, error)
}

// historyStore is the subset of the catalog the answer layer needs.
type historyStore interface {
	CreateSession(ctx context.Context, sess *catalog.Session) error
	Session(ctx context.Context, id string) (*catalog.Session, error)
	AppendMessage(ctx context.Context, sessionID string, role catalog.Role, content string, sources []retrieval.SourceRef) error
	Recent(ctx context.Context, sessionID string, n int) ([]catalog.Message, error)
}

// Config holds the dependencies for constructing a Service.
type Config struct {
	// ChatModel is the model backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Retriever is the retrieval pipeline entry point.
	Retriever retriever

	// History is the chat session store. May be nil, in which case every
	// question is stateless and no turns are persisted.
	History historyStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// inject per question. Defaults to 10 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget for the full model input
	// (system prompt + context + history + question). History is trimmed
	// oldest-first to fit. Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Service answers questions grounded in retrieved context.
type Service struct {
	chatModel        model.ToolCallingChatModel
	retriever        retriever
	history          historyStore
	historyDepth     int
	maxContextTokens int
}

// NewService constructs a Service from the provided Config.
func NewService(cfg *Config) (*Service, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("answer: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("answer: Retriever must not be nil")
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Service{
		chatModel:        cfg.ChatModel,
		retriever:        cfg.Retriever,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}, nil
}

// Request describes one question.
type Request struct {
	// SessionID continues an existing chat session. Empty starts a new one.
	SessionID string
	// UserScope is the requesting user's identifier.
	UserScope string
	// Question is the user's question text.
	Question string
	// Targets selects user-owned artifacts to search. When empty, the shared
	// knowledge index is searched instead.
	Targets []retrieval.Target
	// Platform filters shared-index search to one platform tag.
	Platform string
	// TopK overrides the per-target fetch count (0 = default).
	TopK int
}

// Result is the completed answer for one question.
type Result struct {
	// SessionID is the session the turn was recorded in (new or continued).
	SessionID string
	// Answer is the full answer text.
	Answer string
	// Sources is the citation list shown for the answer.
	Sources []retrieval.SourceRef
}

// Sink receives the streamed answer. OnSources is called exactly once, before
// the first token. Either callback may be nil.
type Sink struct {
	// OnSources delivers the citation list before generation starts.
	OnSources func(sources []retrieval.SourceRef) error
	// OnToken delivers each generated text fragment in order.
	OnToken func(token string) error
}

func (s *Sink) sources(refs []retrieval.SourceRef) error {
	if s == nil || s.OnSources == nil {
		return nil
	}
	return s.OnSources(refs)
}

func (s *Sink) token(t string) error {
	if s == nil || s.OnToken == nil {
		return nil
	}
	return s.OnToken(t)
}

// Answer retrieves context for the question, streams a grounded answer to the
// sink, and persists the completed turn. Retrieval errors propagate with
// their taxonomy intact (invalid request, access denied, all targets failed);
// an empty retrieval result produces a canned answer without invoking the
// model.
func (s *Service) Answer(ctx context.Context, req Request, sink *Sink) (*Result, error) {
	sessionID, history, err := s.resolveSession(ctx, &req)
	if err != nil {
		return nil, err
	}

	assembled, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Query:     req.Question,
		UserScope: req.UserScope,
		Targets:   req.Targets,
		Platform:  req.Platform,
		TopK:      req.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("answer: retrieval: %w", err)
	}

	if assembled.Empty() {
		if err := sink.sources(nil); err != nil {
			return nil, fmt.Errorf("answer: emitting sources: %w", err)
		}
		if err := sink.token(NoContextAnswer); err != nil {
			return nil, fmt.Errorf("answer: emitting answer: %w", err)
		}
		s.persistTurn(ctx, sessionID, req.Question, NoContextAnswer, nil)
		return &Result{SessionID: sessionID, Answer: NoContextAnswer}, nil
	}

	if err := sink.sources(assembled.Sources); err != nil {
		return nil, fmt.Errorf("answer: emitting sources: %w", err)
	}

	messages := s.buildMessages(ctx, assembled, history, req.Question)

	sr, err := s.chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("answer: stream failed: %w", err)
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("answer: stream receive: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		buf.WriteString(msg.Content)
		if err := sink.token(msg.Content); err != nil {
			return nil, fmt.Errorf("answer: emitting token: %w", err)
		}
	}

	answerText := buf.String()
	s.persistTurn(ctx, sessionID, req.Question, answerText, assembled.Sources)

	return &Result{
		SessionID: sessionID,
		Answer:    answerText,
		Sources:   assembled.Sources,
	}, nil
}

// resolveSession loads or creates the chat session and returns its id plus
// the prior turns to inject. Stateless mode (no history store) returns an
// empty id and no history.
func (s *Service) resolveSession(ctx context.Context, req *Request) (string, []catalog.Message, error) {
	if s.history == nil {
		return "", nil, nil
	}

	if req.SessionID == "" {
		sess := &catalog.Session{
			ID:        uuid.NewString(),
			UserScope: req.UserScope,
			Title:     sessionTitle(req.Question),
		}
		if err := s.history.CreateSession(ctx, sess); err != nil {
			return "", nil, fmt.Errorf("answer: creating session: %w", err)
		}
		return sess.ID, nil, nil
	}

	sess, err := s.history.Session(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, catalog.ErrSessionNotFound) {
			return "", nil, ErrSessionDenied
		}
		return "", nil, fmt.Errorf("answer: loading session: %w", err)
	}
	if sess.UserScope != req.UserScope {
		// Same error as a missing session so a caller cannot probe for
		// other users' session ids.
		return "", nil, ErrSessionDenied
	}

	history, err := s.history.Recent(ctx, sess.ID, s.historyDepth*2)
	if err != nil {
		logging.FromContext(ctx).Warn("answer: failed to load history, continuing stateless",
			slog.Any("error", err))
		return sess.ID, nil, nil
	}
	return sess.ID, history, nil
}

// buildMessages constructs the model input: system prompt, retrieved context,
// trimmed history, and the current question.
func (s *Service) buildMessages(ctx context.Context, assembled *retrieval.AssembledContext, history []catalog.Message, question string) []*schema.Message {
	system := schema.SystemMessage(systemPrompt(assembled.Sources))
	contextMsg := schema.SystemMessage(contextMessage(assembled))

	var historyMsgs []*schema.Message
	for _, m := range history {
		switch m.Role {
		case catalog.RoleUser:
			historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
		case catalog.RoleAssistant:
			historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
		}
	}

	fixed := []*schema.Message{system, contextMsg, schema.UserMessage(question)}
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, s.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("answer: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", s.maxContextTokens),
		)
	}

	// Order: system, history, context, question. Keeping the context right
	// next to the question stops long histories from burying it.
	out := make([]*schema.Message, 0, 2+len(historyMsgs)+1)
	out = append(out, system)
	out = append(out, historyMsgs...)
	out = append(out, contextMsg)
	out = append(out, schema.UserMessage(question))
	return out
}

// persistTurn records the user question and assistant answer. Persistence
// failures are logged, never surfaced: the user already has the answer.
func (s *Service) persistTurn(ctx context.Context, sessionID, question, answerText string, sources []retrieval.SourceRef) {
	if s.history == nil || sessionID == "" {
		return
	}
	log := logging.FromContext(ctx)
	if err := s.history.AppendMessage(ctx, sessionID, catalog.RoleUser, question, nil); err != nil {
		log.Warn("answer: failed to persist user message", slog.Any("error", err))
	}
	if err := s.history.AppendMessage(ctx, sessionID, catalog.RoleAssistant, answerText, sources); err != nil {
		log.Warn("answer: failed to persist assistant message", slog.Any("error", err))
	}
}

// sessionTitle derives a display title from the first question. The cut
// point backs off to a rune boundary so a multi-byte character at the cap is
// dropped whole rather than split into invalid UTF-8.
func sessionTitle(question string) string {
	title := strings.TrimSpace(question)
	if len(title) > maxSessionTitle {
		cut := maxSessionTitle
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut])
	}
	return title
}
