package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/nova-rag/nova-go/internal/catalog"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// fakeChatModel streams a fixed set of message fragments.
type fakeChatModel struct {
	fragments []string
	calls     int
	lastInput []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.lastInput = in
	return schema.AssistantMessage(strings.Join(f.fragments, ""), nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.calls++
	f.lastInput = in
	msgs := make([]*schema.Message, len(f.fragments))
	for i, frag := range f.fragments {
		msgs[i] = schema.AssistantMessage(frag, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

// fakeRetriever returns a canned assembled context or error.
type fakeRetriever struct {
	assembled *retrieval.AssembledContext
	err       error
	lastReq   retrieval.Request
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.AssembledContext, error) {
	f.lastReq = req
	return f.assembled, f.err
}

// fakeHistory is an in-memory historyStore.
type fakeHistory struct {
	sessions map[string]*catalog.Session
	messages map[string][]catalog.Message
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		sessions: make(map[string]*catalog.Session),
		messages: make(map[string][]catalog.Message),
	}
}

func (f *fakeHistory) CreateSession(_ context.Context, sess *catalog.Session) error {
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeHistory) Session(_ context.Context, id string) (*catalog.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, catalog.ErrSessionNotFound
	}
	return sess, nil
}

func (f *fakeHistory) AppendMessage(_ context.Context, sessionID string, role catalog.Role, content string, sources []retrieval.SourceRef) error {
	f.messages[sessionID] = append(f.messages[sessionID], catalog.Message{
		Role: role, Content: content, Sources: sources,
	})
	return nil
}

func (f *fakeHistory) Recent(_ context.Context, sessionID string, n int) ([]catalog.Message, error) {
	msgs := f.messages[sessionID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func assembledFixture() *retrieval.AssembledContext {
	return &retrieval.AssembledContext{
		Text: "revenue grew 4% in Q3",
		Sources: []retrieval.SourceRef{
			{Title: "report.pdf", Locator: "Page 3", SourceType: retrieval.SourceDocument, Score: 0.91},
		},
		Included: 1,
	}
}

func newTestService(t *testing.T, cm model.ToolCallingChatModel, ret retriever, hist historyStore) *Service {
	t.Helper()
	svc, err := NewService(&Config{ChatModel: cm, Retriever: ret, History: hist})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func Test_Answer_StreamsSourcesBeforeTokens(t *testing.T) {
	t.Parallel()
	cm := &fakeChatModel{fragments: []string{"revenue ", "grew ", "4%"}}
	svc := newTestService(t, cm, &fakeRetriever{assembled: assembledFixture()}, newFakeHistory())

	var events []string
	sink := &Sink{
		OnSources: func(refs []retrieval.SourceRef) error {
			events = append(events, "sources")
			if len(refs) != 1 || refs[0].Locator != "Page 3" {
				t.Errorf("sources = %+v, want the citation list", refs)
			}
			return nil
		},
		OnToken: func(token string) error {
			events = append(events, "token:"+token)
			return nil
		},
	}

	res, err := svc.Answer(context.Background(), Request{UserScope: "u1", Question: "how did Q3 go?"}, sink)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "revenue grew 4%" {
		t.Errorf("Answer = %q, want the concatenated stream", res.Answer)
	}
	if len(events) != 4 || events[0] != "sources" {
		t.Errorf("events = %v, want sources first then 3 tokens", events)
	}
}

func Test_Answer_EmptyContextSkipsModel(t *testing.T) {
	t.Parallel()
	cm := &fakeChatModel{fragments: []string{"should not run"}}
	ret := &fakeRetriever{assembled: &retrieval.AssembledContext{}}
	svc := newTestService(t, cm, ret, newFakeHistory())

	var tokens []string
	sink := &Sink{OnToken: func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	}}

	res, err := svc.Answer(context.Background(), Request{UserScope: "u1", Question: "anything?"}, sink)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if cm.calls != 0 {
		t.Error("model was invoked despite empty context")
	}
	if res.Answer != NoContextAnswer {
		t.Errorf("Answer = %q, want the canned no-context answer", res.Answer)
	}
	if len(tokens) != 1 || tokens[0] != NoContextAnswer {
		t.Errorf("tokens = %v, want the canned answer emitted once", tokens)
	}
}

func Test_Answer_RetrievalErrorPropagates(t *testing.T) {
	t.Parallel()
	ret := &fakeRetriever{err: retrieval.ErrAccessDenied}
	svc := newTestService(t, &fakeChatModel{}, ret, newFakeHistory())

	_, err := svc.Answer(context.Background(), Request{UserScope: "u1", Question: "q"}, nil)
	if !errors.Is(err, retrieval.ErrAccessDenied) {
		t.Errorf("error = %v, want ErrAccessDenied preserved through wrapping", err)
	}
}

func Test_Answer_SessionOwnership(t *testing.T) {
	t.Parallel()
	hist := newFakeHistory()
	hist.sessions["s1"] = &catalog.Session{ID: "s1", UserScope: "alice"}
	svc := newTestService(t, &fakeChatModel{fragments: []string{"x"}},
		&fakeRetriever{assembled: assembledFixture()}, hist)

	_, err := svc.Answer(context.Background(), Request{SessionID: "s1", UserScope: "bob", Question: "q"}, nil)
	if !errors.Is(err, ErrSessionDenied) {
		t.Errorf("foreign session: error = %v, want ErrSessionDenied", err)
	}

	_, err = svc.Answer(context.Background(), Request{SessionID: "missing", UserScope: "bob", Question: "q"}, nil)
	if !errors.Is(err, ErrSessionDenied) {
		t.Errorf("missing session: error = %v, want ErrSessionDenied (no existence leak)", err)
	}
}

func Test_Answer_CreatesSessionAndPersistsTurn(t *testing.T) {
	t.Parallel()
	hist := newFakeHistory()
	svc := newTestService(t, &fakeChatModel{fragments: []string{"the answer"}},
		&fakeRetriever{assembled: assembledFixture()}, hist)

	question := strings.Repeat("why ", 40) // longer than the title cap
	res, err := svc.Answer(context.Background(), Request{UserScope: "u1", Question: question}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("want a new session id")
	}

	sess := hist.sessions[res.SessionID]
	if sess == nil || sess.UserScope != "u1" {
		t.Fatalf("session = %+v, want created for u1", sess)
	}
	if len(sess.Title) > maxSessionTitle {
		t.Errorf("title length = %d, want capped at %d", len(sess.Title), maxSessionTitle)
	}

	msgs := hist.messages[res.SessionID]
	if len(msgs) != 2 {
		t.Fatalf("want 2 persisted messages, got %d", len(msgs))
	}
	if msgs[0].Role != catalog.RoleUser || msgs[0].Sources != nil {
		t.Errorf("msg[0] = %+v, want the user question without sources", msgs[0])
	}
	if msgs[1].Role != catalog.RoleAssistant || len(msgs[1].Sources) != 1 {
		t.Errorf("msg[1] = %+v, want the answer with its citation snapshot", msgs[1])
	}
}

func Test_SessionTitle_RuneBoundary(t *testing.T) {
	t.Parallel()
	// The leading ASCII byte shifts every 2-byte rune to an odd offset, so a
	// byte cut at maxSessionTitle (even) lands mid-rune.
	question := "a" + strings.Repeat("é", maxSessionTitle)
	title := sessionTitle(question)
	if !utf8.ValidString(title) {
		t.Errorf("title is not valid UTF-8: %q", title)
	}
	if len(title) > maxSessionTitle {
		t.Errorf("title length = %d, want capped at %d", len(title), maxSessionTitle)
	}
	want := "a" + strings.Repeat("é", (maxSessionTitle-1)/2)
	if title != want {
		t.Errorf("title = %q, want %q (cut backed off to a whole rune)", title, want)
	}
}

func Test_Answer_MessageOrdering(t *testing.T) {
	t.Parallel()
	hist := newFakeHistory()
	hist.sessions["s1"] = &catalog.Session{ID: "s1", UserScope: "u1"}
	hist.messages["s1"] = []catalog.Message{
		{Role: catalog.RoleUser, Content: "earlier question"},
		{Role: catalog.RoleAssistant, Content: "earlier answer"},
	}
	cm := &fakeChatModel{fragments: []string{"ok"}}
	svc := newTestService(t, cm, &fakeRetriever{assembled: assembledFixture()}, hist)

	_, err := svc.Answer(context.Background(), Request{SessionID: "s1", UserScope: "u1", Question: "follow-up"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	in := cm.lastInput
	if len(in) != 5 {
		t.Fatalf("model input length = %d, want system + 2 history + context + question", len(in))
	}
	if in[0].Role != schema.System {
		t.Errorf("first message role = %s, want system", in[0].Role)
	}
	if in[1].Content != "earlier question" || in[2].Content != "earlier answer" {
		t.Errorf("history not injected in order: %q, %q", in[1].Content, in[2].Content)
	}
	if in[3].Role != schema.System || !strings.Contains(in[3].Content, "revenue grew 4%") {
		t.Errorf("context message missing or out of place: %+v", in[3])
	}
	if in[4].Content != "follow-up" {
		t.Errorf("last message = %q, want the current question", in[4].Content)
	}
}

func Test_SystemPrompt_PerSourceType(t *testing.T) {
	t.Parallel()
	dataset := []retrieval.SourceRef{{SourceType: retrieval.SourceDataset}}
	if !strings.Contains(systemPrompt(dataset), "tabular dataset") {
		t.Error("dataset sources must select the dataset guidance")
	}
	posts := []retrieval.SourceRef{
		{SourceType: retrieval.SourcePost},
		{SourceType: retrieval.SourcePost},
		{SourceType: retrieval.SourceDocument},
	}
	if !strings.Contains(systemPrompt(posts), "community posts") {
		t.Error("majority post sources must select the post guidance")
	}
	if systemPrompt(nil) != basePrompt {
		t.Error("no sources must fall back to the base prompt alone")
	}
}
