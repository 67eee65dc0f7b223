package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// fakeScopedStore serves canned hits or errors keyed by source id.
type fakeScopedStore struct {
	hits map[string][]Hit
	errs map[string]error
}

func (f *fakeScopedStore) Query(_ context.Context, q ScopedQuery) ([]Hit, error) {
	if err, ok := f.errs[q.SourceID]; ok {
		return nil, err
	}
	return f.hits[q.SourceID], nil
}

func (f *fakeScopedStore) Upsert(context.Context, []Chunk) error { return nil }
func (f *fakeScopedStore) DeleteBySource(context.Context, string, SourceType, string) error {
	return nil
}
func (f *fakeScopedStore) ScoreKind() ScoreKind { return ScoreSimilarity }
func (f *fakeScopedStore) Close() error         { return nil }

// fakeSharedIndex serves one canned response for any platform.
type fakeSharedIndex struct {
	hits []Hit
	err  error
}

func (f *fakeSharedIndex) Query(context.Context, string, string, int) ([]Hit, error) {
	return f.hits, f.err
}
func (f *fakeSharedIndex) ScoreKind() ScoreKind { return ScoreSimilarity }
func (f *fakeSharedIndex) Close() error         { return nil }

func testOrchestrator(t *testing.T, scoped ScopedStore, shared SharedIndex) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(&OrchestratorConfig{Scoped: scoped, Shared: shared})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func targetID(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}

func Test_NewOrchestrator_RequiresAStore(t *testing.T) {
	t.Parallel()
	if _, err := NewOrchestrator(&OrchestratorConfig{}); err == nil {
		t.Error("want error when no store is configured")
	}
	if _, err := NewOrchestrator(nil); err == nil {
		t.Error("want error for nil config")
	}
}

func Test_Retrieve_InvalidRequest(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(t, &fakeScopedStore{}, nil)
	_, err := o.Retrieve(context.Background(), Request{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
}

func Test_Retrieve_MissingStoreForPlanLeg(t *testing.T) {
	t.Parallel()
	// A shared-only orchestrator cannot serve owned targets, and vice versa.
	sharedOnly := testOrchestrator(t, nil, &fakeSharedIndex{})
	_, err := sharedOnly.Retrieve(context.Background(), Request{
		Query:     "q",
		UserScope: "u1",
		Targets:   []Target{{SourceType: SourceDocument, SourceID: targetID(1)}},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("scoped request on shared-only orchestrator: error = %v, want ErrInvalidRequest", err)
	}

	scopedOnly := testOrchestrator(t, &fakeScopedStore{}, nil)
	_, err = scopedOnly.Retrieve(context.Background(), Request{Query: "q"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("shared request on scoped-only orchestrator: error = %v, want ErrInvalidRequest", err)
	}
}

func Test_Retrieve_SharedPath(t *testing.T) {
	t.Parallel()
	shared := &fakeSharedIndex{hits: []Hit{
		{Chunk: Chunk{Text: "shared knowledge", Title: "post"}, Score: 0.8},
	}}
	o := testOrchestrator(t, nil, shared)

	got, err := o.Retrieve(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.Included != 1 || got.Text != "shared knowledge" {
		t.Errorf("assembled = %+v, want the single shared hit", got)
	}
}

func Test_Retrieve_PartialFailureDegrades(t *testing.T) {
	t.Parallel()
	scoped := &fakeScopedStore{
		hits: map[string][]Hit{
			targetID(1): {{Chunk: Chunk{Text: "from one"}, Score: 0.9}},
			targetID(3): {{Chunk: Chunk{Text: "from three"}, Score: 0.5}},
		},
		errs: map[string]error{
			targetID(2): errors.New("connection refused"),
		},
	}
	o := testOrchestrator(t, scoped, nil)

	got, err := o.Retrieve(context.Background(), Request{
		Query:     "q",
		UserScope: "u1",
		Targets: []Target{
			{SourceType: SourceDocument, SourceID: targetID(1)},
			{SourceType: SourceDocument, SourceID: targetID(2)},
			{SourceType: SourceDataset, SourceID: targetID(3)},
		},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v, want degradation instead of failure", err)
	}
	if got.Included != 2 {
		t.Errorf("Included = %d, want hits from the 2 healthy targets", got.Included)
	}
}

func Test_Retrieve_AllTargetsFailed(t *testing.T) {
	t.Parallel()
	scoped := &fakeScopedStore{errs: map[string]error{
		targetID(1): errors.New("down"),
		targetID(2): errors.New("also down"),
	}}
	o := testOrchestrator(t, scoped, nil)

	_, err := o.Retrieve(context.Background(), Request{
		Query:     "q",
		UserScope: "u1",
		Targets: []Target{
			{SourceType: SourceDocument, SourceID: targetID(1)},
			{SourceType: SourceDocument, SourceID: targetID(2)},
		},
	})
	if !errors.Is(err, ErrAllTargetsFailed) {
		t.Fatalf("error = %v, want ErrAllTargetsFailed", err)
	}
	// Per-target causes stay inspectable through the joined error.
	if !strings.Contains(err.Error(), "down") {
		t.Errorf("joined error %q does not carry per-target causes", err)
	}
}

func Test_Retrieve_AccessDeniedAborts(t *testing.T) {
	t.Parallel()
	scoped := &fakeScopedStore{
		hits: map[string][]Hit{
			targetID(1): {{Chunk: Chunk{Text: "mine"}, Score: 0.9}},
		},
		errs: map[string]error{
			targetID(2): fmt.Errorf("store: %w", ErrAccessDenied),
		},
	}
	o := testOrchestrator(t, scoped, nil)

	got, err := o.Retrieve(context.Background(), Request{
		Query:     "q",
		UserScope: "u1",
		Targets: []Target{
			{SourceType: SourceDocument, SourceID: targetID(1)},
			{SourceType: SourceDocument, SourceID: targetID(2)},
		},
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("error = %v, want ErrAccessDenied", err)
	}
	if got != nil {
		t.Errorf("want no partial context on access denial, got %+v", got)
	}
}

func Test_Retrieve_EmptyResultIsNotAnError(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(t, &fakeScopedStore{}, nil)

	got, err := o.Retrieve(context.Background(), Request{
		Query:     "q",
		UserScope: "u1",
		Targets:   []Target{{SourceType: SourceDocument, SourceID: targetID(1)}},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v, want nil error for an empty result", err)
	}
	if !got.Empty() {
		t.Errorf("want empty assembled context, got %+v", got)
	}
}

func Test_Retrieve_CrossTargetDuplicateMergedOnce(t *testing.T) {
	t.Parallel()
	scoped := &fakeScopedStore{hits: map[string][]Hit{
		targetID(1): {{Chunk: Chunk{Text: "identical paragraph"}, Score: 0.9}},
		targetID(2): {{Chunk: Chunk{Text: "identical paragraph"}, Score: 0.6}},
	}}
	o := testOrchestrator(t, scoped, nil)

	got, err := o.Retrieve(context.Background(), Request{
		Query:     "q",
		UserScope: "u1",
		Targets: []Target{
			{SourceType: SourceDocument, SourceID: targetID(1)},
			{SourceType: SourceDocument, SourceID: targetID(2)},
		},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.Included != 1 {
		t.Errorf("Included = %d, want the duplicate merged once", got.Included)
	}
	if got.Sources[0].Score != 0.9 {
		t.Errorf("surviving score = %v, want the higher-scored occurrence", got.Sources[0].Score)
	}
}

func Test_Retrieve_ScopeIsolation(t *testing.T) {
	t.Parallel()
	// A store enforcing ownership must make every foreign-scope request fail
	// with ErrAccessDenied regardless of the target mix.
	owned := targetID(7)
	scoped := &ownershipStore{owner: "alice", sourceID: owned}
	o := testOrchestrator(t, scoped, nil)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		scope := "alice"
		if rng.Intn(2) == 0 {
			scope = fmt.Sprintf("intruder-%d", i)
		}
		got, err := o.Retrieve(context.Background(), Request{
			Query:     "q",
			UserScope: scope,
			Targets:   []Target{{SourceType: SourceDocument, SourceID: owned}},
		})
		if scope == "alice" {
			if err != nil {
				t.Fatalf("owner request failed: %v", err)
			}
			if got.Included != 1 {
				t.Fatalf("owner got %d chunks, want 1", got.Included)
			}
			continue
		}
		if !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("scope %q: error = %v, want ErrAccessDenied", scope, err)
		}
	}
}

// ownershipStore allows exactly one (owner, source id) pair.
type ownershipStore struct {
	owner    string
	sourceID string
}

func (s *ownershipStore) Query(_ context.Context, q ScopedQuery) ([]Hit, error) {
	if q.UserScope != s.owner || q.SourceID != s.sourceID {
		return nil, ErrAccessDenied
	}
	return []Hit{{Chunk: Chunk{Text: "owned content"}, Score: 0.9}}, nil
}

func (s *ownershipStore) Upsert(context.Context, []Chunk) error { return nil }
func (s *ownershipStore) DeleteBySource(context.Context, string, SourceType, string) error {
	return nil
}
func (s *ownershipStore) ScoreKind() ScoreKind { return ScoreSimilarity }
func (s *ownershipStore) Close() error         { return nil }
