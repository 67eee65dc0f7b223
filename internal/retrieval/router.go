package retrieval

import (
	"fmt"

	"github.com/google/uuid"
)

// SharedQuery is the shared-index leg of a query plan.
type SharedQuery struct {
	// Text is the query text.
	Text string
	// Platform is the resolved platform filter (a known tag or PlatformAll).
	Platform string
	// TopK is the fetch count for the shared index.
	TopK int
}

// Plan is the concrete query plan the router derives from a request:
// either one scoped query per declared target, or a single shared-index
// query, never both.
type Plan struct {
	// Scoped holds one query per declared (source type, source id) target.
	Scoped []ScopedQuery
	// Shared is set when the request routes to the shared index.
	Shared *SharedQuery
	// Limit caps the merged hit list; it equals the largest per-target
	// fetch count in the plan.
	Limit int
	// BudgetChars is the resolved context budget for assembly.
	BudgetChars int
}

// Targets returns the number of query legs in the plan.
func (p *Plan) Targets() int {
	n := len(p.Scoped)
	if p.Shared != nil {
		n++
	}
	return n
}

// BuildPlan validates a request and maps it to a query plan. Every
// validation failure wraps ErrInvalidRequest and is raised before any store
// is touched, so malformed requests are cheap and cause no I/O.
func BuildPlan(req Request) (*Plan, error) {
	query := req.Query
	if query == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidRequest)
	}

	if len(req.Targets) > 0 && req.Platform != "" {
		return nil, fmt.Errorf("%w: declared targets and a platform filter are mutually exclusive", ErrInvalidRequest)
	}

	budget := req.BudgetChars
	if budget <= 0 {
		budget = DefaultBudgetChars
	}

	// No declared source: route to the shared index.
	if len(req.Targets) == 0 {
		platform := req.Platform
		if platform == "" {
			platform = PlatformAll
		}
		if !KnownPlatform(platform) {
			return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidRequest, platform)
		}
		topK := clampTopK(req.TopK, DefaultSharedTopK)
		return &Plan{
			Shared:      &SharedQuery{Text: query, Platform: platform, TopK: topK},
			Limit:       topK,
			BudgetChars: budget,
		}, nil
	}

	// One or more declared sources: fan out one scoped query per target.
	if req.UserScope == "" {
		return nil, fmt.Errorf("%w: user scope is required for owned targets", ErrInvalidRequest)
	}

	topK := clampTopK(req.TopK, DefaultScopedTopK)
	plan := &Plan{
		Scoped:      make([]ScopedQuery, 0, len(req.Targets)),
		Limit:       topK,
		BudgetChars: budget,
	}

	for _, t := range req.Targets {
		if !t.SourceType.Valid() || t.SourceType == SourcePost {
			return nil, fmt.Errorf("%w: source type %q cannot be queried as an owned target", ErrInvalidRequest, t.SourceType)
		}
		if _, err := uuid.Parse(t.SourceID); err != nil {
			return nil, fmt.Errorf("%w: malformed source id %q", ErrInvalidRequest, t.SourceID)
		}
		plan.Scoped = append(plan.Scoped, ScopedQuery{
			Text:       query,
			UserScope:  req.UserScope,
			SourceType: t.SourceType,
			SourceID:   t.SourceID,
			TopK:       topK,
		})
	}

	return plan, nil
}

// clampTopK applies the default when k is unset and the global upper bound
// regardless of the request.
func clampTopK(k, def int) int {
	if k <= 0 {
		return def
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}
