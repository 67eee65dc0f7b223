package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nova-rag/nova-go/internal/logging"
)

// defaultQueryTimeout bounds each store query when the config leaves it zero.
const defaultQueryTimeout = 10 * time.Second

// OrchestratorConfig holds the dependencies for constructing an Orchestrator.
type OrchestratorConfig struct {
	// Scoped is the per-user document store. May be nil when only the
	// shared index is configured.
	Scoped ScopedStore

	// Shared is the multi-platform knowledge index. May be nil when only
	// the scoped store is configured.
	Shared SharedIndex

	// Logger is the structured logger for degradation events.
	// If nil, slog.Default is used.
	Logger *slog.Logger

	// Metrics receives pipeline observations. May be nil.
	Metrics *Metrics

	// QueryTimeout bounds each individual store query. A timed-out target
	// is treated like an errored one: degraded when siblings remain, fatal
	// when it was the only target. Defaults to 10s if zero.
	QueryTimeout time.Duration
}

// Orchestrator is the public entry point of the retrieval pipeline. It routes
// a request, fans the plan out across the configured stores concurrently,
// merges and deduplicates the hits, and assembles the bounded context.
//
// Store handles are long-lived and safe for concurrent use; the orchestrator
// itself holds no per-request state.
type Orchestrator struct {
	scoped  ScopedStore
	shared  SharedIndex
	log     *slog.Logger
	metrics *Metrics
	timeout time.Duration
}

// NewOrchestrator constructs an Orchestrator from the given config.
// At least one store must be configured.
func NewOrchestrator(cfg *OrchestratorConfig) (*Orchestrator, error) {
	if cfg == nil || (cfg.Scoped == nil && cfg.Shared == nil) {
		return nil, fmt.Errorf("retrieval: at least one store must be configured")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Orchestrator{
		scoped:  cfg.Scoped,
		shared:  cfg.Shared,
		log:     log,
		metrics: cfg.Metrics,
		timeout: timeout,
	}, nil
}

// targetResult carries one target's outcome back from its query goroutine.
type targetResult struct {
	list HitList
	err  error
}

// Retrieve executes the full pipeline for one request and returns the
// assembled context.
//
// Error contract: ErrInvalidRequest for malformed requests (no I/O
// performed), ErrAccessDenied when any target is not owned by the requesting
// scope, ErrAllTargetsFailed when every target errored or timed out. A valid
// query that finds nothing returns a non-nil empty AssembledContext and no
// error.
//
// Partial failures degrade: a transient error on one of several targets is
// logged and its hit list treated as empty, never aborting the request.
// Cancellation of ctx abandons in-flight store queries; the retrieval path
// is read-only, so abandonment has no side effects. No retries are performed
// here: a retry re-embeds the query and can rank differently, so it must be
// the caller's explicit decision.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (*AssembledContext, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	plan, err := BuildPlan(req)
	if err != nil {
		o.metrics.observe(outcomeInvalid, time.Since(start))
		return nil, err
	}

	if len(plan.Scoped) > 0 && o.scoped == nil {
		o.metrics.observe(outcomeInvalid, time.Since(start))
		return nil, fmt.Errorf("%w: no scoped store configured for owned targets", ErrInvalidRequest)
	}
	if plan.Shared != nil && o.shared == nil {
		o.metrics.observe(outcomeInvalid, time.Since(start))
		return nil, fmt.Errorf("%w: no shared index configured for platform search", ErrInvalidRequest)
	}

	// Fan out one goroutine per target and join on all of them. Results are
	// collected into a slice indexed by plan position so the merge input
	// order is deterministic regardless of goroutine completion order.
	results := make([]targetResult, plan.Targets())
	var wg sync.WaitGroup

	for i, sq := range plan.Scoped {
		wg.Add(1)
		go func(i int, sq ScopedQuery) {
			defer wg.Done()
			qctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()
			hits, err := o.scoped.Query(qctx, sq)
			results[i] = targetResult{
				list: HitList{
					Store: fmt.Sprintf("%s:%s", sq.SourceType, sq.SourceID),
					Kind:  o.scoped.ScoreKind(),
					Hits:  hits,
				},
				err: err,
			}
		}(i, sq)
	}

	if plan.Shared != nil {
		wg.Add(1)
		go func(i int, sq SharedQuery) {
			defer wg.Done()
			qctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()
			hits, err := o.shared.Query(qctx, sq.Text, sq.Platform, sq.TopK)
			results[i] = targetResult{
				list: HitList{Store: "shared:" + sq.Platform, Kind: o.shared.ScoreKind(), Hits: hits},
				err:  err,
			}
		}(len(plan.Scoped), *plan.Shared)
	}

	wg.Wait()

	lists := make([]HitList, 0, len(results))
	var failures []error
	for _, res := range results {
		if res.err != nil {
			// Access errors are authorisation problems, not store outages:
			// they abort the whole request rather than degrading it.
			if errors.Is(res.err, ErrAccessDenied) {
				o.metrics.observe(outcomeDenied, time.Since(start))
				return nil, res.err
			}
			o.metrics.targetFailed(res.list.Store)
			log.Warn("retrieval: target degraded to empty result",
				slog.String("target", res.list.Store),
				slog.Any("error", res.err),
			)
			failures = append(failures, fmt.Errorf("%s: %w", res.list.Store, res.err))
			continue
		}
		lists = append(lists, res.list)
	}

	if len(failures) == len(results) {
		o.metrics.observe(outcomeFailed, time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrAllTargetsFailed, errors.Join(failures...))
	}

	ranked := Rank(lists, plan.Limit)
	assembled := Assemble(ranked, plan.BudgetChars)

	if assembled.Empty() {
		o.metrics.observe(outcomeEmpty, time.Since(start))
		return assembled, nil
	}

	o.metrics.observe(outcomeOK, time.Since(start))
	o.metrics.contextAssembled(len(assembled.Text), assembled.Included)
	return assembled, nil
}
