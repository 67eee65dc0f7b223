package retrieval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcome label values for the retrieval metrics.
const (
	outcomeOK      = "ok"
	outcomeEmpty   = "empty"
	outcomeInvalid = "invalid"
	outcomeDenied  = "denied"
	outcomeFailed  = "failed"
)

// Metrics holds the Prometheus metrics owned by the retrieval pipeline.
// A nil *Metrics is valid and records nothing, so callers that do not care
// about observability can pass nil without guarding every call site.
type Metrics struct {
	// requestsTotal counts completed Retrieve calls, partitioned by outcome:
	// ok, empty, invalid, denied, or failed.
	requestsTotal *prometheus.CounterVec

	// targetFailuresTotal counts individual targets degraded to an empty
	// result, partitioned by target label. A rising counter here with an
	// "ok" request outcome is the signature of a masked partial outage.
	targetFailuresTotal *prometheus.CounterVec

	// durationSeconds records the wall-clock duration of each Retrieve call.
	durationSeconds prometheus.Histogram

	// contextChars records the assembled context size in characters.
	contextChars prometheus.Histogram

	// contextChunks records the number of chunks included per context.
	contextChunks prometheus.Histogram
}

// NewMetrics registers the retrieval metrics against reg and returns the
// populated Metrics. promauto.With(reg) registers into the provided registry
// rather than the global default, which keeps unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nova",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total number of retrieval requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		targetFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nova",
			Subsystem: "retrieval",
			Name:      "target_failures_total",
			Help:      "Total number of targets degraded to an empty result, partitioned by target.",
		}, []string{"target"}),

		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nova",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of retrieval requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		contextChars: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nova",
			Subsystem: "retrieval",
			Name:      "context_chars",
			Help:      "Assembled context size in characters.",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 9),
		}),

		contextChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nova",
			Subsystem: "retrieval",
			Name:      "context_chunks",
			Help:      "Number of chunks included per assembled context.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

// observe records one completed request with its outcome and duration.
func (m *Metrics) observe(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.durationSeconds.Observe(d.Seconds())
}

// targetFailed records one degraded target.
func (m *Metrics) targetFailed(target string) {
	if m == nil {
		return
	}
	m.targetFailuresTotal.WithLabelValues(target).Inc()
}

// contextAssembled records the size of one assembled context.
func (m *Metrics) contextAssembled(chars, chunks int) {
	if m == nil {
		return
	}
	m.contextChars.Observe(float64(chars))
	m.contextChunks.Observe(float64(chunks))
}
