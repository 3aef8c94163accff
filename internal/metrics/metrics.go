package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promiselink"

// Metrics holds the run collectors. A nil *Metrics is valid and records nothing,
// so components can take one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	runs              *prometheus.CounterVec
	evidence          *prometheus.CounterVec
	candidates        prometheus.Counter
	decisions         *prometheus.CounterVec
	validatorAttempts *prometheus.CounterVec
	validatorLatency  *prometheus.HistogramVec
	links             *prometheus.CounterVec
	embeddingCache    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Linking runs by outcome (completed, aborted, dry_run).",
			},
			[]string{"outcome"},
		),
		evidence: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evidence_items_total",
				Help:      "Evidence items handled, by resulting linking status.",
			},
			[]string{"status"},
		),
		candidates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_total",
				Help:      "Ranked candidates generated across all evidence items.",
			},
		),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Candidate decisions by outcome.",
			},
			[]string{"outcome"},
		),
		validatorAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validator_attempts_total",
				Help:      "Classifier attempts by provider and result (ok, malformed, error).",
			},
			[]string{"provider", "result"},
		),
		validatorLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validator_attempt_duration_seconds",
				Help:      "Latency of single classifier attempts.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		links: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "links_created_total",
				Help:      "New promise-evidence links by method.",
			},
			[]string{"method"},
		),
		embeddingCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_cache_lookups_total",
				Help:      "Embedding cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, embedding programs)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EvidenceHandled(status string) {
	if m == nil {
		return
	}
	m.evidence.WithLabelValues(status).Inc()
}

func (m *Metrics) CandidatesGenerated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.candidates.Add(float64(n))
}

func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ValidatorAttempt records one classifier call
func (m *Metrics) ValidatorAttempt(provider, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.validatorAttempts.WithLabelValues(provider, result).Inc()
	m.validatorLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) LinksCreated(method string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.links.WithLabelValues(method).Add(float64(n))
}

func (m *Metrics) EmbeddingCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddingCache.WithLabelValues(result).Inc()
}
