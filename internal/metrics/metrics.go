// Package metrics exposes Prometheus counters for credit charging and AI
// calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aicredits"

// Charge outcomes
const (
	OutcomeCharged      = "charged"
	OutcomeInsufficient = "insufficient"
	OutcomeError        = "error"
)

// Caller kinds
const (
	CallerRegistered = "registered"
	CallerGuest      = "guest"
)

// AI request outcomes
const (
	AIOutcomeOK            = "ok"
	AIOutcomeCached        = "cached"
	AIOutcomeDisabled      = "disabled"
	AIOutcomeTimeout       = "timeout"
	AIOutcomeMalformed     = "malformed"
	AIOutcomeProviderError = "provider_error"
	AIOutcomeInsufficient  = "insufficient"
)

// Cache lookup results
const (
	CacheRedisHit = "redis_hit"
	CacheDBHit    = "db_hit"
	CacheMiss     = "miss"
)

// Metrics holds the service's collectors
type Metrics struct {
	charges         *prometheus.CounterVec
	creditsCharged  *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	grants          *prometheus.CounterVec
	aiRequests      *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	providerCost    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	usageDropped    prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "Credit charge attempts by feature, caller kind and outcome.",
		}, []string{"feature", "caller", "outcome"}),
		creditsCharged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_charged_total",
			Help:      "Credits deducted by feature and caller kind.",
		}, []string{"feature", "caller"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Credit refunds by reason.",
		}, []string{"reason"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Credit grants by source and whether they were applied.",
		}, []string{"source", "applied"}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "AI gateway invocations by feature and outcome.",
		}, []string{"feature", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Upstream provider call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"model"}),
		providerCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cost_usd_total",
			Help:      "Provider spend in USD by model.",
		}, []string{"model"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		usageDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_dropped_total",
			Help:      "Usage records that could not be enqueued.",
		}),
	}

	reg.MustRegister(
		m.charges,
		m.creditsCharged,
		m.refunds,
		m.grants,
		m.aiRequests,
		m.providerLatency,
		m.providerCost,
		m.cacheLookups,
		m.usageDropped,
	)
	return m
}

// Handler serves the metrics gathered from g
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCharge(feature, caller, outcome string, credits int64) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(feature, caller, outcome).Inc()
	if outcome == OutcomeCharged && credits > 0 {
		m.creditsCharged.WithLabelValues(feature, caller).Add(float64(credits))
	}
}

func (m *Metrics) ObserveRefund(reason string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveGrant(source string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.grants.WithLabelValues(source, label).Inc()
}

func (m *Metrics) ObserveAIRequest(feature, outcome string) {
	if m == nil {
		return
	}
	m.aiRequests.WithLabelValues(feature, outcome).Inc()
}

func (m *Metrics) ObserveProviderCall(model string, latency time.Duration, costUSD float64) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(model).Observe(latency.Seconds())
	if costUSD > 0 {
		m.providerCost.WithLabelValues(model).Add(costUSD)
	}
}

func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) UsageDropped() {
	if m == nil {
		return
	}
	m.usageDropped.Inc()
}
