package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every prometheus instrument the service records.
// Each App gets its own registry so tests never trip over duplicate
// registration in the package-global default.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec
	RequestSeconds *prometheus.HistogramVec
	TokensTotal    *prometheus.CounterVec
	CostUSD        *prometheus.CounterVec

	CooldownsTotal  *prometheus.CounterVec
	PoolCredentials *prometheus.GaugeVec
	PressureAlerts  *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec

	CacheOps            *prometheus.CounterVec
	SanitizerRedactions prometheus.Counter
	ThinkingSkipped     prometheus.Counter

	DeliberationsTotal *prometheus.CounterVec
	DeliberationRounds prometheus.Histogram

	InboundThrottled prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troika_requests_total",
			Help: "Provider requests dispatched, by provider and outcome",
		}, []string{"provider", "outcome"}),
		RequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "troika_request_seconds",
			Help:    "Provider request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troika_tokens_total",
			Help: "Tokens consumed, by provider and kind (prompt/completion/reasoning)",
		}, []string{"provider", "kind"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troika_cost_usd_total",
			Help: "Estimated USD spend per provider",
		}, []string{"provider"}),
		CooldownsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troika_cooldowns_total",
			Help: "Credential cooldowns entered, by provider and reason",
		}, []string{"provider", "reason"}),
		PoolCredentials: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "troika_credential_pool",
			Help: "Credential counts per provider and state",
		}, []string{"provider", "state"}),
		PressureAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troika_pressure_alerts_total",
			Help: "Pool pressure alerts fired per provider",
		}, []string{"provider"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "troika_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		}, []string{"provider"}),
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troika_cache_ops_total",
			Help: "Cache operations, by cache (response/enrichment) and op (hit/miss/store/evict)",
		}, []string{"cache", "op"}),
		SanitizerRedactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "troika_sanitizer_redactions_total",
			Help: "Prompt segments scrubbed by the injection sanitizer",
		}),
		ThinkingSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "troika_thinking_mode_skipped_total",
			Help: "Requests where thinking mode was suppressed by the cost guard",
		}),
		DeliberationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "troika_deliberations_total",
			Help: "Deliberations completed, by outcome (consensus/no_consensus/timed_out)",
		}, []string{"outcome"}),
		DeliberationRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "troika_deliberation_rounds",
			Help:    "Rounds executed per deliberation",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		InboundThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "troika_inbound_throttled_total",
			Help: "Inbound API requests rejected by the rate limiter",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestSeconds, m.TokensTotal, m.CostUSD,
		m.CooldownsTotal, m.PoolCredentials, m.PressureAlerts, m.BreakerState,
		m.CacheOps, m.SanitizerRedactions, m.ThinkingSkipped,
		m.DeliberationsTotal, m.DeliberationRounds, m.InboundThrottled,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
