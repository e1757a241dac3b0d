package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider records metrics into a private registry so only
// pennant series appear on its Handler. It does not trace.
type PrometheusProvider struct {
	Registry *prometheus.Registry

	CacheLookupsTotal *prometheus.CounterVec
	EvaluationsTotal  *prometheus.CounterVec
	FetchesTotal      *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	FlagCount         *prometheus.GaugeVec
	CircuitState      *prometheus.GaugeVec
	ReconnectsTotal   *prometheus.CounterVec
}

// NewPrometheus creates and registers all collectors in a fresh registry.
func NewPrometheus() *PrometheusProvider {
	reg := prometheus.NewRegistry()

	p := &PrometheusProvider{
		Registry: reg,

		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pennant_cache_lookups_total",
			Help: "Total number of snapshot cache lookups.",
		}, []string{"provider", "result"}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pennant_evaluations_total",
			Help: "Total number of flag and experiment reads.",
		}, []string{"source"}),

		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pennant_fetches_total",
			Help: "Total number of provider fetches.",
		}, []string{"provider", "result"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pennant_fetch_duration_seconds",
			Help:    "Provider fetch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		FlagCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pennant_snapshot_flags",
			Help: "Number of flags in the latest snapshot per provider.",
		}, []string{"provider"}),

		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pennant_circuit_state",
			Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half-open).",
		}, []string{"provider"}),

		ReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pennant_realtime_reconnects_total",
			Help: "Total number of realtime reconnect attempts.",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		p.CacheLookupsTotal,
		p.EvaluationsTotal,
		p.FetchesTotal,
		p.FetchDuration,
		p.FlagCount,
		p.CircuitState,
		p.ReconnectsTotal,
	)

	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

func (p *PrometheusProvider) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, NoOpSpan{}
}

func (p *PrometheusProvider) RecordCacheHit(_ context.Context, provider string) {
	p.CacheLookupsTotal.WithLabelValues(provider, "hit").Inc()
}

func (p *PrometheusProvider) RecordCacheMiss(_ context.Context, provider string) {
	p.CacheLookupsTotal.WithLabelValues(provider, "miss").Inc()
}

// RecordEvaluation labels by source only; flag keys are unbounded.
func (p *PrometheusProvider) RecordEvaluation(_ context.Context, _ string, source string) {
	p.EvaluationsTotal.WithLabelValues(source).Inc()
}

func (p *PrometheusProvider) RecordFetch(_ context.Context, provider string, success bool, duration time.Duration, flagCount int) {
	result := "failure"
	if success {
		result = "success"
		p.FlagCount.WithLabelValues(provider).Set(float64(flagCount))
	}
	p.FetchesTotal.WithLabelValues(provider, result).Inc()
	p.FetchDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (p *PrometheusProvider) RecordCircuitState(_ context.Context, provider string, state string) {
	p.CircuitState.WithLabelValues(provider).Set(float64(CircuitStateValue(state)))
}

func (p *PrometheusProvider) RecordReconnect(_ context.Context, provider string, _ time.Duration) {
	p.ReconnectsTotal.WithLabelValues(provider).Inc()
}

func (p *PrometheusProvider) Shutdown(context.Context) error { return nil }
