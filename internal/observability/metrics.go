package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the refresh path.
type Metrics struct {
	RefreshCycles   *prometheus.CounterVec // label: outcome={success,failure,skipped,aborted}
	RefreshDuration prometheus.Histogram
	ProviderFetches *prometheus.CounterVec // labels: provider, outcome={success,error}
	FallbackFields  prometheus.Gauge       // number of metrics currently served from fallback
	AlertsSent      prometheus.Counter
}

// NewMetrics creates and registers all refresh metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RefreshCycles,
		m.RefreshDuration,
		m.ProviderFetches,
		m.FallbackFields,
		m.AlertsSent,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when multiple tests construct them.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RefreshCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fire_risk",
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"outcome"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fire_risk",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a complete refresh cycle including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		ProviderFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fire_risk",
			Name:      "provider_fetches_total",
			Help:      "Upstream provider fetches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		FallbackFields: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fire_risk",
			Name:      "fallback_fields",
			Help:      "Number of metrics currently served from a fallback tier.",
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fire_risk",
			Name:      "alerts_sent_total",
			Help:      "Orange-to-Red escalation notices dispatched.",
		}),
	}
}
