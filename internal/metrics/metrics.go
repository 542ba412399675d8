// Package metrics exposes Prometheus counters for the evaluation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heron"

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	alertsCreated      *prometheus.CounterVec
	alertsSuppressed   *prometheus.CounterVec
	sanctionsMatches   *prometheus.CounterVec
	sanctionsRefreshes *prometheus.CounterVec
	sanctionsEntities  *prometheus.GaugeVec
	rulesLoaded        prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Transactions evaluated, by ingestion status",
		}, []string{"status"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Evaluation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts created, by alert type",
		}, []string{"type"}),
		alertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed, by cause",
		}, []string{"cause"}),
		sanctionsMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanctions_matches_total",
			Help:      "Sanctions matches, by list",
		}, []string{"list"}),
		sanctionsRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanctions_refreshes_total",
			Help:      "Sanctions feed refresh attempts, by source and outcome",
		}, []string{"source", "ok"}),
		sanctionsEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sanctions_entities",
			Help:      "Entities in the sanctions cache, by source",
		}, []string{"source"}),
		rulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_loaded",
			Help:      "Rules in the active registry",
		}),
	}

	m.registry.MustRegister(
		m.evaluations,
		m.evaluationDuration,
		m.alertsCreated,
		m.alertsSuppressed,
		m.sanctionsMatches,
		m.sanctionsRefreshes,
		m.sanctionsEntities,
		m.rulesLoaded,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveEvaluation(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(status).Inc()
	m.evaluationDuration.Observe(d.Seconds())
}

func (m *Metrics) AlertCreated(alertType string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(alertType).Inc()
}

func (m *Metrics) AlertSuppressed(cause string) {
	if m == nil {
		return
	}
	m.alertsSuppressed.WithLabelValues(cause).Inc()
}

func (m *Metrics) SanctionsMatched(list string) {
	if m == nil {
		return
	}
	m.sanctionsMatches.WithLabelValues(list).Inc()
}

// SanctionsRefreshed records a refresh attempt. The entity gauge only moves on success.
func (m *Metrics) SanctionsRefreshed(source string, ok bool, count int) {
	if m == nil {
		return
	}
	m.sanctionsRefreshes.WithLabelValues(source, strconv.FormatBool(ok)).Inc()
	if ok {
		m.sanctionsEntities.WithLabelValues(source).Set(float64(count))
	}
}

func (m *Metrics) SetRulesLoaded(n int) {
	if m == nil {
		return
	}
	m.rulesLoaded.Set(float64(n))
}
