// File: internal/observability/metrics.go
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects exploration counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	actionsTotal        *prometheus.CounterVec
	sessionsTotal       *prometheus.CounterVec
	sessionDuration     prometheus.Histogram
	oracleCallsTotal    *prometheus.CounterVec
	oracleCallDuration  prometheus.Histogram
	pagesVisitedTotal   prometheus.Counter
	activeSessionsGauge prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed actions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by terminal state.",
		}, []string{"state"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall clock duration of exploration sessions.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		oracleCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Decision oracle calls by result (ok, parse_failure, transport_failure).",
		}, []string{"result"}),
		oracleCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Decision oracle round trip latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		pagesVisitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_visited_total",
			Help:      "Distinct pages visited across sessions.",
		}),
		activeSessionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently exploring.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.actionsTotal,
			m.sessionsTotal,
			m.sessionDuration,
			m.oracleCallsTotal,
			m.oracleCallDuration,
			m.pagesVisitedTotal,
			m.activeSessionsGauge,
		)
	}
	return m
}

// RecordAction counts one executed action.
func (m *Metrics) RecordAction(kind string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.actionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordOracleCall counts one oracle round trip.
func (m *Metrics) RecordOracleCall(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.oracleCallsTotal.WithLabelValues(result).Inc()
	m.oracleCallDuration.Observe(took.Seconds())
}

// RecordPageVisit counts a newly visited page.
func (m *Metrics) RecordPageVisit() {
	if m == nil {
		return
	}
	m.pagesVisitedTotal.Inc()
}

// SessionStarted marks a session as active and returns a func that records its end.
func (m *Metrics) SessionStarted() func(state string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.activeSessionsGauge.Inc()
	return func(state string) {
		m.activeSessionsGauge.Dec()
		m.sessionsTotal.WithLabelValues(state).Inc()
		m.sessionDuration.Observe(time.Since(start).Seconds())
	}
}
