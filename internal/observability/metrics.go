// Package observability provides Prometheus metrics for call processing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "callagent"

// Metrics holds the collectors for conversation processing. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// MessagesTotal counts processed messages.
	// Labels: kind (message, interruption), result (ok, not_found, invalid, conflict, persistence, error)
	MessagesTotal *prometheus.CounterVec

	// TransitionsTotal counts step transitions.
	// Labels: from, to
	TransitionsTotal *prometheus.CounterVec

	// ProcessDurationSeconds measures end-to-end handling time.
	// Labels: kind
	ProcessDurationSeconds *prometheus.HistogramVec

	// SessionsStarted counts created sessions.
	// Labels: agent_id
	SessionsStarted *prometheus.CounterVec

	// SessionsSwept counts sessions removed by the idle sweeper.
	SessionsSwept prometheus.Counter

	// ActiveCalls tracks open live-call websocket connections.
	ActiveCalls prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "Processed call messages by kind and result",
			},
			[]string{"kind", "result"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "step_transitions_total",
				Help:      "Conversation step transitions",
			},
			[]string{"from", "to"},
		),
		ProcessDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "process_duration_seconds",
				Help:      "Time to process one call message",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		SessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_started_total",
				Help:      "Call sessions created by agent",
			},
			[]string{"agent_id"},
		),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_swept_total",
			Help:      "Idle call sessions removed by the sweeper",
		}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_calls",
			Help:      "Open live call connections",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesTotal,
			m.TransitionsTotal,
			m.ProcessDurationSeconds,
			m.SessionsStarted,
			m.SessionsSwept,
			m.ActiveCalls,
		)
	}
	return m
}

// ObserveMessage records one processed message.
func (m *Metrics) ObserveMessage(kind, result string, started time.Time) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(kind, result).Inc()
	m.ProcessDurationSeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// ObserveTransition records a step change. Self-transitions are skipped.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// SessionStarted records a new session for agentID.
func (m *Metrics) SessionStarted(agentID string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(agentID).Inc()
}

// Swept records n sessions removed by the sweeper.
func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

// CallOpened increments the active call gauge.
func (m *Metrics) CallOpened() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

// CallClosed decrements the active call gauge.
func (m *Metrics) CallClosed() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
}
