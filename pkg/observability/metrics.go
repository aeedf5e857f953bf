package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpecho"

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsRemoved prometheus.Counter
	stateOps        *prometheus.CounterVec
	fallbacks       prometheus.Counter
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently held by the registry",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		sessionsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Total number of sessions torn down",
		}),
		stateOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_operations_total",
				Help:      "State adapter operations by kind and resolved scope",
			},
			[]string{"op", "scope"},
		),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_fallback_total",
			Help:      "Operations served by the non-durable fallback scope",
		}),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "MCP tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_seconds",
				Help:      "Duration of MCP tool calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.sessionsCreated,
		m.sessionsRemoved,
		m.stateOps,
		m.fallbacks,
		m.toolCalls,
		m.toolDuration,
		prometheus.NewGoCollector(),
	)
	return m
}

// SessionCreated implements session.Observer.
func (m *Metrics) SessionCreated(string) {
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

// SessionRemoved implements session.Observer.
func (m *Metrics) SessionRemoved(string) {
	m.sessionsRemoved.Inc()
	m.sessionsActive.Dec()
}

// StateOp implements state.Recorder.
func (m *Metrics) StateOp(op, scope string) {
	m.stateOps.WithLabelValues(op, scope).Inc()
}

// Fallback implements state.Recorder.
func (m *Metrics) Fallback() {
	m.fallbacks.Inc()
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool string, failed bool, elapsed time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
