// Package metrics exposes the Prometheus counters and gauges the
// admin HTTP surface's /metrics endpoint serves.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every Record*/Set* method no-ops on a nil
// receiver so callers never need to branch on whether metrics are
// enabled.
type Metrics struct {
	registry *prometheus.Registry

	tasksCreated    *prometheus.CounterVec
	agentsSpawned   *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	toolCallErrors  *prometheus.CounterVec
	toolCallSeconds *prometheus.HistogramVec
	indexCycle      *prometheus.HistogramVec
	sessionsByState *prometheus.GaugeVec
}

// New builds a registry with every gauge/counter pre-registered.
func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.tasksCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "task", Name: "created_total",
		Help: "Total number of tasks created.",
	}, []string{"priority"})

	m.agentsSpawned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "agent", Name: "spawned_total",
		Help: "Total number of agents created.",
	}, []string{"background"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of tool invocations.",
	}, []string{"tool_name"})

	m.toolCallErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of tool invocations that returned an error.",
	}, []string{"tool_name", "code"})

	m.toolCallSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help:    "Tool dispatch duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool_name"})

	m.indexCycle = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "indexer", Name: "cycle_duration_seconds",
		Help:    "Indexing cycle duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"skipped"})

	m.sessionsByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "transport", Name: "sessions",
		Help: "Transport sessions by lifecycle state.",
	}, []string{"state"})

	m.registry.MustRegister(
		m.tasksCreated, m.agentsSpawned, m.toolCalls, m.toolCallErrors,
		m.toolCallSeconds, m.indexCycle, m.sessionsByState,
	)
	return m
}

func (m *Metrics) RecordTaskCreated(priority string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(priority).Inc()
}

func (m *Metrics) RecordAgentSpawned(background bool) {
	if m == nil {
		return
	}
	m.agentsSpawned.WithLabelValues(boolLabel(background)).Inc()
}

func (m *Metrics) RecordToolCall(toolName string, duration time.Duration, errCode string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolCallSeconds.WithLabelValues(toolName).Observe(duration.Seconds())
	if errCode != "" {
		m.toolCallErrors.WithLabelValues(toolName, errCode).Inc()
	}
}

func (m *Metrics) RecordIndexCycle(duration time.Duration, skipped bool) {
	if m == nil {
		return
	}
	m.indexCycle.WithLabelValues(boolLabel(skipped)).Observe(duration.Seconds())
}

func (m *Metrics) SetSessionCounts(live, idle, expired int) {
	if m == nil {
		return
	}
	m.sessionsByState.WithLabelValues("live").Set(float64(live))
	m.sessionsByState.WithLabelValues("idle").Set(float64(idle))
	m.sessionsByState.WithLabelValues("expired").Set(float64(expired))
}

// Handler serves the registered metrics in the Prometheus exposition
// format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
