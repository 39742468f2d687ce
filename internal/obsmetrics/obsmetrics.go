// Package obsmetrics exposes Prometheus metrics for the board runtime,
// grounded on the teacher's pkg/observability/metrics.go (same library,
// same CounterVec/GaugeVec/HistogramVec shape), narrowed to this module's
// domain: actor state, work/tasklist queue depth, budget consumption, and
// tool-call outcomes. There is no served HTTP/API surface in this engine,
// so unlike the teacher there is no RAG/session/HTTP metric family here —
// cmd/ainulindale mounts Handler() behind a minimal stdlib listener only
// when metrics export is requested, not as a general API surface.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every registered collector for one board runtime. A nil
// *Metrics is valid and every Record*/Set* method becomes a no-op, so
// callers do not need to guard every call site when metrics are disabled.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	actorTransitions *prometheus.CounterVec
	actorState       *prometheus.GaugeVec

	workQueueDepth *prometheus.GaugeVec
	taskQueueDepth *prometheus.GaugeVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	budgetDollars *prometheus.GaugeVec
	budgetTokens  *prometheus.GaugeVec
}

// New creates a Metrics instance under the given namespace, or returns nil
// if enabled is false.
func New(namespace string, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	m := &Metrics{namespace: namespace, registry: prometheus.NewRegistry()}
	m.init()
	return m
}

func (m *Metrics) init() {
	m.actorTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "actor", Name: "transitions_total",
		Help: "Total number of actor state transitions",
	}, []string{"entity_id", "from", "to"})

	m.actorState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "actor", Name: "state",
		Help: "Current actor state (1 = current state, 0 otherwise) per entity/state pair",
	}, []string{"entity_id", "state"})

	m.workQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "workqueue", Name: "depth",
		Help: "Number of pending work items per hex",
	}, []string{"hex_id"})

	m.taskQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "tasklist", Name: "depth",
		Help: "Number of pending tasks per status",
	}, []string{"status"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of tool invocations",
	}, []string{"plugin_id", "operation"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help:    "Tool execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"plugin_id", "operation"})

	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of tool errors",
	}, []string{"plugin_id", "operation", "error_code"})

	m.budgetDollars = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "budget", Name: "dollars",
		Help: "Current total/run dollar spend",
	}, []string{"scope"})

	m.budgetTokens = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "budget", Name: "tokens",
		Help: "Current total/run token spend",
	}, []string{"scope"})

	m.registry.MustRegister(
		m.actorTransitions, m.actorState,
		m.workQueueDepth, m.taskQueueDepth,
		m.toolCalls, m.toolCallDuration, m.toolErrors,
		m.budgetDollars, m.budgetTokens,
	)
}

// RecordActorTransition records an actor moving from one state to another.
func (m *Metrics) RecordActorTransition(entityID, from, to string) {
	if m == nil {
		return
	}
	m.actorTransitions.WithLabelValues(entityID, from, to).Inc()
	m.actorState.WithLabelValues(entityID, from).Set(0)
	m.actorState.WithLabelValues(entityID, to).Set(1)
}

// SetWorkQueueDepth sets the pending-item count for a hex's work queue.
func (m *Metrics) SetWorkQueueDepth(hexID string, depth int) {
	if m == nil {
		return
	}
	m.workQueueDepth.WithLabelValues(hexID).Set(float64(depth))
}

// SetTaskQueueDepth sets the task count for a given status.
func (m *Metrics) SetTaskQueueDepth(status string, depth int) {
	if m == nil {
		return
	}
	m.taskQueueDepth.WithLabelValues(status).Set(float64(depth))
}

// RecordToolCall records a completed tool invocation and its duration.
func (m *Metrics) RecordToolCall(pluginID, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(pluginID, operation).Inc()
	m.toolCallDuration.WithLabelValues(pluginID, operation).Observe(duration.Seconds())
}

// RecordToolError records a structured tool execution error.
func (m *Metrics) RecordToolError(pluginID, operation, errorCode string) {
	if m == nil {
		return
	}
	m.toolErrors.WithLabelValues(pluginID, operation, errorCode).Inc()
}

// SetBudget publishes the tracker's current total/run dollar and token
// figures as gauges.
func (m *Metrics) SetBudget(totalDollars, runDollars float64, totalTokens, runTokens int) {
	if m == nil {
		return
	}
	m.budgetDollars.WithLabelValues("total").Set(totalDollars)
	m.budgetDollars.WithLabelValues("run").Set(runDollars)
	m.budgetTokens.WithLabelValues("total").Set(float64(totalTokens))
	m.budgetTokens.WithLabelValues("run").Set(float64(runTokens))
}

// Handler returns an HTTP handler serving this registry in the Prometheus
// exposition format, for cmd/ainulindale to mount behind an opt-in
// metrics listener.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
