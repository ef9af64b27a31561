// Package metrics exposes Prometheus instrumentation for the planning,
// execution, and dispatch paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadia/kinara/pkg/action"
	"github.com/nadia/kinara/pkg/reasoning"
	"github.com/nadia/kinara/pkg/store"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	registry *prometheus.Registry

	// Planning metrics
	PlansCreatedTotal prometheus.Counter
	PlanTerminalTotal *prometheus.CounterVec

	// Execution metrics
	StepExecutionsTotal   *prometheus.CounterVec
	StepExecutionDuration *prometheus.HistogramVec

	// Dispatch metrics
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	RemoteBudgetLeft prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		PlansCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plans_created_total",
				Help: "Total number of plans generated and persisted",
			},
		),
		PlanTerminalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plans_terminal_total",
				Help: "Total number of plans reaching a terminal state",
			},
			[]string{"status"},
		),

		StepExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "step_executions_total",
				Help: "Total number of step execution attempts",
			},
			[]string{"action", "status"},
		),
		StepExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "step_execution_duration_seconds",
				Help:    "Duration of step execution attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatches_total",
				Help: "Total number of automation dispatches",
			},
			[]string{"tier", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_duration_seconds",
				Help:    "Duration of automation dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tier"},
		),
		RemoteBudgetLeft: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_remote_budget_remaining",
				Help: "Remote dispatches remaining in today's budget",
			},
		),
	}

	registry.MustRegister(
		m.PlansCreatedTotal,
		m.PlanTerminalTotal,
		m.StepExecutionsTotal,
		m.StepExecutionDuration,
		m.DispatchesTotal,
		m.DispatchDuration,
		m.RemoteBudgetLeft,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDispatch implements the dispatch recorder interface.
func (m *Metrics) RecordDispatch(tier reasoning.Tier, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.DispatchesTotal.WithLabelValues(string(tier), status).Inc()
	m.DispatchDuration.WithLabelValues(string(tier)).Observe(latency.Seconds())
}

// RecordStep implements the execution recorder interface.
func (m *Metrics) RecordStep(actionType action.Type, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.StepExecutionsTotal.WithLabelValues(string(actionType), status).Inc()
	m.StepExecutionDuration.WithLabelValues(string(actionType)).Observe(duration.Seconds())
}

// RecordPlanTerminal implements the execution recorder interface.
func (m *Metrics) RecordPlanTerminal(status store.PlanStatus) {
	m.PlanTerminalTotal.WithLabelValues(string(status)).Inc()
}
