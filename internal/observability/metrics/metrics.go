// Package metrics exposes the service's Prometheus collectors: plugin import
// usage, reconciliation cycle outcomes, unit lifecycle counters, scheduled
// task dispatches and HTTP request metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "pluginhub"

var (
	// importUsed keeps the metric name of the original plugin server so
	// existing dashboards keep working.
	importUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plugin_import_used",
			Help: "Imports used by plugins, broken down by import name and plugin_id",
		},
		[]string{"name", "plugin_id"},
	)

	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "setup_plugins_duration_seconds",
			Help:      "Duration of reconciliation cycles in seconds by outcome.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_cycles_total",
			Help:      "Reconciliation cycles by outcome.",
		},
		[]string{"outcome"},
	)

	unitLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_loads_total",
			Help:      "Execution unit loads by result.",
		},
		[]string{"result"},
	)

	unitTeardowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_teardowns_total",
			Help:      "Execution unit teardowns by result.",
		},
		[]string{"result"},
	)

	configurations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugin_configurations",
			Help:      "Configurations in the published registry by unit state.",
		},
		[]string{"state"},
	)

	tasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_tasks_dispatched_total",
			Help:      "Scheduled plugin task jobs published to the task queue.",
		},
		[]string{"task"},
	)

	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_task_runs_total",
			Help:      "Scheduled plugin task runs by task and result.",
		},
		[]string{"task", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"handler", "method", "code"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
)

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var registerOnce sync.Once

// Register adds every collector to Registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			importUsed,
			cycleDuration,
			cycles,
			unitLoads,
			unitTeardowns,
			configurations,
			tasksDispatched,
			taskRuns,
			httpRequests,
			httpDuration,
		)
	})
}

// ObserveCycle records one finished reconciliation cycle.
func ObserveCycle(outcome string, elapsed time.Duration) {
	cycles.WithLabelValues(outcome).Inc()
	cycleDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveUnitLoad records the result of one unit load.
func ObserveUnitLoad(result string) {
	unitLoads.WithLabelValues(result).Inc()
}

// ObserveTeardown records the result of one unit teardown.
func ObserveTeardown(result string) {
	unitTeardowns.WithLabelValues(result).Inc()
}

// SetConfigurationStates replaces the per-state configuration gauge.
func SetConfigurationStates(counts map[string]int) {
	configurations.Reset()
	for state, n := range counts {
		configurations.WithLabelValues(state).Set(float64(n))
	}
}

// ObserveTaskDispatch records one scheduled job publication.
func ObserveTaskDispatch(task string) {
	tasksDispatched.WithLabelValues(task).Inc()
}

// ObserveTaskRun records the result of one scheduled task run.
func ObserveTaskRun(task, result string) {
	taskRuns.WithLabelValues(task, result).Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(elapsed.Seconds())
}
