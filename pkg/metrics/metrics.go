// Package metrics exposes Prometheus instrumentation for the orchestrator.
//
// Every metric here is optional: nothing in pkg/executor, pkg/feature, or
// pkg/reconcile fails or changes behavior if the /metrics endpoint is never
// served. Wiring a metric is purely additive observability, the same role
// this package plays in the wider fleet-management codebase this one is
// adapted from.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts every Command Executor invocation, by component
	// and outcome (ok, dry_run, exit_nonzero, timeout, not_found, io_error).
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_commands_total",
			Help: "Total number of external commands invoked by the executor",
		},
		[]string{"component", "result"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phoenix_command_duration_seconds",
			Help:    "Duration of external command invocations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phoenix_reconciliation_duration_seconds",
			Help:    "Duration of a single CTID reconciliation",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"result"},
	)

	FeaturesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_features_applied_total",
			Help: "Total number of feature handler invocations, by feature and outcome",
		},
		[]string{"feature", "result"},
	)

	FleetSummaryGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "phoenix_fleet_last_run",
			Help: "Outcome counts from the most recent fleet run",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(FeaturesAppliedTotal)
	prometheus.MustRegister(FleetSummaryGauge)
}

// Handler returns the Prometheus HTTP handler for an optional --metrics-addr listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
