package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for scheduled runs.
type Metrics struct {
	RunsFired     prometheus.Counter
	RunsSucceeded prometheus.Counter
	RunsFailed    *prometheus.CounterVec
	TickDuration  prometheus.Histogram
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RunsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandrun",
			Subsystem: "scheduler",
			Name:      "runs_fired_total",
			Help:      "Total scheduled function runs started.",
		}),
		RunsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandrun",
			Subsystem: "scheduler",
			Name:      "runs_succeeded_total",
			Help:      "Total scheduled function runs that returned a value.",
		}),
		RunsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandrun",
			Subsystem: "scheduler",
			Name:      "runs_failed_total",
			Help:      "Total scheduled function runs that failed, by error kind.",
		}, []string{"kind"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sandrun",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each scheduler tick (poll + run cycle).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.RunsFired,
		m.RunsSucceeded,
		m.RunsFailed,
		m.TickDuration,
	)

	return m
}
