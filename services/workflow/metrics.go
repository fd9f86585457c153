package workflow

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink exports run outcomes as Prometheus metrics.
type MetricsSink struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetricsSink creates the run metrics and registers them with reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	m := &MetricsSink{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_runs_started_total",
			Help: "Workflow runs started.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_runs_finished_total",
			Help: "Workflow runs finished, by status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workflow_run_duration_seconds",
			Help:    "Wall-clock duration of finished workflow runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{m.started, m.finished, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsSink) Notify(_ context.Context, n Notification) error {
	switch n.Kind {
	case NotificationStarted:
		m.started.Inc()
	case NotificationSuccess:
		m.finished.WithLabelValues(StatusCompleted).Inc()
		m.duration.Observe(n.Duration.Seconds())
	case NotificationError:
		m.finished.WithLabelValues(StatusFailed).Inc()
		m.duration.Observe(n.Duration.Seconds())
	}
	return nil
}
