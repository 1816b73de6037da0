package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ComplaintsSubmittedTotal counts citizen submissions by issue type.
	ComplaintsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cleanmadurai",
		Subsystem: "api",
		Name:      "complaints_submitted_total",
		Help:      "Total number of complaints submitted, labeled by issue type.",
	}, []string{"type"})

	// TriageTotal counts triage outcomes: classified (model verdict accepted)
	// or fallback (any failure path that defaulted to medium).
	TriageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cleanmadurai",
		Subsystem: "triage",
		Name:      "processed_total",
		Help:      "Total number of triage runs, labeled by result.",
	}, []string{"result"})

	// TriageDurationSeconds is end-to-end time per triage run.
	TriageDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cleanmadurai",
		Subsystem: "triage",
		Name:      "duration_seconds",
		Help:      "End-to-end time to classify and dispatch one complaint.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	})

	// DispatchTotal counts dispatch outcomes.
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cleanmadurai",
		Subsystem: "dispatch",
		Name:      "attempts_total",
		Help:      "Total number of dispatch attempts, labeled by outcome.",
	}, []string{"outcome"})

	// NotificationFailureTotal counts failed responder alerts.
	NotificationFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cleanmadurai",
		Subsystem: "dispatch",
		Name:      "notification_failure_total",
		Help:      "Total number of failed dispatch notifications.",
	})

	// RabbitMQConnected is 1 when the triage subscriber considers itself connected.
	RabbitMQConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cleanmadurai",
		Subsystem: "triage",
		Name:      "rabbitmq_connected",
		Help:      "Whether the triage RabbitMQ subscriber is currently connected (best-effort).",
	})

	// SnapshotRunsTotal counts daily aggregation runs by result.
	SnapshotRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cleanmadurai",
		Subsystem: "aggregator",
		Name:      "snapshot_runs_total",
		Help:      "Total number of daily snapshot runs, labeled by result.",
	}, []string{"result"})

	// BriefRunsTotal counts daily action-brief runs by result.
	BriefRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cleanmadurai",
		Subsystem: "brief",
		Name:      "runs_total",
		Help:      "Total number of daily action brief runs, labeled by result.",
	}, []string{"result"})
)

// Register registers service metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ComplaintsSubmittedTotal,
			TriageTotal,
			TriageDurationSeconds,
			DispatchTotal,
			NotificationFailureTotal,
			RabbitMQConnected,
			SnapshotRunsTotal,
			BriefRunsTotal,
		)
	})
}
