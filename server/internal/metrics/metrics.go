package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pulsewatch"

var (
	// Recorded counts metrics accepted into the ring buffer, by kind.
	Recorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_recorded_total",
			Help:      "Metrics accepted into the ring buffer.",
		},
		[]string{"kind"},
	)

	// IngestDropped counts rejected samples and skipped threshold checks.
	IngestDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_dropped_total",
			Help:      "Samples or threshold checks dropped on the ingestion path.",
		},
		[]string{"reason"},
	)

	// AlertsRaised counts created alerts, by level.
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts created by the alert manager.",
		},
		[]string{"level"},
	)

	// SubscribersPruned counts sinks removed after a failed delivery.
	SubscribersPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_pruned_total",
			Help:      "Subscribers removed after a failed delivery.",
		},
	)

	// Subscribers is the current number of registered sinks.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Registered broadcast subscribers.",
		},
	)

	// ActiveExecutions is the number of executions started but not ended.
	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_active",
			Help:      "Executions currently being profiled.",
		},
	)

	// Evicted counts entities removed by the housekeeper, by entity type.
	Evicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "housekeeper_evicted_total",
			Help:      "Entities removed by housekeeping sweeps.",
		},
		[]string{"entity"},
	)

	// ScrapeSamples counts samples ingested from scrape targets, by target.
	ScrapeSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_samples_total",
			Help:      "Samples ingested from Prometheus scrape targets.",
		},
		[]string{"target"},
	)

	// ScrapeFailures counts failed scrapes, by target.
	ScrapeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_failures_total",
			Help:      "Scrapes that failed to fetch or parse.",
		},
		[]string{"target"},
	)

	// TickDuration observes how long one fast heartbeat takes.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one fast heartbeat (alerts, windows, broadcast).",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)
)
