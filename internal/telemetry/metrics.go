package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across the admin surface.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cipherbox",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// SchedulerRunsTotal counts scheduler tick outcomes.
var SchedulerRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cipherbox",
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Total number of batch scheduler runs by result.",
	},
	[]string{"result"},
)

// SchedulerEntriesProcessedTotal counts per-entry outcomes within scheduler runs.
var SchedulerEntriesProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cipherbox",
		Subsystem: "scheduler",
		Name:      "entries_processed_total",
		Help:      "Total number of enrollments processed by the batch scheduler, by result.",
	},
	[]string{"result"},
)

// SchedulerBatchDuration tracks the wall-clock duration of one scheduler tick.
var SchedulerBatchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "cipherbox",
		Subsystem: "scheduler",
		Name:      "batch_duration_seconds",
		Help:      "Duration of a single batch scheduler run in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
)

// EpochCurrentGauge reports the coordinator's current signer epoch.
var EpochCurrentGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cipherbox",
		Subsystem: "epoch",
		Name:      "current",
		Help:      "Current signer epoch known to the coordinator.",
	},
)

// SignerHealthyGauge reports the last observed signer health (1=healthy, 0=unhealthy).
var SignerHealthyGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cipherbox",
		Subsystem: "signer",
		Name:      "healthy",
		Help:      "Whether the sealed signer responded healthy on the last check.",
	},
)

// PublisherRetriesTotal counts publish retries, labeled by the reason for retry.
var PublisherRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cipherbox",
		Subsystem: "publisher",
		Name:      "retries_total",
		Help:      "Total number of delegated-routing publish retries, by reason.",
	},
	[]string{"reason"},
)

// All returns all CipherBox-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SchedulerRunsTotal,
		SchedulerEntriesProcessedTotal,
		SchedulerBatchDuration,
		EpochCurrentGauge,
		SignerHealthyGauge,
		PublisherRetriesTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
