package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scan metrics
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knbase_scans_total",
			Help: "Total number of base scans by outcome",
		},
		[]string{"outcome"},
	)

	ResourceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knbase_resource_events_total",
			Help: "Total number of resource events by updating kind",
		},
		[]string{"updating"},
	)

	// Task metrics
	PreprocTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knbase_preproc_tasks_total",
			Help: "Total number of preprocessing tasks by outcome",
		},
		[]string{"outcome"},
	)

	IndexTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knbase_index_tasks_total",
			Help: "Total number of index tasks by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	PreprocDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knbase_preproc_duration_seconds",
			Help:    "Preprocessing run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	IndexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knbase_index_duration_seconds",
			Help:    "Index operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Pool metrics
	PoolWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "knbase_pool_workers",
			Help: "Current worker pool size",
		},
	)

	// Document metrics
	DocumentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "knbase_documents_indexed_total",
			Help: "Total number of documents added to indexes",
		},
	)
)

// Register registers all metrics with Prometheus
func Register() error {
	collectors := []prometheus.Collector{
		ScansTotal,
		ResourceEventsTotal,
		PreprocTasksTotal,
		IndexTasksTotal,
		PreprocDuration,
		IndexDuration,
		PoolWorkers,
		DocumentsIndexed,
	}

	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			// Ignore already registered errors
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	return nil
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
