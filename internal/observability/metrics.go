package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "epiweek_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for a run.
type Metrics struct {
	WindowsProcessed prometheus.Counter
	EmptyWindows     *prometheus.CounterVec // labels: subvariable
	PipelineRunning  prometheus.Gauge
	RunDuration      prometheus.Histogram

	// Observations composited per window.
	WindowObservations prometheus.Histogram

	// Backend call metrics.
	BackendRequests *prometheus.CounterVec   // labels: operation={query,reduce}, outcome={success,error,retry}
	BackendDuration *prometheus.HistogramVec // labels: operation={query,reduce}

	// Archive raster cache.
	RasterCache *prometheus.CounterVec // labels: result={hit,miss}

	// Output metrics.
	RowsPublished prometheus.Counter
	TablesWritten prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.WindowsProcessed,
		m.EmptyWindows,
		m.PipelineRunning,
		m.RunDuration,
		m.WindowObservations,
		m.BackendRequests,
		m.BackendDuration,
		m.RasterCache,
		m.RowsPublished,
		m.TablesWritten,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		WindowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_processed_total",
			Help:      "Epidemiological week windows fully reduced.",
		}),
		EmptyWindows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_windows_total",
			Help:      "Windows with no source observations, filled with the zero raster.",
		}, []string{"subvariable"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		WindowObservations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_observations",
			Help:      "Source observations found per window and sub-variable.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 10},
		}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_duration_seconds",
			Help:      "Backend call duration in seconds, per attempt.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		RasterCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raster_cache_total",
			Help:      "Archive raster cache lookups by result.",
		}, []string{"result"}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_published_total",
			Help:      "Output rows written to the Kafka topic.",
		}),
		TablesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_written_total",
			Help:      "Per-polygon output tables written to the output file.",
		}),
	}
}
