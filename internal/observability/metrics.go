package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ar_landfall"

// Error kinds used as the "kind" label of InstanceErrors.
const (
	KindTopology = "topology"
	KindNoData   = "nodata"
	KindGeodesy  = "geodesy"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// attribution pipeline.
type Metrics struct {
	InstancesProcessed prometheus.Counter
	InstanceErrors     *prometheus.CounterVec // labels: kind={topology,nodata,geodesy}
	TieBreaks          prometheus.Counter
	RowsPublished      prometheus.Counter
	PipelineRunning    prometheus.Gauge

	// Grid metrics.
	GridLoads prometheus.Counter
	GridCache *prometheus.CounterVec // labels: result={hit,miss}

	// Timing metrics.
	InstanceDuration prometheus.Histogram
	ScopeDuration    prometheus.Histogram
	ScopesCompleted  prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.InstancesProcessed,
		m.InstanceErrors,
		m.TieBreaks,
		m.RowsPublished,
		m.PipelineRunning,
		m.GridLoads,
		m.GridCache,
		m.InstanceDuration,
		m.ScopeDuration,
		m.ScopesCompleted,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		InstancesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_processed_total",
			Help:      "Total AR instances attributed.",
		}),
		InstanceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_errors_total",
			Help:      "Recoverable per-instance failures by kind.",
		}, []string{"kind"}),
		TieBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tie_breaks_total",
			Help:      "Landfall searches whose maximum was shared by several cells.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_published_total",
			Help:      "Attributed rows written to the Kafka sink topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a scope is being processed, 0 otherwise.",
		}),
		GridLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_loads_total",
			Help:      "Intensity fields read from disk.",
		}),
		GridCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_cache_total",
			Help:      "Intensity field cache lookups by result.",
		}, []string{"result"}),
		InstanceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_duration_seconds",
			Help:      "Duration of attributing one AR instance.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		ScopeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scope_duration_seconds",
			Help:      "Duration of processing one year of AR instances.",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		}),
		ScopesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scopes_completed_total",
			Help:      "Scopes processed and written.",
		}),
	}
}

// ObserveCache records a grid cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.GridCache.WithLabelValues("hit").Inc()
		return
	}
	m.GridCache.WithLabelValues("miss").Inc()
}
