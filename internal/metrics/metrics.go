package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Import outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeDenied  = "denied"
)

type Metrics struct {
	ImportsTotal    *prometheus.CounterVec
	ImportDuration  prometheus.Histogram
	RowsLoaded      *prometheus.CounterVec
	Warnings        *prometheus.CounterVec
	CacheRequests   *prometheus.CounterVec
	CacheRebuilds   prometheus.Counter
	ActiveImports   prometheus.Gauge
	BackupsTotal    *prometheus.CounterVec
	ImportStateTime *prometheus.HistogramVec
}

var singleton = sync.OnceValue(func() *Metrics {
	return &Metrics{
		ImportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datalab",
			Name:      "imports_total",
			Help:      "Total number of dataset import runs by outcome.",
		}, []string{"outcome"}),
		ImportDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "datalab",
			Name:      "import_duration_seconds",
			Help:      "Wall time of completed import runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		RowsLoaded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datalab",
			Name:      "rows_loaded_total",
			Help:      "Rows staged by the loaders, by entity.",
		}, []string{"entity"}),
		Warnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datalab",
			Name:      "import_warnings_total",
			Help:      "Non-fatal warnings raised by import runs.",
		}, []string{"key"}),
		CacheRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datalab",
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result.",
		}, []string{"key", "result"}),
		CacheRebuilds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "datalab",
			Name:      "cache_rebuilds_total",
			Help:      "Cache entries recomputed.",
		}),
		ActiveImports: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "datalab",
			Name:      "active_imports",
			Help:      "Whether an import is running in this process (1/0).",
		}),
		BackupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datalab",
			Name:      "backups_total",
			Help:      "Backup and restore operations by kind and result.",
		}, []string{"kind", "result"}),
		ImportStateTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datalab",
			Name:      "import_state_seconds",
			Help:      "Time spent in each import state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
	}
})

// Get returns the process-wide collectors, registering them on first use.
func Get() *Metrics {
	return singleton()
}

func Result(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
