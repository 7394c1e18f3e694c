package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pluginator"

// PrometheusRecorder records metrics into a Prometheus registry.
type PrometheusRecorder struct {
	cycles          prometheus.Counter
	cycleErrors     prometheus.Counter
	cycleDuration   prometheus.Histogram
	lastSuccess     prometheus.Gauge
	sourceCalls     *prometheus.CounterVec
	sourceErrors    *prometheus.CounterVec
	sourceDuration  *prometheus.HistogramVec
	downloads       *prometheus.CounterVec
	downloadErrors  *prometheus.CounterVec
	downloadBytes   *prometheus.CounterVec
	downloadSeconds *prometheus.HistogramVec
	results         *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Sync cycles run.",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Sync cycles aborted by an error.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycles.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that completed without aborting.",
		}),
		sourceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Update source lookups.",
		}, []string{"source"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Failed update source lookups.",
		}, []string{"source"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_duration_seconds",
			Help:      "Duration of update source lookups.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Artifact downloads.",
		}, []string{"source"}),
		downloadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_errors_total",
			Help:      "Failed artifact downloads.",
		}, []string{"source"}),
		downloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes of verified artifacts downloaded.",
		}, []string{"source"}),
		downloadSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of artifact downloads.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_results_total",
			Help:      "Plugin task outcomes by status.",
		}, []string{"status"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Test tree reconciliation actions.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		r.cycles,
		r.cycleErrors,
		r.cycleDuration,
		r.lastSuccess,
		r.sourceCalls,
		r.sourceErrors,
		r.sourceDuration,
		r.downloads,
		r.downloadErrors,
		r.downloadBytes,
		r.downloadSeconds,
		r.results,
		r.reconciles,
	)

	return r
}

func (r *PrometheusRecorder) RecordCycle(err error, duration time.Duration) {
	r.cycles.Inc()
	r.cycleDuration.Observe(duration.Seconds())

	if err != nil {
		r.cycleErrors.Inc()

		return
	}

	r.lastSuccess.SetToCurrentTime()
}

func (r *PrometheusRecorder) RecordSourceCall(source string, err error, duration time.Duration) {
	r.sourceCalls.WithLabelValues(source).Inc()
	r.sourceDuration.WithLabelValues(source).Observe(duration.Seconds())

	if err != nil {
		r.sourceErrors.WithLabelValues(source).Inc()
	}
}

func (r *PrometheusRecorder) RecordDownload(source string, bytes int64, err error, duration time.Duration) {
	r.downloads.WithLabelValues(source).Inc()
	r.downloadSeconds.WithLabelValues(source).Observe(duration.Seconds())

	if err != nil {
		r.downloadErrors.WithLabelValues(source).Inc()

		return
	}

	r.downloadBytes.WithLabelValues(source).Add(float64(bytes))
}

func (r *PrometheusRecorder) RecordResult(status string) {
	r.results.WithLabelValues(status).Inc()
}

func (r *PrometheusRecorder) RecordReconcile(action string) {
	r.reconciles.WithLabelValues(action).Inc()
}
