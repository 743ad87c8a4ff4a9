package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue depth gauges, one per stage's "ready" predicate (§7: "Prometheus
	// gauges expose stage queue depths").
	DatasetsToDownload = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iati_datasets_to_download",
			Help: "Documents whose download stage has not completed",
		},
	)

	DatasetsToValidate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iati_datasets_to_validate",
			Help: "Documents matching the unvalidated predicate",
		},
	)

	DatasetsToClean = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iati_datasets_to_clean",
			Help: "Documents awaiting copy_valid or clean_invalid",
		},
	)

	DatasetsToFlatten = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iati_datasets_to_flatten",
			Help: "Documents awaiting flatten",
		},
	)

	DatasetsToLakify = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iati_datasets_to_lakify",
			Help: "Documents awaiting lakify",
		},
	)

	DatasetsToSolrize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iati_datasets_to_solrize",
			Help: "Documents awaiting solrize",
		},
	)

	PublishersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iati_publishers_total",
			Help: "Total number of publishers known to the state store",
		},
	)

	PublishersBlackFlagged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iati_publishers_black_flagged",
			Help: "Publishers currently suppressed by the safety controller",
		},
	)

	// Per-pass counters and durations, one per worker family.
	StagePassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iati_stage_passes_total",
			Help: "Total number of orchestration passes completed by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	StagePassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iati_stage_pass_duration_seconds",
			Help:    "Duration of one orchestration pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	DocumentsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iati_documents_processed_total",
			Help: "Documents processed by stage and result (ok/error/skipped)",
		},
		[]string{"stage", "result"},
	)

	// Upstream / downstream call instrumentation.
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iati_upstream_request_duration_seconds",
			Help:    "Duration of calls to upstream collaborators (BDS, validation, object store, search index)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator"},
	)

	RefreshSafetyAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iati_refresh_safety_aborts_total",
			Help: "Refresh passes aborted by the publisher/dataset safety check",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		DatasetsToDownload,
		DatasetsToValidate,
		DatasetsToClean,
		DatasetsToFlatten,
		DatasetsToLakify,
		DatasetsToSolrize,
		PublishersTotal,
		PublishersBlackFlagged,
		StagePassesTotal,
		StagePassDuration,
		DocumentsProcessedTotal,
		UpstreamRequestDuration,
		RefreshSafetyAborts,
	)
}

// Handler returns the Prometheus HTTP handler, mounted at /metrics by
// pkg/adminserver.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing stage passes and upstream calls.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
