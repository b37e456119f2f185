package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audit_ingest"

var (
	auditsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "audits_total",
			Help:      "audit batches handled, by scanner type and outcome",
		},
		[]string{"scanner", "outcome"})

	recordsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "records_skipped_total",
			Help:      "malformed raw records skipped during normalization",
		},
		[]string{"scanner"})

	referenceCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refcache",
			Name:      "lookups_total",
			Help:      "reference cache lookups by cache and outcome (hit, load, insert, refresh)",
		},
		[]string{"cache", "outcome"})

	scoreReload = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scorecache",
			Name:      "reload_duration_seconds",
			Help:      "duration of full score cache reloads",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		})

	scoreCellReload = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scorecache",
			Name:      "cell_reloads_total",
			Help:      "single cell reloads caused by cache misses",
		},
		[]string{"kind"})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(auditsProcessed, recordsSkipped, referenceCache, scoreReload, scoreCellReload)
	registry.MustRegister(collectors.NewGoCollector())
}

// Handler serves the collectors of this process.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func AuditProcessed(scanner, outcome string) {
	auditsProcessed.WithLabelValues(scanner, outcome).Inc()
}

func RecordSkipped(scanner string) {
	recordsSkipped.WithLabelValues(scanner).Inc()
}

func ReferenceLookup(cache, outcome string) {
	referenceCache.WithLabelValues(cache, outcome).Inc()
}

func ScoreReloaded(elapsed time.Duration) {
	scoreReload.Observe(elapsed.Seconds())
}

func ScoreCellReloaded(kind string) {
	scoreCellReload.WithLabelValues(kind).Inc()
}
