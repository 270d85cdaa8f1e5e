package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics for the resolver, the breaker and the extraction job
type Metrics struct {
	BreakerState      *prometheus.GaugeVec
	BreakerRejections *prometheus.CounterVec
	BreakerFailures   *prometheus.CounterVec

	ResolutionsTotal *prometheus.CounterVec
	ScrapeDuration   prometheus.Histogram
	ScrapeCalls      *prometheus.CounterVec
	CasesInserted    prometheus.Counter

	ExtractionRecords *prometheus.CounterVec
	ExtractionBatches prometheus.Counter
	CheckpointOffset  prometheus.Gauge
	DocumentFetchTime prometheus.Histogram
}

// NewMetrics registers the metrics on reg. Pass prometheus.DefaultRegisterer in binaries
// and prometheus.NewRegistry() in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current breaker state (0=closed, 1=open, 2=half_open)",
		}, []string{"breaker"}),
		BreakerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Calls rejected without invoking the dependency",
		}, []string{"breaker"}),
		BreakerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_failures_total",
			Help:      "Failures recorded by the breaker",
		}, []string{"breaker"}),
		ResolutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "case_resolutions_total",
			Help:      "Case resolutions by outcome",
		}, []string{"outcome"}),
		ScrapeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_duration_seconds",
			Help:      "Latency of scrape service calls",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ScrapeCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_calls_total",
			Help:      "Scrape calls by status",
		}, []string{"status"}),
		CasesInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_inserted_total",
			Help:      "Case records inserted from scrape results",
		}),
		ExtractionRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_records_total",
			Help:      "Backlog records handled by the extraction job, by outcome",
		}, []string{"outcome"}),
		ExtractionBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_batches_total",
			Help:      "Completed extraction batches",
		}),
		CheckpointOffset: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extraction_checkpoint_offset",
			Help:      "Last persisted backlog resume offset",
		}),
		DocumentFetchTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_fetch_duration_seconds",
			Help:      "Time taken to download judgment documents",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
