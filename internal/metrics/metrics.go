// Package metrics provides Prometheus metrics collection for the experiment runner.
// It defines the stage timings, descriptor cache statistics, cross-validation
// counters and final scores of a run. Metrics can be served over HTTP while a
// long experiment is running and are written as a textfile next to the report.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for an experiment run.
type Metrics struct {
	// Stage timings
	StageDuration *prometheus.HistogramVec // Wall time of named pipeline stages

	// Descriptor extraction
	ImagesProcessed      prometheus.Counter // Images run through an extractor or served from cache
	DescriptorsExtracted prometheus.Counter // Descriptor rows produced by extractors
	CacheHits            prometheus.Counter // Descriptor sets served from the on-disk cache
	CacheMisses          prometheus.Counter // Descriptor sets computed because the cache had no entry
	ExtractErrors        prometheus.Counter // Images that failed to decode or extract

	// Search
	CVFits        prometheus.Counter   // Candidate/fold fits performed by the search
	CVFitDuration prometheus.Histogram // Duration of a single candidate/fold fit
	MemoryHits    prometheus.Counter   // Fitted pipeline prefixes reused across candidates

	// Scores
	BestCVScore  prometheus.Gauge // Mean CV accuracy of the best candidate
	TestAccuracy prometheus.Gauge // Accuracy of the refit estimator on the test set

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates metrics on a private registry (useful for testing
// and for writing a per-run textfile).
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	return newMetrics(registry, registry)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stage_duration_seconds",
			Help:    "Wall time of named pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		ImagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "images_processed_total",
			Help: "Total number of images run through an extractor or served from cache",
		}),
		DescriptorsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "descriptors_extracted_total",
			Help: "Total number of descriptor rows produced",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "descriptor_cache_hits_total",
			Help: "Total number of descriptor sets served from the cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "descriptor_cache_misses_total",
			Help: "Total number of descriptor sets computed on a cache miss",
		}),
		ExtractErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "extract_errors_total",
			Help: "Total number of images that failed extraction",
		}),
		CVFits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cv_fits_total",
			Help: "Total number of candidate/fold fits",
		}),
		CVFitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cv_fit_duration_seconds",
			Help:    "Duration of one candidate/fold fit in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 20),
		}),
		MemoryHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_memory_hits_total",
			Help: "Total number of fitted pipeline prefixes reused",
		}),
		BestCVScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "best_cv_score",
			Help: "Mean cross-validation accuracy of the best candidate",
		}),
		TestAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "test_accuracy",
			Help: "Accuracy of the refit estimator on the test set",
		}),
		gatherer: gatherer,
	}
}

// Gatherer returns the gatherer the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// WriteTextfile writes the current metric values in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.gatherer)
}

// CacheHitRate returns hits / (hits + misses), or 0 before any lookup.
func (m *Metrics) CacheHitRate() float64 {
	if m == nil {
		return 0
	}
	var hits, misses float64

	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "descriptor_cache_hits_total":
			for _, m := range mf.Metric {
				hits = m.GetCounter().GetValue()
			}
		case "descriptor_cache_misses_total":
			for _, m := range mf.Metric {
				misses = m.GetCounter().GetValue()
			}
		}
	}

	if hits+misses == 0 {
		return 0
	}
	return hits / (hits + misses)
}
