// Package metrics holds the loader's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "docloader"

	MetricLocatorsProcessed = "locators_processed_total"
	MetricDocumentsInserted = "documents_inserted_total"
	MetricDocumentsDeleted  = "documents_deleted_total"
	MetricDocumentsPruned   = "documents_pruned_total"
	MetricRuleFailures      = "rule_failures_total"
	MetricReadBackMismatch  = "read_back_mismatches_total"
	MetricBatchDuration     = "batch_duration_seconds"
)

// CounterLocatorsProcessed counts locators by final status.
var CounterLocatorsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricLocatorsProcessed,
		Help:      "Locators processed, by status (succeeded, failed, rejected).",
	},
	[]string{"status"},
)

// CounterDocumentsInserted counts documents accepted by the store.
var CounterDocumentsInserted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricDocumentsInserted,
		Help:      "Documents inserted, by collection.",
	},
	[]string{"collection"},
)

// CounterDocumentsDeleted counts documents removed before replace loads.
var CounterDocumentsDeleted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricDocumentsDeleted,
		Help:      "Documents deleted before replacement, by collection.",
	},
	[]string{"collection"},
)

var CounterDocumentsPruned = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricDocumentsPruned,
		Help:      "Documents pruned to fit the size threshold.",
	},
)

var CounterRuleFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRuleFailures,
		Help:      "Compute rule invocations that failed, by rule.",
	},
	[]string{"method"},
)

var CounterReadBackMismatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricReadBackMismatch,
		Help:      "Stored documents differing from the submitted document.",
	},
	[]string{"collection"},
)

var HistogramBatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricBatchDuration,
		Help:      "Wall time of batch loads, by mode.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	},
	[]string{"mode"},
)

func init() {
	prometheus.MustRegister(CounterLocatorsProcessed)
	prometheus.MustRegister(CounterDocumentsInserted)
	prometheus.MustRegister(CounterDocumentsDeleted)
	prometheus.MustRegister(CounterDocumentsPruned)
	prometheus.MustRegister(CounterRuleFailures)
	prometheus.MustRegister(CounterReadBackMismatches)
	prometheus.MustRegister(HistogramBatchDuration)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
