// Package metrics provides Prometheus metrics for the ingestion pipeline and
// the query path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// States lists the partition states exported on PartitionState.
var States = []string{"idle", "running", "degraded", "halted", "stopped"}

var (
	// FetchTotal counts provider fetches by outcome (ok, transient, fatal).
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsindex",
			Name:      "fetch_total",
			Help:      "Total number of provider fetches",
		},
		[]string{"partition", "outcome"},
	)

	// ItemsTotal counts items passing each pipeline stage.
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsindex",
			Name:      "items_total",
			Help:      "Total number of items by pipeline stage",
		},
		[]string{"partition", "stage"},
	)

	// UpsertDuration measures vector store upserts, retries included.
	UpsertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsindex",
			Name:      "upsert_duration_seconds",
			Help:      "Duration of vector store upserts in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// UpsertBatchSize observes how many records each flush carried.
	UpsertBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsindex",
			Name:      "upsert_batch_size",
			Help:      "Distribution of upsert batch sizes",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// SearchDuration measures query handling.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "newsindex",
			Name:      "search_duration_seconds",
			Help:      "Duration of search requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// PartitionState is 1 for the state a partition is in and 0 otherwise.
	PartitionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "newsindex",
			Name:      "partition_state",
			Help:      "Current partition state (1 = active state)",
		},
		[]string{"partition", "state"},
	)

	// SideOutputErrors counts failed event publishes and archive writes.
	SideOutputErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsindex",
			Name:      "side_output_errors_total",
			Help:      "Total number of failed event publishes and archive writes",
		},
		[]string{"output"},
	)
)

// RecordFetch records one provider fetch.
func RecordFetch(partition, outcome string) {
	FetchTotal.WithLabelValues(partition, outcome).Inc()
}

// RecordItems adds n items at a pipeline stage.
func RecordItems(partition, stage string, n int) {
	if n <= 0 {
		return
	}
	ItemsTotal.WithLabelValues(partition, stage).Add(float64(n))
}

// RecordUpsert records a flush of size records that took duration seconds.
func RecordUpsert(size int, duration float64) {
	UpsertDuration.Observe(duration)
	UpsertBatchSize.Observe(float64(size))
}

// RecordSearch records a search request.
func RecordSearch(status string, duration float64) {
	SearchDuration.WithLabelValues(status).Observe(duration)
}

// SetPartitionState flips the state gauge of a partition.
func SetPartitionState(partition, state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		PartitionState.WithLabelValues(partition, s).Set(v)
	}
}

// RecordSideOutputError records a failed event publish or archive write.
func RecordSideOutputError(output string) {
	SideOutputErrors.WithLabelValues(output).Inc()
}
