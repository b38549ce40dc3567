package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSynced = "synced"
	resultFailed = "failed"
)

var (
	syncEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classnotes",
			Name:      "sync_entries_total",
			Help:      "Pending changes replayed against the remote store, by result.",
		},
		[]string{"result"},
	)

	syncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "classnotes",
			Name:      "sync_pass_duration_seconds",
			Help:      "Wall time of one reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pendingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "classnotes",
			Name:      "pending_queue_depth",
			Help:      "Changes left in the pending queue after the last pass.",
		},
	)
)
