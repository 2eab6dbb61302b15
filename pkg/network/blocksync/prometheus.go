package blocksync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of active sync sessions",
			Name:      "sync_sessions_active",
			Namespace: "ember",
		},
	)

	hashPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of entries in the hash pool",
			Name:      "hash_pool_size",
			Namespace: "ember",
		},
	)

	blocksCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of blocks committed by synchronization",
			Name:      "blocks_committed",
			Namespace: "ember",
		},
	)

	blocksRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of blocks forwarded to peers",
			Name:      "blocks_relayed",
			Namespace: "ember",
		},
	)

	relaySkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of block forwards skipped for peers far ahead",
			Name:      "relay_skipped",
			Namespace: "ember",
		},
	)

	jobsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of jobs dropped on queue overflow",
			Name:      "jobs_dropped",
			Namespace: "ember",
		},
	)
)

func updatePoolSizeMetric(size int) {
	hashPoolSize.Set(float64(size))
}

func init() {
	prometheus.MustRegister(
		sessionsActive,
		hashPoolSize,
		blocksCommitted,
		blocksRelayed,
		relaySkipped,
		jobsDropped,
	)
}
