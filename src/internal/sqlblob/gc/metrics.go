package gc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	markedChunksMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlblob",
		Subsystem: "gc",
		Name:      "marked_chunks_total",
		Help:      "Number of chunk references stamped with a generation during mark.",
	})
	reclaimedChunksMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlblob",
		Subsystem: "gc",
		Name:      "reclaimed_chunks_total",
		Help:      "Number of chunks deleted by reclaim.",
	})
	reclaimRacesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlblob",
		Subsystem: "gc",
		Name:      "reclaim_races_total",
		Help:      "Number of stale chunks found referenced during the pre-delete re-check.",
	})
)
