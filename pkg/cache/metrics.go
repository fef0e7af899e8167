package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier name
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steam_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"layer"}, // "memory", "redis", "bolt"
	)

	// CacheMisses tracks lookups that missed every tier
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steam_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steam_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "register", "flush"
	)

	// CacheFlushes tracks FlushAll invocations
	CacheFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steam_cache_flushes_total",
			Help: "Total number of bulk cache flushes",
		},
	)

	// CacheFlushedKeys tracks registry members removed by FlushAll
	CacheFlushedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steam_cache_flushed_keys_total",
			Help: "Total number of registered keys removed by bulk flushes",
		},
	)
)
