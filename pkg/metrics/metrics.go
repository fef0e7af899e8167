// Package metrics exposes the bridge's Prometheus metrics.
// The metrics themselves are declared with promauto in the packages that
// update them (cache, fetch, ratelimit) so no package depends on this one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is where every bridge metric is registered.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the scrape source paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the text exposition format for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics
//
// Cache (pkg/cache):
//   - steam_cache_hits_total{layer} (Counter): hits by tier (memory, redis, bolt)
//   - steam_cache_misses_total (Counter): lookups that missed every tier
//   - steam_cache_errors_total{operation} (Counter): get, set, delete, register, flush
//   - steam_cache_flushes_total (Counter): bulk flushes
//   - steam_cache_flushed_keys_total (Counter): registered keys removed by flushes
//
// Requests (pkg/fetch):
//   - steam_requests_total{endpoint, status} (Counter)
//   - steam_request_duration_seconds{endpoint} (Histogram)
//   - steam_errors_total{class} (Counter): client, server, rate_limit, network, malformed
//   - steam_coalesced_requests_total (Counter): callers served by an in-flight fetch
//
// Throttling (pkg/ratelimit):
//   - steam_rate_limit_throttles_total (Counter): 429 responses
//   - steam_rate_limit_blocks_total (Counter): requests refused during a cooldown
//   - steam_rate_limit_cooldown_seconds (Gauge): length of the latest cooldown
//
// Queries:
//
//   # hit rate
//   sum(rate(steam_cache_hits_total[5m])) /
//   (sum(rate(steam_cache_hits_total[5m])) + sum(rate(steam_cache_misses_total[5m])))
//
//   # p95 upstream latency
//   histogram_quantile(0.95, rate(steam_request_duration_seconds_bucket[5m]))
