// Package cache provides the two-tier cache used by the Steam bridge.
//
// A Store puts a best-effort fast tier (usually in-process memory) in front of
// an authoritative durable tier (Redis or a bbolt file) and keeps a registry
// of every key written through it so the whole cache can be flushed at once.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	store := cache.NewStore(
//		cache.NewMemoryBackend(),
//		cache.NewRedisBackend(redisClient),
//		cache.NewRedisRegistry(redisClient),
//		cache.Config{DefaultTTL: 6 * time.Hour},
//	)
//
//	key := cache.Key{Namespace: "user_info", ID: "76561198000000001"}
//	if err := store.SetJSON(ctx, key.String(), summary, 6*time.Hour); err != nil {
//		return err
//	}
//
//	var cached Summary
//	if err := store.GetJSON(ctx, key.String(), &cached); errors.Is(err, cache.ErrCacheMiss) {
//		// fetch upstream
//	}
//
// # Keys
//
// Every raw key passes through Normalize, which hashes it to 32 lowercase hex
// characters. Keys that already are 32 hex characters are only lower-cased,
// so pre-hashed keys (e.g. an MD5 of a request URL) address the same entry.
//
// # Expiry
//
// Both tiers hold the same Entry envelope with an absolute expiry. A durable
// hit back-fills the fast tier with the remaining lifetime, never a fresh one.
//
// # Flushing
//
// FlushAll walks the registry and deletes every member from both tiers. The
// registry has its own TTL and is best-effort: it can miss keys whose
// registration raced or expired, and it can list keys that are already gone.
//
// # Metrics
//
//   - steam_cache_hits_total{layer} - Cache hits by tier
//   - steam_cache_misses_total - Cache misses
//   - steam_cache_errors_total{operation} - Cache operation errors
//   - steam_cache_flushes_total - Bulk flushes
//   - steam_cache_flushed_keys_total - Keys removed by bulk flushes
package cache
