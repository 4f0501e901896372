// Package cache stores sealed pages of the responses collection in Redis.
//
// Records never change once written, so a page that can no longer gain
// records is valid forever: every page fetched towards older data, and every
// full page fetched towards newer data. Caching them spares repeated probes
// when an anchor search or a resumed run walks over the same ground.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	page, err := manager.GetPage(ctx, "/responses", query)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then
//		_, _ = manager.PutPage(ctx, "/responses", query, page, body)
//	}
//
// PutPage ignores pages that may still change. Lower level access goes
// through Get and Set with a CacheKey.
//
// # Metrics
//
//   - fairing_cache_hits_total{layer="redis"} - Cache hits
//   - fairing_cache_misses_total - Cache misses
//   - fairing_cache_size_bytes{layer="redis"} - Bytes written
//   - fairing_cache_errors_total{operation} - Cache operation errors
package cache
