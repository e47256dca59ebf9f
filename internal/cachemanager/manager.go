// Package cachemanager provides expiring in-memory caches. The watch command
// uses them to suppress repeated change lines inside a quiet window.
package cachemanager

import "time"

// CacheManager is a string-keyed cache with per-entry expiry.
type CacheManager[K ~string, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	// Add stores value only if key is absent or expired, and reports
	// whether it did.
	Add(key K, value V, ttl time.Duration) bool
	Delete(keys ...K)
	Len() int
	Flush()
}
