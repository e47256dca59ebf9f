package cachemanager

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/microsoft/wil-sub001/internal/log"
)

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Minute

// NewInMemoryCacheManager creates a go-cache backed manager. name only
// labels log lines.
func NewInMemoryCacheManager[K ~string, V any](name string, defaultExpiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	return &InMemoryCacheManager[K, V]{
		name:  name,
		cache: gocache.New(defaultExpiration, cleanupInterval),
	}
}

// InMemoryCacheManager implements CacheManager on github.com/patrickmn/go-cache.
type InMemoryCacheManager[K ~string, V any] struct {
	name  string
	cache *gocache.Cache
}

var _ CacheManager[string, struct{}] = (*InMemoryCacheManager[string, struct{}])(nil)

func (c *InMemoryCacheManager[K, V]) Get(key K) (V, bool) {
	var zero V

	value, found := c.cache.Get(string(key))
	if !found {
		return zero, false
	}
	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type stored in cache", "cache", c.name, "key", string(key))
		return zero, false
	}
	return v, true
}

func (c *InMemoryCacheManager[K, V]) Set(key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

func (c *InMemoryCacheManager[K, V]) Add(key K, value V, ttl time.Duration) bool {
	if err := c.cache.Add(string(key), value, ttl); err != nil {
		log.Debug(log.CatCache, "cache entry already present", "cache", c.name, "key", string(key))
		return false
	}
	return true
}

func (c *InMemoryCacheManager[K, V]) Delete(keys ...K) {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
}

// Len counts entries, including expired ones not yet cleaned up.
func (c *InMemoryCacheManager[K, V]) Len() int {
	return c.cache.ItemCount()
}

func (c *InMemoryCacheManager[K, V]) Flush() {
	c.cache.Flush()
}
