package cachemanager

import (
	"sync/atomic"
	"time"
)

// QuietWindow lets the first occurrence of a key through and suppresses
// repeats until window has passed since that first occurrence.
type QuietWindow struct {
	window     time.Duration
	seen       CacheManager[string, time.Time]
	suppressed atomic.Uint64
}

// NewQuietWindow returns a QuietWindow. A window <= 0 disables suppression.
func NewQuietWindow(window time.Duration) *QuietWindow {
	cleanup := DefaultCleanupInterval
	if window > 0 && 2*window < cleanup {
		cleanup = 2 * window
	}
	return &QuietWindow{
		window: window,
		seen:   NewInMemoryCacheManager[string, time.Time]("quiet-window", window, cleanup),
	}
}

// Allow reports whether key should be emitted now.
func (q *QuietWindow) Allow(key string) bool {
	if q.window <= 0 {
		return true
	}
	if q.seen.Add(key, time.Now(), q.window) {
		return true
	}
	q.suppressed.Add(1)
	return false
}

// Forget drops key so its next occurrence is allowed.
func (q *QuietWindow) Forget(key string) {
	q.seen.Delete(key)
}

// Suppressed returns how many occurrences Allow has rejected.
func (q *QuietWindow) Suppressed() uint64 {
	return q.suppressed.Load()
}
