// Package cache adapts the teacher's generic TTL cache
// (infrastructure/cache.Cache) into an in-memory dedup primitive: "have I
// seen this key before, and if not, remember it." Its only caller is the
// signal gate, which falls back to it when no durable dedup store is
// configured.
package cache

import (
	"time"

	"github.com/hoptrade/motorcortex/infrastructure/cache"
)

// DedupCache answers "seen before" for opaque string keys (such as
// signal_id) with a bounded TTL.
type DedupCache struct {
	inner *cache.Cache
	ttl   time.Duration
}

// New creates a DedupCache whose entries expire after ttl.
func New(ttl time.Duration) *DedupCache {
	return &DedupCache{
		inner: cache.NewCache(cache.CacheConfig{DefaultTTL: ttl}),
		ttl:   ttl,
	}
}

// SeenOrMark returns true if key was already marked within the TTL window;
// otherwise it marks key as seen and returns false. This is the
// check-and-set primitive the signal gate's in-memory dedup builds on.
func (d *DedupCache) SeenOrMark(key string) bool {
	if _, ok := d.inner.Get(key); ok {
		return true
	}
	d.inner.Set(key, struct{}{}, d.ttl)
	return false
}

// Mark records key as seen without checking first.
func (d *DedupCache) Mark(key string) {
	d.inner.Set(key, struct{}{}, d.ttl)
}

// Seen reports whether key is currently marked, without marking it.
func (d *DedupCache) Seen(key string) bool {
	_, ok := d.inner.Get(key)
	return ok
}

// Size returns the number of tracked keys.
func (d *DedupCache) Size() int {
	return d.inner.Size()
}
