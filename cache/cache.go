// api/cache/cache.go
package cache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Status reports whether a cached query was served from the cache.
type Status string

const (
	Hit      Status = "HIT"
	Miss     Status = "MISS"
	Bypassed Status = "BYPASS"
)

type entry struct {
	value       any
	createdAtMs int64
	expiresAtMs int64
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Bypasses int64 `json:"bypasses"`
	Entries  int   `json:"entries"`
}

// Cache memoizes query results with per-entry TTLs. A stale entry is treated
// as a miss; it is never returned past its expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	hits     atomic.Int64
	misses   atomic.Int64
	bypasses atomic.Int64

	group         singleflight.Group
	sweepInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
}

func New(sweepInterval time.Duration) *Cache {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Cache{
		entries:       make(map[string]entry),
		sweepInterval: sweepInterval,
	}
}

// BuildKey derives a deterministic cache key from a prefix and filter
// parameters. Parameters are sorted so identical filters in any declaration
// order produce identical keys.
func BuildKey(prefix string, params map[string]string) string {
	if len(params) == 0 {
		return prefix
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, prefix)
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "|")
}

// CachedQuery returns the cached value for key when an unexpired entry
// exists; otherwise it invokes producer, stores the result, and returns it as
// a miss. Concurrent misses for the same key run producer once. Producer
// errors propagate unchanged and nothing is cached for them.
func (c *Cache) CachedQuery(key string, ttl time.Duration, producer func() (any, error)) (any, Status, error) {
	if v, ok := c.get(key); ok {
		c.hits.Add(1)
		return v, Hit, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have populated the entry while we queued.
		if v, ok := c.get(key); ok {
			return v, nil
		}
		v, err := producer()
		if err != nil {
			return nil, err
		}
		c.set(key, ttl, v)
		return v, nil
	})
	if err != nil {
		return nil, Miss, err
	}
	c.misses.Add(1)
	return v, Miss, nil
}

// Bypass always invokes producer without reading the existing entry, but
// still stores the fresh result so subsequent non-bypass callers get a warm
// cache.
func (c *Cache) Bypass(key string, ttl time.Duration, producer func() (any, error)) (any, error) {
	c.bypasses.Add(1)
	v, err := producer()
	if err != nil {
		return nil, err
	}
	c.set(key, ttl, v)
	return v, nil
}

func (c *Cache) get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().UnixMilli() >= e.expiresAtMs {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) set(key string, ttl time.Duration, v any) {
	now := time.Now().UnixMilli()
	c.mu.Lock()
	c.entries[key] = entry{
		value:       v,
		createdAtMs: now,
		expiresAtMs: now + ttl.Milliseconds(),
	}
	c.mu.Unlock()
}

// Stats returns the hit/miss/bypass counters and current entry count.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Bypasses: c.bypasses.Load(),
		Entries:  n,
	}
}

// Start launches the periodic sweep that evicts expired entries.
func (c *Cache) Start() {
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.evictExpired()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *Cache) evictExpired() {
	now := time.Now().UnixMilli()
	c.mu.Lock()
	for k, e := range c.entries {
		if now >= e.expiresAtMs {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Stop halts the sweep. Safe to call when Start was never invoked.
func (c *Cache) Stop() {
	if c.stop != nil {
		close(c.stop)
		<-c.done
		c.stop = nil
	}
}
