// Package cache implements the fingerprinted, LRU+TTL response cache.
// The LRU bookkeeping is delegated to groupcache's lru.Cache rather than
// hand-rolling a container/list wrapper; TTL, byte-cap eviction, and the
// cold-entry scan are layered on top since groupcache's Cache only knows
// entry-count caps.
package cache

import (
	"sync"
	"time"

	lru "github.com/golang/groupcache/lru"

	"github.com/aimux/gateway/provider"
)

// Entry is a stored response plus its cache bookkeeping.
type Entry struct {
	Response  provider.CanonicalResponse
	InsertedAt time.Time
	TTL       time.Duration
	Hits      int
	SizeBytes int
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) >= e.TTL
}

// Config configures cap and TTL policy.
type Config struct {
	MaxEntries        int
	MaxBytes          int64
	DefaultTTL        time.Duration
	MaxTTL            time.Duration
	ScanInterval      time.Duration
	HitRateThreshold  float64 // hits per minute of lifetime below which a scan considers an entry "cold"
	AdaptiveTTLFactor float64 // 0 or 1 disables adaptive TTL; >1 multiplies the TTL given to Put (DefaultTTL when none is given), always capped at MaxTTL
}

// Stats is a point-in-time snapshot of aggregate cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Puts      int64
}

// statCounters holds the live, mutex-guarded counters.
type statCounters struct {
	mu    sync.Mutex
	stats Stats
}

func (s *statCounters) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Cache is the content-addressed response store shared across requests.
type Cache struct {
	cfg Config

	mu        sync.Mutex
	lru       *lru.Cache
	entries   map[string]*Entry
	totalSize int64

	stats statCounters
}

// New constructs a Cache. MaxEntries <= 0 means unlimited entry count
// (still bounded by MaxBytes).
func New(cfg Config) *Cache {
	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
	}
	c.lru = &lru.Cache{
		MaxEntries: cfg.MaxEntries,
		OnEvicted: func(key lru.Key, _ interface{}) {
			c.onEvictedLocked(key.(string))
		},
	}
	return c
}

// onEvictedLocked must be called with mu held; it is also invoked
// re-entrantly by lru.Cache.Add/RemoveOldest, which this package only
// ever calls while already holding mu.
func (c *Cache) onEvictedLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.totalSize -= int64(e.SizeBytes)
		delete(c.entries, key)
		c.stats.mu.Lock()
		c.stats.stats.Evictions++
		c.stats.mu.Unlock()
	}
}

// Get returns the entry's response if present and not expired. Expired
// entries are removed eagerly on read. Both hit and miss update aggregate
// counters.
func (c *Cache) Get(key string) (provider.CanonicalResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.mu.Lock()
		c.stats.stats.Misses++
		c.stats.mu.Unlock()
		return provider.CanonicalResponse{}, false
	}
	if e.expired(time.Now()) {
		c.lru.Remove(key)
		c.stats.mu.Lock()
		c.stats.stats.Misses++
		c.stats.mu.Unlock()
		return provider.CanonicalResponse{}, false
	}

	e.Hits++
	c.lru.Get(key) // refresh LRU order
	c.stats.mu.Lock()
	c.stats.stats.Hits++
	c.stats.mu.Unlock()
	return e.Response, true
}

// Put inserts a response under key with the given TTL (capped at
// cfg.MaxTTL), evicting LRU entries first if the entry or byte cap would
// otherwise be exceeded. An entry that alone exceeds the byte cap is not
// stored.
func (c *Cache) Put(key string, resp provider.CanonicalResponse, ttl time.Duration, sizeBytes int) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if c.cfg.AdaptiveTTLFactor > 1 {
		ttl = time.Duration(float64(ttl) * c.cfg.AdaptiveTTLFactor)
	}
	if c.cfg.MaxTTL > 0 && ttl > c.cfg.MaxTTL {
		ttl = c.cfg.MaxTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.MaxBytes > 0 && int64(sizeBytes) > c.cfg.MaxBytes {
		return
	}

	if old, ok := c.entries[key]; ok {
		c.totalSize -= int64(old.SizeBytes)
	}

	for c.cfg.MaxBytes > 0 && c.totalSize+int64(sizeBytes) > c.cfg.MaxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}

	e := &Entry{Response: resp, InsertedAt: time.Now(), TTL: ttl, SizeBytes: sizeBytes}
	c.entries[key] = e
	c.totalSize += int64(sizeBytes)
	c.lru.Add(key, struct{}{})

	c.stats.mu.Lock()
	c.stats.stats.Puts++
	c.stats.mu.Unlock()
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru = &lru.Cache{MaxEntries: c.cfg.MaxEntries, OnEvicted: c.lru.OnEvicted}
	c.entries = make(map[string]*Entry)
	c.totalSize = 0
}

// Scan removes all expired entries and any "cold" entry whose per-minute
// hit rate over its lifetime is below the configured threshold. Intended
// to be invoked periodically by a supervised worker.
func (c *Cache) Scan() (removed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var stale []string
	for key, e := range c.entries {
		if e.expired(now) {
			stale = append(stale, key)
			continue
		}
		lifetimeMinutes := now.Sub(e.InsertedAt).Minutes()
		if c.cfg.HitRateThreshold > 0 && lifetimeMinutes >= 1 {
			hitRate := float64(e.Hits) / lifetimeMinutes
			if hitRate < c.cfg.HitRateThreshold {
				stale = append(stale, key)
			}
		}
	}
	for _, key := range stale {
		c.lru.Remove(key)
		removed++
	}
	return removed
}

// Stats returns a snapshot of aggregate cache counters.
func (c *Cache) Stats() Stats {
	return c.stats.snapshot()
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
