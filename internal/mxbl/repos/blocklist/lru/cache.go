package lru

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/mxbl/internal/mxbl/common/clock"
	"github.com/haukened/mxbl/internal/mxbl/common/metrics"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

// decisionCache is an LRU-bounded map of clean domain -> expiry time.
// Compound operations (read expiry, then drop) run under mu so that
// lookups, inserts and invalidation sweeps never interleave.
type decisionCache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, time.Time]
	ttl      time.Duration
	clock    clock.Clock
	capacity int

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// disabledCache is a no-op DecisionCache used when size <= 0.
type disabledCache struct {
	misses uint64
}

// New creates a DecisionCache holding up to size domains for ttl each. If
// size <= 0, a disabled cache is returned that always misses.
func New(size int, ttl time.Duration, clk clock.Clock) (blocklist.DecisionCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}
	if ttl <= 0 {
		return nil, errors.New("decision cache ttl must be positive")
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &decisionCache{lru: cache, ttl: ttl, clock: clk, capacity: size}, nil
}

// Lookup reports whether name is cached and unexpired.
func (c *decisionCache) Lookup(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires, ok := c.lru.Get(name)
	if ok && c.clock.Now().Before(expires) {
		atomic.AddUint64(&c.hits, 1)
		return true
	}
	if ok {
		c.lru.Remove(name)
		atomic.AddUint64(&c.expirations, 1)
		metrics.SetCacheEntries(c.lru.Len())
	}
	atomic.AddUint64(&c.misses, 1)
	return false
}

// Insert caches name until now+ttl, replacing any earlier expiry.
func (c *decisionCache) Insert(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(name, c.clock.Now().Add(c.ttl)); evicted {
		atomic.AddUint64(&c.evictions, 1)
	}
	metrics.SetCacheEntries(c.lru.Len())
}

// Remove evicts name and reports whether it was cached.
func (c *decisionCache) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	present := c.lru.Remove(name)
	if present {
		atomic.AddUint64(&c.evictions, 1)
		metrics.SetCacheEntries(c.lru.Len())
	}
	return present
}

// Keys returns unexpired names, least recently used first, and drops the
// expired ones it finds. It does not change recency.
func (c *decisionCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	keys := c.lru.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		expires, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if !now.Before(expires) {
			c.lru.Remove(k)
			atomic.AddUint64(&c.expirations, 1)
			continue
		}
		out = append(out, k)
	}
	metrics.SetCacheEntries(c.lru.Len())
	return out
}

// Len returns the number of entries, including expired ones not yet dropped.
func (c *decisionCache) Len() int { return c.lru.Len() }

// Purge clears all entries.
func (c *decisionCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	metrics.SetCacheEntries(0)
}

// Stats returns cumulative counters.
func (c *decisionCache) Stats() blocklist.CacheStats {
	return blocklist.CacheStats{
		Capacity:    c.capacity,
		Size:        c.lru.Len(),
		Hits:        atomic.LoadUint64(&c.hits),
		Misses:      atomic.LoadUint64(&c.misses),
		Evictions:   atomic.LoadUint64(&c.evictions),
		Expirations: atomic.LoadUint64(&c.expirations),
	}
}

// disabledCache implementation

func (d *disabledCache) Lookup(string) bool {
	atomic.AddUint64(&d.misses, 1)
	return false
}

func (d *disabledCache) Insert(string) {}

func (d *disabledCache) Remove(string) bool { return false }

func (d *disabledCache) Keys() []string { return nil }

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() blocklist.CacheStats {
	return blocklist.CacheStats{Misses: atomic.LoadUint64(&d.misses)}
}

var _ blocklist.DecisionCache = (*decisionCache)(nil)
var _ blocklist.DecisionCache = (*disabledCache)(nil)
