// Package dnscache memoizes successful upstream answers for the walker.
package dnscache

import (
	"context"
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/mxbl/internal/mxbl/common/clock"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/services/checker"
)

var (
	ErrNilResolver = errors.New("dnscache: nil upstream resolver")
)

type entry struct {
	records   []domain.Record
	expiresAt time.Time
}

// dnsCache is a TTL-aware LRU in front of a checker.Resolver. Each entry holds
// every record returned for one name and type, and lives for the smallest TTL
// among them, capped at maxTTL. Failed lookups pass through uncached.
type dnsCache struct {
	next   checker.Resolver
	lru    *lru.Cache[string, entry]
	maxTTL time.Duration
	clock  clock.Clock
}

// New wraps next with a cache of the given size. A maxTTL of zero means answers
// are kept for their full record TTL.
func New(next checker.Resolver, size int, maxTTL time.Duration, clk clock.Clock) (*dnsCache, error) {
	if next == nil {
		return nil, ErrNilResolver
	}
	cache, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &dnsCache{next: next, lru: cache, maxTTL: maxTTL, clock: clk}, nil
}

// Key returns the cache key for a name and record type.
func Key(name string, rt domain.RecordType) string {
	return strings.ToLower(strings.TrimSuffix(name, ".")) + ":" + rt.String()
}

// Lookup serves name/rt from cache when an unexpired entry exists and otherwise
// asks the wrapped resolver.
func (c *dnsCache) Lookup(ctx context.Context, name string, rt domain.RecordType) ([]domain.Record, error) {
	key := Key(name, rt)
	if records, ok := c.Get(key); ok {
		return records, nil
	}
	records, err := c.next.Lookup(ctx, name, rt)
	if err != nil {
		return nil, err
	}
	c.Set(key, records)
	return records, nil
}

// Set stores records under key. Empty answers and zero TTLs are not cached.
func (c *dnsCache) Set(key string, records []domain.Record) {
	if len(records) == 0 {
		return
	}
	ttl := c.ttl(records)
	if ttl <= 0 {
		return
	}
	c.lru.Add(key, entry{
		records:   append([]domain.Record(nil), records...),
		expiresAt: c.clock.Now().Add(ttl),
	})
}

// Get returns the records for key if present and not expired. Expired entries
// are removed.
func (c *dnsCache) Get(key string) ([]domain.Record, bool) {
	e, found := c.lru.Get(key)
	if !found {
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return append([]domain.Record(nil), e.records...), true
}

// Delete removes the entry for the given key from the cache.
func (c *dnsCache) Delete(key string) {
	c.lru.Remove(key)
}

// Len returns the number of cached name/type pairs.
func (c *dnsCache) Len() int {
	return c.lru.Len()
}

// Keys returns a slice of all current cache keys.
func (c *dnsCache) Keys() []string {
	return c.lru.Keys()
}

func (c *dnsCache) ttl(records []domain.Record) time.Duration {
	minTTL := records[0].TTL
	for _, r := range records[1:] {
		if r.TTL < minTTL {
			minTTL = r.TTL
		}
	}
	ttl := time.Duration(minTTL) * time.Second
	if c.maxTTL > 0 && ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	return ttl
}

var _ checker.Resolver = (*dnsCache)(nil)
