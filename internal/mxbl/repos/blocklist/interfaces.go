package blocklist

import (
	"context"
	"errors"
	"time"

	"github.com/haukened/mxbl/internal/mxbl/domain"
)

// ErrRuleNotFound is returned by Store methods addressing an id that does not exist.
var ErrRuleNotFound = errors.New("rule not found")

// BloomSizer computes Bloom filter parameters from capacity (n) and target FP rate (p).
// It returns m (number of bits) and k (number of hash functions).
type BloomSizer interface {
	Size(n uint64, p float64) (m uint64, k uint8)
}

// BloomFilter is the minimal interface snapshots need from Bloom filters.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds filters sized for a capacity and false-positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache remembers domains recently found clean until their entry expires.
type DecisionCache interface {
	// Lookup reports whether name is cached and unexpired. Expired entries are dropped.
	Lookup(name string) bool
	// Insert caches name as clean for the configured TTL.
	Insert(name string)
	// Remove evicts name and reports whether it was present.
	Remove(name string) bool
	// Keys returns the unexpired cached names, oldest first.
	Keys() []string
	Len() int
	Purge()
	Stats() CacheStats
}

// Store persists rules and operator settings.
//
// Mutating methods return the rule as it is after the change. Methods taking
// an id return ErrRuleNotFound when no such rule exists.
type Store interface {
	// Migrate prepares the backing storage (buckets, tables). It is idempotent.
	Migrate(ctx context.Context) error

	// ListRules returns rules active first, then by ascending id.
	ListRules(ctx context.Context, includeInactive bool) ([]domain.Rule, error)
	// ListPage returns up to limit rules by ascending id, skipping offset.
	ListPage(ctx context.Context, limit, offset int) ([]domain.Rule, error)
	GetRule(ctx context.Context, id int64) (domain.Rule, error)
	// AddRule stores r under a newly assigned id; r.ID is ignored.
	AddRule(ctx context.Context, r domain.Rule) (domain.Rule, error)
	DeleteRule(ctx context.Context, id int64) (domain.Rule, error)
	EditPattern(ctx context.Context, id int64, p domain.Pattern) (domain.Rule, error)
	EditReason(ctx context.Context, id int64, reason string) (domain.Rule, error)
	ToggleRule(ctx context.Context, id int64) (domain.Rule, error)
	// IncrementHit bumps the rule's hit counter, stamps last_hit and returns the new count.
	IncrementHit(ctx context.Context, id int64, at time.Time) (int64, error)

	Settings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, name, value string) error

	Close() error
}
