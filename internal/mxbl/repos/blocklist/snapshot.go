package blocklist

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/haukened/mxbl/internal/mxbl/domain"
)

// Snapshot is an immutable, ordered view of the rule set. Rules are ordered
// active first, then by ascending id, and Match honours that order.
//
// Exact-kind rules (Domain, IPAddr) are indexed in a Bloom filter so a
// candidate the filter has never seen can skip them.
type Snapshot struct {
	rules     []domain.Rule
	keys      []string
	bloom     BloomFilter
	exactOnly bool
}

// NewSnapshot copies and orders rules. A nil factory disables the prefilter.
func NewSnapshot(rules []domain.Rule, factory BloomFactory, fpRate float64) *Snapshot {
	return buildSnapshot(rules, nil, factory, fpRate)
}

// SingleRule returns a snapshot holding just r, used for pattern overrides.
func SingleRule(r domain.Rule) *Snapshot {
	return &Snapshot{rules: []domain.Rule{r}}
}

func buildSnapshot(rules []domain.Rule, prev *Snapshot, factory BloomFactory, fpRate float64) *Snapshot {
	s := &Snapshot{rules: slices.Clone(rules)}
	domain.SortRules(s.rules)

	s.exactOnly = len(s.rules) > 0
	for _, r := range s.rules {
		if k, ok := domain.ExactKey(r.Pattern); ok {
			s.keys = append(s.keys, k)
		} else {
			s.exactOnly = false
		}
	}
	if factory == nil || len(s.keys) == 0 {
		s.exactOnly = false
		return s
	}
	if prev != nil && prev.bloom != nil && slices.Equal(prev.keys, s.keys) {
		s.bloom = prev.bloom
		return s
	}
	bf := factory.New(uint64(len(s.keys)), fpRate)
	for _, k := range s.keys {
		bf.Add([]byte(k))
	}
	s.bloom = bf
	return s
}

// Rules returns a copy of the ordered rules.
func (s *Snapshot) Rules() []domain.Rule {
	return slices.Clone(s.rules)
}

// Len returns the number of rules.
func (s *Snapshot) Len() int { return len(s.rules) }

// Match returns the first rule whose pattern matches candidate.
func (s *Snapshot) Match(candidate string) (domain.Rule, bool) {
	maybeExact := s.mightContain(candidate)
	if s.exactOnly && !maybeExact {
		return domain.Rule{}, false
	}
	for _, r := range s.rules {
		if !maybeExact && isExact(r.Pattern) {
			continue
		}
		if r.Pattern.Matches(candidate) {
			return r, true
		}
	}
	return domain.Rule{}, false
}

func (s *Snapshot) mightContain(candidate string) bool {
	if s.bloom == nil {
		return true
	}
	for _, k := range domain.CandidateKeys(candidate) {
		if s.bloom.MightContain([]byte(k)) {
			return true
		}
	}
	return false
}

func isExact(p domain.Pattern) bool {
	k := p.Kind()
	return k == domain.PatternDomain || k == domain.PatternIPAddr
}

// Repository hands out rule snapshots read fresh from a Store. The Bloom
// prefilter is reused while the set of exact keys is unchanged.
type Repository struct {
	store   Store
	factory BloomFactory
	fpRate  float64

	mu   sync.Mutex
	last *Snapshot
}

// NewRepository wraps store. factory may be nil to disable prefiltering.
func NewRepository(store Store, factory BloomFactory, fpRate float64) *Repository {
	return &Repository{store: store, factory: factory, fpRate: fpRate}
}

// Snapshot fetches every rule, active and warn-only, and returns them as a snapshot.
func (r *Repository) Snapshot(ctx context.Context) (*Snapshot, error) {
	rules, err := r.store.ListRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := buildSnapshot(rules, r.last, r.factory, r.fpRate)
	r.last = snap
	return snap, nil
}

// Store returns the wrapped store.
func (r *Repository) Store() Store { return r.store }
