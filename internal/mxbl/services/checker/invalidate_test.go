package checker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/mxbl/internal/mxbl/domain"
)

func TestInvalidate_EvictsOnlyAffected(t *testing.T) {
	f := newFixture(t, WalkerOptions{})
	f.resolver.add("other.test", domain.RecordMX, "mx.other.test")
	f.cache.Insert("d.test")
	f.cache.Insert("other.test")

	evicted, err := f.checker.InvalidateIfAffected(context.Background(), domain.MustParsePattern("unrelated.test"))
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.True(t, f.cache.Lookup("d.test"))
	assert.True(t, f.cache.Lookup("other.test"))

	evicted, err = f.checker.InvalidateIfAffected(context.Background(), domain.MustParsePattern("d.test"))
	require.NoError(t, err)
	assert.Equal(t, []string{"d.test"}, evicted)
	assert.False(t, f.cache.Lookup("d.test"))
	assert.True(t, f.cache.Lookup("other.test"))
}

func TestInvalidate_WalksCachedDomains(t *testing.T) {
	f := newFixture(t, WalkerOptions{})
	f.resolver.
		add("a.test", domain.RecordMX, "mx.shared.test").
		add("b.test", domain.RecordMX, "mx.shared.test").
		add("mx.shared.test", domain.RecordA, "203.0.113.25")
	for _, name := range []string{"a.test", "b.test", "c.test"} {
		f.cache.Insert(name)
	}

	evicted, err := f.checker.InvalidateIfAffected(context.Background(), domain.MustParsePattern("203.0.113.0/24"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.test", "b.test"}, evicted)
	assert.Equal(t, 1, f.cache.Len())
	assert.True(t, f.cache.Lookup("c.test"))
}

func TestInvalidate_EmptyCache(t *testing.T) {
	f := newFixture(t, WalkerOptions{})
	evicted, err := f.checker.InvalidateIfAffected(context.Background(), domain.MustParsePattern("x.test"))
	require.NoError(t, err)
	assert.Nil(t, evicted)
	assert.Empty(t, f.resolver.Calls())
}

func TestInvalidate_ManyDomains(t *testing.T) {
	f := newFixture(t, WalkerOptions{})
	for i := 0; i < 50; i++ {
		f.cache.Insert(fmt.Sprintf("host%02d.bad.test", i))
		f.cache.Insert(fmt.Sprintf("host%02d.good.test", i))
	}

	evicted, err := f.checker.InvalidateIfAffected(context.Background(), domain.MustParsePattern("%*.bad.test%"))
	require.NoError(t, err)
	assert.Len(t, evicted, 50)
	assert.Equal(t, "host00.bad.test", evicted[0])
	assert.Equal(t, 50, f.cache.Len())
}

func TestInvalidate_CancelledEvictsUnverified(t *testing.T) {
	f := newFixture(t, WalkerOptions{})
	f.cache.Insert("d.test")
	f.cache.Insert("other.test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	evicted, err := f.checker.InvalidateIfAffected(ctx, domain.MustParsePattern("d.test"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"d.test", "other.test"}, evicted)
	assert.Zero(t, f.cache.Len())
}

func TestInvalidate_TruncatedWalkEvicts(t *testing.T) {
	f := newFixture(t, WalkerOptions{MaxLookups: 1})
	f.resolver.add("d.test", domain.RecordA, "198.51.100.9")
	f.cache.Insert("d.test")

	evicted, err := f.checker.InvalidateIfAffected(context.Background(), domain.MustParsePattern("198.51.100.9"))
	require.NoError(t, err)
	assert.Equal(t, []string{"d.test"}, evicted)
	assert.False(t, f.cache.Lookup("d.test"))
}

func TestInvalidate_SeveralPatternsOneSweep(t *testing.T) {
	f := newFixture(t, WalkerOptions{})
	f.resolver.add("a.test", domain.RecordMX, "mx.a.test")
	for _, name := range []string{"a.test", "b.test", "c.test"} {
		f.cache.Insert(name)
	}

	evicted, err := f.checker.InvalidateIfAffected(context.Background(),
		domain.MustParsePattern("%mx.a.test%"),
		domain.MustParsePattern("b.test"),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.test", "b.test"}, evicted)
	assert.True(t, f.cache.Lookup("c.test"))

	// each cached domain is walked at most once
	seen := map[string]int{}
	for _, call := range f.resolver.Calls() {
		seen[call]++
	}
	for call, n := range seen {
		assert.Equal(t, 1, n, call)
	}
}

func TestInvalidate_NoPatterns(t *testing.T) {
	f := newFixture(t, WalkerOptions{})
	f.cache.Insert("d.test")
	evicted, err := f.checker.InvalidateIfAffected(context.Background())
	require.NoError(t, err)
	assert.Nil(t, evicted)
	assert.True(t, f.cache.Lookup("d.test"))
}
