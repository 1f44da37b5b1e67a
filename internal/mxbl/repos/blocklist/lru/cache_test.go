package lru

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/mxbl/internal/mxbl/common/clock"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newCache(t *testing.T, size int, ttl time.Duration) (*decisionCache, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(epoch)
	c, err := New(size, ttl, clk)
	require.NoError(t, err)
	dc, ok := c.(*decisionCache)
	require.True(t, ok)
	return dc, clk
}

func TestDecisionCache_InsertLookup(t *testing.T) {
	c, _ := newCache(t, 4, time.Hour)
	assert.False(t, c.Lookup("example.com"))
	c.Insert("example.com")
	assert.True(t, c.Lookup("example.com"))

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 4, st.Capacity)
	assert.Equal(t, 1, st.Size)
}

func TestDecisionCache_Expiry(t *testing.T) {
	c, clk := newCache(t, 4, time.Hour)
	c.Insert("example.com")

	clk.Advance(59 * time.Minute)
	assert.True(t, c.Lookup("example.com"))

	clk.Advance(time.Minute)
	assert.False(t, c.Lookup("example.com"), "entry expires exactly at ttl")
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Expirations)
}

func TestDecisionCache_InsertRefreshesExpiry(t *testing.T) {
	c, clk := newCache(t, 4, time.Hour)
	c.Insert("example.com")
	clk.Advance(50 * time.Minute)
	c.Insert("example.com")
	clk.Advance(50 * time.Minute)
	assert.True(t, c.Lookup("example.com"))
}

func TestDecisionCache_CapacityEviction(t *testing.T) {
	c, _ := newCache(t, 2, time.Hour)
	c.Insert("a.test")
	c.Insert("b.test")
	assert.True(t, c.Lookup("a.test")) // a is now most recent
	c.Insert("c.test")

	assert.False(t, c.Lookup("b.test"))
	assert.True(t, c.Lookup("a.test"))
	assert.True(t, c.Lookup("c.test"))
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestDecisionCache_RemoveAndKeys(t *testing.T) {
	c, clk := newCache(t, 8, time.Hour)
	c.Insert("a.test")
	clk.Advance(30 * time.Minute)
	c.Insert("b.test")
	c.Insert("c.test")

	assert.Equal(t, []string{"a.test", "b.test", "c.test"}, c.Keys())

	assert.True(t, c.Remove("b.test"))
	assert.False(t, c.Remove("b.test"))

	clk.Advance(31 * time.Minute)
	assert.Equal(t, []string{"c.test"}, c.Keys(), "expired a.test is dropped")
	assert.Equal(t, 1, c.Len())
}

func TestDecisionCache_Purge(t *testing.T) {
	c, _ := newCache(t, 8, time.Hour)
	c.Insert("a.test")
	c.Insert("b.test")
	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Keys())
}

func TestNew_Disabled(t *testing.T) {
	c, err := New(0, time.Hour, nil)
	require.NoError(t, err)
	c.Insert("a.test")
	assert.False(t, c.Lookup("a.test"))
	assert.False(t, c.Remove("a.test"))
	assert.Nil(t, c.Keys())
	assert.Equal(t, 0, c.Len())
	c.Purge()
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestNew_InvalidTTL(t *testing.T) {
	_, err := New(10, 0, nil)
	assert.Error(t, err)
}

func TestDecisionCache_Concurrent(t *testing.T) {
	c, clk := newCache(t, 64, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				name := fmt.Sprintf("d%d.test", (g*i)%100)
				c.Insert(name)
				c.Lookup(name)
				if i%50 == 0 {
					c.Keys()
					clk.Advance(time.Second)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func BenchmarkDecisionCache_Lookup(b *testing.B) {
	c, err := New(1024, time.Hour, clock.RealClock{})
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 1024; i++ {
		c.Insert(fmt.Sprintf("d%04d.test", i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Lookup(fmt.Sprintf("d%04d.test", i%2048))
	}
}
