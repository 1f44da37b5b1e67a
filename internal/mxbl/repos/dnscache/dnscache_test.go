package dnscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/mxbl/internal/mxbl/common/clock"
	"github.com/haukened/mxbl/internal/mxbl/domain"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Lookup(ctx context.Context, name string, rt domain.RecordType) ([]domain.Record, error) {
	args := m.Called(name, rt)
	recs, _ := args.Get(0).([]domain.Record)
	return recs, args.Error(1)
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, 10, 0, nil)
	assert.ErrorIs(t, err, ErrNilResolver)

	_, err = New(&mockResolver{}, -1, 0, nil)
	assert.Error(t, err)
}

func TestLookup_CachesUntilMinTTL(t *testing.T) {
	up := &mockResolver{}
	recs := []domain.Record{
		{Type: domain.RecordA, Value: "192.0.2.1", TTL: 60},
		{Type: domain.RecordA, Value: "192.0.2.2", TTL: 30},
	}
	up.On("Lookup", "a.test", domain.RecordA).Return(recs, nil).Twice()

	clk := clock.NewMockClock(epoch)
	c, err := New(up, 10, 0, clk)
	require.NoError(t, err)

	got, err := c.Lookup(context.Background(), "a.test", domain.RecordA)
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	clk.Advance(29 * time.Second)
	_, err = c.Lookup(context.Background(), "A.test.", domain.RecordA)
	require.NoError(t, err)
	up.AssertNumberOfCalls(t, "Lookup", 1)

	clk.Advance(time.Second)
	_, err = c.Lookup(context.Background(), "a.test", domain.RecordA)
	require.NoError(t, err)
	up.AssertNumberOfCalls(t, "Lookup", 2)
}

func TestLookup_MaxTTLClamp(t *testing.T) {
	up := &mockResolver{}
	up.On("Lookup", "mx.test", domain.RecordMX).
		Return([]domain.Record{{Type: domain.RecordMX, Value: "mail.test", TTL: 86400}}, nil)

	clk := clock.NewMockClock(epoch)
	c, err := New(up, 10, time.Minute, clk)
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "mx.test", domain.RecordMX)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, ok := c.Get(Key("mx.test", domain.RecordMX))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLookup_FailuresAndEmptyNotCached(t *testing.T) {
	up := &mockResolver{}
	up.On("Lookup", "gone.test", domain.RecordA).Return(nil, errors.New("nxdomain"))
	up.On("Lookup", "empty.test", domain.RecordAAAA).Return([]domain.Record{}, nil)

	c, err := New(up, 10, 0, clock.NewMockClock(epoch))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.Lookup(context.Background(), "gone.test", domain.RecordA)
		assert.Error(t, err)
		recs, err := c.Lookup(context.Background(), "empty.test", domain.RecordAAAA)
		assert.NoError(t, err)
		assert.Empty(t, recs)
	}
	up.AssertNumberOfCalls(t, "Lookup", 4)
	assert.Equal(t, 0, c.Len())
}

func TestSet_ZeroTTLSkipped(t *testing.T) {
	c, err := New(&mockResolver{}, 10, 0, clock.NewMockClock(epoch))
	require.NoError(t, err)
	c.Set("z.test:A", []domain.Record{{Type: domain.RecordA, Value: "192.0.2.9", TTL: 0}})
	assert.Equal(t, 0, c.Len())
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, err := New(&mockResolver{}, 10, 0, clock.NewMockClock(epoch))
	require.NoError(t, err)
	key := Key("c.test", domain.RecordA)
	c.Set(key, []domain.Record{{Type: domain.RecordA, Value: "192.0.2.3", TTL: 10}})

	got, ok := c.Get(key)
	require.True(t, ok)
	got[0].Value = "mutated"

	again, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "192.0.2.3", again[0].Value)
}

func TestDeleteAndKeys(t *testing.T) {
	c, err := New(&mockResolver{}, 10, 0, clock.NewMockClock(epoch))
	require.NoError(t, err)
	c.Set(Key("one.test", domain.RecordA), []domain.Record{{Type: domain.RecordA, Value: "192.0.2.1", TTL: 10}})
	c.Set(Key("two.test", domain.RecordMX), []domain.Record{{Type: domain.RecordMX, Value: "mx.two.test", TTL: 10}})

	assert.ElementsMatch(t, []string{"one.test:A", "two.test:MX"}, c.Keys())
	c.Delete("one.test:A")
	assert.Equal(t, []string{"two.test:MX"}, c.Keys())
}

func TestEviction(t *testing.T) {
	c, err := New(&mockResolver{}, 1, 0, clock.NewMockClock(epoch))
	require.NoError(t, err)
	c.Set("first:A", []domain.Record{{Type: domain.RecordA, Value: "192.0.2.1", TTL: 10}})
	c.Set("second:A", []domain.Record{{Type: domain.RecordA, Value: "192.0.2.2", TTL: 10}})
	_, ok := c.Get("first:A")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}
