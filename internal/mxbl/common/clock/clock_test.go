package clock

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("clock time %v outside [%v, %v]", now, before, after)
	}
}

func TestMockClock_Advance(t *testing.T) {
	initialTime := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(initialTime)

	testCases := []struct {
		name     string
		duration time.Duration
		expected time.Time
	}{
		{"advance by 1 hour", time.Hour, initialTime.Add(time.Hour)},
		{"advance by 30 minutes more", 30 * time.Minute, initialTime.Add(90 * time.Minute)},
		{"advance by zero", 0, initialTime.Add(90 * time.Minute)},
		{"advance backwards", -10 * time.Minute, initialTime.Add(80 * time.Minute)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock.Advance(tc.duration)
			if now := clock.Now(); !now.Equal(tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, now)
			}
		})
	}
}

func TestMockClock_Set(t *testing.T) {
	clock := NewMockClock(time.Time{})
	target := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(target)
	if !clock.Now().Equal(target) {
		t.Errorf("Expected %v, got %v", target, clock.Now())
	}
}

func TestMockClock_ConcurrentAdvanceAndRead(t *testing.T) {
	clock := NewMockClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	start := clock.Now()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = clock.Now()
		}()
	}
	wg.Wait()

	if got := clock.Now().Sub(start); got != 10*time.Second {
		t.Errorf("expected 10s advance, got %v", got)
	}
}

func TestClock_Interface_Compliance(t *testing.T) {
	var _ Clock = RealClock{}
	var _ Clock = &MockClock{}
}
