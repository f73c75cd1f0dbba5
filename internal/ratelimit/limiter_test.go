// ABOUTME: Tests for the sliding-window limiter and flood guard
// ABOUTME: Uses an injected clock to validate window expiry and eviction

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newTestLimiter returns a limiter with a controllable clock and a sweep
// interval long enough to never fire during a test.
func newTestLimiter(t *testing.T, window time.Duration, limit, maxUsers int) (*Limiter, *time.Time) {
	t.Helper()
	now := time.Now()
	l := New(window, limit, maxUsers, time.Hour, nil)
	l.now = func() time.Time { return now }
	t.Cleanup(l.Close)
	return l, &now
}

func TestLimiter_AllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, time.Hour, 10, 1000)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("u1"), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("u1"), "11th request within the window should be denied")

	// Other users are unaffected
	assert.True(t, l.Allow("u2"))
}

func TestLimiter_WindowElapses(t *testing.T) {
	l, now := newTestLimiter(t, time.Hour, 10, 1000)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("u1"))
	}
	assert.False(t, l.Allow("u1"))

	// After the window passes, requests are allowed again
	*now = now.Add(time.Hour + time.Second)
	assert.True(t, l.Allow("u1"))
}

func TestLimiter_Flooding_ShortWindow(t *testing.T) {
	l, _ := newTestLimiter(t, time.Hour, 100, 1000)

	for i := 0; i < 3; i++ {
		l.Observe("u1")
	}
	assert.False(t, l.Flooding("u1"), "3 events in 10s is still allowed")

	l.Observe("u1")
	assert.True(t, l.Flooding("u1"), "4th event within 10s is flooding")
}

func TestLimiter_Flooding_LongWindow(t *testing.T) {
	l, now := newTestLimiter(t, time.Hour, 100, 1000)

	// Spread 11 events over the last minute, no more than 3 per 10s
	for i := 0; i < 11; i++ {
		l.Observe("u1")
		*now = now.Add(5 * time.Second)
	}
	assert.True(t, l.Flooding("u1"), "11 events in the trailing minute is flooding")

	// A quiet minute clears it
	*now = now.Add(time.Minute)
	assert.False(t, l.Flooding("u1"))
}

func TestLimiter_SweepDropsEmptyHistories(t *testing.T) {
	l, now := newTestLimiter(t, time.Hour, 10, 1000)

	l.Allow("u1")
	l.Allow("u2")
	assert.Equal(t, 2, l.TrackedUsers())

	*now = now.Add(2 * time.Hour)
	l.runSweep()
	assert.Zero(t, l.TrackedUsers())
}

func TestLimiter_EvictsOldestHalfOverCeiling(t *testing.T) {
	l, now := newTestLimiter(t, time.Hour, 10, 4)

	for i := 0; i < 6; i++ {
		l.Allow(fmt.Sprintf("u%d", i))
		*now = now.Add(time.Second)
	}
	assert.Equal(t, 6, l.TrackedUsers())

	l.runSweep()
	assert.Equal(t, 3, l.TrackedUsers())

	// The most recently active users survive
	l.mu.Lock()
	_, oldestPresent := l.requests["u0"]
	_, newestPresent := l.requests["u5"]
	l.mu.Unlock()
	assert.False(t, oldestPresent)
	assert.True(t, newestPresent)
}

func TestLimiter_DeniedRequestNotRecorded(t *testing.T) {
	l, now := newTestLimiter(t, time.Minute, 2, 1000)

	assert.True(t, l.Allow("u1"))
	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))

	// Only the two allowed requests count; once they age out, u1 is clean
	*now = now.Add(time.Minute + time.Second)
	assert.True(t, l.Allow("u1"))
}
