package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiter_RemainingDecreasesMonotonically(t *testing.T) {
	m := NewMemoryLimiter()

	for i := 0; i < 5; i++ {
		res := m.Allow("ip1", 5, time.Minute, 0)
		assert.True(t, res.Allowed)
		assert.Equal(t, 5-i-1, res.Remaining)
	}
}

func TestMemoryLimiter_DeniesPastMax(t *testing.T) {
	m := NewMemoryLimiter()

	for i := 0; i < 3; i++ {
		assert.True(t, m.Allow("ip1", 3, time.Minute, 0).Allowed)
	}

	res := m.Allow("ip1", 3, time.Minute, 0)
	assert.False(t, res.Allowed)
	assert.False(t, res.Blocked, "no block configured")

	// Other identifiers are unaffected.
	assert.True(t, m.Allow("ip2", 3, time.Minute, 0).Allowed)
}

func TestMemoryLimiter_BlockTransition(t *testing.T) {
	m := NewMemoryLimiter()

	for i := 0; i < 3; i++ {
		m.Allow("ip1", 3, time.Minute, 5*time.Minute)
	}

	res := m.Allow("ip1", 3, time.Minute, 5*time.Minute)
	assert.False(t, res.Allowed)
	assert.True(t, res.Blocked)
	assert.InDelta(t, (5 * time.Minute).Seconds(), res.ResetIn.Seconds(), 1)

	// While blocked, checks deny without incrementing the count.
	countBefore := m.entries["ip1"].count
	res = m.Allow("ip1", 3, time.Minute, 5*time.Minute)
	assert.False(t, res.Allowed)
	assert.True(t, res.Blocked)
	assert.Equal(t, countBefore, m.entries["ip1"].count)
}

func TestMemoryLimiter_BlockExpiry(t *testing.T) {
	m := NewMemoryLimiter()
	m.Block("ip1", 5*time.Minute)

	blocked, remaining := m.BlockRemaining("ip1")
	assert.True(t, blocked)
	assert.Greater(t, remaining, 4*time.Minute)

	// Expire the block and verify a fresh window starts.
	m.entries["ip1"].resetTime = time.Now().Add(-time.Second)
	blocked, _ = m.BlockRemaining("ip1")
	assert.False(t, blocked)

	res := m.Allow("ip1", 3, time.Minute, 0)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestMemoryLimiter_WindowRollover(t *testing.T) {
	m := NewMemoryLimiter()

	for i := 0; i < 3; i++ {
		m.Allow("ip1", 3, time.Minute, 0)
	}
	assert.False(t, m.Allow("ip1", 3, time.Minute, 0).Allowed)

	// Roll the window over.
	m.entries["ip1"].resetTime = time.Now().Add(-time.Second)
	res := m.Allow("ip1", 3, time.Minute, 0)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestMemoryLimiter_SweepPurgesStaleEntries(t *testing.T) {
	m := NewMemoryLimiter()
	m.Allow("stale", 3, time.Minute, 0)
	m.Allow("fresh", 3, time.Minute, 0)
	m.entries["stale"].resetTime = time.Now().Add(-10 * time.Minute)

	removed := m.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Len())
	_, ok := m.entries["fresh"]
	assert.True(t, ok)
}
