package ratelimit

import (
	"sync"
	"time"
)

// sweepGrace keeps expired entries around briefly so a just-rolled-over
// window is not confused with a brand new client.
const sweepGrace = 5 * time.Minute

type memoryEntry struct {
	count     int
	resetTime time.Time
	blocked   bool
}

// MemoryLimiter is the process-local fallback limiter. State is advisory
// across a distributed deployment; only this process sees it.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryLimiter returns an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{entries: make(map[string]*memoryEntry)}
}

// Allow counts one request against key and reports whether it fits under
// max. While a block is active requests are denied without incrementing.
// Exceeding max with blockDuration > 0 transitions the entry to blocked.
func (m *MemoryLimiter) Allow(key string, max int, window, blockDuration time.Duration) Result {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || (!entry.blocked && now.After(entry.resetTime)) {
		entry = &memoryEntry{resetTime: now.Add(window)}
		m.entries[key] = entry
	}

	if entry.blocked {
		if now.Before(entry.resetTime) {
			return Result{Blocked: true, ResetIn: entry.resetTime.Sub(now)}
		}
		// Block expired, start a fresh window.
		entry.blocked = false
		entry.count = 0
		entry.resetTime = now.Add(window)
	}

	if entry.count >= max {
		if blockDuration > 0 {
			entry.blocked = true
			entry.resetTime = now.Add(blockDuration)
			return Result{Blocked: true, ResetIn: blockDuration}
		}
		return Result{ResetIn: entry.resetTime.Sub(now)}
	}

	entry.count++
	return Result{
		Allowed:   true,
		Remaining: max - entry.count,
		ResetIn:   entry.resetTime.Sub(now),
	}
}

// Block forces key into the blocked state for the given duration. Used by
// the distributed limiter to keep short-lived block state locally.
func (m *MemoryLimiter) Block(key string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memoryEntry{blocked: true, resetTime: time.Now().Add(duration)}
}

// BlockRemaining reports whether key is currently blocked and for how long.
// Expired blocks are cleared as a side effect.
func (m *MemoryLimiter) BlockRemaining(key string) (bool, time.Duration) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || !entry.blocked {
		return false, 0
	}
	if now.After(entry.resetTime) {
		delete(m.entries, key)
		return false, 0
	}
	return true, entry.resetTime.Sub(now)
}

// Sweep purges entries whose reset time is well past, bounding memory.
func (m *MemoryLimiter) Sweep() int {
	cutoff := time.Now().Add(-sweepGrace)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if entry.resetTime.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked entries.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
