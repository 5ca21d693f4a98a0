package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimeterd/perimeter/internal/kvstore"
)

// fakeStore is a deterministic in-process stand-in for the distributed
// backend, implementing the same increment-with-expiry contract.
type fakeStore struct {
	counts map[string]int64
	resets map[string]time.Time
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: make(map[string]int64), resets: make(map[string]time.Time)}
}

func (f *fakeStore) Available() bool { return true }

func (f *fakeStore) IncrementWindow(_ context.Context, category, identifier string, max int, window time.Duration) (kvstore.WindowResult, error) {
	if f.err != nil {
		return kvstore.WindowResult{}, f.err
	}
	key := fmt.Sprintf("%s:%s", category, identifier)
	now := time.Now()
	if reset, ok := f.resets[key]; !ok || now.After(reset) {
		f.counts[key] = 0
		f.resets[key] = now.Add(window)
	}
	f.counts[key]++

	res := kvstore.WindowResult{
		Allowed: f.counts[key] <= int64(max),
		Count:   f.counts[key],
		ResetAt: f.resets[key],
	}
	if remaining := int64(max) - f.counts[key]; remaining > 0 {
		res.Remaining = int(remaining)
	}
	return res, nil
}

func newTestLimiter(store WindowStore, opts Options) *Limiter {
	table := Table{
		CategoryAuth:      {MaxRequests: 3, Window: time.Minute, BlockDuration: 5 * time.Minute},
		CategoryPublicAPI: {MaxRequests: 60, Window: time.Minute, BlockDuration: 10 * time.Minute},
		CategoryPageView:  {MaxRequests: 120, Window: time.Minute},
	}
	return New(store, NewMemoryLimiter(), table, opts)
}

func TestLimiter_AuthWindowAndBlock(t *testing.T) {
	store := newFakeStore()
	l := newTestLimiter(store, Options{FallbackEnabled: true})
	ctx := context.Background()

	// Requests 1-3 allowed with remaining 2, 1, 0.
	for i, want := range []int{2, 1, 0} {
		res := l.Allow(ctx, "ip1", CategoryAuth)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, want, res.Remaining)
		assert.False(t, res.Degraded)
	}

	// Request 4 in the same window: denied and blocked for the block duration.
	res := l.Allow(ctx, "ip1", CategoryAuth)
	assert.False(t, res.Allowed)
	assert.True(t, res.Blocked)
	assert.InDelta(t, (5 * time.Minute).Seconds(), res.ResetIn.Seconds(), 1)

	// Denial persists across window rollovers while the block is active.
	store.resets["auth:ip1"] = time.Now().Add(-time.Second)
	res = l.Allow(ctx, "ip1", CategoryAuth)
	assert.False(t, res.Allowed)
	assert.True(t, res.Blocked)

	// Once the block elapses the identifier starts a fresh window.
	l.fallback.entries["auth:ip1"].resetTime = time.Now().Add(-time.Second)
	res = l.Allow(ctx, "ip1", CategoryAuth)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestLimiter_UnavailableFallsBackUnmodified(t *testing.T) {
	// An unconfigured kv client reports ErrUnavailable.
	l := newTestLimiter(kvstore.New(kvstore.Options{}), Options{FallbackEnabled: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := l.Allow(ctx, "ip1", CategoryAuth)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.True(t, res.Degraded)
	}
	res := l.Allow(ctx, "ip1", CategoryAuth)
	assert.False(t, res.Allowed)
	assert.True(t, l.Degraded())
}

func TestLimiter_ProductionUnavailableEnforcesStricterMax(t *testing.T) {
	l := newTestLimiter(kvstore.New(kvstore.Options{}), Options{Production: true, FallbackEnabled: true})
	ctx := context.Background()

	// public-api 60/min floors to 12 in production degraded mode.
	for i := 0; i < 12; i++ {
		res := l.Allow(ctx, "ip1", CategoryPublicAPI)
		require.True(t, res.Allowed, "request %d", i+1)
	}
	res := l.Allow(ctx, "ip1", CategoryPublicAPI)
	assert.False(t, res.Allowed)
	assert.True(t, res.Blocked, "block duration doubles in strict fallback")
	assert.True(t, res.Degraded)
}

func TestLimiter_TransientErrorKeepsConfiguredLimits(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection reset")
	l := newTestLimiter(store, Options{Production: true, FallbackEnabled: true})
	ctx := context.Background()

	// Transient backend errors fall back without the stricter multiplier:
	// all 60 configured requests pass.
	for i := 0; i < 60; i++ {
		res := l.Allow(ctx, "ip1", CategoryPublicAPI)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.True(t, res.Degraded)
	}
	assert.False(t, l.Allow(ctx, "ip1", CategoryPublicAPI).Allowed)
}

func TestLimiter_FailPolicyWithoutFallback(t *testing.T) {
	ctx := context.Background()

	open := newTestLimiter(kvstore.New(kvstore.Options{}), Options{FailOpen: true})
	assert.True(t, open.Allow(ctx, "ip1", CategoryAuth).Allowed)

	closed := newTestLimiter(kvstore.New(kvstore.Options{}), Options{FailOpen: false})
	assert.False(t, closed.Allow(ctx, "ip1", CategoryAuth).Allowed)
}

func TestLimiter_UnknownCategoryUsesPageView(t *testing.T) {
	l := newTestLimiter(newFakeStore(), Options{FallbackEnabled: true})

	cat, name := l.Category("nonsense")
	assert.Equal(t, CategoryPageView, name)
	assert.Equal(t, 120, cat.MaxRequests)
}

func TestLimiter_RecoveryClearsDegraded(t *testing.T) {
	store := newFakeStore()
	l := newTestLimiter(store, Options{FallbackEnabled: true})
	ctx := context.Background()

	store.err = errors.New("timeout")
	l.Allow(ctx, "ip1", CategoryPageView)
	assert.True(t, l.Degraded())

	store.err = nil
	l.Allow(ctx, "ip1", CategoryPageView)
	assert.False(t, l.Degraded())
}
