// Package ratelimit implements the per-category sliding-window limiter with
// a distributed backend and a documented production-safe fallback.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/perimeterd/perimeter/internal/kvstore"
	"github.com/perimeterd/perimeter/internal/logger"
	"github.com/perimeterd/perimeter/internal/metrics"
)

// strictDivisor floors the effective limit in production degraded mode.
// In-memory state is per-process, so an attacker spread across N processes
// sees N times the true limit; the stricter fallback partially compensates.
const strictDivisor = 5

// WindowStore is the atomic increment-with-expiry primitive the limiter
// counts against.
type WindowStore interface {
	Available() bool
	IncrementWindow(ctx context.Context, category, identifier string, max int, window time.Duration) (kvstore.WindowResult, error)
}

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	// Blocked marks denial by an active block rather than window counting.
	Blocked bool
	// Degraded marks a decision made on process-local fallback state.
	Degraded bool
}

// Options tunes limiter behaviour per deployment.
type Options struct {
	Production bool
	// FallbackEnabled keeps the in-memory limiter available when the
	// distributed backend is down.
	FallbackEnabled bool
	// FailOpen decides admission when the backend is down and the
	// fallback is disabled.
	FailOpen bool
}

// Limiter coordinates the distributed window counter with local block state
// and the in-memory fallback. It never returns an error to callers.
type Limiter struct {
	table    Table
	store    WindowStore
	fallback *MemoryLimiter
	opts     Options

	mu       sync.Mutex
	degraded bool
}

// New builds a limiter over the given store and category table.
func New(store WindowStore, fallback *MemoryLimiter, table Table, opts Options) *Limiter {
	if fallback == nil {
		fallback = NewMemoryLimiter()
	}
	return &Limiter{table: table, store: store, fallback: fallback, opts: opts}
}

// Fallback exposes the in-memory limiter so the scheduler can sweep it.
func (l *Limiter) Fallback() *MemoryLimiter {
	return l.fallback
}

// Degraded reports whether the last decision ran on fallback state.
func (l *Limiter) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// Category resolves a category name, falling back to the page-view bucket.
func (l *Limiter) Category(name string) (Category, string) {
	if cat, ok := l.table[name]; ok {
		return cat, name
	}
	return l.table[CategoryPageView], CategoryPageView
}

// Allow evaluates one request for identifier under the named category.
func (l *Limiter) Allow(ctx context.Context, identifier, category string) Result {
	cat, name := l.Category(category)
	key := fmt.Sprintf("%s:%s", name, identifier)

	// Block state is short-lived and best-effort, kept in the fallback map
	// regardless of backend health. While blocked, deny without counting.
	if blocked, remaining := l.fallback.BlockRemaining(key); blocked {
		return Result{Blocked: true, ResetIn: remaining, Degraded: l.Degraded()}
	}

	win, err := l.store.IncrementWindow(ctx, name, identifier, cat.MaxRequests, cat.Window)
	switch {
	case err == nil:
		l.setDegraded(false)
		if win.Allowed {
			return Result{Allowed: true, Remaining: win.Remaining, ResetIn: time.Until(win.ResetAt)}
		}
		res := Result{ResetIn: time.Until(win.ResetAt)}
		if cat.BlockDuration > 0 {
			l.fallback.Block(key, cat.BlockDuration)
			res.Blocked = true
			res.ResetIn = cat.BlockDuration
		}
		return res

	case errors.Is(err, kvstore.ErrUnavailable):
		return l.allowDegraded(key, cat, true)

	default:
		logger.WithFields(map[string]interface{}{
			"category":   name,
			"identifier": identifier,
		}).WithError(err).Warn("rate limit backend error, using in-memory fallback")
		return l.allowDegraded(key, cat, false)
	}
}

// allowDegraded runs the in-memory fallback. strict applies the production
// compensation for a fully unavailable backend; transient backend errors
// keep the configured limits.
func (l *Limiter) allowDegraded(key string, cat Category, unavailable bool) Result {
	if !l.opts.FallbackEnabled {
		// Explicit fail-open/fail-closed policy: nothing can count this
		// request, so the decision is the configured default.
		logger.WithField("fail_open", l.opts.FailOpen).Error("rate limit backend unavailable and fallback disabled")
		return Result{Allowed: l.opts.FailOpen, Degraded: true}
	}

	l.setDegraded(true)

	max := cat.MaxRequests
	blockDuration := cat.BlockDuration
	if unavailable && l.opts.Production {
		max = cat.MaxRequests / strictDivisor
		if max < 1 {
			max = 1
		}
		if blockDuration > 0 {
			blockDuration *= 2
		} else {
			blockDuration = cat.Window
		}
		logger.WithFields(map[string]interface{}{
			"effective_max":  max,
			"configured_max": cat.MaxRequests,
		}).Error("rate limit backend unavailable in production, enforcing stricter in-memory limits")
	}

	res := l.fallback.Allow(key, max, cat.Window, blockDuration)
	res.Degraded = true
	return res
}

func (l *Limiter) setDegraded(degraded bool) {
	l.mu.Lock()
	changed := l.degraded != degraded
	l.degraded = degraded
	l.mu.Unlock()

	metrics.SetDegraded(degraded)
	if changed && !degraded {
		logger.Log().Info("rate limit backend recovered, distributed enforcement restored")
	}
}
