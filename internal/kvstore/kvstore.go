// Package kvstore is a thin adapter over the distributed key-value backend
// used for cross-instance rate-limit counters. Unavailability is a first-class
// return value so callers can deterministically pick a fallback path.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrUnavailable signals that no distributed backend is configured or
// reachable. Callers must treat it as a routine condition, not a failure.
var ErrUnavailable = errors.New("kv backend unavailable")

// callTimeout bounds every backend round trip so a slow backend can never
// stall the request path; a timeout is handled the same as an error return.
const callTimeout = 300 * time.Millisecond

// incrementScript atomically increments a window counter, arms its expiry on
// first increment, and returns the count together with the remaining TTL.
// A single round trip, so two concurrent requests can never both observe
// "under limit" for the last slot.
var incrementScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

// WindowResult reports the state of one counting window after an increment.
type WindowResult struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetAt   time.Time
}

// Client wraps a single shared redis connection handle. The zero value (or a
// nil receiver) behaves as an unavailable backend.
type Client struct {
	rdb *redis.Client
}

// Options configures the backend connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New builds the process-wide backend client. An empty address yields a
// client that reports ErrUnavailable from every call.
func New(opts Options) *Client {
	if opts.Addr == "" {
		return &Client{}
	}
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

// Available reports whether a backend is configured at all.
func (c *Client) Available() bool {
	return c != nil && c.rdb != nil
}

// Ping verifies backend connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Available() {
		return ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv ping: %w", err)
	}
	return nil
}

// IncrementWindow counts one request against the (category, identifier)
// window and reports whether it fits under max. Returns ErrUnavailable when
// no backend is configured, or a wrapped transient error when the call fails.
func (c *Client) IncrementWindow(ctx context.Context, category, identifier string, max int, window time.Duration) (WindowResult, error) {
	if !c.Available() {
		return WindowResult{}, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	key := windowKey(category, identifier)
	raw, err := incrementScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return WindowResult{}, fmt.Errorf("kv increment %s: %w", key, err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return WindowResult{}, fmt.Errorf("kv increment %s: unexpected reply %T", key, raw)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}

	res := WindowResult{
		Allowed: count <= int64(max),
		Count:   count,
		ResetAt: time.Now().Add(time.Duration(ttlMs) * time.Millisecond),
	}
	if remaining := int64(max) - count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	return res, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if !c.Available() {
		return nil
	}
	return c.rdb.Close()
}

func windowKey(category, identifier string) string {
	return fmt.Sprintf("perimeter:rl:%s:%s", category, identifier)
}
