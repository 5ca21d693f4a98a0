package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate-limit category names. Each category is an independent policy bucket
// with its own thresholds.
const (
	CategoryAuth      = "auth"
	CategoryContact   = "contact"
	CategoryAdminAPI  = "admin-api"
	CategoryPublicAPI = "public-api"
	CategoryPageView  = "page-view"
)

// Category holds the static limits for one policy bucket.
type Category struct {
	MaxRequests int
	Window      time.Duration
	// BlockDuration extends denial past the window once the limit is
	// exceeded. Zero means no block, only per-window counting.
	BlockDuration time.Duration
}

// Table maps category names to their limits. Loaded once at startup and
// treated as immutable afterwards.
type Table map[string]Category

// DefaultTable returns the built-in per-category limits.
func DefaultTable() Table {
	return Table{
		CategoryAuth:      {MaxRequests: 3, Window: time.Minute, BlockDuration: 5 * time.Minute},
		CategoryContact:   {MaxRequests: 3, Window: time.Hour, BlockDuration: time.Hour},
		CategoryAdminAPI:  {MaxRequests: 50, Window: time.Minute},
		CategoryPublicAPI: {MaxRequests: 60, Window: time.Minute, BlockDuration: 10 * time.Minute},
		CategoryPageView:  {MaxRequests: 120, Window: time.Minute},
	}
}

// ApplyOverrides merges "category:maxRequests:windowSeconds:blockSeconds"
// entries into the table. Unknown categories are added as new buckets.
func (t Table) ApplyOverrides(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return fmt.Errorf("rate limit override %q: want category:max:windowSec:blockSec", entry)
		}
		max, err := strconv.Atoi(parts[1])
		if err != nil || max <= 0 {
			return fmt.Errorf("rate limit override %q: invalid max requests", entry)
		}
		windowSec, err := strconv.Atoi(parts[2])
		if err != nil || windowSec <= 0 {
			return fmt.Errorf("rate limit override %q: invalid window", entry)
		}
		blockSec, err := strconv.Atoi(parts[3])
		if err != nil || blockSec < 0 {
			return fmt.Errorf("rate limit override %q: invalid block duration", entry)
		}
		t[parts[0]] = Category{
			MaxRequests:   max,
			Window:        time.Duration(windowSec) * time.Second,
			BlockDuration: time.Duration(blockSec) * time.Second,
		}
	}
	return nil
}
