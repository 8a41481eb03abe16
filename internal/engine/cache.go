// Package engine composes the signal resolver, idempotency cache, exit
// evaluator and order orchestrator into the per-tick execution loop.
package engine

import (
	"time"
)

// ActionCategory partitions the idempotency space: each (timestamp,
// category) pair triggers an exchange call at most once.
type ActionCategory string

const (
	CategoryEntry                  ActionCategory = "entry"
	CategoryTakeProfit             ActionCategory = "take_profit"
	CategoryTakeProfitFixUpnl      ActionCategory = "take_profit_fix_upnl"
	CategoryTakeProfitFixPriceRate ActionCategory = "take_profit_fix_price_rate"
	CategoryStopLoss               ActionCategory = "stop_loss"
	CategoryStopLossFixUpnl        ActionCategory = "stop_loss_fix_upnl"
	CategoryStopLossFixPriceRate   ActionCategory = "stop_loss_fix_price_rate"
)

// CacheKey identifies one handled action.
type CacheKey struct {
	Timestamp time.Time
	Category  ActionCategory
}

// UsedCache is a bounded insertion-ordered map of handled actions. When
// capacity is exceeded the oldest inserted entry is evicted; re-inserting
// an existing key does not refresh its position. Not safe for concurrent
// use; each symbol's engine owns its own instance.
type UsedCache struct {
	capacity int
	entries  map[CacheKey]string
	order    []CacheKey
}

func NewUsedCache(capacity int) *UsedCache {
	return &UsedCache{
		capacity: capacity,
		entries:  make(map[CacheKey]string, capacity),
	}
}

// Set marks the key handled. Overwriting an existing key updates its
// marker in place.
func (c *UsedCache) Set(key CacheKey, marker string) {
	if _, ok := c.entries[key]; ok {
		c.entries[key] = marker
		return
	}
	c.entries[key] = marker
	c.order = append(c.order, key)
	if len(c.order) > c.capacity {
		evicted := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, evicted)
	}
}

// Get reports whether the key was already handled.
func (c *UsedCache) Get(key CacheKey) (string, bool) {
	marker, ok := c.entries[key]
	return marker, ok
}

func (c *UsedCache) Len() int { return len(c.order) }

// cacheEntry is the persisted form of one cache slot.
type cacheEntry struct {
	Timestamp time.Time      `json:"ts"`
	Category  ActionCategory `json:"category"`
	Marker    string         `json:"marker"`
}

// Snapshot returns the entries in insertion order for persistence.
func (c *UsedCache) Snapshot() []cacheEntry {
	out := make([]cacheEntry, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, cacheEntry{Timestamp: key.Timestamp, Category: key.Category, Marker: c.entries[key]})
	}
	return out
}

// Restore replays a snapshot into the cache, preserving insertion order
// and the eviction bound.
func (c *UsedCache) Restore(entries []cacheEntry) {
	for _, e := range entries {
		c.Set(CacheKey{Timestamp: e.Timestamp, Category: e.Category}, e.Marker)
	}
}
