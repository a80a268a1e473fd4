package cache

import (
	"math"
	"sort"
	"sync"
	"time"
)

// priorityEntry tracks one cached value with its access pattern.
type priorityEntry struct {
	key        string
	value      interface{}
	sizeBytes  int64
	accessCnt  int64
	lastAccess time.Time
	created    time.Time
}

// score computes the eviction priority: frequency x exponential recency decay
// divided by size in KB. Higher keeps, lower evicts.
func (e *priorityEntry) score(now time.Time, decay float64) float64 {
	age := now.Sub(e.lastAccess).Seconds()
	recency := math.Pow(2, -decay*age)
	sizeKB := math.Max(1, float64(e.sizeBytes)/1000.0)
	return float64(e.accessCnt) * recency / sizeKB
}

// PriorityCacheStats reports L1 counters.
type PriorityCacheStats struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	SizeEvictions  int64 // evictions forced by the byte bound
	CountEvictions int64 // evictions forced by the entry bound
	Entries        int
	CurrentBytes   int64
}

// PriorityCache is the in-process L1 tier. It is bounded by both entry count
// and total estimated bytes; when either bound would be violated the lowest
// priority entries are evicted first, ties broken by oldest last access.
//
// Safe for concurrent use from multiple goroutines. Explicitly not shared
// across processes.
type PriorityCache struct {
	mu         sync.Mutex
	entries    map[string]*priorityEntry
	maxEntries int
	maxBytes   int64
	decay      float64
	curBytes   int64
	stats      PriorityCacheStats
}

// NewPriorityCache builds an L1 cache. Zero or negative bounds fall back to
// the defaults (500 entries, 512MB, decay 0.001).
func NewPriorityCache(maxEntries int, maxBytes int64, decay float64) *PriorityCache {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	if maxBytes <= 0 {
		maxBytes = 512 * 1024 * 1024
	}
	if decay <= 0 {
		decay = 0.001
	}
	return &PriorityCache{
		entries:    make(map[string]*priorityEntry),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		decay:      decay,
	}
}

// Get returns the cached value and updates the entry's access counters.
func (c *PriorityCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e.accessCnt++
	e.lastAccess = time.Now()
	c.stats.Hits++
	return e.value, true
}

// Set inserts or replaces a value, evicting low-priority entries as needed to
// satisfy both bounds. A value larger than the byte bound is not stored.
func (c *PriorityCache) Set(key string, value interface{}, sizeBytes int64) {
	if sizeBytes < 0 {
		sizeBytes = 0
	}
	if sizeBytes > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if old, ok := c.entries[key]; ok {
		c.curBytes -= old.sizeBytes
		old.value = value
		old.sizeBytes = sizeBytes
		old.accessCnt++
		old.lastAccess = now
		c.curBytes += sizeBytes
		c.evictLocked(now)
		return
	}

	c.entries[key] = &priorityEntry{
		key:        key,
		value:      value,
		sizeBytes:  sizeBytes,
		accessCnt:  1,
		lastAccess: now,
		created:    now,
	}
	c.curBytes += sizeBytes
	c.evictLocked(now)
}

// evictLocked removes lowest-score entries until both bounds hold. Caller
// holds the lock.
func (c *PriorityCache) evictLocked(now time.Time) {
	if len(c.entries) <= c.maxEntries && c.curBytes <= c.maxBytes {
		return
	}

	ranked := make([]*priorityEntry, 0, len(c.entries))
	for _, e := range c.entries {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := ranked[i].score(now, c.decay), ranked[j].score(now, c.decay)
		if si != sj {
			return si < sj
		}
		return ranked[i].lastAccess.Before(ranked[j].lastAccess)
	})

	for _, victim := range ranked {
		if len(c.entries) <= c.maxEntries && c.curBytes <= c.maxBytes {
			break
		}
		if len(c.entries) > c.maxEntries {
			c.stats.CountEvictions++
		} else {
			c.stats.SizeEvictions++
		}
		delete(c.entries, victim.key)
		c.curBytes -= victim.sizeBytes
		c.stats.Evictions++
	}
}

// Delete removes a key if present.
func (c *PriorityCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.curBytes -= e.sizeBytes
		delete(c.entries, key)
	}
}

// DeleteFunc removes every entry whose key satisfies match. Returns the
// number removed.
func (c *PriorityCache) DeleteFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if match(k) {
			c.curBytes -= e.sizeBytes
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear drops every entry and resets byte accounting (stats are kept).
func (c *PriorityCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*priorityEntry)
	c.curBytes = 0
}

// Len returns the entry count.
func (c *PriorityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats snapshots the counters.
func (c *PriorityCache) Stats() PriorityCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.CurrentBytes = c.curBytes
	return s
}
