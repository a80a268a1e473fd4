// Package rebuild implements the incremental builder and the memoization
// cache for its outputs.
package rebuild

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"codegraph/internal/effects"
	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// Cache defaults.
const (
	DefaultMaxEntries = 100
	DefaultTTL        = 300 * time.Second
)

// CacheKey reproducibly identifies (base snapshot, change set). Change ids
// are sorted and each code pair is hashed with a stable text encoding, so
// the same logical change set keys identically across processes.
func CacheKey(repoID, snapshotID string, changes map[string]effects.CodePair) string {
	ids := make([]string, 0, len(changes))
	for id := range changes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(repoID)
	b.WriteByte('|')
	b.WriteString(snapshotID)
	for _, id := range ids {
		pair := changes[id]
		body := xxh3.Hash([]byte(pair.Before + "\x00" + pair.After + "\x00" + pair.Language))
		fmt.Fprintf(&b, "|%s:%016x", id, body)
	}
	return fmt.Sprintf("%016x", xxh3.Hash([]byte(b.String())))
}

// Entry is one memoized rebuild.
type Entry struct {
	UpdatedGraph *types.Graph
	Plan         *Plan
	Stats        Stats
	CreatedAt    time.Time
	TTL          time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// CacheStats counts cache activity.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Expired   int64
	Evictions int64
	Entries   int
}

// Cache memoizes builder outputs keyed by CacheKey, with LRU eviction and a
// TTL checked on read. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recent
	maxEntries int
	ttl        time.Duration
	stats      CacheStats
}

type cacheItem struct {
	key   string
	entry *Entry
}

// NewCache builds a cache with the given bounds (defaults on zero).
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns the memoized entry or nil. Expired entries are purged and
// reported as misses.
func (c *Cache) Get(key string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil
	}
	item := elem.Value.(*cacheItem)
	if item.entry.expired(time.Now()) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.stats.Misses++
		c.stats.Expired++
		logging.RebuildDebug("Cache: entry %s expired", key)
		return nil
	}
	c.order.MoveToFront(elem)
	c.stats.Hits++
	return item.entry
}

// Set stores an entry, evicting the least recently used past the bound.
func (c *Cache) Set(key string, entry *Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.TTL == 0 {
		entry.TTL = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheItem).entry = entry
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheItem{key: key, entry: entry})

	for len(c.entries) > c.maxEntries {
		back := c.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*cacheItem)
		c.order.Remove(back)
		delete(c.entries, victim.key)
		c.stats.Evictions++
	}
}

// Invalidate removes one key, or everything when key is empty. Returns the
// number of entries removed.
func (c *Cache) Invalidate(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == "" {
		n := len(c.entries)
		c.entries = make(map[string]*list.Element)
		c.order = list.New()
		return n
	}
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
		return 1
	}
	return 0
}

// Stats snapshots counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
