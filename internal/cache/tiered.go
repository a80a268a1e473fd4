package cache

import (
	"fmt"
	"strings"
	"sync/atomic"

	"codegraph/internal/logging"
)

// IREntry is the unit the tiered cache stores: an opaque lowered IR blob for
// one source fragment, tagged with the repo it came from.
type IREntry struct {
	RepoID   string `json:"repo_id" msgpack:"repo_id"`
	Path     string `json:"path" msgpack:"path"`
	Language string `json:"language" msgpack:"language"`
	IR       []byte `json:"ir" msgpack:"ir"`
}

// TieredStats aggregates telemetry across both tiers.
type TieredStats struct {
	L1         PriorityCacheStats
	L2         DiskCacheStats
	Promotions int64
}

// String returns a one-line summary.
func (s TieredStats) String() string {
	return fmt.Sprintf("l1[hits=%d misses=%d entries=%d bytes=%d] l2[hits=%d misses=%d writes=%d] promotions=%d",
		s.L1.Hits, s.L1.Misses, s.L1.Entries, s.L1.CurrentBytes,
		s.L2.Hits, s.L2.Misses, s.L2.Writes, s.Promotions)
}

// TieredCache cascades the priority memory tier (L1) over the disk tier (L2).
// Reads probe L1 first and promote L2 hits; writes go through to both tiers
// (L2 best-effort). The facade owns L1 exclusively and holds only weak
// knowledge of L2: another process may share the same disk directory.
type TieredCache struct {
	l1 *PriorityCache
	l2 *DiskCache

	promotions atomic.Int64
}

// NewTieredCache wires the two tiers together. l2 may be nil for a
// memory-only configuration.
func NewTieredCache(l1 *PriorityCache, l2 *DiskCache) *TieredCache {
	return &TieredCache{l1: l1, l2: l2}
}

// l1Key buckets entries per repo so InvalidateRepo can match by prefix.
func l1Key(repoID string, key CacheKey) string {
	return repoID + "|" + key.String()
}

// Get returns the cached IR for (path, content) or nil on a miss. An L2 hit
// is promoted into L1 before returning.
func (t *TieredCache) Get(repoID, path string, content []byte) *IREntry {
	key := BuildKey(content, CurrentSchemaVersion, CurrentEngineVersion, path)

	if v, ok := t.l1.Get(l1Key(repoID, key)); ok {
		if entry, ok := v.(*IREntry); ok {
			return entry
		}
	}

	if t.l2 == nil {
		return nil
	}
	var entry IREntry
	if !t.l2.Get(key, &entry) {
		return nil
	}

	t.l1.Set(l1Key(repoID, key), &entry, int64(len(entry.IR)))
	t.promotions.Add(1)
	logging.CacheDebug("TieredCache: promoted %s to L1", path)
	return &entry
}

// Set writes the entry to both tiers. The L2 write is best-effort; a disk
// failure is logged and does not fail the call.
func (t *TieredCache) Set(repoID, path string, content []byte, entry *IREntry) {
	key := BuildKey(content, CurrentSchemaVersion, CurrentEngineVersion, path)
	entry.RepoID = repoID
	entry.Path = path

	t.l1.Set(l1Key(repoID, key), entry, int64(len(entry.IR)))

	if t.l2 != nil {
		if err := t.l2.Set(key, entry); err != nil {
			logging.Get(logging.CategoryCache).Warn("TieredCache: L2 write failed for %s: %v", path, err)
		}
	}
}

// InvalidateRepo evicts every L1 entry belonging to repoID. L2 eviction is
// lazy: entries become unreachable once the source content changes, and a
// full sweep is deferred to Clear.
func (t *TieredCache) InvalidateRepo(repoID string) int {
	prefix := repoID + "|"
	n := t.l1.DeleteFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	if n > 0 {
		logging.Cache("TieredCache: invalidated %d L1 entries for repo %s", n, repoID)
	}
	return n
}

// Clear drops both tiers.
func (t *TieredCache) Clear() {
	t.l1.Clear()
	if t.l2 != nil {
		if err := t.l2.Clear(); err != nil {
			logging.Get(logging.CategoryCache).Warn("TieredCache: L2 clear failed: %v", err)
		}
	}
}

// Stats aggregates both tiers' telemetry.
func (t *TieredCache) Stats() TieredStats {
	s := TieredStats{L1: t.l1.Stats(), Promotions: t.promotions.Load()}
	if t.l2 != nil {
		s.L2 = t.l2.Stats()
	}
	return s
}
