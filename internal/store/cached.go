package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"codegraph/internal/logging"
	"codegraph/internal/types"
	"codegraph/internal/vfg"
)

// DefaultRelationTTL bounds how long relation query results stay cached.
const DefaultRelationTTL = 60 * time.Second

// CachedViewStats counts cache activity per tier.
type CachedViewStats struct {
	MemoryHits   int64
	RemoteHits   int64
	StoreReads   int64
	RelationHits int64
	Invalidated  int64
}

// CachedView fronts a Store with a 3-tier node cache (in-process map, an
// optional remote K/V, the store itself) and a TTL'd in-memory cache for
// relation queries keyed by a normalized query string. Write operations
// invalidate every cached key mentioning the touched repo id.
type CachedView struct {
	store Store
	// remote is the optional shared K/V tier; nil disables it.
	remote      redis.UniversalClient
	remoteTTL   time.Duration
	relationTTL time.Duration

	mu        sync.Mutex
	nodes     map[string]*types.Node // key: repo|id
	relations map[string]relEntry    // key: normalized query
	stats     CachedViewStats
}

type relEntry struct {
	ids     []string
	expires time.Time
}

// NewCachedView wraps store. remote may be nil.
func NewCachedView(store Store, remote redis.UniversalClient, relationTTL time.Duration) *CachedView {
	if relationTTL <= 0 {
		relationTTL = DefaultRelationTTL
	}
	return &CachedView{
		store:       store,
		remote:      remote,
		remoteTTL:   10 * time.Minute,
		relationTTL: relationTTL,
		nodes:       make(map[string]*types.Node),
		relations:   make(map[string]relEntry),
	}
}

func nodeKey(repoID, id string) string { return repoID + "|" + id }

// NodeByID resolves through memory, then the remote K/V, then the store,
// refilling the upper tiers on the way back.
func (c *CachedView) NodeByID(ctx context.Context, repoID, id string) (*types.Node, error) {
	key := nodeKey(repoID, id)

	c.mu.Lock()
	if n, ok := c.nodes[key]; ok {
		c.stats.MemoryHits++
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	if c.remote != nil {
		data, err := c.remote.Get(ctx, "cg:node:"+key).Bytes()
		if err == nil {
			var n types.Node
			if jerr := json.Unmarshal(data, &n); jerr == nil {
				c.mu.Lock()
				c.nodes[key] = &n
				c.stats.RemoteHits++
				c.mu.Unlock()
				return &n, nil
			}
		} else if err != redis.Nil {
			logging.Get(logging.CategoryStore).Warn("CachedView: remote get failed: %v", err)
		}
	}

	n, err := c.store.NodeByID(ctx, repoID, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.stats.StoreReads++
	if n != nil {
		c.nodes[key] = n
	}
	c.mu.Unlock()

	if n != nil && c.remote != nil {
		if data, jerr := json.Marshal(n); jerr == nil {
			if err := c.remote.Set(ctx, "cg:node:"+key, data, c.remoteTTL).Err(); err != nil {
				logging.StoreDebug("CachedView: remote set failed: %v", err)
			}
		}
	}
	return n, nil
}

// NodesByIDs batch-resolves through the tiers.
func (c *CachedView) NodesByIDs(ctx context.Context, repoID string, ids []string) (map[string]*types.Node, error) {
	out := make(map[string]*types.Node, len(ids))
	for _, id := range ids {
		n, err := c.NodeByID(ctx, repoID, id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out[id] = n
		}
	}
	return out, nil
}

// relation serves one relation query through the TTL'd cache.
func (c *CachedView) relation(ctx context.Context, queryKey string, load func() ([]string, error)) ([]string, error) {
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.relations[queryKey]; ok && now.Before(entry.expires) {
		c.stats.RelationHits++
		c.mu.Unlock()
		return entry.ids, nil
	}
	c.mu.Unlock()

	ids, err := load()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.relations[queryKey] = relEntry{ids: ids, expires: now.Add(c.relationTTL)}
	c.mu.Unlock()
	return ids, nil
}

// CallersOfFile caches the callers relation.
func (c *CachedView) CallersOfFile(ctx context.Context, repoID, filePath string) ([]string, error) {
	key := fmt.Sprintf("callers|%s|%s", repoID, filePath)
	return c.relation(ctx, key, func() ([]string, error) {
		return c.store.CallersOfFile(ctx, repoID, filePath)
	})
}

// SubclassesOfFile caches the subclasses relation.
func (c *CachedView) SubclassesOfFile(ctx context.Context, repoID, filePath string) ([]string, error) {
	key := fmt.Sprintf("subclasses|%s|%s", repoID, filePath)
	return c.relation(ctx, key, func() ([]string, error) {
		return c.store.SubclassesOfFile(ctx, repoID, filePath)
	})
}

// ImportersOfFile caches the importers relation.
func (c *CachedView) ImportersOfFile(ctx context.Context, repoID, filePath string) ([]string, error) {
	key := fmt.Sprintf("importers|%s|%s", repoID, filePath)
	return c.relation(ctx, key, func() ([]string, error) {
		return c.store.ImportersOfFile(ctx, repoID, filePath)
	})
}

// ExtractVFG passes through; VFG loads are cached by the taint engine.
func (c *CachedView) ExtractVFG(ctx context.Context, repoID, snapshotID string, limit int) ([]*vfg.Node, []vfg.Edge, error) {
	return c.store.ExtractVFG(ctx, repoID, snapshotID, limit)
}

// SourcesAndSinks passes through.
func (c *CachedView) SourcesAndSinks(ctx context.Context, repoID, snapshotID string) ([]string, []string, error) {
	return c.store.SourcesAndSinks(ctx, repoID, snapshotID)
}

// invalidateRepo drops every cached key mentioning repoID.
func (c *CachedView) invalidateRepo(ctx context.Context, repoID string) {
	c.mu.Lock()
	removed := 0
	for key := range c.nodes {
		if strings.HasPrefix(key, repoID+"|") {
			delete(c.nodes, key)
			removed++
		}
	}
	for key := range c.relations {
		if strings.Contains(key, "|"+repoID+"|") {
			delete(c.relations, key)
			removed++
		}
	}
	c.stats.Invalidated += int64(removed)
	c.mu.Unlock()

	if c.remote != nil {
		iter := c.remote.Scan(ctx, 0, "cg:node:"+repoID+"|*", 0).Iterator()
		for iter.Next(ctx) {
			if err := c.remote.Del(ctx, iter.Val()).Err(); err != nil {
				logging.StoreDebug("CachedView: remote del failed: %v", err)
			}
		}
	}
	logging.StoreDebug("CachedView: invalidated %d entries for repo %s", removed, repoID)
}

// SaveGraph writes through and invalidates the repo's cached entries.
func (c *CachedView) SaveGraph(ctx context.Context, repoID, snapshotID string, g *types.Graph, vfgNodes []*vfg.Node, vfgEdges []vfg.Edge) error {
	if err := c.store.SaveGraph(ctx, repoID, snapshotID, g, vfgNodes, vfgEdges); err != nil {
		return err
	}
	c.invalidateRepo(ctx, repoID)
	return nil
}

// DeleteRepo writes through and invalidates.
func (c *CachedView) DeleteRepo(ctx context.Context, repoID string) error {
	if err := c.store.DeleteRepo(ctx, repoID); err != nil {
		return err
	}
	c.invalidateRepo(ctx, repoID)
	return nil
}

// DeleteSnapshot writes through and invalidates.
func (c *CachedView) DeleteSnapshot(ctx context.Context, repoID, snapshotID string) error {
	if err := c.store.DeleteSnapshot(ctx, repoID, snapshotID); err != nil {
		return err
	}
	c.invalidateRepo(ctx, repoID)
	return nil
}

// DeleteNodesForFiles writes through and invalidates.
func (c *CachedView) DeleteNodesForFiles(ctx context.Context, repoID string, filePaths []string) error {
	if err := c.store.DeleteNodesForFiles(ctx, repoID, filePaths); err != nil {
		return err
	}
	c.invalidateRepo(ctx, repoID)
	return nil
}

// Stats snapshots the counters.
func (c *CachedView) Stats() CachedViewStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
