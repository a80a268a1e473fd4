// Package taint implements the fast taint reachability engine: an interned,
// adjacency-indexed view of the value flow graph with an LRU of answered
// trace queries.
package taint

import (
	"container/list"
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"codegraph/internal/logging"
	"codegraph/internal/vfg"
)

// Defaults for trace bounds.
const (
	DefaultMaxPaths  = 100
	DefaultTimeout   = 10 * time.Second
	DefaultCacheSize = 256
)

// Extractor is the adapter-provided view the engine loads from.
type Extractor interface {
	ExtractVFG(ctx context.Context, repoID, snapshotID string, limit int) ([]*vfg.Node, []vfg.Edge, error)
	SourcesAndSinks(ctx context.Context, repoID, snapshotID string) (sources, sinks []string, err error)
}

// Stats reports engine counters.
type Stats struct {
	NumNodes     int     `json:"num_nodes"`
	NumEdges     int     `json:"num_edges"`
	CacheSize    int     `json:"cache_size"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// cacheEntry is one answered trace with the member node set for
// invalidation-by-intersection.
type cacheEntry struct {
	key     uint64
	paths   [][]string
	members map[int32]bool
	elem    *list.Element
}

// Engine answers taint reachability queries over one loaded VFG view. All
// methods are blocking on the calling thread; the internal lock guards the
// LRU and the graph tables. The LRU is not multiprocess-safe: shard workloads
// by owning one engine per process.
type Engine struct {
	mu sync.Mutex

	// Interned graph: dense index table, compact adjacency, payload table.
	idx      map[string]int32
	ids      []string
	adj      [][]int32
	payloads []payload

	// LRU of answered queries.
	cacheCap int
	cache    map[uint64]*cacheEntry
	order    *list.List // front = most recent

	hits, misses int64
	numEdges     int
	loaded       bool
}

type payload struct {
	language string
	filePath string
	labels   []string
	isSource bool
	isSink   bool
}

// NewEngine builds an empty engine with the given LRU capacity.
func NewEngine(cacheSize int) *Engine {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Engine{
		cacheCap: cacheSize,
		cache:    make(map[uint64]*cacheEntry),
		order:    list.New(),
	}
}

// Load builds the internal representation from adapter records. Edges
// referencing unknown ids are logged and dropped. The LRU and counters reset
// on every load.
func (e *Engine) Load(nodes []*vfg.Node, edges []vfg.Edge) error {
	timer := logging.StartTimer(logging.CategoryTaint, "Load")
	defer timer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.idx = make(map[string]int32, len(nodes))
	e.ids = make([]string, 0, len(nodes))
	e.payloads = make([]payload, 0, len(nodes))

	for _, n := range nodes {
		if n == nil || n.ID == "" {
			continue
		}
		if _, dup := e.idx[n.ID]; dup {
			continue
		}
		e.idx[n.ID] = int32(len(e.ids))
		e.ids = append(e.ids, n.ID)
		var labels []string
		for l := range n.TaintLabels {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		e.payloads = append(e.payloads, payload{
			language: n.Language,
			filePath: n.FilePath,
			labels:   labels,
			isSource: n.IsSource,
			isSink:   n.IsSink,
		})
	}

	e.adj = make([][]int32, len(e.ids))
	dropped := 0
	e.numEdges = 0
	for _, edge := range edges {
		si, ok1 := e.idx[edge.Src]
		di, ok2 := e.idx[edge.Dst]
		if !ok1 || !ok2 {
			logging.Get(logging.CategoryTaint).Warn("Load: dropping edge %s->%s (unknown endpoint)", edge.Src, edge.Dst)
			dropped++
			continue
		}
		e.adj[si] = append(e.adj[si], di)
		e.numEdges++
	}
	for i := range e.adj {
		sort.Slice(e.adj[i], func(a, b int) bool { return e.adj[i][a] < e.adj[i][b] })
	}

	e.resetCacheLocked()
	e.loaded = true
	logging.Taint("Load: %d nodes, %d edges (%d dropped)", len(e.ids), e.numEdges, dropped)
	return nil
}

// LoadFromExtractor pulls the (repo, snapshot) view through the adapter and
// loads it.
func (e *Engine) LoadFromExtractor(ctx context.Context, ex Extractor, repoID, snapshotID string, limit int) error {
	nodes, edges, err := ex.ExtractVFG(ctx, repoID, snapshotID, limit)
	if err != nil {
		return fmt.Errorf("taint load: %w", err)
	}
	return e.Load(nodes, edges)
}

// Loaded reports whether a view has been loaded.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *Engine) resetCacheLocked() {
	e.cache = make(map[uint64]*cacheEntry)
	e.order = list.New()
	e.hits, e.misses = 0, 0
}

// queryKey hashes the sorted source and sink id lists.
func queryKey(sources, sinks []string) uint64 {
	ss := append([]string(nil), sources...)
	kk := append([]string(nil), sinks...)
	sort.Strings(ss)
	sort.Strings(kk)
	return xxh3.Hash([]byte(strings.Join(ss, ",") + "|" + strings.Join(kk, ",")))
}

// TraceTaint returns up to maxPaths shortest paths between the source and
// sink sets, ordered by (source index, sink index) then path length. The
// boolean reports whether the timeout truncated the scan; partial results
// are still returned.
func (e *Engine) TraceTaint(ctx context.Context, sources, sinks []string, maxPaths int, timeout time.Duration) ([][]string, bool, error) {
	timer := logging.StartTimer(logging.CategoryTaint, "TraceTaint")
	defer timer.Stop()

	if maxPaths <= 0 {
		maxPaths = DefaultMaxPaths
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	key := queryKey(sources, sinks)

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok {
		e.order.MoveToFront(entry.elem)
		e.hits++
		paths := entry.paths
		e.mu.Unlock()
		logging.TaintDebug("TraceTaint: cache hit (%d paths)", len(paths))
		return paths, false, nil
	}
	e.misses++

	// Snapshot what the scan needs so the lock is not held during BFS.
	srcIdx := e.internAllLocked(sources)
	sinkIdx := e.internAllLocked(sinks)
	adj := e.adj
	ids := e.ids
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// One slot per (source, sink) pair keeps the output in (source index,
	// sink index) order regardless of goroutine scheduling.
	results := make([][]int32, len(srcIdx)*len(sinkIdx))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for si, src := range srcIdx {
		for ki, sink := range sinkIdx {
			slot := si*len(sinkIdx) + ki
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil // timeout yields partial results, not failure
				}
				results[slot] = shortestPath(adj, src, sink, ctx)
				return nil
			})
		}
	}
	_ = g.Wait()
	timedOut := ctx.Err() != nil

	var paths [][]string
	members := make(map[int32]bool)
	for _, p := range results {
		if p == nil {
			continue
		}
		if len(paths) >= maxPaths {
			break
		}
		idPath := make([]string, len(p))
		for i, n := range p {
			idPath[i] = ids[n]
			members[n] = true
		}
		paths = append(paths, idPath)
	}

	// Only complete answers are cached; a truncated scan would pin a wrong
	// result under this key.
	if !timedOut {
		e.mu.Lock()
		e.insertLocked(key, paths, members)
		e.mu.Unlock()
	}

	logging.TaintDebug("TraceTaint: %d sources x %d sinks -> %d paths (timeout=%v)",
		len(srcIdx), len(sinkIdx), len(paths), timedOut)
	return paths, timedOut, nil
}

// internAllLocked maps ids to indices, skipping unknown ids.
func (e *Engine) internAllLocked(ids []string) []int32 {
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if i, ok := e.idx[id]; ok {
			out = append(out, i)
		}
	}
	return out
}

// insertLocked adds an entry with size-bounded LRU eviction.
func (e *Engine) insertLocked(key uint64, paths [][]string, members map[int32]bool) {
	if old, ok := e.cache[key]; ok {
		e.order.Remove(old.elem)
		delete(e.cache, key)
	}
	entry := &cacheEntry{key: key, paths: paths, members: members}
	entry.elem = e.order.PushFront(entry)
	e.cache[key] = entry

	for len(e.cache) > e.cacheCap {
		back := e.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*cacheEntry)
		e.order.Remove(back)
		delete(e.cache, victim.key)
	}
}

// shortestPath runs a uniform-weight BFS from src to sink and reconstructs
// the path, or nil when unreachable. The context is checked per frontier
// expansion.
func shortestPath(adj [][]int32, src, sink int32, ctx context.Context) []int32 {
	if src == sink {
		return []int32{src}
	}
	parent := make(map[int32]int32, 64)
	frontier := []int32{src}
	visited := map[int32]bool{src: true}

	for len(frontier) > 0 {
		if ctx != nil && ctx.Err() != nil {
			return nil
		}
		var next []int32
		for _, cur := range frontier {
			for _, nb := range adj[cur] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				parent[nb] = cur
				if nb == sink {
					// Reconstruct.
					path := []int32{sink}
					for at := sink; at != src; {
						at = parent[at]
						path = append([]int32{at}, path...)
					}
					return path
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return nil
}

// FastReachability answers whether any flow path connects src to sink,
// without constructing the path.
func (e *Engine) FastReachability(src, sink string) bool {
	e.mu.Lock()
	si, ok1 := e.idx[src]
	ki, ok2 := e.idx[sink]
	adj := e.adj
	e.mu.Unlock()
	if !ok1 || !ok2 {
		return false
	}
	return shortestPath(adj, si, ki, nil) != nil
}

// Invalidate discards every cached trace whose path set intersects the
// affected nodes. Returns the number of entries removed.
func (e *Engine) Invalidate(affectedNodes []string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	affected := make(map[int32]bool, len(affectedNodes))
	for _, id := range affectedNodes {
		if i, ok := e.idx[id]; ok {
			affected[i] = true
		}
	}
	if len(affected) == 0 {
		return 0
	}

	removed := 0
	for key, entry := range e.cache {
		hit := false
		for n := range affected {
			if entry.members[n] {
				hit = true
				break
			}
		}
		if hit {
			e.order.Remove(entry.elem)
			delete(e.cache, key)
			removed++
		}
	}
	if removed > 0 {
		logging.TaintDebug("Invalidate: %d cache entries removed for %d nodes", removed, len(affectedNodes))
	}
	return removed
}

// InvalidateFiles discards cached traces touching any node of the given
// files. Returns the number of cache entries removed.
func (e *Engine) InvalidateFiles(filePaths []string) int {
	files := make(map[string]bool, len(filePaths))
	for _, fp := range filePaths {
		files[fp] = true
	}

	e.mu.Lock()
	var affected []string
	for i, p := range e.payloads {
		if p.filePath != "" && files[p.filePath] {
			affected = append(affected, e.ids[i])
		}
	}
	e.mu.Unlock()

	if len(affected) == 0 {
		return 0
	}
	return e.Invalidate(affected)
}

// Stats snapshots counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		NumNodes:    len(e.ids),
		NumEdges:    e.numEdges,
		CacheSize:   len(e.cache),
		CacheHits:   e.hits,
		CacheMisses: e.misses,
	}
	if total := e.hits + e.misses; total > 0 {
		s.CacheHitRate = float64(e.hits) / float64(total)
	}
	return s
}
