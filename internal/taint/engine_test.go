package taint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/types"
	"codegraph/internal/vfg"
)

// loadChain loads n1 -> n2 -> n3.
func loadChain(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(16)
	nodes := []*vfg.Node{
		{ID: "n1", SymbolName: "read_input", IsSource: true, TaintLabels: map[string]bool{"PII": true}},
		{ID: "n2", SymbolName: "mid"},
		{ID: "n3", SymbolName: "write_db", IsSink: true},
	}
	edges := []vfg.Edge{
		{Src: "n1", Dst: "n2", Kind: types.EdgeFlowsTo},
		{Src: "n2", Dst: "n3", Kind: types.EdgeFlowsTo},
	}
	require.NoError(t, e.Load(nodes, edges))
	return e
}

func TestEngine_FastReachability(t *testing.T) {
	e := loadChain(t)

	assert.True(t, e.FastReachability("n1", "n3"))
	assert.False(t, e.FastReachability("n3", "n1"), "edges are directed")
	assert.False(t, e.FastReachability("n1", "ghost"))
}

func TestEngine_TraceTaintChain(t *testing.T) {
	e := loadChain(t)

	paths, timedOut, err := e.TraceTaint(context.Background(), []string{"n1"}, []string{"n3"}, 0, 0)
	require.NoError(t, err)
	assert.False(t, timedOut)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"n1", "n2", "n3"}, paths[0])
}

func TestEngine_TraceTaintCacheHit(t *testing.T) {
	e := loadChain(t)
	ctx := context.Background()

	_, _, err := e.TraceTaint(ctx, []string{"n1"}, []string{"n3"}, 0, 0)
	require.NoError(t, err)
	s := e.Stats()
	assert.Equal(t, int64(0), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
	assert.Equal(t, 1, s.CacheSize)

	paths, _, err := e.TraceTaint(ctx, []string{"n1"}, []string{"n3"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	s = e.Stats()
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
	assert.InDelta(t, 0.5, s.CacheHitRate, 1e-9)
}

// Source/sink order does not matter for the cache key: the id lists are
// sorted before hashing.
func TestEngine_CacheKeyOrderInsensitive(t *testing.T) {
	e := NewEngine(16)
	nodes := []*vfg.Node{{ID: "a"}, {ID: "b"}, {ID: "x"}, {ID: "y"}}
	edges := []vfg.Edge{
		{Src: "a", Dst: "x", Kind: types.EdgeFlowsTo},
		{Src: "b", Dst: "y", Kind: types.EdgeFlowsTo},
	}
	require.NoError(t, e.Load(nodes, edges))

	ctx := context.Background()
	_, _, err := e.TraceTaint(ctx, []string{"a", "b"}, []string{"x", "y"}, 0, 0)
	require.NoError(t, err)
	_, _, err = e.TraceTaint(ctx, []string{"b", "a"}, []string{"y", "x"}, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), e.Stats().CacheHits)
}

func TestEngine_Invalidate(t *testing.T) {
	e := loadChain(t)
	ctx := context.Background()

	_, _, err := e.TraceTaint(ctx, []string{"n1"}, []string{"n3"}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, e.Stats().CacheSize)

	// n2 is on the cached path: the entry goes away.
	assert.Equal(t, 1, e.Invalidate([]string{"n2"}))
	assert.Equal(t, 0, e.Stats().CacheSize)

	// Re-tracing yields the same result and counts a miss.
	paths, _, err := e.TraceTaint(ctx, []string{"n1"}, []string{"n3"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"n1", "n2", "n3"}, paths[0])
	assert.Equal(t, int64(2), e.Stats().CacheMisses)
}

func TestEngine_InvalidateUnrelatedNodeKeepsEntry(t *testing.T) {
	e := NewEngine(16)
	nodes := []*vfg.Node{{ID: "n1"}, {ID: "n2"}, {ID: "n3"}, {ID: "other"}}
	edges := []vfg.Edge{
		{Src: "n1", Dst: "n2", Kind: types.EdgeFlowsTo},
		{Src: "n2", Dst: "n3", Kind: types.EdgeFlowsTo},
	}
	require.NoError(t, e.Load(nodes, edges))

	_, _, err := e.TraceTaint(context.Background(), []string{"n1"}, []string{"n3"}, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, e.Invalidate([]string{"other"}))
	assert.Equal(t, 1, e.Stats().CacheSize)
}

func TestEngine_LoadDropsUnknownEdges(t *testing.T) {
	e := NewEngine(16)
	nodes := []*vfg.Node{{ID: "a"}, {ID: "b"}}
	edges := []vfg.Edge{
		{Src: "a", Dst: "b", Kind: types.EdgeFlowsTo},
		{Src: "a", Dst: "ghost", Kind: types.EdgeFlowsTo},
	}
	require.NoError(t, e.Load(nodes, edges))

	s := e.Stats()
	assert.Equal(t, 2, s.NumNodes)
	assert.Equal(t, 1, s.NumEdges)
}

func TestEngine_LoadResetsCache(t *testing.T) {
	e := loadChain(t)
	_, _, err := e.TraceTaint(context.Background(), []string{"n1"}, []string{"n3"}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, e.Stats().CacheSize)

	require.NoError(t, e.Load([]*vfg.Node{{ID: "solo"}}, nil))
	s := e.Stats()
	assert.Equal(t, 0, s.CacheSize)
	assert.Equal(t, int64(0), s.CacheHits)
	assert.Equal(t, 1, s.NumNodes)
}

func TestEngine_MaxPathsBound(t *testing.T) {
	e := NewEngine(16)
	// Fan: s -> k1..k5 gives five reachable pairs.
	var nodes []*vfg.Node
	var edges []vfg.Edge
	nodes = append(nodes, &vfg.Node{ID: "s"})
	for _, id := range []string{"k1", "k2", "k3", "k4", "k5"} {
		nodes = append(nodes, &vfg.Node{ID: id})
		edges = append(edges, vfg.Edge{Src: "s", Dst: id, Kind: types.EdgeFlowsTo})
	}
	require.NoError(t, e.Load(nodes, edges))

	paths, _, err := e.TraceTaint(context.Background(), []string{"s"},
		[]string{"k1", "k2", "k3", "k4", "k5"}, 2, time.Second)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestEngine_PairOrdering(t *testing.T) {
	e := NewEngine(16)
	nodes := []*vfg.Node{{ID: "a"}, {ID: "b"}, {ID: "x"}, {ID: "y"}}
	edges := []vfg.Edge{
		{Src: "a", Dst: "x", Kind: types.EdgeFlowsTo},
		{Src: "a", Dst: "y", Kind: types.EdgeFlowsTo},
		{Src: "b", Dst: "x", Kind: types.EdgeFlowsTo},
	}
	require.NoError(t, e.Load(nodes, edges))

	paths, _, err := e.TraceTaint(context.Background(), []string{"a", "b"}, []string{"x", "y"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	// (a,x), (a,y), (b,x) in source-then-sink order.
	assert.Equal(t, []string{"a", "x"}, paths[0])
	assert.Equal(t, []string{"a", "y"}, paths[1])
	assert.Equal(t, []string{"b", "x"}, paths[2])
}
