package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/types"
	"codegraph/internal/vfg"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedGraph(t *testing.T, s Store) {
	t.Helper()
	g := types.NewGraph()
	require.NoError(t, g.AddNode(&types.Node{ID: "callee", Name: "callee", Kind: types.KindFunction, FilePath: "lib.py", Line: 1}))
	require.NoError(t, g.AddNode(&types.Node{ID: "caller", Name: "caller", Kind: types.KindFunction, FilePath: "app.py", Line: 10,
		Parameters: []types.Parameter{{Name: "x", Type: "int"}}}))
	require.NoError(t, g.AddNode(&types.Node{ID: "sub", Name: "Sub", Kind: types.KindClass, FilePath: "app.py"}))
	require.NoError(t, g.AddEdge(types.Edge{Src: "caller", Dst: "callee", Kind: types.EdgeCalls, Confidence: types.ConfidenceHigh}))
	require.NoError(t, g.AddEdge(types.Edge{Src: "sub", Dst: "callee", Kind: types.EdgeInherits}))

	vfgNodes := []*vfg.Node{
		{ID: "v1", SymbolName: "read_input", FilePath: "lib.py", Language: "python", IsSource: true,
			TaintLabels: map[string]bool{"PII": true}},
		{ID: "v2", SymbolName: "write_db", FilePath: "lib.py", Language: "python", IsSink: true},
	}
	vfgEdges := []vfg.Edge{{Src: "v1", Dst: "v2", Kind: types.EdgeFlowsTo, Confidence: types.ConfidenceHigh}}

	require.NoError(t, s.SaveGraph(context.Background(), "r1", "s1", g, vfgNodes, vfgEdges))
}

func TestSQLiteStore_NodeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()

	n, err := s.NodeByID(ctx, "r1", "caller")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "caller", n.Name)
	assert.Equal(t, types.KindFunction, n.Kind)
	assert.Equal(t, "app.py", n.FilePath)
	require.Len(t, n.Parameters, 1)
	assert.Equal(t, "x", n.Parameters[0].Name)

	// Missing ids resolve to nil without error.
	n, err = s.NodeByID(ctx, "r1", "ghost")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestSQLiteStore_Relations(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()

	callers, err := s.CallersOfFile(ctx, "r1", "lib.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"caller"}, callers)

	subs, err := s.SubclassesOfFile(ctx, "r1", "lib.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub"}, subs)

	imps, err := s.ImportersOfFile(ctx, "r1", "lib.py")
	require.NoError(t, err)
	assert.Empty(t, imps)
}

func TestSQLiteStore_ExtractVFG(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()

	nodes, edges, err := s.ExtractVFG(ctx, "r1", "s1", 0)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Len(t, edges, 1)

	byID := map[string]*vfg.Node{}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	assert.True(t, byID["v1"].IsSource)
	assert.True(t, byID["v1"].TaintLabels["PII"])
	assert.True(t, byID["v2"].IsSink)
	assert.Equal(t, types.EdgeFlowsTo, edges[0].Kind)

	// Wrong snapshot sees nothing.
	nodes, _, err = s.ExtractVFG(ctx, "r1", "other", 0)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestSQLiteStore_SourcesAndSinks(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)

	sources, sinks, err := s.SourcesAndSinks(context.Background(), "r1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, sources)
	assert.Equal(t, []string{"v2"}, sinks)
}

func TestSQLiteStore_Deletes(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteNodesForFiles(ctx, "r1", []string{"app.py"}))
	n, err := s.NodeByID(ctx, "r1", "caller")
	require.NoError(t, err)
	assert.Nil(t, n)
	callers, err := s.CallersOfFile(ctx, "r1", "lib.py")
	require.NoError(t, err)
	assert.Empty(t, callers, "edges from deleted nodes are gone")

	require.NoError(t, s.DeleteRepo(ctx, "r1"))
	nodes, _, err := s.ExtractVFG(ctx, "r1", "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestCachedView_NodeCaching(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)
	c := NewCachedView(s, nil, time.Minute)
	ctx := context.Background()

	n, err := c.NodeByID(ctx, "r1", "caller")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, int64(1), c.Stats().StoreReads)

	_, err = c.NodeByID(ctx, "r1", "caller")
	require.NoError(t, err)
	s2 := c.Stats()
	assert.Equal(t, int64(1), s2.MemoryHits)
	assert.Equal(t, int64(1), s2.StoreReads, "second read served from memory")
}

func TestCachedView_RelationTTLCache(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)
	c := NewCachedView(s, nil, time.Minute)
	ctx := context.Background()

	_, err := c.CallersOfFile(ctx, "r1", "lib.py")
	require.NoError(t, err)
	_, err = c.CallersOfFile(ctx, "r1", "lib.py")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Stats().RelationHits)
}

func TestCachedView_WriteInvalidatesRepo(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)
	c := NewCachedView(s, nil, time.Minute)
	ctx := context.Background()

	_, err := c.NodeByID(ctx, "r1", "caller")
	require.NoError(t, err)
	_, err = c.CallersOfFile(ctx, "r1", "lib.py")
	require.NoError(t, err)

	require.NoError(t, c.DeleteNodesForFiles(ctx, "r1", []string{"app.py"}))

	// The cached node is gone; the next read hits the store and finds the
	// row deleted.
	n, err := c.NodeByID(ctx, "r1", "caller")
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.GreaterOrEqual(t, c.Stats().Invalidated, int64(2))
}
