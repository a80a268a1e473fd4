package rebuild

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/effects"
	"codegraph/internal/impact"
	"codegraph/internal/types"
)

// graphWithFiles builds n symbols spread one per file, chained by calls.
func graphWithFiles(t *testing.T, n int) *types.Graph {
	t.Helper()
	g := types.NewGraph()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("f%d", i)
		require.NoError(t, g.AddNode(&types.Node{
			ID: id, Name: id, Kind: types.KindFunction,
			FilePath: fmt.Sprintf("src/file%d.py", i),
		}))
	}
	for i := 0; i+1 < n; i++ {
		require.NoError(t, g.AddEdge(types.Edge{
			Src: fmt.Sprintf("f%d", i), Dst: fmt.Sprintf("f%d", i+1), Kind: types.EdgeCalls,
		}))
	}
	return g
}

func pureToIO(id string) effects.CodePair {
	return effects.CodePair{
		Before:   fmt.Sprintf("def %s():\n    return 1\n", id),
		After:    fmt.Sprintf("def %s():\n    print(1)\n    return 1\n", id),
		Language: "python",
	}
}

func noopChange(id string) effects.CodePair {
	return effects.CodePair{
		Before:   fmt.Sprintf("def %s():\n    return 1\n", id),
		After:    fmt.Sprintf("def %s():\n    return 2\n", id),
		Language: "python",
	}
}

// S1: pure -> IO is high/breaking and plans a small rebuild of the changed
// file.
func TestBuilder_PureToIOBreakingChange(t *testing.T) {
	g := graphWithFiles(t, 3)
	b := NewBuilder(g, nil, nil, nil, Options{})

	reports, err := b.AnalyzeChanges(context.Background(), map[string]effects.CodePair{
		"f1": pureToIO("f1"),
	})
	require.NoError(t, err)

	diff := b.Diffs()["f1"]
	require.NotNil(t, diff)
	assert.Equal(t, []effects.Effect{effects.EffectIO}, diff.Added)
	assert.Equal(t, effects.SeverityHigh, diff.Severity)
	assert.True(t, diff.IsBreaking)

	// f0 calls f1, so it is impacted.
	require.Contains(t, reports, "f1")
	require.Len(t, reports["f1"].Impacted, 1)
	assert.Equal(t, "f0", reports["f1"].Impacted[0].SymbolID)

	plan := b.CreateRebuildPlan(0)
	assert.Contains(t, []Strategy{StrategyMinimal, StrategyPartial}, plan.Strategy)
	assert.Contains(t, plan.ChangedFiles, "src/file1.py")
	assert.Contains(t, plan.SymbolsToRebuild, "f1")
}

func TestBuilder_NonBreakingChangeHasNoImpact(t *testing.T) {
	g := graphWithFiles(t, 3)
	b := NewBuilder(g, nil, nil, nil, Options{})

	reports, err := b.AnalyzeChanges(context.Background(), map[string]effects.CodePair{
		"f1": noopChange("f1"),
	})
	require.NoError(t, err)
	assert.Empty(t, reports["f1"].Impacted)
}

// Rebuild plan classification thresholds: 3 files -> minimal, 12 -> partial,
// 50 -> full.
func TestBuilder_PlanClassification(t *testing.T) {
	cases := []struct {
		files int
		want  Strategy
	}{
		{3, StrategyMinimal},
		{12, StrategyPartial},
		{50, StrategyFull},
	}
	for _, tc := range cases {
		t.Run(string(tc.want), func(t *testing.T) {
			g := graphWithFiles(t, tc.files)
			b := NewBuilder(g, nil, nil, nil, Options{})

			changes := make(map[string]effects.CodePair, tc.files)
			for i := 0; i < tc.files; i++ {
				changes[fmt.Sprintf("f%d", i)] = noopChange(fmt.Sprintf("f%d", i))
			}
			_, err := b.AnalyzeChanges(context.Background(), changes)
			require.NoError(t, err)

			plan := b.CreateRebuildPlan(0)
			assert.Equal(t, tc.want, plan.Strategy)
		})
	}
}

func TestBuilder_MaxFilesForcesFull(t *testing.T) {
	g := graphWithFiles(t, 4)
	b := NewBuilder(g, nil, nil, nil, Options{})

	changes := make(map[string]effects.CodePair)
	for i := 0; i < 4; i++ {
		changes[fmt.Sprintf("f%d", i)] = noopChange(fmt.Sprintf("f%d", i))
	}
	_, err := b.AnalyzeChanges(context.Background(), changes)
	require.NoError(t, err)

	plan := b.CreateRebuildPlan(2)
	assert.Equal(t, StrategyFull, plan.Strategy)
}

func TestBuilder_ExecuteFullReturnsNewGraph(t *testing.T) {
	oldG := graphWithFiles(t, 3)
	newG := graphWithFiles(t, 4)
	b := NewBuilder(oldG, newG, nil, nil, Options{})

	updated, stats, err := b.ExecuteRebuild(&Plan{Strategy: StrategyFull}, nil)
	require.NoError(t, err)
	assert.Same(t, newG, updated)
	assert.Equal(t, 4, stats.NodesRebuilt)
}

// Deep-copy isolation: the partial rebuild never mutates the old graph, and
// mutating the result does not leak back.
func TestBuilder_PartialRebuildDeepCopyIsolation(t *testing.T) {
	oldG := graphWithFiles(t, 4)
	newG := graphWithFiles(t, 4)
	newG.Node("f1").Name = "f1_v2"

	b := NewBuilder(oldG, newG, nil, nil, Options{})
	plan := &Plan{Strategy: StrategyPartial, SymbolsToRebuild: []string{"f1"}}

	updated, stats, err := b.ExecuteRebuild(plan, nil)
	require.NoError(t, err)

	assert.Equal(t, "f1_v2", updated.Node("f1").Name)
	assert.Equal(t, "f1", oldG.Node("f1").Name, "old graph untouched")
	assert.Equal(t, 1, stats.NodesRebuilt)

	// Unaffected nodes match the old graph.
	assert.Equal(t, oldG.Node("f3").Name, updated.Node("f3").Name)

	// Mutations do not cross the copy boundary, in either direction.
	updated.Node("f2").Name = "mutated"
	assert.Equal(t, "f2", oldG.Node("f2").Name)
	oldG.Node("f0").Name = "also_mutated"
	assert.Equal(t, "f0", updated.Node("f0").Name)
}

func TestBuilder_PartialRebuildSwapsIncidentEdges(t *testing.T) {
	oldG := graphWithFiles(t, 3) // f0->f1->f2
	newG := graphWithFiles(t, 3)

	b := NewBuilder(oldG, newG, nil, nil, Options{})
	plan := &Plan{Strategy: StrategyPartial, SymbolsToRebuild: []string{"f1"}}

	updated, stats, err := b.ExecuteRebuild(plan, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.EdgesDropped, "both edges touch f1")
	assert.Equal(t, 2, stats.EdgesReadded)
	assert.Equal(t, oldG.EdgeCount(), updated.EdgeCount())
}

func TestBuilder_ExecuteRebuildMemoized(t *testing.T) {
	oldG := graphWithFiles(t, 3)
	newG := graphWithFiles(t, 3)
	cache := NewCache(10, time.Minute)
	b := NewBuilder(oldG, newG, nil, cache, Options{RepoID: "r", SnapshotID: "s"})

	changes := map[string]effects.CodePair{"f1": noopChange("f1")}
	plan := &Plan{Strategy: StrategyMinimal, SymbolsToRebuild: []string{"f1"}}

	first, _, err := b.ExecuteRebuild(plan, changes)
	require.NoError(t, err)
	second, _, err := b.ExecuteRebuild(plan, changes)
	require.NoError(t, err)

	assert.Same(t, first, second, "second call served from the rebuild cache")
	assert.Equal(t, int64(1), cache.Stats().Hits)
}

// A failing slicer degrades to graph-only propagation.
type failingSlicer struct{}

func (failingSlicer) Slice(context.Context, string) ([]string, float64, error) {
	return nil, 0, errors.New("slicer crashed")
}

// confidentSlicer returns fixed symbols at a given confidence.
type confidentSlicer struct {
	symbols    []string
	confidence float64
}

func (s confidentSlicer) Slice(context.Context, string) ([]string, float64, error) {
	return s.symbols, s.confidence, nil
}

func TestBuilder_SlicerFailureIsNotFatal(t *testing.T) {
	g := graphWithFiles(t, 3)
	b := NewBuilder(g, nil, failingSlicer{}, nil, Options{})

	reports, err := b.AnalyzeChanges(context.Background(), map[string]effects.CodePair{
		"f1": pureToIO("f1"),
	})
	require.NoError(t, err)
	require.Len(t, reports["f1"].Impacted, 1, "graph propagation still ran")
}

func TestBuilder_SlicerConfidenceThreshold(t *testing.T) {
	g := graphWithFiles(t, 3)

	high := NewBuilder(g, nil, confidentSlicer{symbols: []string{"f2"}, confidence: 0.9}, nil, Options{})
	_, err := high.AnalyzeChanges(context.Background(), map[string]effects.CodePair{"f1": pureToIO("f1")})
	require.NoError(t, err)
	plan := high.CreateRebuildPlan(0)
	assert.Contains(t, plan.SymbolsToRebuild, "f2", "high-confidence slice unioned in")

	low := NewBuilder(g, nil, confidentSlicer{symbols: []string{"f2"}, confidence: 0.2}, nil, Options{})
	_, err = low.AnalyzeChanges(context.Background(), map[string]effects.CodePair{"f1": pureToIO("f1")})
	require.NoError(t, err)
	plan = low.CreateRebuildPlan(0)
	assert.NotContains(t, plan.SymbolsToRebuild, "f2", "low-confidence slice dropped")
}

func TestAggregateReportsFromBuilder(t *testing.T) {
	// Ten breaking changes each impacting one caller at HIGH aggregate to
	// CRITICAL across reports.
	var reports []*impact.ImpactReport
	for i := 0; i < 10; i++ {
		reports = append(reports, &impact.ImpactReport{
			Impacted: []impact.ImpactNode{{Level: impact.LevelHigh}},
		})
	}
	assert.Equal(t, impact.LevelCritical, impact.AggregateReports(reports))
}
