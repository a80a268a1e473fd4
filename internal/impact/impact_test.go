package impact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/effects"
	"codegraph/internal/types"
)

// chainGraph builds f1 --CALLS--> f2 --CALLS--> f3.
func chainGraph(t *testing.T) *types.Graph {
	t.Helper()
	g := types.NewGraph()
	for _, id := range []string{"f1", "f2", "f3"} {
		require.NoError(t, g.AddNode(&types.Node{ID: id, Name: id, Kind: types.KindFunction, FilePath: id + ".py"}))
	}
	require.NoError(t, g.AddEdge(types.Edge{Src: "f1", Dst: "f2", Kind: types.EdgeCalls}))
	require.NoError(t, g.AddEdge(types.Edge{Src: "f2", Dst: "f3", Kind: types.EdgeCalls}))
	return g
}

func TestAnalyze_CallChain(t *testing.T) {
	p := NewPropagator(chainGraph(t), DefaultOptions())

	report, err := p.Analyze("f3", nil)
	require.NoError(t, err)
	require.Len(t, report.Impacted, 2)

	byID := map[string]ImpactNode{}
	for _, n := range report.Impacted {
		byID[n.SymbolID] = n
	}
	assert.Equal(t, 1, byID["f2"].Distance)
	assert.Equal(t, 2, byID["f1"].Distance)
	assert.Equal(t, LevelHigh, byID["f2"].Level)
	assert.Equal(t, LevelMedium, byID["f1"].Level)
	assert.Equal(t, PropagationDirectCall, byID["f2"].Propagation)
}

func TestAnalyze_MaxDepthCutsOff(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDepth = 1
	p := NewPropagator(chainGraph(t), opts)

	report, err := p.Analyze("f3", nil)
	require.NoError(t, err)
	require.Len(t, report.Impacted, 1)
	assert.Equal(t, "f2", report.Impacted[0].SymbolID)
}

func TestAnalyze_ConfidenceCutoff(t *testing.T) {
	g := types.NewGraph()
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		require.NoError(t, g.AddNode(&types.Node{ID: id, Kind: types.KindFunction}))
	}
	// Long chain: confidence at distance n is 0.9^n, drops under 0.3 at n=12;
	// with IMPORTS decay 0.8 it drops under 0.3 at n=6.
	for i := 0; i+1 < len(ids); i++ {
		require.NoError(t, g.AddEdge(types.Edge{Src: ids[i], Dst: ids[i+1], Kind: types.EdgeImports}))
	}

	opts := DefaultOptions()
	opts.MaxDepth = 10
	p := NewPropagator(g, opts)
	report, err := p.Analyze("f", nil)
	require.NoError(t, err)

	// 0.8^5 = 0.33 > 0.3, so all 5 upstream nodes are reachable but each
	// further hop would fall below the cutoff if the chain were longer.
	assert.Len(t, report.Impacted, 5)
	for _, n := range report.Impacted {
		assert.GreaterOrEqual(t, n.Confidence, 0.3)
	}
}

func TestAnalyze_UnknownSymbol(t *testing.T) {
	p := NewPropagator(chainGraph(t), DefaultOptions())

	report, err := p.Analyze("ghost", nil)
	require.NoError(t, err)
	assert.Empty(t, report.Impacted)
	assert.Equal(t, LevelNone, report.TotalImpact)
	assert.Contains(t, report.Metadata["note"], "ghost")
}

func TestAnalyze_BreakingDiffRaisesLevels(t *testing.T) {
	p := NewPropagator(chainGraph(t), DefaultOptions())
	diff := &effects.EffectDiff{IsBreaking: true, Severity: effects.SeverityHigh}

	report, err := p.Analyze("f3", diff)
	require.NoError(t, err)

	byID := map[string]ImpactNode{}
	for _, n := range report.Impacted {
		byID[n.SymbolID] = n
	}
	assert.Equal(t, LevelCritical, byID["f2"].Level, "HIGH raised one step")
	assert.Equal(t, LevelHigh, byID["f1"].Level, "MEDIUM raised one step")
}

func TestAnalyze_CriticalDiffRaisesTwo(t *testing.T) {
	p := NewPropagator(chainGraph(t), DefaultOptions())
	diff := &effects.EffectDiff{IsBreaking: true, Severity: effects.SeverityCritical}

	report, err := p.Analyze("f3", diff)
	require.NoError(t, err)

	byID := map[string]ImpactNode{}
	for _, n := range report.Impacted {
		byID[n.SymbolID] = n
	}
	assert.Equal(t, LevelCritical, byID["f1"].Level, "MEDIUM raised two steps")
	assert.Equal(t, LevelCritical, report.TotalImpact)
}

func TestAnalyze_Paths(t *testing.T) {
	p := NewPropagator(chainGraph(t), DefaultOptions())
	report, err := p.Analyze("f3", nil)
	require.NoError(t, err)

	var toF1 *ImpactPath
	for i := range report.Paths {
		if report.Paths[i].Target == "f1" {
			toF1 = &report.Paths[i]
		}
	}
	require.NotNil(t, toF1)
	assert.Equal(t, []string{"f3", "f2", "f1"}, toF1.Nodes)
	assert.Equal(t, []PropagationKind{PropagationDirectCall, PropagationDirectCall}, toF1.Propagations)
}

func TestAggregate_Upgrades(t *testing.T) {
	// Ten HIGH nodes aggregate to CRITICAL.
	var nodes []ImpactNode
	for i := 0; i < 10; i++ {
		nodes = append(nodes, ImpactNode{Level: LevelHigh})
	}
	assert.Equal(t, LevelCritical, Aggregate(nodes))

	// Two HIGH nodes aggregate to HIGH.
	assert.Equal(t, LevelHigh, Aggregate([]ImpactNode{{Level: LevelHigh}, {Level: LevelHigh}}))

	// One CRITICAL is CRITICAL.
	assert.Equal(t, LevelCritical, Aggregate([]ImpactNode{{Level: LevelCritical}}))

	// Nothing is NONE.
	assert.Equal(t, LevelNone, Aggregate(nil))
}

func TestAggregateReports_TenHighAcrossReports(t *testing.T) {
	var reports []*ImpactReport
	for i := 0; i < 10; i++ {
		reports = append(reports, &ImpactReport{Impacted: []ImpactNode{{Level: LevelHigh}}})
	}
	assert.Equal(t, LevelCritical, AggregateReports(reports))
}

func TestAnalyze_InheritanceAndImports(t *testing.T) {
	g := types.NewGraph()
	for _, id := range []string{"base", "sub", "mod", "importer"} {
		require.NoError(t, g.AddNode(&types.Node{ID: id, Kind: types.KindClass}))
	}
	require.NoError(t, g.AddEdge(types.Edge{Src: "sub", Dst: "base", Kind: types.EdgeInherits}))
	require.NoError(t, g.AddEdge(types.Edge{Src: "importer", Dst: "mod", Kind: types.EdgeImports}))

	p := NewPropagator(g, DefaultOptions())

	report, err := p.Analyze("base", nil)
	require.NoError(t, err)
	require.Len(t, report.Impacted, 1)
	assert.Equal(t, PropagationInheritance, report.Impacted[0].Propagation)
	assert.InDelta(t, 0.8, report.Impacted[0].Confidence, 1e-9)

	report, err = p.Analyze("mod", nil)
	require.NoError(t, err)
	require.Len(t, report.Impacted, 1)
	assert.Equal(t, PropagationImport, report.Impacted[0].Propagation)
}
