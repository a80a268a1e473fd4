package speculative

import (
	"context"
	"fmt"
	"sort"

	"codegraph/internal/effects"
	"codegraph/internal/logging"
	"codegraph/internal/types"
	"codegraph/internal/vfg"
)

// RiskLevel grades a simulated patch.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskBreaking
)

func (r RiskLevel) String() string {
	switch r {
	case RiskBreaking:
		return "BREAKING"
	case RiskHigh:
		return "HIGH"
	case RiskMedium:
		return "MEDIUM"
	case RiskLow:
		return "LOW"
	default:
		return "SAFE"
	}
}

// riskBuckets maps levels to base scores; the next bucket's base caps the
// per-caller nudge.
var riskBuckets = map[RiskLevel]float64{
	RiskSafe:     0.1,
	RiskLow:      0.25,
	RiskMedium:   0.5,
	RiskHigh:     0.75,
	RiskBreaking: 0.95,
}

// BreakingChange describes one detected break.
type BreakingChange struct {
	SymbolID    string `json:"symbol_id"`
	Description string `json:"description"`
}

// RiskReport is the scored outcome of analyzing one simulated patch.
type RiskReport struct {
	PatchID         string           `json:"patch_id"`
	Level           RiskLevel        `json:"risk_level"`
	Score           float64          `json:"risk_score"`
	AffectedSymbols []string         `json:"affected_symbols"`
	BreakingChanges []BreakingChange `json:"breaking_changes"`
	SafeToApply     bool             `json:"safe_to_apply"`
}

// RiskAnalyzer scores simulated patches against the base graph.
type RiskAnalyzer struct {
	analyzer *effects.Analyzer
	differ   *effects.Differ
}

// NewRiskAnalyzer builds an analyzer.
func NewRiskAnalyzer() *RiskAnalyzer {
	return &RiskAnalyzer{
		analyzer: effects.NewAnalyzer(),
		differ:   effects.NewDiffer(effects.DifferOptions{}),
	}
}

// Analyze classifies the risk of patch given its simulated overlay and the
// base graph it was simulated against.
func (r *RiskAnalyzer) Analyze(patch *types.Patch, dg *DeltaGraph, base *types.Graph) (*RiskReport, error) {
	timer := logging.StartTimer(logging.CategorySpeculative, "RiskAnalyze")
	defer timer.Stop()

	if base == nil {
		return nil, fmt.Errorf("%w: base graph required", types.ErrRiskAnalysis)
	}
	if patch.Kind != types.PatchAddFunction && base.Node(patch.TargetID) == nil {
		return nil, fmt.Errorf("%w: target %q missing from base graph", types.ErrRiskAnalysis, patch.TargetID)
	}

	callers := callersOf(base, patch.TargetID)
	report := &RiskReport{PatchID: patch.ID}

	switch patch.Kind {
	case types.PatchDeleteFunction:
		if len(callers) > 0 {
			report.Level = RiskBreaking
			for _, c := range callers {
				report.BreakingChanges = append(report.BreakingChanges, BreakingChange{
					SymbolID:    c,
					Description: fmt.Sprintf("caller %s references deleted symbol %s", c, patch.TargetID),
				})
			}
		} else {
			report.Level = RiskLow
		}

	case types.PatchRenameSymbol:
		if len(callers) > 0 {
			report.Level = RiskMedium
		} else {
			report.Level = RiskLow
		}

	case types.PatchAddFunction:
		report.Level = RiskSafe

	case types.PatchModifyBody:
		report.Level = RiskLow
		if target := base.Node(patch.TargetID); target != nil && target.Code != "" {
			language := patch.Language
			if language == "" {
				language = "python"
			}
			before := r.analyzer.AnalyzeSource(context.Background(), target.Code, language, patch.TargetID)
			after := r.analyzer.AnalyzeSource(context.Background(), patch.AfterCode, language, patch.TargetID)
			diff := r.differ.Compare(before, after, patch.TargetID)
			if diff.IsBreaking {
				report.Level = RiskHigh
				report.BreakingChanges = append(report.BreakingChanges, BreakingChange{
					SymbolID:    patch.TargetID,
					Description: fmt.Sprintf("body change adds effects %v (severity %s)", diff.Added, diff.Severity),
				})
			}
		}

	case types.PatchAddParameter:
		if len(callers) > 0 && !patch.HasDefault {
			report.Level = RiskHigh
			for _, c := range callers {
				report.BreakingChanges = append(report.BreakingChanges, BreakingChange{
					SymbolID:    c,
					Description: fmt.Sprintf("caller %s misses new required parameter", c),
				})
			}
		} else {
			report.Level = RiskLow
		}

	case types.PatchRemoveParameter:
		if len(callers) > 0 {
			report.Level = RiskHigh
			for _, c := range callers {
				report.BreakingChanges = append(report.BreakingChanges, BreakingChange{
					SymbolID:    c,
					Description: fmt.Sprintf("caller %s passes removed parameter", c),
				})
			}
		} else {
			report.Level = RiskLow
		}

	case types.PatchChangeReturnType:
		report.Level = RiskMedium
		if target := base.Node(patch.TargetID); target != nil && target.ReturnType != "" {
			oldT := vfg.InferFromPythonAnnotation(target.ReturnType)
			newT := vfg.InferFromPythonAnnotation(patch.ReturnType)
			if compat := vfg.CheckCompatible(newT, oldT); !compat.Compatible {
				report.Level = RiskHigh
				report.BreakingChanges = append(report.BreakingChanges, BreakingChange{
					SymbolID:    patch.TargetID,
					Description: fmt.Sprintf("return type %s incompatible with %s: %s", patch.ReturnType, target.ReturnType, compat.Reason),
				})
			}
		}

	default:
		return nil, fmt.Errorf("%w: cannot score patch kind %q", types.ErrRiskAnalysis, patch.Kind)
	}

	report.Score = score(report.Level, len(callers))
	report.AffectedSymbols = affected(base, patch.TargetID)
	report.SafeToApply = report.Level <= RiskLow

	logging.SpeculativeDebug("RiskAnalyze %s: %s score=%.2f callers=%d",
		patch.ID, report.Level, report.Score, len(callers))
	return report, nil
}

// score maps the level to its bucket and nudges +0.05 per distinct caller,
// capped at the next bucket.
func score(level RiskLevel, callers int) float64 {
	s := riskBuckets[level] + 0.05*float64(callers)
	limit := 1.0
	if level < RiskBreaking {
		limit = riskBuckets[level+1]
	}
	if s > limit {
		s = limit
	}
	return s
}

// callersOf lists distinct symbols with CALLS or REFERENCES edges into id.
func callersOf(g *types.Graph, id string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.InEdges(id) {
		if e.Kind != types.EdgeCalls && e.Kind != types.EdgeReferences {
			continue
		}
		if !seen[e.Src] {
			seen[e.Src] = true
			out = append(out, e.Src)
		}
	}
	sort.Strings(out)
	return out
}

// affected unions references and the transitive inheritance descendants of
// the target.
func affected(g *types.Graph, id string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, c := range callersOf(g, id) {
		add(c)
	}

	// Inheritance descendants: reverse closure over INHERITS edges.
	frontier := []string{id}
	visited := map[string]bool{id: true}
	for len(frontier) > 0 {
		var next []string
		for _, cur := range frontier {
			for _, e := range g.InEdges(cur) {
				if e.Kind != types.EdgeInherits || visited[e.Src] {
					continue
				}
				visited[e.Src] = true
				add(e.Src)
				next = append(next, e.Src)
			}
		}
		frontier = next
	}

	sort.Strings(out)
	return out
}
