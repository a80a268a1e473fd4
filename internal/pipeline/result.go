package pipeline

import (
	"fmt"
	"time"

	"codegraph/internal/impact"
	"codegraph/internal/rebuild"
	"codegraph/internal/speculative"
)

// ReasoningResult is the terminal aggregate of one pipeline run.
type ReasoningResult struct {
	RunID              string                 `json:"run_id"`
	Summary            string                 `json:"summary"`
	TotalRisk          speculative.RiskLevel  `json:"total_risk"`
	TotalImpact        impact.ImpactLevel     `json:"total_impact"`
	BreakingChanges    []string               `json:"breaking_changes"`
	ImpactedSymbols    []string               `json:"impacted_symbols"`
	RecommendedActions []string               `json:"recommended_actions"`
	Warnings           []string               `json:"warnings,omitempty"`
	GeneratedAt        time.Time              `json:"generated_at"`
}

// recommend derives three to six action strings from the aggregate
// thresholds.
func recommend(res *ReasoningResult, globalMutations, breakingPatches int, plan *rebuild.Plan) []string {
	var actions []string

	if n := len(res.BreakingChanges); n > 0 {
		actions = append(actions, fmt.Sprintf("Review %d breaking changes before merging", n))
	}
	if globalMutations > 0 {
		actions = append(actions, fmt.Sprintf("Refactor %d global mutations into injected state", globalMutations))
	}
	if breakingPatches > 0 {
		actions = append(actions, fmt.Sprintf("Reject or rework %d breaking patches", breakingPatches))
	}
	if n := len(res.ImpactedSymbols); n > 0 {
		actions = append(actions, fmt.Sprintf("Run tests covering %d impacted symbols", n))
	}
	if res.TotalImpact >= impact.LevelHigh {
		actions = append(actions, "Stage the rollout: impact level is "+res.TotalImpact.String())
	}
	if plan != nil {
		actions = append(actions, fmt.Sprintf("Apply the %s rebuild plan (%d symbols)", plan.Strategy, len(plan.SymbolsToRebuild)))
	}
	if len(res.Warnings) > 0 {
		actions = append(actions, fmt.Sprintf("Inspect %d analysis warnings for degraded stages", len(res.Warnings)))
	}

	// Keep the list between three and six entries.
	if len(actions) > 6 {
		actions = actions[:6]
	}
	fallbacks := []string{
		"Re-run taint analysis after the next snapshot",
		"Refresh the IR cache if parse latency grows",
	}
	if len(res.BreakingChanges) == 0 {
		fallbacks = append([]string{"No breaking changes detected; safe to proceed"}, fallbacks...)
	}
	for _, fallback := range fallbacks {
		if len(actions) >= 3 {
			break
		}
		actions = append(actions, fallback)
	}
	return actions
}
