// Package pipeline is the end-to-end reasoning facade: effect analysis,
// incremental rebuild, impact propagation, slicing, speculative simulation,
// and taint queries, aggregated into one result.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"codegraph/internal/effects"
	"codegraph/internal/impact"
	"codegraph/internal/logging"
	"codegraph/internal/rebuild"
	"codegraph/internal/speculative"
	"codegraph/internal/store"
	"codegraph/internal/taint"
	"codegraph/internal/types"
	"codegraph/internal/vfg"
)

// DefaultSliceBudgetTokens bounds how large an extracted slice may be.
const DefaultSliceBudgetTokens = 2000

// Slicer is the optional external program slicer the pipeline consumes.
type Slicer = rebuild.Slicer

// Options wires the pipeline's collaborators. Graph is required; everything
// else is optional and the corresponding stages degrade without it.
type Options struct {
	Graph      *types.Graph
	View       store.View
	Slicer     Slicer
	Engine     *taint.Engine
	Cache      *rebuild.Cache
	RepoID     string
	SnapshotID string
	DifferOpts effects.DifferOptions
}

// Pipeline carries the reasoning context across stages. Concurrent stage
// calls on one instance are disallowed; a busy flag makes the misuse loud
// instead of silently corrupting the context.
type Pipeline struct {
	id   string
	opts Options
	busy atomic.Bool

	graph  *types.Graph
	differ *effects.Differ

	// context accumulated across stages
	diffs    map[string]*effects.EffectDiff
	impacts  map[string]*impact.ImpactReport
	slices   map[string][]string
	risks    map[string]*speculative.RiskReport
	vfgGraph *vfg.Graph
	warnings []string
	lastPlan *rebuild.Plan
}

// New builds a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("pipeline: graph required")
	}
	return &Pipeline{
		id:      uuid.NewString(),
		opts:    opts,
		graph:   opts.Graph,
		differ:  effects.NewDiffer(opts.DifferOpts),
		diffs:   make(map[string]*effects.EffectDiff),
		impacts: make(map[string]*impact.ImpactReport),
		slices:  make(map[string][]string),
		risks:   make(map[string]*speculative.RiskReport),
	}, nil
}

// ID returns the pipeline run id.
func (p *Pipeline) ID() string { return p.id }

// Graph returns the current graph.
func (p *Pipeline) Graph() *types.Graph { return p.graph }

func (p *Pipeline) enter(stage string) error {
	if !p.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline: concurrent stage call (%s) on one instance", stage)
	}
	logging.PipelineDebug("stage %s (run %s)", stage, p.id)
	return nil
}

func (p *Pipeline) leave() { p.busy.Store(false) }

func (p *Pipeline) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.warnings = append(p.warnings, msg)
	logging.Get(logging.CategoryPipeline).Warn("%s", msg)
}

// AnalyzeEffects diffs every change and records the results in the context.
func (p *Pipeline) AnalyzeEffects(ctx context.Context, changes map[string]effects.CodePair) (map[string]*effects.EffectDiff, error) {
	if err := p.enter("analyze_effects"); err != nil {
		return nil, err
	}
	defer p.leave()

	before, after, err := effects.BatchAnalyze(ctx, changes)
	if err != nil {
		return nil, fmt.Errorf("analyze effects: %w", err)
	}
	for id := range changes {
		p.diffs[id] = p.differ.Compare(before[id], after[id], id)
	}
	logging.Pipeline("AnalyzeEffects: %d changes diffed", len(changes))
	return p.diffs, nil
}

// RebuildGraphIncrementally delegates to the incremental builder and swaps
// the context graph to the rebuilt one.
func (p *Pipeline) RebuildGraphIncrementally(ctx context.Context, changes map[string]effects.CodePair, newGraph *types.Graph) (*rebuild.Plan, error) {
	if err := p.enter("rebuild_graph"); err != nil {
		return nil, err
	}
	defer p.leave()

	builder := rebuild.NewBuilder(p.graph, newGraph, p.opts.Slicer, p.opts.Cache, rebuild.Options{
		RepoID:        p.opts.RepoID,
		SnapshotID:    p.opts.SnapshotID,
		DifferOptions: p.opts.DifferOpts,
	})
	reports, err := builder.AnalyzeChanges(ctx, changes)
	if err != nil {
		return nil, err
	}
	for id, r := range reports {
		p.impacts[id] = r
	}
	for id, d := range builder.Diffs() {
		p.diffs[id] = d
	}

	plan := builder.CreateRebuildPlan(0)
	updated, _, err := builder.ExecuteRebuild(plan, changes)
	if err != nil {
		return nil, err
	}
	p.graph = updated
	p.lastPlan = plan
	logging.Pipeline("RebuildGraphIncrementally: %s (%d symbols)", plan.Strategy, len(plan.SymbolsToRebuild))
	return plan, nil
}

// AnalyzeImpact propagates impact from each source id over the current
// graph, reusing any effect diff already in the context.
func (p *Pipeline) AnalyzeImpact(ctx context.Context, sourceIDs []string) (map[string]*impact.ImpactReport, error) {
	if err := p.enter("analyze_impact"); err != nil {
		return nil, err
	}
	defer p.leave()

	propagator := impact.NewPropagator(p.graph, impact.DefaultOptions())
	for _, id := range sourceIDs {
		report, err := propagator.Analyze(id, p.diffs[id])
		if err != nil {
			p.warn("impact analysis failed for %s: %v", id, err)
			continue
		}
		p.impacts[id] = report
	}
	return p.impacts, nil
}

// ExtractSlices pulls forward slices through the external slicer, dropping
// over-budget slices with a warning.
func (p *Pipeline) ExtractSlices(ctx context.Context, ids []string, budgetTokens int) (map[string][]string, error) {
	if err := p.enter("extract_slices"); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.opts.Slicer == nil {
		p.warn("no slicer configured; slices skipped")
		return p.slices, nil
	}
	if budgetTokens <= 0 {
		budgetTokens = DefaultSliceBudgetTokens
	}

	for _, id := range ids {
		symbols, confidence, err := p.opts.Slicer.Slice(ctx, id)
		if err != nil {
			p.warn("slicer failed for %s: %v", id, err)
			continue
		}
		if confidence < 0.5 {
			logging.PipelineDebug("ExtractSlices: dropping low-confidence slice for %s", id)
			continue
		}
		if tokens := estimateTokens(symbols); tokens > budgetTokens {
			p.warn("slice for %s over budget (%d > %d tokens); dropped", id, tokens, budgetTokens)
			continue
		}
		p.slices[id] = symbols
	}
	return p.slices, nil
}

// estimateTokens approximates a slice's prompt cost from its symbol names.
func estimateTokens(symbols []string) int {
	chars := 0
	for _, s := range symbols {
		chars += len(s) + 8 // id plus surrounding formatting
	}
	return chars / 4
}

// SimulatePatch compiles, scores, and records one speculative patch.
func (p *Pipeline) SimulatePatch(ctx context.Context, patch *types.Patch) (*speculative.RiskReport, error) {
	if err := p.enter("simulate_patch"); err != nil {
		return nil, err
	}
	defer p.leave()

	sim := speculative.NewSimulator(p.graph)
	dg, err := sim.SimulatePatch(patch, true)
	if err != nil {
		return nil, err
	}
	report, err := speculative.NewRiskAnalyzer().Analyze(patch, dg, p.graph)
	if err != nil {
		return nil, err
	}
	p.risks[patch.ID] = report
	logging.Pipeline("SimulatePatch: %s -> %s", patch.ID, report.Level)
	return report, nil
}

// AnalyzeCrossLanguageFlows builds the VFG from IR documents and keeps it in
// the context for taint fallbacks.
func (p *Pipeline) AnalyzeCrossLanguageFlows(ctx context.Context, docs []vfg.IRDocument, boundaries []vfg.BoundarySpec) (*vfg.Graph, error) {
	if err := p.enter("cross_language_flows"); err != nil {
		return nil, err
	}
	defer p.leave()

	g, err := vfg.NewBuilder().BuildFromIR(docs, boundaries)
	if err != nil {
		return nil, err
	}
	p.vfgGraph = g
	return g, nil
}

// AnalyzeTaintFast answers a taint query through the engine, loading it from
// the store view on first use or when reload is set. Without an engine or
// view it degrades to path enumeration over the context VFG.
func (p *Pipeline) AnalyzeTaintFast(ctx context.Context, repoID, snapshotID string, sources, sinks []string, reload bool) ([][]string, error) {
	if err := p.enter("taint_fast"); err != nil {
		return nil, err
	}
	defer p.leave()

	if repoID == "" {
		repoID = p.opts.RepoID
	}
	if snapshotID == "" {
		snapshotID = p.opts.SnapshotID
	}

	engine := p.opts.Engine
	if engine != nil && p.opts.View != nil && (reload || !engine.Loaded()) {
		nodes, edges, err := p.opts.View.ExtractVFG(ctx, repoID, snapshotID, 0)
		if err != nil {
			p.warn("taint engine load failed: %v", err)
			engine = nil
		} else if err := engine.Load(nodes, edges); err != nil {
			p.warn("taint engine load failed: %v", err)
			engine = nil
		}
	}

	if engine != nil && engine.Loaded() {
		if len(sources) == 0 && len(sinks) == 0 && p.opts.View != nil {
			var err error
			sources, sinks, err = p.opts.View.SourcesAndSinks(ctx, repoID, snapshotID)
			if err != nil {
				p.warn("sources_and_sinks failed: %v", err)
			}
		}
		paths, timedOut, err := engine.TraceTaint(ctx, sources, sinks, taint.DefaultMaxPaths, taint.DefaultTimeout)
		if err != nil {
			return nil, err
		}
		if timedOut {
			p.warn("taint trace timed out; results are partial")
		}
		return paths, nil
	}

	// Degraded path: enumerate over the context VFG.
	if p.vfgGraph == nil {
		p.warn("taint engine unavailable and no VFG in context")
		return nil, nil
	}
	var src, sink string
	if len(sources) == 1 {
		src = sources[0]
	}
	if len(sinks) == 1 {
		sink = sinks[0]
	}
	return p.vfgGraph.TraceTaint("", src, sink), nil
}

// InvalidateTaintCache drops cached traces touching the changed files.
func (p *Pipeline) InvalidateTaintCache(filePaths []string, repoID, snapshotID string) int {
	if p.opts.Engine == nil {
		return 0
	}
	return p.opts.Engine.InvalidateFiles(filePaths)
}

// Result aggregates the context into a terminal ReasoningResult.
func (p *Pipeline) Result() *ReasoningResult {
	res := &ReasoningResult{
		RunID:       p.id,
		GeneratedAt: time.Now(),
		Warnings:    append([]string(nil), p.warnings...),
	}

	// Breaking changes: breaking effect diffs plus breaking patches.
	breakingSet := make(map[string]bool)
	criticalDiffs := 0
	globalMutations := 0
	for id, d := range p.diffs {
		if d.IsBreaking {
			breakingSet[id] = true
		}
		if d.Severity == effects.SeverityCritical {
			criticalDiffs++
		}
		if d.HasAdded(effects.EffectGlobalMutation) {
			globalMutations++
		}
	}
	breakingPatches := 0
	for id, r := range p.risks {
		if r.Level > res.TotalRisk {
			res.TotalRisk = r.Level
		}
		if r.Level == speculative.RiskBreaking {
			breakingSet[id] = true
			breakingPatches++
		}
	}
	for id := range breakingSet {
		res.BreakingChanges = append(res.BreakingChanges, id)
	}
	sort.Strings(res.BreakingChanges)

	// >=3 breaking changes, or any critical effect diff, pins the total at
	// BREAKING even when individual patch verdicts were milder.
	if len(res.BreakingChanges) >= 3 || criticalDiffs > 0 {
		res.TotalRisk = speculative.RiskBreaking
	}

	// Impact aggregation across all reports.
	var reports []*impact.ImpactReport
	impactedSet := make(map[string]bool)
	for _, r := range p.impacts {
		reports = append(reports, r)
		for _, n := range r.Impacted {
			impactedSet[n.SymbolID] = true
		}
	}
	res.TotalImpact = impact.AggregateReports(reports)
	for id := range impactedSet {
		res.ImpactedSymbols = append(res.ImpactedSymbols, id)
	}
	sort.Strings(res.ImpactedSymbols)

	res.RecommendedActions = recommend(res, globalMutations, breakingPatches, p.lastPlan)
	res.Summary = fmt.Sprintf("%d changes analyzed: %d breaking, %d impacted symbols, risk %s, impact %s",
		len(p.diffs), len(res.BreakingChanges), len(res.ImpactedSymbols), res.TotalRisk, res.TotalImpact)

	logging.Pipeline("Result: %s", res.Summary)
	return res
}
