package rebuild

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codegraph/internal/effects"
	"codegraph/internal/impact"
	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// Strategy classifies how much of the graph to rebuild.
type Strategy string

const (
	StrategyMinimal Strategy = "minimal"
	StrategyPartial Strategy = "partial"
	StrategyFull    Strategy = "full"
)

// File-count thresholds for plan selection.
const (
	minimalFileLimit = 5
	partialFileLimit = 20
)

// Slicer is the optional forward program slicer. A slice reports the symbols
// a change can reach along with a confidence for the whole slice.
type Slicer interface {
	Slice(ctx context.Context, symbolID string) (symbols []string, confidence float64, err error)
}

// Plan is the outcome of classifying a change set.
type Plan struct {
	Strategy         Strategy `json:"strategy"`
	SymbolsToRebuild []string `json:"symbols_to_rebuild"`
	ChangedFiles     []string `json:"changed_files"`
	ImpactedFiles    []string `json:"impacted_files"`
}

// Stats describes one executed rebuild.
type Stats struct {
	NodesRebuilt int           `json:"nodes_rebuilt"`
	EdgesDropped int           `json:"edges_dropped"`
	EdgesReadded int           `json:"edges_readded"`
	Duration     time.Duration `json:"duration"`
}

// Options tunes the builder.
type Options struct {
	RepoID     string
	SnapshotID string
	// SliceConfidenceThreshold drops slicer results below it (default 0.5).
	SliceConfidenceThreshold float64
	DifferOptions            effects.DifferOptions
}

// Builder orchestrates effect diffing, impact propagation, and optional
// slicing into a partial-rebuild plan, memoizing outputs in the rebuild
// cache.
type Builder struct {
	oldGraph *types.Graph
	newGraph *types.Graph
	slicer   Slicer
	cache    *Cache
	opts     Options

	differ *effects.Differ

	// analysis state from the last AnalyzeChanges call
	changedIDs  []string
	impactedIDs []string
	diffs       map[string]*effects.EffectDiff
}

// NewBuilder wires a builder. newGraph, slicer, and cache may be nil.
func NewBuilder(oldGraph, newGraph *types.Graph, slicer Slicer, cache *Cache, opts Options) *Builder {
	if opts.SliceConfidenceThreshold <= 0 {
		opts.SliceConfidenceThreshold = 0.5
	}
	return &Builder{
		oldGraph: oldGraph,
		newGraph: newGraph,
		slicer:   slicer,
		cache:    cache,
		opts:     opts,
		differ:   effects.NewDiffer(opts.DifferOptions),
	}
}

// Diffs returns the effect diffs from the last AnalyzeChanges call.
func (b *Builder) Diffs() map[string]*effects.EffectDiff { return b.diffs }

// AnalyzeChanges diffs effects per change, propagates impact for the
// breaking ones, and unions in high-confidence slices. A slicer failure is
// never fatal; the impact set falls back to graph-only propagation.
func (b *Builder) AnalyzeChanges(ctx context.Context, changes map[string]effects.CodePair) (map[string]*impact.ImpactReport, error) {
	timer := logging.StartTimer(logging.CategoryRebuild, "AnalyzeChanges")
	defer timer.Stop()

	before, after, err := effects.BatchAnalyze(ctx, changes)
	if err != nil {
		return nil, fmt.Errorf("analyze changes: %w", err)
	}

	b.diffs = make(map[string]*effects.EffectDiff, len(changes))
	b.changedIDs = b.changedIDs[:0]
	impactedSet := make(map[string]bool)
	reports := make(map[string]*impact.ImpactReport, len(changes))

	propagator := impact.NewPropagator(b.oldGraph, impact.DefaultOptions())

	ids := make([]string, 0, len(changes))
	for id := range changes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		diff := b.differ.Compare(before[id], after[id], id)
		b.diffs[id] = diff
		b.changedIDs = append(b.changedIDs, id)

		if !diff.IsBreaking {
			reports[id] = &impact.ImpactReport{Source: id}
			continue
		}

		report, err := propagator.Analyze(id, diff)
		if err != nil {
			return nil, fmt.Errorf("impact for %s: %w", id, err)
		}
		reports[id] = report
		for _, n := range report.Impacted {
			impactedSet[n.SymbolID] = true
		}

		if b.slicer != nil {
			symbols, confidence, serr := b.slicer.Slice(ctx, id)
			if serr != nil {
				logging.Get(logging.CategoryRebuild).Warn("AnalyzeChanges: slicer failed for %s: %v", id, serr)
			} else if confidence >= b.opts.SliceConfidenceThreshold {
				for _, s := range symbols {
					impactedSet[s] = true
				}
			} else {
				logging.RebuildDebug("AnalyzeChanges: dropping low-confidence slice for %s (%.2f)", id, confidence)
			}
		}
	}

	b.impactedIDs = b.impactedIDs[:0]
	for id := range impactedSet {
		b.impactedIDs = append(b.impactedIDs, id)
	}
	sort.Strings(b.impactedIDs)

	logging.Rebuild("AnalyzeChanges: %d changes, %d impacted symbols", len(changes), len(b.impactedIDs))
	return reports, nil
}

// CreateRebuildPlan classifies the analyzed change set. maxFiles, when
// positive, forces a full rebuild above it.
func (b *Builder) CreateRebuildPlan(maxFiles int) *Plan {
	changedFiles := b.oldGraph.FilesOf(b.changedIDs)
	impactedFiles := b.oldGraph.FilesOf(b.impactedIDs)

	fileSet := make(map[string]bool)
	for _, f := range changedFiles {
		fileSet[f] = true
	}
	for _, f := range impactedFiles {
		fileSet[f] = true
	}
	// Changed symbols missing from the old graph (new files) still count one
	// file each toward the thresholds.
	unknown := 0
	for _, id := range b.changedIDs {
		if b.oldGraph.Node(id) == nil {
			unknown++
		}
	}
	totalFiles := len(fileSet) + unknown

	plan := &Plan{
		ChangedFiles:  changedFiles,
		ImpactedFiles: impactedFiles,
	}

	symbols := make(map[string]bool)
	for _, id := range b.changedIDs {
		symbols[id] = true
	}
	for _, id := range b.impactedIDs {
		symbols[id] = true
	}
	for id := range symbols {
		plan.SymbolsToRebuild = append(plan.SymbolsToRebuild, id)
	}
	sort.Strings(plan.SymbolsToRebuild)

	switch {
	case maxFiles > 0 && totalFiles > maxFiles:
		plan.Strategy = StrategyFull
	case totalFiles <= minimalFileLimit:
		plan.Strategy = StrategyMinimal
	case totalFiles <= partialFileLimit:
		plan.Strategy = StrategyPartial
	default:
		plan.Strategy = StrategyFull
	}

	logging.Rebuild("CreateRebuildPlan: %d files -> %s (%d symbols)",
		totalFiles, plan.Strategy, len(plan.SymbolsToRebuild))
	return plan
}

// ExecuteRebuild produces the updated graph per the plan. The old graph is
// never mutated observably; partial and minimal rebuilds work on a deep
// copy. Results are memoized when a cache and a change set are present.
func (b *Builder) ExecuteRebuild(plan *Plan, changes map[string]effects.CodePair) (*types.Graph, *Stats, error) {
	start := time.Now()

	var key string
	if b.cache != nil && changes != nil {
		key = CacheKey(b.opts.RepoID, b.opts.SnapshotID, changes)
		if entry := b.cache.Get(key); entry != nil {
			logging.RebuildDebug("ExecuteRebuild: cache hit %s", key)
			return entry.UpdatedGraph, &entry.Stats, nil
		}
	}

	var updated *types.Graph
	stats := Stats{}

	switch plan.Strategy {
	case StrategyFull:
		if b.newGraph == nil {
			return nil, nil, fmt.Errorf("%w: full rebuild requires the new graph", types.ErrNotFound)
		}
		updated = b.newGraph
		stats.NodesRebuilt = updated.NodeCount()

	case StrategyPartial, StrategyMinimal:
		updated = b.oldGraph.Clone()

		affected := make(map[string]bool, len(plan.SymbolsToRebuild))
		for _, id := range plan.SymbolsToRebuild {
			affected[id] = true
		}

		// Overwrite affected nodes from the new graph where available.
		if b.newGraph != nil {
			for _, id := range plan.SymbolsToRebuild {
				if n := b.newGraph.Node(id); n != nil {
					if err := updated.AddNode(n.Clone()); err != nil {
						return nil, nil, fmt.Errorf("rebuild node %s: %w", id, err)
					}
					stats.NodesRebuilt++
				}
			}
		}

		// Drop edges incident to affected nodes, then re-add the
		// corresponding ones from the new graph.
		stats.EdgesDropped = updated.RemoveEdgesTouching(affected)
		if b.newGraph != nil {
			for _, e := range b.newGraph.Edges() {
				if !affected[e.Src] && !affected[e.Dst] {
					continue
				}
				if err := updated.AddEdge(e); err != nil {
					logging.RebuildDebug("ExecuteRebuild: skipping edge %s->%s: %v", e.Src, e.Dst, err)
					continue
				}
				stats.EdgesReadded++
			}
		}

	default:
		return nil, nil, fmt.Errorf("unknown rebuild strategy %q", plan.Strategy)
	}

	stats.Duration = time.Since(start)

	if b.cache != nil && key != "" {
		b.cache.Set(key, &Entry{UpdatedGraph: updated, Plan: plan, Stats: stats})
	}

	logging.Rebuild("ExecuteRebuild: %s rebuilt %d nodes (%d edges dropped, %d re-added) in %v",
		plan.Strategy, stats.NodesRebuilt, stats.EdgesDropped, stats.EdgesReadded, stats.Duration)
	return updated, &stats, nil
}
