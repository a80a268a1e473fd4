// Package impact scores how a change to one symbol propagates to downstream
// symbols through call, inheritance, and import edges.
package impact

import (
	"fmt"
	"sort"
	"time"

	"codegraph/internal/effects"
	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// ImpactLevel grades the blast radius at one node.
type ImpactLevel int

const (
	LevelNone ImpactLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l ImpactLevel) String() string {
	switch l {
	case LevelCritical:
		return "CRITICAL"
	case LevelHigh:
		return "HIGH"
	case LevelMedium:
		return "MEDIUM"
	case LevelLow:
		return "LOW"
	default:
		return "NONE"
	}
}

// PropagationKind names the relation a step traversed.
type PropagationKind string

const (
	PropagationDirectCall  PropagationKind = "DIRECT_CALL"
	PropagationInheritance PropagationKind = "INHERITANCE"
	PropagationImport      PropagationKind = "IMPORT"
	PropagationDataFlow    PropagationKind = "DATA_FLOW"
)

// ImpactNode is one impacted symbol.
type ImpactNode struct {
	SymbolID    string            `json:"symbol_id"`
	Kind        types.SymbolKind  `json:"kind"`
	FilePath    string            `json:"file_path"`
	Level       ImpactLevel       `json:"level"`
	Distance    int               `json:"distance"`
	Propagation PropagationKind   `json:"propagation"`
	Confidence  float64           `json:"confidence"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ImpactPath is the shortest chain from the changed symbol to a target.
type ImpactPath struct {
	Source       string            `json:"source"`
	Target       string            `json:"target"`
	Nodes        []string          `json:"nodes"`
	Propagations []PropagationKind `json:"propagations"`
}

// ImpactReport is the result of one propagation.
type ImpactReport struct {
	Source      string            `json:"source"`
	Impacted    []ImpactNode      `json:"impacted"`
	Paths       []ImpactPath      `json:"paths"`
	TotalImpact ImpactLevel       `json:"total_impact"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Options tunes the BFS.
type Options struct {
	MaxDepth      int
	MinConfidence float64
	Timeout       time.Duration

	// Per-edge-kind confidence decay. Values are observed defaults; a
	// calibration experiment should override them.
	DecayCalls    float64
	DecayInherits float64
	DecayImports  float64
}

// DefaultOptions returns the standard knobs.
func DefaultOptions() Options {
	return Options{
		MaxDepth:      5,
		MinConfidence: 0.3,
		Timeout:       10 * time.Second,
		DecayCalls:    0.9,
		DecayInherits: 0.8,
		DecayImports:  0.8,
	}
}

// Propagator walks the code graph upstream: callers are impacted by their
// callees, subclasses by superclasses, importers by imports.
type Propagator struct {
	graph *types.Graph
	opts  Options
}

// NewPropagator builds a propagator over a graph snapshot.
func NewPropagator(graph *types.Graph, opts Options) *Propagator {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 5
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.3
	}
	if opts.DecayCalls == 0 {
		opts.DecayCalls = 0.9
	}
	if opts.DecayInherits == 0 {
		opts.DecayInherits = 0.8
	}
	if opts.DecayImports == 0 {
		opts.DecayImports = 0.8
	}
	return &Propagator{graph: graph, opts: opts}
}

type frontierEntry struct {
	id          string
	distance    int
	confidence  float64
	propagation PropagationKind
}

// Analyze runs the BFS from sourceID. effectDiff may be nil; when present it
// raises impact levels for breaking and critical changes.
func (p *Propagator) Analyze(sourceID string, effectDiff *effects.EffectDiff) (*ImpactReport, error) {
	timer := logging.StartTimer(logging.CategoryImpact, "Analyze")
	defer timer.Stop()

	report := &ImpactReport{Source: sourceID, TotalImpact: LevelNone}

	if !p.graph.HasNode(sourceID) {
		report.Metadata = map[string]string{"note": fmt.Sprintf("unknown symbol %s", sourceID)}
		logging.ImpactDebug("Analyze: unknown symbol %s", sourceID)
		return report, nil
	}

	deadline := time.Time{}
	if p.opts.Timeout > 0 {
		deadline = time.Now().Add(p.opts.Timeout)
	}

	visited := map[string]bool{sourceID: true}
	// parent records the BFS tree for shortest-path extraction.
	type parentLink struct {
		prev string
		prop PropagationKind
	}
	parents := make(map[string]parentLink)

	frontier := []frontierEntry{{id: sourceID, distance: 0, confidence: 1.0}}
	timedOut := false

	for len(frontier) > 0 && !timedOut {
		var next []frontierEntry
		for _, cur := range frontier {
			if !deadline.IsZero() && time.Now().After(deadline) {
				timedOut = true
				break
			}
			if cur.distance >= p.opts.MaxDepth {
				continue
			}
			for _, step := range p.upstreamNeighbors(cur.id) {
				if visited[step.neighbor] {
					continue
				}
				conf := cur.confidence * step.decay
				if conf < p.opts.MinConfidence {
					continue
				}
				visited[step.neighbor] = true
				parents[step.neighbor] = parentLink{prev: cur.id, prop: step.prop}

				node := p.graph.Node(step.neighbor)
				impacted := ImpactNode{
					SymbolID:    step.neighbor,
					Kind:        node.Kind,
					FilePath:    node.FilePath,
					Distance:    cur.distance + 1,
					Propagation: step.prop,
					Confidence:  conf,
				}
				impacted.Level = classify(impacted.Distance, conf, effectDiff)
				report.Impacted = append(report.Impacted, impacted)

				next = append(next, frontierEntry{
					id:          step.neighbor,
					distance:    cur.distance + 1,
					confidence:  conf,
					propagation: step.prop,
				})
			}
		}
		frontier = next
	}

	if timedOut {
		if report.Metadata == nil {
			report.Metadata = make(map[string]string)
		}
		report.Metadata["timeout"] = "true"
		logging.Get(logging.CategoryImpact).Warn("Analyze %s: timed out, returning partial results", sourceID)
	}

	// Shortest path per impacted node from the BFS tree.
	for _, n := range report.Impacted {
		path := ImpactPath{Source: sourceID, Target: n.SymbolID}
		cur := n.SymbolID
		for cur != sourceID {
			link := parents[cur]
			path.Nodes = append([]string{cur}, path.Nodes...)
			path.Propagations = append([]PropagationKind{link.prop}, path.Propagations...)
			cur = link.prev
		}
		path.Nodes = append([]string{sourceID}, path.Nodes...)
		report.Paths = append(report.Paths, path)
	}

	report.TotalImpact = Aggregate(report.Impacted)
	logging.ImpactDebug("Analyze %s: %d impacted, total=%s", sourceID, len(report.Impacted), report.TotalImpact)
	return report, nil
}

type upstreamStep struct {
	neighbor string
	prop     PropagationKind
	decay    float64
	kind     types.EdgeKind
}

// upstreamNeighbors lists who depends on id, ordered by (edge kind, neighbor)
// so path ties resolve deterministically.
func (p *Propagator) upstreamNeighbors(id string) []upstreamStep {
	var steps []upstreamStep
	for _, e := range p.graph.InEdges(id) {
		switch e.Kind {
		case types.EdgeCalls:
			steps = append(steps, upstreamStep{neighbor: e.Src, prop: PropagationDirectCall, decay: p.opts.DecayCalls, kind: e.Kind})
		case types.EdgeInherits:
			steps = append(steps, upstreamStep{neighbor: e.Src, prop: PropagationInheritance, decay: p.opts.DecayInherits, kind: e.Kind})
		case types.EdgeImports:
			steps = append(steps, upstreamStep{neighbor: e.Src, prop: PropagationImport, decay: p.opts.DecayImports, kind: e.Kind})
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].kind != steps[j].kind {
			return steps[i].kind < steps[j].kind
		}
		return steps[i].neighbor < steps[j].neighbor
	})
	return steps
}

// classify maps distance and confidence to a level, adjusted by the diff.
func classify(distance int, confidence float64, diff *effects.EffectDiff) ImpactLevel {
	var level ImpactLevel
	switch distance {
	case 1:
		level = LevelHigh
	case 2:
		level = LevelMedium
	default:
		level = LevelLow
	}

	if confidence < 0.5 && level > LevelNone {
		level--
	}
	if diff != nil && diff.IsBreaking {
		if diff.Severity == effects.SeverityCritical {
			level += 2
		} else {
			level++
		}
		if level > LevelCritical {
			level = LevelCritical
		}
	}
	return level
}

// Aggregate folds per-node levels into a total: the maximum, upgraded to
// CRITICAL on >=1 critical or >=5 high nodes, to HIGH on >=2 high nodes.
func Aggregate(nodes []ImpactNode) ImpactLevel {
	total := LevelNone
	high, critical := 0, 0
	for _, n := range nodes {
		if n.Level > total {
			total = n.Level
		}
		switch n.Level {
		case LevelHigh:
			high++
		case LevelCritical:
			critical++
		}
	}
	if critical >= 1 || high >= 5 {
		return LevelCritical
	}
	if high >= 2 && total < LevelHigh {
		return LevelHigh
	}
	return total
}

// AggregateReports folds multiple reports into one level, counting impacted
// nodes across all of them.
func AggregateReports(reports []*ImpactReport) ImpactLevel {
	var all []ImpactNode
	for _, r := range reports {
		all = append(all, r.Impacted...)
	}
	return Aggregate(all)
}
