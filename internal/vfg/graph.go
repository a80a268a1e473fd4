package vfg

import (
	"fmt"
	"sort"
	"strings"

	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// maxTracePaths bounds every path enumeration.
const maxTracePaths = 50

// Graph is the value flow graph: a directed graph of value nodes connected
// by flow edges. It is built once and queried; it is not safe for concurrent
// mutation.
type Graph struct {
	nodes map[string]*Node
	edges []Edge
	out   map[string][]int
	in    map[string][]int
}

// NewGraph returns an empty VFG.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		out:   make(map[string][]int),
		in:    make(map[string][]int),
	}
}

// AddNode inserts a node.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("vfg: node requires a non-empty id")
	}
	g.nodes[n.ID] = n
	return nil
}

// AddEdge inserts a flow edge. Both endpoints must exist in this view and
// the kind must be a flow kind.
func (g *Graph) AddEdge(e Edge) error {
	if !IsFlowKind(e.Kind) {
		return fmt.Errorf("vfg: %q is not a flow edge kind", e.Kind)
	}
	if _, ok := g.nodes[e.Src]; !ok {
		return fmt.Errorf("vfg: edge source %q: %w", e.Src, types.ErrNotFound)
	}
	if _, ok := g.nodes[e.Dst]; !ok {
		return fmt.Errorf("vfg: edge target %q: %w", e.Dst, types.ErrNotFound)
	}
	g.edges = append(g.edges, e)
	idx := len(g.edges) - 1
	g.out[e.Src] = append(g.out[e.Src], idx)
	g.in[e.Dst] = append(g.in[e.Dst], idx)
	return nil
}

// Node returns the node for id, or nil.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// Nodes returns the node map. Callers must not mutate it.
func (g *Graph) Nodes() map[string]*Node { return g.nodes }

// Edges returns all edges. Callers must not mutate the slice.
func (g *Graph) Edges() []Edge { return g.edges }

// successors lists distinct out-neighbors in sorted order.
func (g *Graph) successors(id string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, i := range g.out[id] {
		dst := g.edges[i].Dst
		if !seen[dst] {
			seen[dst] = true
			out = append(out, dst)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) predecessors(id string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, i := range g.in[id] {
		src := g.edges[i].Src
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	sort.Strings(out)
	return out
}

// TraceForward enumerates simple paths starting at id following flow edges,
// bounded by maxDepth and capped at 50 results.
func (g *Graph) TraceForward(id string, maxDepth int) [][]string {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if _, ok := g.nodes[id]; !ok {
		return nil
	}
	var paths [][]string
	g.dfs(id, maxDepth, g.successors, []string{id}, map[string]bool{id: true}, &paths)
	return paths
}

// TraceBackward enumerates simple paths ending at id, walked upstream.
func (g *Graph) TraceBackward(id string) [][]string {
	if _, ok := g.nodes[id]; !ok {
		return nil
	}
	var reversed [][]string
	g.dfs(id, 10, g.predecessors, []string{id}, map[string]bool{id: true}, &reversed)

	// Flip so each path reads source -> id.
	paths := make([][]string, 0, len(reversed))
	for _, p := range reversed {
		flipped := make([]string, len(p))
		for i, n := range p {
			flipped[len(p)-1-i] = n
		}
		paths = append(paths, flipped)
	}
	return paths
}

// dfs extends path until the depth bound or a dead end, appending each
// maximal extension.
func (g *Graph) dfs(cur string, depthLeft int, next func(string) []string, path []string, onPath map[string]bool, paths *[][]string) {
	if len(*paths) >= maxTracePaths {
		return
	}
	neighbors := next(cur)
	extended := false
	if depthLeft > 0 {
		for _, n := range neighbors {
			if onPath[n] {
				continue
			}
			extended = true
			onPath[n] = true
			g.dfs(n, depthLeft-1, next, append(path, n), onPath, paths)
			delete(onPath, n)
			if len(*paths) >= maxTracePaths {
				return
			}
		}
	}
	if !extended && len(path) > 1 {
		cp := make([]string, len(path))
		copy(cp, path)
		*paths = append(*paths, cp)
	}
}

// TraceTaint enumerates paths from taint origins to sinks. Origins are the
// union of source-marked nodes and nodes bearing taintLabel (when given);
// sourceID/sinkID narrow either end to one node.
func (g *Graph) TraceTaint(taintLabel, sourceID, sinkID string) [][]string {
	timer := logging.StartTimer(logging.CategoryVFG, "TraceTaint")
	defer timer.Stop()

	var sources, sinks []string
	for id, n := range g.nodes {
		if sourceID != "" {
			if id == sourceID {
				sources = append(sources, id)
			}
		} else if n.IsSource || (taintLabel != "" && n.HasLabel(taintLabel)) {
			sources = append(sources, id)
		}
		if sinkID != "" {
			if id == sinkID {
				sinks = append(sinks, id)
			}
		} else if n.IsSink {
			sinks = append(sinks, id)
		}
	}
	sort.Strings(sources)
	sort.Strings(sinks)

	sinkSet := make(map[string]bool, len(sinks))
	for _, s := range sinks {
		sinkSet[s] = true
	}

	var paths [][]string
	for _, src := range sources {
		g.taintDFS(src, sinkSet, []string{src}, map[string]bool{src: true}, &paths)
		if len(paths) >= maxTracePaths {
			break
		}
	}
	logging.VFGDebug("TraceTaint(label=%q): %d sources, %d sinks, %d paths", taintLabel, len(sources), len(sinks), len(paths))
	return paths
}

func (g *Graph) taintDFS(cur string, sinks map[string]bool, path []string, onPath map[string]bool, paths *[][]string) {
	if len(*paths) >= maxTracePaths {
		return
	}
	if sinks[cur] && len(path) > 1 {
		cp := make([]string, len(path))
		copy(cp, path)
		*paths = append(*paths, cp)
		return
	}
	for _, n := range g.successors(cur) {
		if onPath[n] {
			continue
		}
		onPath[n] = true
		g.taintDFS(n, sinks, append(path, n), onPath, paths)
		delete(onPath, n)
		if len(*paths) >= maxTracePaths {
			return
		}
	}
}

// FindCrossServiceFlows returns paths that traverse at least one edge whose
// endpoints live in different service contexts.
func (g *Graph) FindCrossServiceFlows() [][]string {
	var crossing []Edge
	for _, e := range g.edges {
		src, dst := g.nodes[e.Src], g.nodes[e.Dst]
		if src.ServiceContext != "" && dst.ServiceContext != "" && src.ServiceContext != dst.ServiceContext {
			crossing = append(crossing, e)
		}
	}
	sort.Slice(crossing, func(i, j int) bool {
		if crossing[i].Src != crossing[j].Src {
			return crossing[i].Src < crossing[j].Src
		}
		return crossing[i].Dst < crossing[j].Dst
	})

	var paths [][]string
	for _, e := range crossing {
		if len(paths) >= maxTracePaths {
			break
		}
		// Extend backwards to the flow origin and forwards to its end so the
		// boundary hop is shown in context.
		prefix := g.longestUpstream(e.Src)
		suffix := g.longestDownstream(e.Dst)
		path := append(append(prefix, e.Src, e.Dst), suffix...)
		paths = append(paths, path)
	}
	return paths
}

func (g *Graph) longestUpstream(id string) []string {
	var prefix []string
	seen := map[string]bool{id: true}
	cur := id
	for {
		preds := g.predecessors(cur)
		advanced := false
		for _, p := range preds {
			if !seen[p] {
				prefix = append([]string{p}, prefix...)
				seen[p] = true
				cur = p
				advanced = true
				break
			}
		}
		if !advanced {
			return prefix
		}
	}
}

func (g *Graph) longestDownstream(id string) []string {
	var suffix []string
	seen := map[string]bool{id: true}
	cur := id
	for {
		succs := g.successors(cur)
		advanced := false
		for _, s := range succs {
			if !seen[s] {
				suffix = append(suffix, s)
				seen[s] = true
				cur = s
				advanced = true
				break
			}
		}
		if !advanced {
			return suffix
		}
	}
}

// VisualizePath renders a path for debugging.
func (g *Graph) VisualizePath(path []string) string {
	var b strings.Builder
	for i, id := range path {
		n := g.nodes[id]
		if i > 0 {
			b.WriteString("\n  -> ")
		}
		if n == nil {
			fmt.Fprintf(&b, "%s (missing)", id)
			continue
		}
		fmt.Fprintf(&b, "%s [%s %s:%d]", n.SymbolName, n.Language, n.FilePath, n.Line)
		if n.ServiceContext != "" {
			fmt.Fprintf(&b, " svc=%s", n.ServiceContext)
		}
	}
	return b.String()
}

// Statistics summarizes the graph.
func (g *Graph) Statistics() Statistics {
	s := Statistics{
		TotalNodes: len(g.nodes),
		TotalEdges: len(g.edges),
		Languages:  make(map[string]int),
	}
	for _, n := range g.nodes {
		if n.Language != "" {
			s.Languages[n.Language]++
		}
	}
	for _, e := range g.edges {
		if e.Boundary != nil {
			s.BoundariesCount++
		}
	}
	return s
}
