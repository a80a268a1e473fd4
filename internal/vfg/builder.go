package vfg

import (
	"fmt"
	"strings"

	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// IRSymbol is one lowered symbol as delivered by the IR extractor.
type IRSymbol struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Line       int    `json:"line"`
	Annotation string `json:"annotation,omitempty"` // type annotation, if any
	Function   string `json:"function,omitempty"`   // enclosing function
}

// IRFlow is one lowered value flow between two symbols of a document.
type IRFlow struct {
	Src  string         `json:"src"`
	Dst  string         `json:"dst"`
	Kind types.EdgeKind `json:"kind"`
}

// IRDocument is the per-file unit the builder consumes. Producing these is
// the extractor's job; the builder only assembles them into one graph.
type IRDocument struct {
	FilePath    string     `json:"file_path"`
	ServiceName string     `json:"service_name,omitempty"`
	Symbols     []IRSymbol `json:"symbols"`
	Flows       []IRFlow   `json:"flows"`
}

// Name-based role heuristics, applied when the extractor did not mark roles
// explicitly.
var (
	sourceHints = []string{"request", "input", "read", "fetch", "get", "receive"}
	sinkHints   = []string{"response", "output", "write", "save", "send", "execute", "query"}
	piiHints    = []string{"user", "email", "phone", "password", "ssn", "credit", "personal"}
	authHints   = []string{"auth", "login", "token", "credential", "permission"}
)

// Builder assembles a value flow graph from IR documents and discovered
// boundary specs.
type Builder struct{}

// NewBuilder returns a builder.
func NewBuilder() *Builder { return &Builder{} }

// BuildFromIR constructs the graph: one VFG node per symbol, one edge per
// flow, then boundary edges wherever two documents' services expose
// compatible request/response schemas.
func (b *Builder) BuildFromIR(docs []IRDocument, boundaries []BoundarySpec) (*Graph, error) {
	timer := logging.StartTimer(logging.CategoryVFG, "BuildFromIR")
	defer timer.Stop()

	g := NewGraph()
	for _, doc := range docs {
		for _, sym := range doc.Symbols {
			node := b.nodeFromSymbol(doc, sym)
			if err := g.AddNode(node); err != nil {
				return nil, fmt.Errorf("vfg build: %w", err)
			}
		}
	}
	dropped := 0
	for _, doc := range docs {
		for _, flow := range doc.Flows {
			kind := flow.Kind
			if kind == "" {
				kind = types.EdgeFlowsTo
			}
			if err := g.AddEdge(Edge{Src: flow.Src, Dst: flow.Dst, Kind: kind, Confidence: types.ConfidenceHigh}); err != nil {
				// Edges referencing unknown ids are logged and dropped.
				logging.Get(logging.CategoryVFG).Warn("BuildFromIR: dropping edge %s->%s: %v", flow.Src, flow.Dst, err)
				dropped++
			}
		}
	}

	b.addBoundaryFlows(g, boundaries)

	stats := g.Statistics()
	logging.VFG("BuildFromIR: %d nodes, %d edges (%d dropped), %d boundaries",
		stats.TotalNodes, stats.TotalEdges, dropped, stats.BoundariesCount)
	return g, nil
}

func (b *Builder) nodeFromSymbol(doc IRDocument, sym IRSymbol) *Node {
	lower := strings.ToLower(sym.Name)
	labels := make(map[string]bool)
	if containsHint(lower, piiHints) {
		labels["PII"] = true
	}
	if containsHint(lower, authHints) {
		labels["AUTH"] = true
	}

	var vt *TypeInfo
	if sym.Annotation != "" {
		vt = InferFromPythonAnnotation(sym.Annotation)
	}

	return &Node{
		ID:              sym.ID,
		SymbolName:      sym.Name,
		FilePath:        doc.FilePath,
		Line:            sym.Line,
		Language:        detectLanguage(doc.FilePath),
		ValueType:       vt,
		FunctionContext: sym.Function,
		ServiceContext:  doc.ServiceName,
		TaintLabels:     labels,
		IsSource:        containsHint(lower, sourceHints),
		IsSink:          containsHint(lower, sinkHints),
	}
}

// addBoundaryFlows connects response-producing nodes of one service to
// request-consuming nodes of another when the boundary schemas line up.
func (b *Builder) addBoundaryFlows(g *Graph, boundaries []BoundarySpec) {
	for i := range boundaries {
		spec := &boundaries[i]
		var producers, consumers []*Node
		for _, n := range g.nodes {
			if n.Schema == nil && n.ServiceContext == "" {
				continue
			}
			if n.ServiceContext == spec.ServiceName {
				producers = append(producers, n)
			} else if n.IsSource && (n.Schema == nil || SchemasCompatible(spec.ResponseSchema, n.Schema)) {
				consumers = append(consumers, n)
			}
		}
		for _, p := range producers {
			if !p.IsSink {
				continue
			}
			for _, c := range consumers {
				kind := boundaryEdgeKind(spec.Protocol)
				conf := types.ConfidenceMedium
				if SchemasCompatible(spec.RequestSchema, spec.ResponseSchema) {
					conf = types.ConfidenceHigh
				}
				if err := g.AddEdge(Edge{Src: p.ID, Dst: c.ID, Kind: kind, Confidence: conf, Boundary: spec}); err != nil {
					logging.VFGDebug("addBoundaryFlows: %v", err)
				}
			}
		}
	}
}

func boundaryEdgeKind(p ProtocolType) types.EdgeKind {
	switch p {
	case ProtocolGRPC:
		return types.EdgeGRPCCall
	case ProtocolGraphQL:
		return types.EdgeGraphQLQuery
	default:
		return types.EdgeHTTPRequest
	}
}

func containsHint(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func detectLanguage(path string) string {
	switch {
	case strings.HasSuffix(path, ".py"):
		return "python"
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".tsx"):
		return "typescript"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"):
		return "javascript"
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".java"):
		return "java"
	case strings.HasSuffix(path, ".rs"):
		return "rust"
	default:
		return "unknown"
	}
}
