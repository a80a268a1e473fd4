// Package vfg implements the value flow graph: typed nodes and flow edges
// with taint labels, cross-service boundary specs, and the structural type
// lattice used to match boundary schemas.
package vfg

import "codegraph/internal/types"

// ProtocolType names a cross-service boundary protocol.
type ProtocolType string

const (
	ProtocolRESTAPI ProtocolType = "rest_api"
	ProtocolGRPC    ProtocolType = "grpc"
	ProtocolGraphQL ProtocolType = "graphql"
)

// BoundarySpec describes one cross-service edge.
type BoundarySpec struct {
	Protocol       ProtocolType      `json:"protocol"`
	ServiceName    string            `json:"service_name"`
	Endpoint       string            `json:"endpoint"`
	RequestSchema  map[string]string `json:"request_schema,omitempty"`
	ResponseSchema map[string]string `json:"response_schema,omitempty"`
	HTTPMethod     string            `json:"http_method,omitempty"`
	Confidence     float64           `json:"confidence"`
}

// Node is one value-flow node.
type Node struct {
	ID              string                 `json:"id"`
	SymbolName      string                 `json:"symbol_name"`
	FilePath        string                 `json:"file_path"`
	Line            int                    `json:"line"`
	Language        string                 `json:"language"`
	ValueType       *TypeInfo              `json:"value_type,omitempty"`
	Schema          map[string]string      `json:"schema,omitempty"`
	FunctionContext string                 `json:"function_context,omitempty"`
	ServiceContext  string                 `json:"service_context,omitempty"`
	TaintLabels     map[string]bool        `json:"taint_labels,omitempty"`
	IsSource        bool                   `json:"is_source"`
	IsSink          bool                   `json:"is_sink"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// HasLabel reports whether the node carries the taint label.
func (n *Node) HasLabel(label string) bool { return n != nil && n.TaintLabels[label] }

// Edge is one flow edge. Kind is restricted to the flow-bearing subset of the
// code graph edge kinds.
type Edge struct {
	Src          string                `json:"src_id"`
	Dst          string                `json:"dst_id"`
	Kind         types.EdgeKind        `json:"kind"`
	Confidence   types.ConfidenceLabel `json:"confidence,omitempty"`
	Boundary     *BoundarySpec         `json:"boundary_spec,omitempty"`
	FieldMapping map[string]string     `json:"field_mapping,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// flowKinds is the subset of edge kinds a VFG edge may carry.
var flowKinds = map[types.EdgeKind]bool{
	types.EdgeFlowsTo:      true,
	types.EdgeAssigns:      true,
	types.EdgeReturns:      true,
	types.EdgeParameter:    true,
	types.EdgeCalls:        true,
	types.EdgeReads:        true,
	types.EdgeWrites:       true,
	types.EdgeHTTPRequest:  true,
	types.EdgeGRPCCall:     true,
	types.EdgeGraphQLQuery: true,
	types.EdgeDBRead:       true,
	types.EdgeDBWrite:      true,
}

// IsFlowKind reports whether kind may appear on a VFG edge.
func IsFlowKind(kind types.EdgeKind) bool { return flowKinds[kind] }

// Statistics summarizes a loaded graph.
type Statistics struct {
	TotalNodes      int            `json:"total_nodes"`
	TotalEdges      int            `json:"total_edges"`
	Languages       map[string]int `json:"languages"`
	BoundariesCount int            `json:"boundaries_count"`
}
