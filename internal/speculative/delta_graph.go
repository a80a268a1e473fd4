// Package speculative implements what-if reasoning over the code graph:
// copy-on-write delta overlays, patch-to-delta compilation, risk scoring,
// and a bounded overlay stack.
package speculative

import (
	"fmt"

	"codegraph/internal/types"
)

// DeltaKind enumerates overlay mutations.
type DeltaKind string

const (
	DeltaAddNode    DeltaKind = "ADD_NODE"
	DeltaUpdateNode DeltaKind = "UPDATE_NODE"
	DeltaDeleteNode DeltaKind = "DELETE_NODE"
	DeltaAddEdge    DeltaKind = "ADD_EDGE"
	DeltaDeleteEdge DeltaKind = "DELETE_EDGE"
)

// EdgeRef identifies an edge for deletion.
type EdgeRef struct {
	Src  string         `json:"src"`
	Dst  string         `json:"dst"`
	Kind types.EdgeKind `json:"kind"`
}

// Delta is one ordered overlay mutation. Later deltas shadow earlier ones.
type Delta struct {
	Kind    DeltaKind              `json:"kind"`
	NodeID  string                 `json:"node_id,omitempty"`
	Node    *types.Node            `json:"node,omitempty"`   // ADD_NODE
	Update  map[string]interface{} `json:"update,omitempty"` // UPDATE_NODE
	Edge    *types.Edge            `json:"edge,omitempty"`   // ADD_EDGE
	EdgeRef *EdgeRef               `json:"edge_ref,omitempty"`
}

// DeltaGraph is a copy-on-write overlay: an immutable base graph plus an
// ordered delta vector with fast indices. The base is never mutated through
// any overlay method; the overlay exclusively owns its vector and indices.
type DeltaGraph struct {
	base   *types.Graph
	deltas []Delta

	// latest holds the merged node per updated/added id; deleted flags
	// removed ids. Rebuilt on rollback.
	latest  map[string]*types.Node
	deleted map[string]bool

	addedEdges   []types.Edge
	removedEdges map[EdgeRef]bool
}

// NewDeltaGraph returns a zero-delta view of base.
func NewDeltaGraph(base *types.Graph) *DeltaGraph {
	return &DeltaGraph{
		base:         base,
		latest:       make(map[string]*types.Node),
		deleted:      make(map[string]bool),
		removedEdges: make(map[EdgeRef]bool),
	}
}

// Base returns the underlying immutable graph.
func (d *DeltaGraph) Base() *types.Graph { return d.base }

// DeltaCount returns how many deltas are applied.
func (d *DeltaGraph) DeltaCount() int { return len(d.deltas) }

// Deltas returns the ordered vector. Callers must not mutate it.
func (d *DeltaGraph) Deltas() []Delta { return d.deltas }

// ApplyDelta appends one delta and updates the indices. Malformed deltas
// fail fast without changing state.
func (d *DeltaGraph) ApplyDelta(delta Delta) error {
	if err := d.validate(delta); err != nil {
		return err
	}
	d.apply(delta)
	d.deltas = append(d.deltas, delta)
	return nil
}

func (d *DeltaGraph) validate(delta Delta) error {
	switch delta.Kind {
	case DeltaAddNode:
		if delta.Node == nil || delta.Node.ID == "" {
			return fmt.Errorf("%w: ADD_NODE requires a node with id", types.ErrSimulation)
		}
	case DeltaUpdateNode:
		if delta.NodeID == "" || len(delta.Update) == 0 {
			return fmt.Errorf("%w: UPDATE_NODE requires node_id and update fields", types.ErrSimulation)
		}
	case DeltaDeleteNode:
		if delta.NodeID == "" {
			return fmt.Errorf("%w: DELETE_NODE requires node_id", types.ErrSimulation)
		}
	case DeltaAddEdge:
		if delta.Edge == nil {
			return fmt.Errorf("%w: ADD_EDGE requires an edge", types.ErrSimulation)
		}
	case DeltaDeleteEdge:
		if delta.EdgeRef == nil {
			return fmt.Errorf("%w: DELETE_EDGE requires an edge ref", types.ErrSimulation)
		}
	default:
		return fmt.Errorf("%w: unknown delta kind %q", types.ErrSimulation, delta.Kind)
	}
	return nil
}

func (d *DeltaGraph) apply(delta Delta) {
	switch delta.Kind {
	case DeltaAddNode:
		d.latest[delta.Node.ID] = delta.Node.Clone()
		delete(d.deleted, delta.Node.ID)
	case DeltaUpdateNode:
		cur := d.GetNode(delta.NodeID)
		var merged *types.Node
		if cur != nil {
			merged = cur.Clone()
		} else {
			merged = &types.Node{ID: delta.NodeID}
		}
		applyUpdate(merged, delta.Update)
		d.latest[delta.NodeID] = merged
		delete(d.deleted, delta.NodeID)
	case DeltaDeleteNode:
		d.deleted[delta.NodeID] = true
		delete(d.latest, delta.NodeID)
	case DeltaAddEdge:
		d.addedEdges = append(d.addedEdges, *delta.Edge)
	case DeltaDeleteEdge:
		d.removedEdges[*delta.EdgeRef] = true
	}
}

// applyUpdate merges recognized fields of an update map onto a node clone.
func applyUpdate(n *types.Node, update map[string]interface{}) {
	for key, raw := range update {
		switch key {
		case "name":
			if v, ok := raw.(string); ok {
				n.Name = v
			}
		case "return_type":
			if v, ok := raw.(string); ok {
				n.ReturnType = v
			}
		case "code":
			if v, ok := raw.(string); ok {
				n.Code = v
			}
		case "file_path":
			if v, ok := raw.(string); ok {
				n.FilePath = v
			}
		case "parameters":
			if v, ok := raw.([]types.Parameter); ok {
				n.Parameters = v
			}
		default:
			if n.Metadata == nil {
				n.Metadata = make(map[string]interface{})
			}
			n.Metadata[key] = raw
		}
	}
}

// GetNode resolves id through the overlay: deleted set first, then the
// latest-update index, then the base.
func (d *DeltaGraph) GetNode(id string) *types.Node {
	if d.deleted[id] {
		return nil
	}
	if n, ok := d.latest[id]; ok {
		return n
	}
	return d.base.Node(id)
}

// HasNode reports whether id resolves through the overlay.
func (d *DeltaGraph) HasNode(id string) bool { return d.GetNode(id) != nil }

// Node satisfies the same read surface as types.Graph.
func (d *DeltaGraph) Node(id string) *types.Node { return d.GetNode(id) }

// IsModified reports whether id appears in the latest-update index or the
// deleted set.
func (d *DeltaGraph) IsModified(id string) bool {
	if d.deleted[id] {
		return true
	}
	_, ok := d.latest[id]
	return ok
}

// GetAllNodes yields the merged logical view without materializing a new
// base: base nodes shadowed by updates, minus deletions, plus additions.
func (d *DeltaGraph) GetAllNodes() map[string]*types.Node {
	out := make(map[string]*types.Node, d.base.NodeCount()+len(d.latest))
	for id, n := range d.base.Nodes() {
		if d.deleted[id] {
			continue
		}
		if upd, ok := d.latest[id]; ok {
			out[id] = upd
		} else {
			out[id] = n
		}
	}
	for id, n := range d.latest {
		if _, ok := out[id]; !ok && !d.deleted[id] {
			out[id] = n
		}
	}
	return out
}

// Edges yields the logical edge view: base edges not deleted and not
// touching deleted nodes, plus overlay additions.
func (d *DeltaGraph) Edges() []types.Edge {
	var out []types.Edge
	for _, e := range d.base.Edges() {
		if d.removedEdges[EdgeRef{Src: e.Src, Dst: e.Dst, Kind: e.Kind}] {
			continue
		}
		if d.deleted[e.Src] || d.deleted[e.Dst] {
			continue
		}
		out = append(out, e)
	}
	out = append(out, d.addedEdges...)
	return out
}

// Rollback pops the last n deltas and rebuilds the indices by replay.
func (d *DeltaGraph) Rollback(n int) error {
	if n < 0 || n > len(d.deltas) {
		return fmt.Errorf("%w: rollback %d exceeds delta count %d", types.ErrSimulation, n, len(d.deltas))
	}
	remaining := d.deltas[:len(d.deltas)-n]

	d.deltas = nil
	d.latest = make(map[string]*types.Node)
	d.deleted = make(map[string]bool)
	d.addedEdges = nil
	d.removedEdges = make(map[EdgeRef]bool)

	for _, delta := range remaining {
		d.apply(delta)
		d.deltas = append(d.deltas, delta)
	}
	return nil
}

// MemoryOverhead estimates the overlay's footprint: delta vector plus index
// sizes, in bytes. The figure is an estimate for backpressure decisions, not
// an allocation measurement.
func (d *DeltaGraph) MemoryOverhead() int {
	const (
		deltaSize = 128
		entrySize = 96
	)
	return len(d.deltas)*deltaSize +
		len(d.latest)*entrySize +
		len(d.deleted)*entrySize/2 +
		len(d.addedEdges)*entrySize +
		len(d.removedEdges)*entrySize/2
}
