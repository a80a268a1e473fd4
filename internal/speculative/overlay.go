package speculative

import (
	"fmt"

	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// DefaultMaxStackDepth bounds the overlay stack.
const DefaultMaxStackDepth = 100

// layer is one applied patch with its overlay and risk verdict.
type layer struct {
	patch *types.Patch
	graph *DeltaGraph
	risk  *RiskReport
}

// OverlayStats counts manager activity.
type OverlayStats struct {
	Applied    int `json:"applied"`
	Rejected   int `json:"rejected"`
	RolledBack int `json:"rolled_back"`
	Depth      int `json:"depth"`
}

// OverlayManagerOptions configures an overlay manager.
type OverlayManagerOptions struct {
	MaxStackDepth      int
	AutoRejectBreaking bool
}

// OverlayManager holds a bounded LIFO stack of applied speculative patches
// over one base graph. It is not thread-safe: each caller owns one instance
// or guards it externally.
type OverlayManager struct {
	base      *types.Graph
	simulator *Simulator
	risk      *RiskAnalyzer
	opts      OverlayManagerOptions

	stack []layer
	stats OverlayStats
}

// NewOverlayManager builds a manager over base.
func NewOverlayManager(base *types.Graph, opts OverlayManagerOptions) *OverlayManager {
	if opts.MaxStackDepth <= 0 {
		opts.MaxStackDepth = DefaultMaxStackDepth
	}
	return &OverlayManager{
		base:      base,
		simulator: NewSimulator(base),
		risk:      NewRiskAnalyzer(),
		opts:      opts,
	}
}

// ApplyPatch simulates patch on the current state, scores it, and pushes the
// layer on success. With AutoRejectBreaking set, a BREAKING verdict is
// rejected without pushing unless force is set.
func (m *OverlayManager) ApplyPatch(patch *types.Patch, force bool) (*RiskReport, error) {
	if len(m.stack) >= m.opts.MaxStackDepth {
		m.stats.Rejected++
		return nil, fmt.Errorf("%w: overlay stack depth %d reached", types.ErrSimulation, m.opts.MaxStackDepth)
	}

	// Validate against the logical state at the top of the stack so stacked
	// patches see each other's effects.
	var dg *DeltaGraph
	var err error
	if top := m.CurrentGraph(); top != nil {
		dg, err = m.simulator.SimulatePatchOn(top, patch, true)
	} else {
		dg, err = m.simulator.SimulatePatch(patch, true)
	}
	if err != nil {
		m.stats.Rejected++
		return nil, err
	}

	report, err := m.risk.Analyze(patch, dg, m.base)
	if err != nil {
		m.stats.Rejected++
		return nil, err
	}

	if m.opts.AutoRejectBreaking && report.Level == RiskBreaking && !force {
		m.stats.Rejected++
		logging.Speculative("ApplyPatch: rejected BREAKING patch %s", patch.ID)
		return report, fmt.Errorf("%w: patch %s is breaking and auto-reject is on", types.ErrSimulation, patch.ID)
	}

	m.stack = append(m.stack, layer{patch: patch, graph: dg, risk: report})
	m.stats.Applied++
	logging.SpeculativeDebug("ApplyPatch: %s pushed (depth %d, risk %s)", patch.ID, len(m.stack), report.Level)
	return report, nil
}

// ApplyPatches applies patches in order. With stopOnBreaking, the loop exits
// on the first rejected or breaking patch; the reports gathered so far are
// returned along with the error.
func (m *OverlayManager) ApplyPatches(patches []*types.Patch, stopOnBreaking bool) ([]*RiskReport, error) {
	var reports []*RiskReport
	for i, patch := range patches {
		report, err := m.ApplyPatch(patch, false)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			if stopOnBreaking {
				return reports, fmt.Errorf("patch %d (%s): %w", i, patch.ID, err)
			}
			continue
		}
		if stopOnBreaking && report.Level == RiskBreaking {
			return reports, fmt.Errorf("%w: patch %d (%s) is breaking", types.ErrSimulation, i, patch.ID)
		}
	}
	return reports, nil
}

// Rollback pops the top k layers.
func (m *OverlayManager) Rollback(k int) error {
	if k < 0 || k > len(m.stack) {
		return fmt.Errorf("%w: rollback %d exceeds stack depth %d", types.ErrSimulation, k, len(m.stack))
	}
	m.stack = m.stack[:len(m.stack)-k]
	m.stats.RolledBack += k
	return nil
}

// RollbackToSafe pops layers until the top is SAFE or the stack is empty.
// Returns how many layers were popped.
func (m *OverlayManager) RollbackToSafe() int {
	popped := 0
	for len(m.stack) > 0 && m.stack[len(m.stack)-1].risk.Level != RiskSafe {
		m.stack = m.stack[:len(m.stack)-1]
		popped++
	}
	m.stats.RolledBack += popped
	logging.SpeculativeDebug("RollbackToSafe: popped %d layers", popped)
	return popped
}

// CurrentGraph returns the top overlay, or nil when the stack is empty (the
// caller should then use the base directly).
func (m *OverlayManager) CurrentGraph() *DeltaGraph {
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1].graph
}

// Depth returns the stack depth.
func (m *OverlayManager) Depth() int { return len(m.stack) }

// TopRisk returns the top layer's risk report, or nil.
func (m *OverlayManager) TopRisk() *RiskReport {
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1].risk
}

// Stats snapshots the counters.
func (m *OverlayManager) Stats() OverlayStats {
	s := m.stats
	s.Depth = len(m.stack)
	return s
}
