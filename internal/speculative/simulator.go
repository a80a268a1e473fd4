package speculative

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"

	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// GraphView is the read surface the simulator validates against. Both the
// base graph and a delta overlay satisfy it, so patches can stack.
type GraphView interface {
	Node(id string) *types.Node
	HasNode(id string) bool
}

// Simulator compiles patch descriptors into delta graphs without touching
// the base. Results are memoized by patch id.
type Simulator struct {
	base *types.Graph

	mu     sync.Mutex
	memo   map[string]*DeltaGraph
	parser *sitter.Parser
}

// NewSimulator builds a simulator over a base graph.
func NewSimulator(base *types.Graph) *Simulator {
	return &Simulator{
		base:   base,
		memo:   make(map[string]*DeltaGraph),
		parser: sitter.NewParser(),
	}
}

// MemoSize returns how many patches are memoized.
func (s *Simulator) MemoSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memo)
}

// SimulatePatch compiles patch into a minimal delta list applied to a fresh
// overlay of the base. With validate set, the target is checked against the
// base and after_code is parsed for syntactic validity.
func (s *Simulator) SimulatePatch(patch *types.Patch, validate bool) (*DeltaGraph, error) {
	timer := logging.StartTimer(logging.CategorySpeculative, "SimulatePatch")
	defer timer.Stop()

	if patch.ID != "" {
		s.mu.Lock()
		if cached, ok := s.memo[patch.ID]; ok {
			s.mu.Unlock()
			logging.SpeculativeDebug("SimulatePatch: memo hit for %s", patch.ID)
			return cached, nil
		}
		s.mu.Unlock()
	}

	dg := NewDeltaGraph(s.base)
	if err := s.compileOnto(dg, patch, validate, s.base); err != nil {
		return nil, err
	}

	if patch.ID != "" {
		s.mu.Lock()
		s.memo[patch.ID] = dg
		s.mu.Unlock()
	}
	return dg, nil
}

// SimulatePatchOn compiles patch like SimulatePatch but validates against an
// arbitrary view (e.g. the top of an overlay stack). Results are not
// memoized: the same patch can mean different deltas on different views.
func (s *Simulator) SimulatePatchOn(view GraphView, patch *types.Patch, validate bool) (*DeltaGraph, error) {
	dg := NewDeltaGraph(s.base)
	if err := s.compileOnto(dg, patch, validate, view); err != nil {
		return nil, err
	}
	return dg, nil
}

// SimulateMultiPatch applies all patches in order onto one overlay. The
// first failure stops the run and is reported with its index.
func (s *Simulator) SimulateMultiPatch(patches []*types.Patch, validate bool) (*DeltaGraph, error) {
	dg := NewDeltaGraph(s.base)
	for i, patch := range patches {
		if err := s.compileOnto(dg, patch, validate, dg); err != nil {
			return nil, fmt.Errorf("patch %d (%s): %w", i, patch.ID, err)
		}
	}
	return dg, nil
}

// compileOnto validates patch against view and appends its deltas to dg.
func (s *Simulator) compileOnto(dg *DeltaGraph, patch *types.Patch, validate bool, view GraphView) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	if validate {
		switch patch.Kind {
		case types.PatchAddFunction:
			if view.HasNode(patch.TargetID) {
				return fmt.Errorf("%w: ADD_FUNCTION target %q already exists", types.ErrInvalidPatch, patch.TargetID)
			}
		default:
			if !view.HasNode(patch.TargetID) {
				return fmt.Errorf("%w: target %q: %v", types.ErrInvalidPatch, patch.TargetID, types.ErrNotFound)
			}
		}
		if patch.AfterCode != "" {
			if err := s.checkSyntax(patch.AfterCode, patch.Language); err != nil {
				return err
			}
		}
	}

	deltas, err := compile(patch, view)
	if err != nil {
		return err
	}
	for _, delta := range deltas {
		if err := dg.ApplyDelta(delta); err != nil {
			return err
		}
	}
	logging.SpeculativeDebug("SimulatePatch: %s -> %d deltas", patch.Kind, len(deltas))
	return nil
}

// compile maps one patch to its minimal ordered delta list.
func compile(patch *types.Patch, view GraphView) ([]Delta, error) {
	switch patch.Kind {
	case types.PatchRenameSymbol:
		return []Delta{{Kind: DeltaUpdateNode, NodeID: patch.TargetID,
			Update: map[string]interface{}{"name": patch.NewName}}}, nil

	case types.PatchAddParameter, types.PatchRemoveParameter:
		params := mergeParameters(view.Node(patch.TargetID), patch)
		return []Delta{{Kind: DeltaUpdateNode, NodeID: patch.TargetID,
			Update: map[string]interface{}{"parameters": params}}}, nil

	case types.PatchChangeReturnType:
		return []Delta{{Kind: DeltaUpdateNode, NodeID: patch.TargetID,
			Update: map[string]interface{}{"return_type": patch.ReturnType}}}, nil

	case types.PatchAddFunction:
		return []Delta{{Kind: DeltaAddNode, Node: &types.Node{
			ID:   patch.TargetID,
			Name: patch.TargetID,
			Kind: types.KindFunction,
			Code: patch.AfterCode,
		}}}, nil

	case types.PatchDeleteFunction:
		return []Delta{{Kind: DeltaDeleteNode, NodeID: patch.TargetID}}, nil

	case types.PatchModifyBody:
		return []Delta{{Kind: DeltaUpdateNode, NodeID: patch.TargetID,
			Update: map[string]interface{}{"code": patch.AfterCode}}}, nil

	case types.PatchRefactor:
		// Refactors decompose into the concrete variants upstream; this
		// layer has no delta encoding for them.
		return nil, fmt.Errorf("%w: REFACTOR is not supported by the simulator", types.ErrInvalidPatch)

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", types.ErrInvalidPatch, patch.Kind)
	}
}

// mergeParameters computes the target's parameter list after the patch.
func mergeParameters(target *types.Node, patch *types.Patch) []types.Parameter {
	var current []types.Parameter
	if target != nil {
		current = target.Parameters
	}
	if patch.Kind == types.PatchAddParameter {
		out := make([]types.Parameter, 0, len(current)+len(patch.Parameters))
		out = append(out, current...)
		out = append(out, patch.Parameters...)
		return out
	}
	remove := make(map[string]bool, len(patch.Parameters))
	for _, p := range patch.Parameters {
		remove[p.Name] = true
	}
	var out []types.Parameter
	for _, p := range current {
		if !remove[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// checkSyntax parses code in the declared language and rejects trees with
// syntax errors.
func (s *Simulator) checkSyntax(code, language string) error {
	var lang *sitter.Language
	switch strings.ToLower(language) {
	case "", "python", "py":
		lang = python.GetLanguage()
	case "go", "golang":
		lang = golang.GetLanguage()
	default:
		// No grammar for the language: accept, the extractor upstream is
		// responsible for deeper validation.
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.parser.SetLanguage(lang)
	tree, err := s.parser.ParseCtx(context.Background(), nil, []byte(code))
	if err != nil {
		return fmt.Errorf("%w: parse: %v", types.ErrInvalidPatch, err)
	}
	defer tree.Close()

	if tree.RootNode().HasError() {
		return fmt.Errorf("%w: after_code has syntax errors", types.ErrInvalidPatch)
	}
	return nil
}
