package speculative

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/types"
)

func TestSimulatePatch_Rename(t *testing.T) {
	s := NewSimulator(baseGraph(t))

	dg, err := s.SimulatePatch(&types.Patch{
		ID: "p1", Kind: types.PatchRenameSymbol, TargetID: "f1", NewName: "f1_new",
	}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, dg.DeltaCount())
	assert.Equal(t, "f1_new", dg.GetNode("f1").Name)
}

func TestSimulatePatch_DeleteAndAdd(t *testing.T) {
	s := NewSimulator(baseGraph(t))

	dg, err := s.SimulatePatch(&types.Patch{
		ID: "pdel", Kind: types.PatchDeleteFunction, TargetID: "f1",
	}, true)
	require.NoError(t, err)
	assert.Nil(t, dg.GetNode("f1"))

	dg, err = s.SimulatePatch(&types.Patch{
		ID: "padd", Kind: types.PatchAddFunction, TargetID: "new_func",
		AfterCode: "def new_func(): pass", Language: "python",
	}, true)
	require.NoError(t, err)
	require.NotNil(t, dg.GetNode("new_func"))
	assert.Equal(t, types.KindFunction, dg.GetNode("new_func").Kind)
}

func TestSimulatePatch_Parameters(t *testing.T) {
	g := types.NewGraph()
	require.NoError(t, g.AddNode(&types.Node{
		ID: "f", Kind: types.KindFunction,
		Parameters: []types.Parameter{{Name: "a", Type: "int"}},
	}))
	s := NewSimulator(g)

	dg, err := s.SimulatePatch(&types.Patch{
		ID: "pa", Kind: types.PatchAddParameter, TargetID: "f",
		Parameters: []types.Parameter{{Name: "b", Type: "str"}},
	}, true)
	require.NoError(t, err)
	assert.Len(t, dg.GetNode("f").Parameters, 2)

	dg, err = s.SimulatePatch(&types.Patch{
		ID: "pr", Kind: types.PatchRemoveParameter, TargetID: "f",
		Parameters: []types.Parameter{{Name: "a"}},
	}, true)
	require.NoError(t, err)
	assert.Empty(t, dg.GetNode("f").Parameters)
}

// Patch simulation cache: the same patch id returns the same logical result
// and the memo grows by exactly one.
func TestSimulatePatch_Memoized(t *testing.T) {
	s := NewSimulator(baseGraph(t))
	patch := &types.Patch{ID: "p1", Kind: types.PatchRenameSymbol, TargetID: "f1", NewName: "x"}

	dg1, err := s.SimulatePatch(patch, true)
	require.NoError(t, err)
	sizeAfterFirst := s.MemoSize()

	dg2, err := s.SimulatePatch(patch, true)
	require.NoError(t, err)

	assert.Same(t, dg1, dg2)
	assert.Equal(t, 1, sizeAfterFirst)
	assert.Equal(t, 1, s.MemoSize(), "second call adds nothing")
}

func TestSimulatePatch_ValidationFailures(t *testing.T) {
	s := NewSimulator(baseGraph(t))

	// Update target must exist.
	_, err := s.SimulatePatch(&types.Patch{
		ID: "x1", Kind: types.PatchModifyBody, TargetID: "ghost", AfterCode: "def g(): pass",
	}, true)
	assert.True(t, errors.Is(err, types.ErrInvalidPatch))

	// Add target must be absent.
	_, err = s.SimulatePatch(&types.Patch{
		ID: "x2", Kind: types.PatchAddFunction, TargetID: "f1", AfterCode: "def f1(): pass",
	}, true)
	assert.True(t, errors.Is(err, types.ErrInvalidPatch))

	// after_code must parse in the declared language.
	_, err = s.SimulatePatch(&types.Patch{
		ID: "x3", Kind: types.PatchModifyBody, TargetID: "f1",
		AfterCode: "def broken(:\n  ???", Language: "python",
	}, true)
	assert.True(t, errors.Is(err, types.ErrInvalidPatch))

	// REFACTOR is rejected at this layer.
	_, err = s.SimulatePatch(&types.Patch{ID: "x4", Kind: types.PatchRefactor, TargetID: "f1"}, true)
	assert.True(t, errors.Is(err, types.ErrInvalidPatch))

	// Unknown kinds are rejected.
	_, err = s.SimulatePatch(&types.Patch{ID: "x5", Kind: "EXPLODE", TargetID: "f1"}, true)
	assert.True(t, errors.Is(err, types.ErrInvalidPatch))
}

func TestSimulateMultiPatch(t *testing.T) {
	s := NewSimulator(baseGraph(t))

	dg, err := s.SimulateMultiPatch([]*types.Patch{
		{ID: "m1", Kind: types.PatchRenameSymbol, TargetID: "f1", NewName: "renamed"},
		{ID: "m2", Kind: types.PatchDeleteFunction, TargetID: "f2"},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, "renamed", dg.GetNode("f1").Name)
	assert.Nil(t, dg.GetNode("f2"))
}

func TestSimulateMultiPatch_FailureReportsIndex(t *testing.T) {
	s := NewSimulator(baseGraph(t))

	_, err := s.SimulateMultiPatch([]*types.Patch{
		{ID: "m1", Kind: types.PatchDeleteFunction, TargetID: "f1"},
		{ID: "m2", Kind: types.PatchModifyBody, TargetID: "f1", AfterCode: "def f(): pass"},
	}, true)
	require.Error(t, err, "second patch targets the node the first deleted")
	assert.Contains(t, err.Error(), "patch 1")
}
