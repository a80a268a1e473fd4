package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func set(id string, es ...Effect) *EffectSet {
	s := NewEffectSet(id)
	for _, e := range es {
		s.Add(e)
	}
	return s
}

func TestCompare_PureToIOIsHighBreaking(t *testing.T) {
	d := NewDiffer(DifferOptions{})
	diff := d.Compare(set("f1", EffectPure), set("f1", EffectIO), "f1")

	assert.Equal(t, []Effect{EffectIO}, diff.Added)
	assert.Equal(t, SeverityHigh, diff.Severity)
	assert.True(t, diff.IsBreaking)
}

func TestCompare_GlobalMutationIsCritical(t *testing.T) {
	d := NewDiffer(DifferOptions{})
	diff := d.Compare(set("f2", EffectPure), set("f2", EffectGlobalMutation), "f2")

	assert.Equal(t, SeverityCritical, diff.Severity)
	assert.True(t, diff.IsBreaking)
}

func TestCompare_DBWriteAddedIsHigh(t *testing.T) {
	d := NewDiffer(DifferOptions{})
	diff := d.Compare(set("f", EffectDBRead), set("f", EffectDBRead, EffectDBWrite), "f")

	assert.Equal(t, SeverityHigh, diff.Severity)
	assert.True(t, diff.IsBreaking)
}

func TestCompare_LogAddedIsMediumNotBreaking(t *testing.T) {
	d := NewDiffer(DifferOptions{})
	diff := d.Compare(set("f", EffectReadState), set("f", EffectReadState, EffectLog), "f")

	assert.Equal(t, SeverityMedium, diff.Severity)
	assert.False(t, diff.IsBreaking)
}

func TestCompare_RemovalOnlyIsLowNotBreaking(t *testing.T) {
	d := NewDiffer(DifferOptions{})
	diff := d.Compare(set("f", EffectIO), set("f", EffectPure), "f")

	assert.Empty(t, diff.Added)
	assert.Equal(t, []Effect{EffectIO}, diff.Removed)
	assert.Equal(t, SeverityLow, diff.Severity)
	assert.False(t, diff.IsBreaking)
}

func TestCompare_NoChangeIsNone(t *testing.T) {
	d := NewDiffer(DifferOptions{})
	diff := d.Compare(set("f", EffectReadState), set("f", EffectReadState), "f")

	assert.Equal(t, SeverityNone, diff.Severity)
	assert.False(t, diff.IsBreaking)
}

// Effect lattice monotonicity: a breaking diff always has at least one new
// effect on the after side.
func TestCompare_BreakingImpliesAddition(t *testing.T) {
	d := NewDiffer(DifferOptions{})
	cases := [][2]*EffectSet{
		{set("f", EffectPure), set("f", EffectIO)},
		{set("f"), set("f", EffectGlobalMutation)},
		{set("f", EffectLog), set("f", EffectLog, EffectNetwork)},
	}
	for _, c := range cases {
		diff := d.Compare(c[0], c[1], "f")
		if diff.IsBreaking {
			assert.NotEmpty(t, diff.Added, "breaking diff with no additions: %v -> %v", c[0], c[1])
		}
	}
}

func TestCompare_UnknownDoesNotRemove(t *testing.T) {
	d := NewDiffer(DifferOptions{})

	after := set("f", EffectUnknown)
	diff := d.Compare(set("f", EffectDBWrite), after, "f")

	assert.Empty(t, diff.Removed, "an UNKNOWN result must not claim effects disappeared")
}

func TestCompare_UnknownToUnknownConfigurable(t *testing.T) {
	defaultDiffer := NewDiffer(DifferOptions{})
	diff := defaultDiffer.Compare(set("f", EffectUnknown), set("f", EffectUnknown), "f")
	assert.False(t, diff.IsBreaking)

	strict := NewDiffer(DifferOptions{UnknownIsBreaking: true})
	diff = strict.Compare(set("f", EffectUnknown), set("f", EffectUnknown), "f")
	assert.True(t, diff.IsBreaking)
}

func TestBatchCompareAndSummaries(t *testing.T) {
	d := NewDiffer(DifferOptions{})
	diffs := d.BatchCompare([]Change{
		{SymbolID: "a", Before: set("a", EffectPure), After: set("a", EffectIO)},
		{SymbolID: "b", Before: set("b", EffectPure), After: set("b", EffectPure)},
		{SymbolID: "c", Before: set("c", EffectPure), After: set("c", EffectGlobalMutation)},
	})

	breaking := d.Breaking(diffs)
	assert.Len(t, breaking, 2)

	counts := d.Summarize(diffs)
	assert.Equal(t, 1, counts[SeverityHigh])
	assert.Equal(t, 1, counts[SeverityCritical])
	assert.Equal(t, 1, counts[SeverityNone])
}
