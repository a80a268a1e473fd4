package effects

import (
	"codegraph/internal/logging"
)

// DifferOptions tunes diff classification.
type DifferOptions struct {
	// UnknownIsBreaking flags diffs where both sides carry only UNKNOWN as
	// breaking. Off by default: an unresolved-to-unresolved transition says
	// nothing about behavior.
	UnknownIsBreaking bool
}

// Differ compares effect sets and classifies the behavioral delta.
type Differ struct {
	opts DifferOptions
}

// NewDiffer builds a differ.
func NewDiffer(opts DifferOptions) *Differ {
	return &Differ{opts: opts}
}

// Compare classifies the delta between two versions of a symbol. Severity is
// assigned by the first matching rule:
//
//	(a) GLOBAL_MUTATION added          -> critical, breaking
//	(b) purity -> any side effect      -> high, breaking
//	(c) DB_WRITE or NETWORK added      -> high, breaking
//	(d) IO or LOG added                -> medium
//	(e) pure removal, no additions     -> low
//	(f) otherwise                      -> none
func (d *Differ) Compare(before, after *EffectSet, symbolID string) *EffectDiff {
	diff := &EffectDiff{
		SymbolID: symbolID,
		Before:   before,
		After:    after,
		Severity: SeverityNone,
	}

	for _, e := range after.Sorted() {
		if e == EffectPure {
			continue
		}
		if !before.Has(e) {
			diff.Added = append(diff.Added, e)
		}
	}

	// A low-confidence UNKNOWN result must not claim that existing effects
	// disappeared.
	afterIsUnknown := after.Provenance == ProvenanceUnknown ||
		(len(after.Effects) == 1 && after.Has(EffectUnknown))
	if !afterIsUnknown {
		for _, e := range before.Sorted() {
			if e == EffectPure {
				continue
			}
			if !after.Has(e) {
				diff.Removed = append(diff.Removed, e)
			}
		}
	}

	switch {
	case diff.HasAdded(EffectGlobalMutation):
		diff.Severity = SeverityCritical
		diff.IsBreaking = true
	case before.IsPure() && !after.IsPure():
		diff.Severity = SeverityHigh
		diff.IsBreaking = true
	case diff.HasAdded(EffectDBWrite) || diff.HasAdded(EffectNetwork):
		diff.Severity = SeverityHigh
		diff.IsBreaking = true
	case diff.HasAdded(EffectIO) || diff.HasAdded(EffectLog):
		diff.Severity = SeverityMedium
	case len(diff.Added) == 0 && len(diff.Removed) > 0:
		diff.Severity = SeverityLow
	}

	if d.opts.UnknownIsBreaking &&
		before.Has(EffectUnknown) && after.Has(EffectUnknown) &&
		len(before.Effects) == 1 && len(after.Effects) == 1 {
		diff.IsBreaking = true
		if diff.Severity == SeverityNone {
			diff.Severity = SeverityLow
		}
	}

	logging.EffectsDebug("Compare %s: added=%v removed=%v severity=%s breaking=%v",
		symbolID, diff.Added, diff.Removed, diff.Severity, diff.IsBreaking)
	return diff
}

// Change pairs two effect sets for batch comparison.
type Change struct {
	SymbolID string
	Before   *EffectSet
	After    *EffectSet
}

// BatchCompare diffs every change.
func (d *Differ) BatchCompare(changes []Change) []*EffectDiff {
	out := make([]*EffectDiff, 0, len(changes))
	for _, c := range changes {
		out = append(out, d.Compare(c.Before, c.After, c.SymbolID))
	}
	return out
}

// Breaking filters a diff list down to the breaking entries.
func (d *Differ) Breaking(diffs []*EffectDiff) []*EffectDiff {
	var out []*EffectDiff
	for _, diff := range diffs {
		if diff.IsBreaking {
			out = append(out, diff)
		}
	}
	return out
}

// Summarize counts diffs by severity.
func (d *Differ) Summarize(diffs []*EffectDiff) map[Severity]int {
	out := make(map[Severity]int)
	for _, diff := range diffs {
		out[diff.Severity]++
	}
	return out
}
