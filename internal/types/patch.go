package types

import (
	"encoding/json"
	"fmt"
)

// PatchKind enumerates the eight supported patch variants. The set is closed;
// unknown kinds are rejected at decode time.
type PatchKind string

const (
	PatchRenameSymbol     PatchKind = "RENAME_SYMBOL"
	PatchAddParameter     PatchKind = "ADD_PARAMETER"
	PatchRemoveParameter  PatchKind = "REMOVE_PARAMETER"
	PatchChangeReturnType PatchKind = "CHANGE_RETURN_TYPE"
	PatchAddFunction      PatchKind = "ADD_FUNCTION"
	PatchDeleteFunction   PatchKind = "DELETE_FUNCTION"
	PatchModifyBody       PatchKind = "MODIFY_BODY"
	PatchRefactor         PatchKind = "REFACTOR"
)

var knownPatchKinds = map[PatchKind]bool{
	PatchRenameSymbol:     true,
	PatchAddParameter:     true,
	PatchRemoveParameter:  true,
	PatchChangeReturnType: true,
	PatchAddFunction:      true,
	PatchDeleteFunction:   true,
	PatchModifyBody:       true,
	PatchRefactor:         true,
}

// Patch is a speculative modification of a single target symbol. Which
// payload fields are meaningful depends on Kind.
type Patch struct {
	ID       string    `json:"id"`
	Kind     PatchKind `json:"kind"`
	TargetID string    `json:"target_id"`

	// Variant payloads.
	NewName    string      `json:"new_name,omitempty"`    // RENAME_SYMBOL
	Parameters []Parameter `json:"parameters,omitempty"`  // ADD_PARAMETER / REMOVE_PARAMETER
	HasDefault bool        `json:"has_default,omitempty"` // ADD_PARAMETER
	ReturnType string      `json:"return_type,omitempty"` // CHANGE_RETURN_TYPE
	AfterCode  string      `json:"after_code,omitempty"`  // ADD_FUNCTION / MODIFY_BODY
	Language   string      `json:"language,omitempty"`    // source language of AfterCode
}

// Validate checks structural requirements per variant. Target existence is
// checked later against a concrete graph by the simulator.
func (p *Patch) Validate() error {
	if !knownPatchKinds[p.Kind] {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPatch, p.Kind)
	}
	if p.TargetID == "" {
		return fmt.Errorf("%w: target_id required", ErrInvalidPatch)
	}
	switch p.Kind {
	case PatchRenameSymbol:
		if p.NewName == "" {
			return fmt.Errorf("%w: RENAME_SYMBOL requires new_name", ErrInvalidPatch)
		}
	case PatchAddParameter, PatchRemoveParameter:
		if len(p.Parameters) == 0 {
			return fmt.Errorf("%w: %s requires parameters", ErrInvalidPatch, p.Kind)
		}
	case PatchChangeReturnType:
		if p.ReturnType == "" {
			return fmt.Errorf("%w: CHANGE_RETURN_TYPE requires return_type", ErrInvalidPatch)
		}
	case PatchAddFunction, PatchModifyBody:
		if p.AfterCode == "" {
			return fmt.Errorf("%w: %s requires after_code", ErrInvalidPatch, p.Kind)
		}
	}
	return nil
}

// UnmarshalJSON rejects unknown kinds instead of silently accepting them.
func (p *Patch) UnmarshalJSON(data []byte) error {
	type alias Patch
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if !knownPatchKinds[PatchKind(a.Kind)] {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPatch, a.Kind)
	}
	*p = Patch(a)
	return nil
}
