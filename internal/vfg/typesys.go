package vfg

import (
	"fmt"
	"strings"
)

// BaseType is the fixed set of base type categories.
type BaseType string

const (
	TypeInt     BaseType = "int"
	TypeFloat   BaseType = "float"
	TypeString  BaseType = "string"
	TypeBool    BaseType = "bool"
	TypeBytes   BaseType = "bytes"
	TypeArray   BaseType = "array"
	TypeObject  BaseType = "object"
	TypeNull    BaseType = "null"
	TypeAny     BaseType = "any"
	TypeUnknown BaseType = "unknown"
)

// TypeInfo is a structural type: a base, optional nullability, generic args
// for arrays, and named fields for objects.
type TypeInfo struct {
	Base        BaseType             `json:"base"`
	Nullable    bool                 `json:"nullable,omitempty"`
	GenericArgs []*TypeInfo          `json:"generic_args,omitempty"`
	Fields      map[string]*TypeInfo `json:"fields,omitempty"`
	TypeName    string               `json:"type_name,omitempty"` // original name, debugging only
}

func (t *TypeInfo) String() string {
	if t == nil {
		return "nil"
	}
	var s string
	switch {
	case t.Base == TypeArray && len(t.GenericArgs) > 0:
		s = fmt.Sprintf("Array[%s]", t.GenericArgs[0])
	case t.Base == TypeObject && len(t.Fields) > 0:
		parts := make([]string, 0, len(t.Fields))
		for k, v := range t.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", k, v))
			if len(parts) == 3 {
				parts = append(parts, "...")
				break
			}
		}
		s = "{" + strings.Join(parts, ", ") + "}"
	default:
		s = string(t.Base)
	}
	if t.Nullable {
		s += "?"
	}
	return s
}

// CompatResult explains a compatibility check.
type CompatResult struct {
	Compatible bool
	Lossy      bool // numeric narrowing allowed but flagged
	Reason     string
}

// CheckCompatible decides S <= T, i.e. whether a value of type s may flow
// into a slot of type t:
//
//   - ANY is compatible in both directions.
//   - NULL flows only into nullable targets.
//   - Non-nullable into nullable is allowed; the reverse is not.
//   - INT <-> FLOAT widen/narrow, the narrowing direction marked lossy.
//   - ARRAY is covariant in its element.
//   - OBJECT is structural: every field of t must exist in s compatibly.
//   - Otherwise bases must match exactly.
func CheckCompatible(s, t *TypeInfo) CompatResult {
	if s == nil || t == nil {
		return CompatResult{Compatible: false, Reason: "missing type"}
	}
	if s.Base == TypeAny || t.Base == TypeAny {
		return CompatResult{Compatible: true}
	}
	if s.Base == TypeNull {
		if t.Nullable {
			return CompatResult{Compatible: true}
		}
		return CompatResult{Compatible: false, Reason: "null into non-nullable"}
	}
	if s.Nullable && !t.Nullable {
		return CompatResult{Compatible: false, Reason: fmt.Sprintf("nullable %s into non-nullable %s", s, t)}
	}

	// Numeric widening, both directions; narrowing is lossy.
	if s.Base == TypeInt && t.Base == TypeFloat {
		return CompatResult{Compatible: true}
	}
	if s.Base == TypeFloat && t.Base == TypeInt {
		return CompatResult{Compatible: true, Lossy: true, Reason: "float into int loses precision"}
	}

	if s.Base == TypeArray && t.Base == TypeArray {
		if len(s.GenericArgs) == 0 || len(t.GenericArgs) == 0 {
			return CompatResult{Compatible: true}
		}
		elem := CheckCompatible(s.GenericArgs[0], t.GenericArgs[0])
		if !elem.Compatible {
			elem.Reason = "array element: " + elem.Reason
		}
		return elem
	}

	if s.Base == TypeObject && t.Base == TypeObject {
		for name, ft := range t.Fields {
			fs, ok := s.Fields[name]
			if !ok {
				return CompatResult{Compatible: false, Reason: fmt.Sprintf("missing field %q", name)}
			}
			r := CheckCompatible(fs, ft)
			if !r.Compatible {
				return CompatResult{Compatible: false, Reason: fmt.Sprintf("field %q: %s", name, r.Reason)}
			}
		}
		return CompatResult{Compatible: true}
	}

	if s.Base == t.Base {
		return CompatResult{Compatible: true}
	}
	return CompatResult{Compatible: false, Reason: fmt.Sprintf("%s vs %s", s.Base, t.Base)}
}

// Merge returns the widest common type for union use: intersection of fields
// for objects, widened numerics, ANY for heterogeneous bases.
func Merge(a, b *TypeInfo) *TypeInfo {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	nullable := a.Nullable || b.Nullable

	switch {
	case a.Base == b.Base && a.Base == TypeObject:
		fields := make(map[string]*TypeInfo)
		for name, at := range a.Fields {
			if bt, ok := b.Fields[name]; ok {
				fields[name] = Merge(at, bt)
			}
		}
		return &TypeInfo{Base: TypeObject, Fields: fields, Nullable: nullable}
	case a.Base == b.Base && a.Base == TypeArray:
		var elem []*TypeInfo
		if len(a.GenericArgs) > 0 && len(b.GenericArgs) > 0 {
			elem = []*TypeInfo{Merge(a.GenericArgs[0], b.GenericArgs[0])}
		}
		return &TypeInfo{Base: TypeArray, GenericArgs: elem, Nullable: nullable}
	case a.Base == b.Base:
		return &TypeInfo{Base: a.Base, Nullable: nullable}
	case (a.Base == TypeInt && b.Base == TypeFloat) || (a.Base == TypeFloat && b.Base == TypeInt):
		return &TypeInfo{Base: TypeFloat, Nullable: nullable}
	default:
		return &TypeInfo{Base: TypeAny, Nullable: nullable}
	}
}
