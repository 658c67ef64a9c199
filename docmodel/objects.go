// Package docmodel implements the normalized-object shape described by the
// core spec: values are decomposed into a flat OID-addressed map with
// ObjectRef indirection standing in for nested objects and arrays, mirroring
// the teacher's separation of identifier (oid) from object-shape machinery
// (objects.go).
package docmodel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fork-archive-hub/lo-fi/errs"
	"github.com/fork-archive-hub/lo-fi/oid"
)

// ObjectRef stands in for a nested object or array in a parent's normalized
// form. It is the only place an OID crosses from the side-table into a
// value.
type ObjectRef struct {
	ID oid.OID
}

func (r ObjectRef) String() string { return "ref:" + string(r.ID) }

// PropertyValue is a scalar (string, float64, bool, nil) or an ObjectRef.
// Nested objects never appear inline; Go's `any` stands in for the source's
// untyped property slot.
type PropertyValue = any

// NormalizedObject is either an ordered mapping (ObjectMap) or an ordered
// sequence (ObjectList) of PropertyValue. It is the unit stored at one OID.
type NormalizedObject interface {
	isNormalizedObject()
}

// ObjectMap is a normalized object's property map. Key order carries no
// meaning; it is a plain Go map, not an ordered one, matching the spec's
// "key order is irrelevant to correctness" note.
type ObjectMap map[string]PropertyValue

func (ObjectMap) isNormalizedObject() {}

// ObjectList is a normalized array's element sequence.
type ObjectList []PropertyValue

func (ObjectList) isNormalizedObject() {}

// NormalizedForm is the output of Normalize: every addressable sub-object
// keyed by its OID, plus the OID of the value's own root.
type NormalizedForm struct {
	Root    oid.OID
	Objects map[oid.OID]NormalizedObject
}

// oidAssigner produces a fresh sub-OID for a value found at keyPath under
// parent, without persisting anything; the caller decides whether to keep
// the identity (mergeUnknownObjects) or mint a new one.
func oidAssigner(parent oid.OID, keyPath string) oid.OID {
	return parent.Sub(keyPath)
}

// Normalize walks value (built from map[string]any / []any / scalars, the
// shape produced by decoding JSON) and produces a NormalizedForm rooted at
// root. Every nested object or array is assigned an OID (root.Sub(path) for
// its position) and replaced in its parent slot by an ObjectRef.
func Normalize(value any, root oid.OID) (*NormalizedForm, error) {
	nf := &NormalizedForm{Root: root, Objects: make(map[oid.OID]NormalizedObject)}
	if err := normalizeInto(value, root, nf); err != nil {
		return nil, err
	}
	return nf, nil
}

func normalizeInto(value any, at oid.OID, nf *NormalizedForm) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(ObjectMap, len(v))
		for _, k := range keys {
			pv, err := normalizeSlot(v[k], at, k, nf)
			if err != nil {
				return err
			}
			out[k] = pv
		}
		nf.Objects[at] = out
		return nil
	case []any:
		out := make(ObjectList, len(v))
		for i, elem := range v {
			pv, err := normalizeSlot(elem, at, strconv.Itoa(i), nf)
			if err != nil {
				return err
			}
			out[i] = pv
		}
		nf.Objects[at] = out
		return nil
	default:
		return fmt.Errorf("docmodel: root value at %s must be an object or array", at)
	}
}

func normalizeSlot(value any, parent oid.OID, keyPath string, nf *NormalizedForm) (PropertyValue, error) {
	switch value.(type) {
	case map[string]any, []any:
		childOid := oidAssigner(parent, keyPath)
		if err := normalizeInto(value, childOid, nf); err != nil {
			return nil, err
		}
		return ObjectRef{ID: childOid}, nil
	default:
		return value, nil
	}
}

// SubstituteRefsWithObjects mutates nothing (Go values are immutable maps
// here) but rebuilds root's tree from objects, following every ObjectRef
// recursively. It returns the materialized value and the set of OIDs that
// were dereferenced, for reachability analysis by callers such as
// getAllDocumentRelatedOids. A ref with no entry in objects is fatal
// (errs.ErrMissingRef), per the spec: missing references indicate
// corruption, not absence.
func SubstituteRefsWithObjects(root oid.OID, objects map[oid.OID]NormalizedObject) (any, []oid.OID, error) {
	seen := make(map[oid.OID]bool)
	visited := make([]oid.OID, 0, len(objects))
	val, err := substitute(root, objects, seen, &visited)
	if err != nil {
		return nil, nil, err
	}
	return val, visited, nil
}

func substitute(at oid.OID, objects map[oid.OID]NormalizedObject, seen map[oid.OID]bool, order *[]oid.OID) (any, error) {
	if !seen[at] {
		seen[at] = true
		*order = append(*order, at)
	}
	obj, ok := objects[at]
	if !ok {
		return nil, errs.ErrMissingRef
	}
	switch o := obj.(type) {
	case ObjectMap:
		out := make(map[string]any, len(o))
		for k, pv := range o {
			v, err := substituteValue(pv, objects, seen, order)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case ObjectList:
		out := make([]any, len(o))
		for i, pv := range o {
			v, err := substituteValue(pv, objects, seen, order)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("docmodel: unrecognized normalized object kind at %s", at)
	}
}

func substituteValue(pv PropertyValue, objects map[oid.OID]NormalizedObject, seen map[oid.OID]bool, order *[]oid.OID) (any, error) {
	if ref, ok := pv.(ObjectRef); ok {
		return substitute(ref.ID, objects, seen, order)
	}
	return pv, nil
}

// DebugString renders a NormalizedObject as a single line, in the spirit of
// the teacher's ChotkiKVString: a compact key:value dump used by tests and
// by the export dump, never by production callers.
func DebugString(oidKey oid.OID, obj NormalizedObject) string {
	var b strings.Builder
	b.WriteString(oidKey.String())
	b.WriteString(":\t")
	switch o := obj.(type) {
	case ObjectMap:
		keys := make([]string, 0, len(o))
		for k := range o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, o[k])
		}
	case ObjectList:
		for i, pv := range o {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%v", pv)
		}
	}
	return b.String()
}
