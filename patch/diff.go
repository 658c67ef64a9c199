package patch

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/errs"
	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/oid"
)

// DiffToPatches implements spec.md §4.2: given the prior normalized form
// (objects, possibly not containing rootOid at all for a brand-new
// document) and a fresh denormalized value `to`, emits an ordered list of
// Operations that would bring the stored state to `to`.
func DiffToPatches(objects map[oid.OID]docmodel.NormalizedObject, rootOid oid.OID, to any, now hlc.Timestamp, opts DiffOptions) ([]Operation, error) {
	if _, hadOld := objects[rootOid]; !hadOld {
		return InitialToPatches(to, rootOid, now)
	}
	var out []Operation
	if err := diffObject(objects, rootOid, to, now, opts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InitialToPatches normalizes value (minting OIDs throughout rooted at
// atOid) and emits one `initialize` Operation per resulting entry, in OID
// order for determinism.
func InitialToPatches(value any, atOid oid.OID, now hlc.Timestamp) ([]Operation, error) {
	nf, err := docmodel.Normalize(value, atOid)
	if err != nil {
		return nil, err
	}
	keys := make([]oid.OID, 0, len(nf.Objects))
	for k := range nf.Objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	ops := make([]Operation, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, Operation{
			OID:       k,
			Timestamp: now,
			Data:      Patch{Kind: KindInitialize, Value: nf.Objects[k]},
		})
	}
	return ops, nil
}

func diffObject(objects map[oid.OID]docmodel.NormalizedObject, atOid oid.OID, to any, now hlc.Timestamp, opts DiffOptions, out *[]Operation) error {
	oldObj, hadOld := objects[atOid]

	switch toVal := to.(type) {
	case []any:
		oldList, oldIsList := oldObj.(docmodel.ObjectList)
		if hadOld && !oldIsList {
			return errs.ErrShapeConflict
		}
		for i, v := range toVal {
			var slot docmodel.PropertyValue
			had := i < len(oldList)
			if had {
				slot = oldList[i]
			}
			if err := diffItem(objects, atOid, strconv.Itoa(i), v, slot, had, now, opts, out); err != nil {
				return err
			}
		}
		if oldIsList && len(oldList) > len(toVal) {
			for _, dropped := range oldList[len(toVal):] {
				if id, ok := refID(dropped); ok {
					*out = append(*out, Operation{OID: id, Timestamp: now, Data: Patch{Kind: KindDelete}})
				}
			}
			*out = append(*out, Operation{
				OID: atOid, Timestamp: now,
				Data: Patch{Kind: KindListDelete, Index: len(toVal), Count: len(oldList) - len(toVal)},
			})
		}
		return nil

	case map[string]any:
		oldMap, oldIsMap := oldObj.(docmodel.ObjectMap)
		if hadOld && !oldIsMap {
			return errs.ErrShapeConflict
		}
		keys := make([]string, 0, len(toVal))
		for k := range toVal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			var slot docmodel.PropertyValue
			had := false
			if oldIsMap {
				slot, had = oldMap[key]
			}
			if err := diffItem(objects, atOid, key, toVal[key], slot, had, now, opts, out); err != nil {
				return err
			}
		}
		if oldIsMap && !opts.DefaultUndefined {
			droppedKeys := make([]string, 0)
			for key := range oldMap {
				if _, present := toVal[key]; !present {
					droppedKeys = append(droppedKeys, key)
				}
			}
			sort.Strings(droppedKeys)
			for _, key := range droppedKeys {
				*out = append(*out, Operation{OID: atOid, Timestamp: now, Data: Patch{Kind: KindRemove, Name: key}})
			}
		}
		return nil

	default:
		return errs.ErrShapeConflict
	}
}

// diffItem implements spec.md §4.2's per-slot rule: a scalar slot emits a
// `set` on strict inequality; a composite slot either recurses under a
// reused OID (mergeUnknownObjects, identity preserved) or mints a fresh
// sub-object via initialize+set+delete.
func diffItem(objects map[oid.OID]docmodel.NormalizedObject, parent oid.OID, key string, newVal any, oldSlot docmodel.PropertyValue, hadOldSlot bool, now hlc.Timestamp, opts DiffOptions, out *[]Operation) error {
	switch nv := newVal.(type) {
	case map[string]any, []any:
		if opts.MergeUnknownObjects {
			if reuseOid, ok := refID(oldSlot); ok {
				return diffObject(objects, reuseOid, nv, now, opts, out)
			}
		}
		// A fresh identity, not parent.Sub(key): that formula is purely a
		// function of (parent, key), so a second reassignment of this same
		// slot would mint the very same oid the old occupant already has,
		// colliding with (and destroying) the object this replaces.
		valueOid := parent.Sub(key + "@" + uuid.NewString())
		initOps, err := InitialToPatches(nv, valueOid, now)
		if err != nil {
			return err
		}
		*out = append(*out, initOps...)
		*out = append(*out, Operation{
			OID: parent, Timestamp: now,
			Data: Patch{Kind: KindSet, Name: key, Value: docmodel.ObjectRef{ID: valueOid}},
		})
		if oldRef, ok := refID(oldSlot); ok {
			*out = append(*out, Operation{OID: oldRef, Timestamp: now, Data: Patch{Kind: KindDelete}})
		}
		return nil

	default:
		if oldRef, ok := refID(oldSlot); ok {
			*out = append(*out, Operation{OID: oldRef, Timestamp: now, Data: Patch{Kind: KindDelete}})
			*out = append(*out, Operation{OID: parent, Timestamp: now, Data: Patch{Kind: KindSet, Name: key, Value: nv}})
			return nil
		}
		if !hadOldSlot || !valuesEqual(oldSlot, nv) {
			*out = append(*out, Operation{OID: parent, Timestamp: now, Data: Patch{Kind: KindSet, Name: key, Value: nv}})
		}
		return nil
	}
}

// ShallowDiff operates on two already-normalized values at the same OID:
// no recursion, and a nested raw object/array slot (one that should have
// been an ObjectRef already) is an error rather than something to
// normalize on the fly.
func ShallowDiff(old, new docmodel.NormalizedObject, atOid oid.OID, now hlc.Timestamp, opts DiffOptions) ([]Operation, error) {
	var out []Operation

	switch nv := new.(type) {
	case docmodel.ObjectList:
		ov, oIsList := old.(docmodel.ObjectList)
		if old != nil && !oIsList {
			return nil, errs.ErrShapeConflict
		}
		for i, v := range nv {
			if isComposite(v) {
				return nil, fmt.Errorf("patch: shallow diff encountered nested value at index %d", i)
			}
			var slot docmodel.PropertyValue
			had := i < len(ov)
			if had {
				slot = ov[i]
			}
			if !had || !valuesEqual(slot, v) {
				out = append(out, Operation{OID: atOid, Timestamp: now, Data: Patch{Kind: KindSet, Index: i, Value: v}})
			}
		}
		if oIsList && len(ov) > len(nv) {
			out = append(out, Operation{OID: atOid, Timestamp: now, Data: Patch{Kind: KindListDelete, Index: len(nv), Count: len(ov) - len(nv)}})
		}
		return out, nil

	case docmodel.ObjectMap:
		ov, oIsMap := old.(docmodel.ObjectMap)
		if old != nil && !oIsMap {
			return nil, errs.ErrShapeConflict
		}
		keys := make([]string, 0, len(nv))
		for k := range nv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			v := nv[key]
			if isComposite(v) {
				return nil, fmt.Errorf("patch: shallow diff encountered nested value at key %q", key)
			}
			var slot docmodel.PropertyValue
			had := false
			if oIsMap {
				slot, had = ov[key]
			}
			if !had || !valuesEqual(slot, v) {
				out = append(out, Operation{OID: atOid, Timestamp: now, Data: Patch{Kind: KindSet, Name: key, Value: v}})
			}
		}
		if oIsMap && !opts.DefaultUndefined {
			dropped := make([]string, 0)
			for key := range ov {
				if _, present := nv[key]; !present {
					dropped = append(dropped, key)
				}
			}
			sort.Strings(dropped)
			for _, key := range dropped {
				out = append(out, Operation{OID: atOid, Timestamp: now, Data: Patch{Kind: KindRemove, Name: key}})
			}
		}
		return out, nil

	default:
		return nil, errs.ErrShapeConflict
	}
}

func isComposite(v docmodel.PropertyValue) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
