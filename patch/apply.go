package patch

import (
	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/errs"
)

// Apply implements spec.md §4.3: base is the current shallow normalized
// value for the target OID (nil/absent allowed iff p.Kind is initialize).
// A list-targeted patch applied to a non-array value is logged and
// returned unchanged, matching the spec's forward-progress guarantee under
// schema drift. An absent base stays absent for every kind but initialize.
func Apply(base docmodel.NormalizedObject, p Patch) (docmodel.NormalizedObject, error) {
	if p.Kind == KindInitialize {
		return cloneShallow(p.Value.(docmodel.NormalizedObject)), nil
	}
	if base == nil {
		return nil, nil
	}

	switch p.Kind {
	case KindSet:
		return applySet(base, p)
	case KindRemove:
		return applyRemove(base, p)
	case KindListPush:
		return applyListOp(base, p, applyListPush)
	case KindListInsert:
		return applyListOp(base, p, applyListInsert)
	case KindListDelete:
		return applyListOp(base, p, applyListDelete)
	case KindListMoveByIndex:
		return applyListOp(base, p, applyListMoveByIndex)
	case KindListMoveByRef:
		return applyListOp(base, p, applyListMoveByRef)
	case KindListRemove:
		return applyListOp(base, p, applyListRemove)
	case KindListAdd:
		return applyListOp(base, p, applyListAdd)
	case KindDelete:
		return nil, nil
	default:
		return nil, errs.ErrUnknownPatchKind
	}
}

// ApplyOperations folds ops onto base in array order, threading the result
// of each Apply into the next. This is the corrected semantics mandated by
// spec.md §9's second Open Question: the source passes the original base
// into every call, which drops earlier ops in the same batch; here each
// step sees the running result.
func ApplyOperations(base docmodel.NormalizedObject, ops []Patch) (docmodel.NormalizedObject, error) {
	cur := base
	for _, p := range ops {
		next, err := Apply(cur, p)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func cloneShallow(v docmodel.NormalizedObject) docmodel.NormalizedObject {
	switch o := v.(type) {
	case docmodel.ObjectMap:
		out := make(docmodel.ObjectMap, len(o))
		for k, val := range o {
			out[k] = val
		}
		return out
	case docmodel.ObjectList:
		out := make(docmodel.ObjectList, len(o))
		copy(out, o)
		return out
	default:
		return v
	}
}

func applySet(base docmodel.NormalizedObject, p Patch) (docmodel.NormalizedObject, error) {
	switch o := base.(type) {
	case docmodel.ObjectMap:
		out := cloneShallow(o).(docmodel.ObjectMap)
		out[p.Name] = p.Value
		return out, nil
	case docmodel.ObjectList:
		if p.Index < 0 || p.Index >= len(o) {
			log.Warn("set on out-of-range array index, skipping", "index", p.Index, "len", len(o))
			return base, nil
		}
		out := cloneShallow(o).(docmodel.ObjectList)
		out[p.Index] = p.Value
		return out, nil
	default:
		return base, nil
	}
}

func applyRemove(base docmodel.NormalizedObject, p Patch) (docmodel.NormalizedObject, error) {
	o, ok := base.(docmodel.ObjectMap)
	if !ok {
		log.Warn("remove applied to non-object, skipping", "kind", p.Kind)
		return base, nil
	}
	out := cloneShallow(o).(docmodel.ObjectMap)
	delete(out, p.Name)
	return out, nil
}

// applyListOp guards every list-* patch against a non-array base, matching
// spec.md §7's "list patch on non-list: logged, non-fatal, patch skipped".
func applyListOp(base docmodel.NormalizedObject, p Patch, f func(docmodel.ObjectList, Patch) docmodel.ObjectList) (docmodel.NormalizedObject, error) {
	list, ok := base.(docmodel.ObjectList)
	if !ok {
		log.Warn("list patch applied to non-array, skipping", "kind", p.Kind)
		return base, nil
	}
	if (p.Kind == KindListInsert) && p.Value == nil && len(p.Values) == 0 {
		return nil, errs.ErrEmptyListInsert
	}
	return f(list, p), nil
}

func applyListPush(list docmodel.ObjectList, p Patch) docmodel.ObjectList {
	out := append(cloneShallow(list).(docmodel.ObjectList), p.Value)
	return out
}

func applyListInsert(list docmodel.ObjectList, p Patch) docmodel.ObjectList {
	values := p.Values
	if len(values) == 0 && p.Value != nil {
		values = []docmodel.PropertyValue{p.Value}
	}
	idx := clampIndex(p.Index, len(list))
	out := make(docmodel.ObjectList, 0, len(list)+len(values))
	out = append(out, list[:idx]...)
	out = append(out, values...)
	out = append(out, list[idx:]...)
	return out
}

func applyListDelete(list docmodel.ObjectList, p Patch) docmodel.ObjectList {
	start := clampIndex(p.Index, len(list))
	end := clampIndex(p.Index+p.Count, len(list))
	if end < start {
		end = start
	}
	out := make(docmodel.ObjectList, 0, len(list)-(end-start))
	out = append(out, list[:start]...)
	out = append(out, list[end:]...)
	return out
}

func applyListMoveByIndex(list docmodel.ObjectList, p Patch) docmodel.ObjectList {
	from := clampIndex(p.Index, len(list)-1)
	to := clampIndex(p.To, len(list)-1)
	if from < 0 || to < 0 || len(list) == 0 {
		return list
	}
	out := cloneShallow(list).(docmodel.ObjectList)
	v := out[from]
	out = append(out[:from], out[from+1:]...)
	out = append(out[:to], append(docmodel.ObjectList{v}, out[to:]...)...)
	return out
}

func applyListMoveByRef(list docmodel.ObjectList, p Patch) docmodel.ObjectList {
	targetID, ok := refID(p.Value)
	if !ok {
		log.Warn("list-move-by-ref with non-ref value, skipping")
		return list
	}
	from := -1
	for i, v := range list {
		if id, ok := refID(v); ok && id == targetID {
			from = i
			break
		}
	}
	if from < 0 {
		return list
	}
	moved := Patch{Kind: KindListMoveByIndex, Index: from, To: p.Index}
	return applyListMoveByIndex(list, moved)
}

func applyListRemove(list docmodel.ObjectList, p Patch) docmodel.ObjectList {
	matches := func(v docmodel.PropertyValue) bool {
		if targetID, ok := refID(p.Value); ok {
			id, ok2 := refID(v)
			return ok2 && id == targetID
		}
		return valuesEqual(v, p.Value)
	}

	switch p.Only {
	case RemoveFirst:
		for i, v := range list {
			if matches(v) {
				out := make(docmodel.ObjectList, 0, len(list)-1)
				out = append(out, list[:i]...)
				out = append(out, list[i+1:]...)
				return out
			}
		}
		return list
	case RemoveLast:
		for i := len(list) - 1; i >= 0; i-- {
			if matches(list[i]) {
				out := make(docmodel.ObjectList, 0, len(list)-1)
				out = append(out, list[:i]...)
				out = append(out, list[i+1:]...)
				return out
			}
		}
		return list
	default: // RemoveAll, or unspecified: remove every occurrence
		out := make(docmodel.ObjectList, 0, len(list))
		for _, v := range list {
			if !matches(v) {
				out = append(out, v)
			}
		}
		return out
	}
}

func applyListAdd(list docmodel.ObjectList, p Patch) docmodel.ObjectList {
	targetID, isRef := refID(p.Value)
	for _, v := range list {
		if isRef {
			if id, ok := refID(v); ok && id == targetID {
				return list
			}
			continue
		}
		if valuesEqual(v, p.Value) {
			return list
		}
	}
	return append(cloneShallow(list).(docmodel.ObjectList), p.Value)
}

func clampIndex(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}
