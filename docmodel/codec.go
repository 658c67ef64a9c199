package docmodel

import (
	"encoding/json"
	"errors"

	"github.com/fork-archive-hub/lo-fi/oid"
)

var (
	errMalformedRef           = errors.New("docmodel: $ref marker did not carry a string oid")
	errUnexpectedNestedObject = errors.New("docmodel: normalized object slot contains an un-tagged nested object")
)

// ObjectRefFromOID builds an ObjectRef from a raw oid string, used when
// reviving persisted JSON where the oid arrives untyped.
func ObjectRefFromOID(id string) ObjectRef {
	return ObjectRef{ID: oid.OID(id)}
}

// refTag is the JSON marker distinguishing an ObjectRef from a plain
// object when a NormalizedObject round-trips through persistence, since
// Go's encoding/json has no way to recover a concrete Go type from a bare
// decoded map.
const refTag = "$ref"

// MarshalJSON renders an ObjectRef as {"$ref": "<oid>"}.
func (r ObjectRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{refTag: string(r.ID)})
}

// MarshalJSON renders a NormalizedForm as its OID-keyed object map, each
// value reachable through the ordinary json package since ObjectMap and
// ObjectList are just named map/slice types.
func (nf *NormalizedForm) MarshalJSON() ([]byte, error) {
	raw := make(map[string]NormalizedObject, len(nf.Objects))
	for k, v := range nf.Objects {
		raw[string(k)] = v
	}
	return json.Marshal(struct {
		Root    string                     `json:"root"`
		Objects map[string]NormalizedObject `json:"objects"`
	}{Root: string(nf.Root), Objects: raw})
}

// ReviveShallowValue converts a value produced by encoding/json's default
// decode (map[string]interface{} / []interface{} / scalars) back into a
// PropertyValue, recognizing the {"$ref": oid} marker left by
// ObjectRef.MarshalJSON. Nested composites that are not tagged as refs are
// an encoding error: a NormalizedObject's slots are shallow by invariant.
func ReviveShallowValue(raw any) (PropertyValue, error) {
	switch v := raw.(type) {
	case map[string]any:
		if len(v) == 1 {
			if id, ok := v[refTag]; ok {
				idStr, ok := id.(string)
				if !ok {
					return nil, errMalformedRef
				}
				return ObjectRefFromOID(idStr), nil
			}
		}
		return nil, errUnexpectedNestedObject
	case []any:
		return nil, errUnexpectedNestedObject
	default:
		return v, nil
	}
}

// ReviveNormalizedObject converts a decoded map[string]any or []any (the
// shape produced by json.Unmarshal into `any`) back into an ObjectMap or
// ObjectList, reviving any $ref markers along the way.
func ReviveNormalizedObject(raw any) (NormalizedObject, error) {
	switch v := raw.(type) {
	case map[string]any:
		out := make(ObjectMap, len(v))
		for k, val := range v {
			pv, err := ReviveShallowValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = pv
		}
		return out, nil
	case []any:
		out := make(ObjectList, len(v))
		for i, val := range v {
			pv, err := ReviveShallowValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = pv
		}
		return out, nil
	default:
		return nil, errUnexpectedNestedObject
	}
}
