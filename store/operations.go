package store

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/oid"
	"github.com/fork-archive-hub/lo-fi/patch"
)

// OperationsStore implements spec.md §4.5: an append-only, timestamp-
// ordered index of operations, keyed by (oid, timestamp) with secondary
// access by exact OID and by document root.
type OperationsStore interface {
	AddOperations(writer pebble.Writer, ops []patch.Operation) (mapset.Set[oid.OID], error)
	IterateOverAllOperationsForDocument(reader pebble.Reader, rootOid oid.OID, to *hlc.Timestamp, f func(patch.Operation) error) error
	IterateOverAllOperationsForEntity(reader pebble.Reader, rootOid, at oid.OID, to *hlc.Timestamp, f func(patch.Operation) error) error
	IterateOverAllOperations(reader pebble.Reader, before *hlc.Timestamp, f func(rootOid oid.OID, op patch.Operation) error) error
	DeleteOperation(writer pebble.Writer, rootOid, at oid.OID, ts hlc.Timestamp) error
	Reset(db *pebble.DB) error
}

type storedPatch struct {
	Kind   patch.Kind `json:"kind"`
	Name   string     `json:"name,omitempty"`
	Value  any        `json:"value,omitempty"`
	Values []any      `json:"values,omitempty"`
	Index  int        `json:"index,omitempty"`
	To     int         `json:"to,omitempty"`
	Count  int        `json:"count,omitempty"`
	Only   patch.RemoveMode `json:"only,omitempty"`
}

func encodeOperation(op patch.Operation) ([]byte, error) {
	sp := storedPatch{
		Kind: op.Data.Kind, Name: op.Data.Name, Value: op.Data.Value,
		Index: op.Data.Index, To: op.Data.To, Count: op.Data.Count, Only: op.Data.Only,
	}
	for _, v := range op.Data.Values {
		sp.Values = append(sp.Values, v)
	}
	return json.Marshal(struct {
		Data    storedPatch `json:"data"`
		IsLocal bool        `json:"isLocal"`
	}{Data: sp, IsLocal: op.IsLocal})
}

func decodeOperation(rootOid, at oid.OID, ts hlc.Timestamp, raw []byte) (patch.Operation, error) {
	var wire struct {
		Data    storedPatch `json:"data"`
		IsLocal bool        `json:"isLocal"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return patch.Operation{}, errors.Wrap(err, "store: decode operation")
	}
	value, err := reviveMaybeRef(wire.Data.Value)
	if err != nil {
		return patch.Operation{}, err
	}
	var values []docmodel.PropertyValue
	for _, v := range wire.Data.Values {
		rv, err := reviveMaybeRef(v)
		if err != nil {
			return patch.Operation{}, err
		}
		values = append(values, rv)
	}
	_ = rootOid
	return patch.Operation{
		OID:       at,
		Timestamp: ts,
		IsLocal:   wire.IsLocal,
		Data: patch.Patch{
			Kind: wire.Data.Kind, Name: wire.Data.Name, Value: value, Values: values,
			Index: wire.Data.Index, To: wire.Data.To, Count: wire.Data.Count, Only: wire.Data.Only,
		},
	}, nil
}

// reviveMaybeRef converts a decoded JSON value back into a PropertyValue.
// Unlike docmodel.ReviveShallowValue, a patch's "value" may legitimately be
// a full shallow NormalizedObject (the initialize kind), so nested
// map/slice values that aren't a bare $ref marker are revived as such
// rather than rejected.
func reviveMaybeRef(v any) (docmodel.PropertyValue, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if ok {
		if pv, err := docmodel.ReviveShallowValue(m); err == nil {
			return pv, nil
		}
		return docmodel.ReviveNormalizedObject(m)
	}
	if _, ok := v.([]any); ok {
		return docmodel.ReviveNormalizedObject(v)
	}
	return v, nil
}

// PebbleOperationsStore is the production OperationsStore, grounded on the
// teacher's direct pebble batch/iterator usage in chotki.go.
type PebbleOperationsStore struct{}

func NewPebbleOperationsStore() *PebbleOperationsStore { return &PebbleOperationsStore{} }

func (s *PebbleOperationsStore) AddOperations(writer pebble.Writer, ops []patch.Operation) (mapset.Set[oid.OID], error) {
	roots := mapset.NewSet[oid.OID]()
	for _, op := range ops {
		root := op.OID.DocumentRoot()
		key := operationKey(root, op.OID, op.Timestamp)
		val, err := encodeOperation(op)
		if err != nil {
			return nil, err
		}
		if err := writer.Set(key, val, pebble.Sync); err != nil {
			return nil, errors.Wrap(err, "store: add operation")
		}
		roots.Add(root)
	}
	return roots, nil
}

func (s *PebbleOperationsStore) DeleteOperation(writer pebble.Writer, rootOid, at oid.OID, ts hlc.Timestamp) error {
	return writer.Delete(operationKey(rootOid.DocumentRoot(), at, ts), pebble.Sync)
}

func (s *PebbleOperationsStore) IterateOverAllOperationsForDocument(reader pebble.Reader, rootOid oid.OID, to *hlc.Timestamp, f func(patch.Operation) error) error {
	lower, upper := operationPrefixForDocument(rootOid.DocumentRoot())
	return s.scan(reader, lower, upper, to, func(root, at oid.OID, ts hlc.Timestamp, raw []byte) error {
		op, err := decodeOperation(root, at, ts, raw)
		if err != nil {
			return err
		}
		return f(op)
	})
}

func (s *PebbleOperationsStore) IterateOverAllOperationsForEntity(reader pebble.Reader, rootOid, at oid.OID, to *hlc.Timestamp, f func(patch.Operation) error) error {
	lower, upper := operationPrefixForEntity(rootOid, at)
	return s.scan(reader, lower, upper, to, func(root, at oid.OID, ts hlc.Timestamp, raw []byte) error {
		op, err := decodeOperation(root, at, ts, raw)
		if err != nil {
			return err
		}
		return f(op)
	})
}

func (s *PebbleOperationsStore) IterateOverAllOperations(reader pebble.Reader, before *hlc.Timestamp, f func(oid.OID, patch.Operation) error) error {
	lower, upper := operationGlobalBounds()
	return s.scan(reader, lower, upper, before, func(root, at oid.OID, ts hlc.Timestamp, raw []byte) error {
		op, err := decodeOperation(root, at, ts, raw)
		if err != nil {
			return err
		}
		return f(root, op)
	})
}

func (s *PebbleOperationsStore) scan(reader pebble.Reader, lower, upper []byte, to *hlc.Timestamp, f func(root, at oid.OID, ts hlc.Timestamp, raw []byte) error) error {
	it, err := reader.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errors.Wrap(err, "store: new iterator")
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		root, at, ts := splitOperationKey(it.Key())
		if to != nil && hlc.Less(*to, ts) {
			continue
		}
		if err := f(root, at, ts, it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *PebbleOperationsStore) Reset(db *pebble.DB) error {
	lower, upper := operationGlobalBounds()
	return db.DeleteRange(lower, upper, pebble.Sync)
}

