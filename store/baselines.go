package store

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/oid"
)

// Baseline is the folded state of a sub-object as of Timestamp, per
// spec.md §3. A nil Snapshot marks a live tombstone: a deletion that is
// still relevant because operations for OID remain.
type Baseline struct {
	OID       oid.OID
	Snapshot  docmodel.NormalizedObject
	Timestamp hlc.Timestamp
}

// BaselinesStore implements spec.md §4.6.
type BaselinesStore interface {
	Get(reader pebble.Reader, at oid.OID) (*Baseline, error)
	Set(writer pebble.Writer, b Baseline) error
	Delete(writer pebble.Writer, at oid.OID) error
	GetAllForDocument(reader pebble.Reader, rootOid oid.OID) ([]Baseline, error)
	IterateOverAllForDocument(reader pebble.Reader, rootOid oid.OID, f func(Baseline) error) error
	IterateAll(reader pebble.Reader, f func(Baseline) error) error
	SetAll(writer pebble.Writer, baselines []Baseline) error
	Reset(db *pebble.DB) error
}

type storedBaseline struct {
	Snapshot  any           `json:"snapshot"`
	Timestamp hlc.Timestamp `json:"timestamp"`
}

// PebbleBaselinesStore is the production BaselinesStore, grounded on the
// teacher's direct pebble Get/Set/iterator usage.
type PebbleBaselinesStore struct{}

func NewPebbleBaselinesStore() *PebbleBaselinesStore { return &PebbleBaselinesStore{} }

func (s *PebbleBaselinesStore) Get(reader pebble.Reader, at oid.OID) (*Baseline, error) {
	val, closer, err := reader.Get(baselineKey(at))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get baseline")
	}
	defer closer.Close()
	b, err := decodeBaseline(at, val)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PebbleBaselinesStore) Set(writer pebble.Writer, b Baseline) error {
	if b.Snapshot == nil {
		return s.Delete(writer, b.OID)
	}
	raw, err := encodeBaseline(b)
	if err != nil {
		return err
	}
	return writer.Set(baselineKey(b.OID), raw, pebble.Sync)
}

func (s *PebbleBaselinesStore) Delete(writer pebble.Writer, at oid.OID) error {
	return writer.Delete(baselineKey(at), pebble.Sync)
}

func (s *PebbleBaselinesStore) GetAllForDocument(reader pebble.Reader, rootOid oid.OID) ([]Baseline, error) {
	var out []Baseline
	err := s.IterateOverAllForDocument(reader, rootOid, func(b Baseline) error {
		out = append(out, b)
		return nil
	})
	return out, err
}

func (s *PebbleBaselinesStore) IterateOverAllForDocument(reader pebble.Reader, rootOid oid.OID, f func(Baseline) error) error {
	lower, upper := baselinePrefixForDocument(rootOid)
	it, err := reader.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errors.Wrap(err, "store: new iterator")
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		at := oid.OID(it.Key()[1:])
		b, err := decodeBaseline(at, it.Value())
		if err != nil {
			return err
		}
		if err := f(b); err != nil {
			return err
		}
	}
	return it.Error()
}

// IterateAll visits every baseline in the store, used by export/debug dump
// where no single document root is in play.
func (s *PebbleBaselinesStore) IterateAll(reader pebble.Reader, f func(Baseline) error) error {
	lower := []byte{baseline}
	upper := []byte{baseline + 1}
	it, err := reader.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errors.Wrap(err, "store: new iterator")
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		at := oid.OID(it.Key()[1:])
		b, err := decodeBaseline(at, it.Value())
		if err != nil {
			return err
		}
		if err := f(b); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *PebbleBaselinesStore) SetAll(writer pebble.Writer, baselines []Baseline) error {
	for _, b := range baselines {
		if err := s.Set(writer, b); err != nil {
			return err
		}
	}
	return nil
}

func (s *PebbleBaselinesStore) Reset(db *pebble.DB) error {
	lower := []byte{baseline}
	upper := []byte{baseline + 1}
	return db.DeleteRange(lower, upper, pebble.Sync)
}

func encodeBaseline(b Baseline) ([]byte, error) {
	return json.Marshal(storedBaseline{Snapshot: b.Snapshot, Timestamp: b.Timestamp})
}

func decodeBaseline(at oid.OID, raw []byte) (Baseline, error) {
	var wire storedBaseline
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Baseline{}, errors.Wrap(err, "store: decode baseline")
	}
	var snap docmodel.NormalizedObject
	if wire.Snapshot != nil {
		revived, err := docmodel.ReviveNormalizedObject(wire.Snapshot)
		if err != nil {
			return Baseline{}, err
		}
		snap = revived
	}
	return Baseline{OID: at, Snapshot: snap, Timestamp: wire.Timestamp}, nil
}
