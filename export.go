package lofi

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/cespare/xxhash"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/errs"
	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/oid"
	"github.com/fork-archive-hub/lo-fi/patch"
	"github.com/fork-archive-hub/lo-fi/store"
)

// exportedOperation pairs a stored operation with the document root it was
// filed under, since OperationsStore.IterateOverAllOperations hands both
// back separately but the wire shape of spec.md §6 is flat per-OID.
type exportedOperation struct {
	RootOID oid.OID        `json:"rootOid"`
	Op      patch.Operation `json:"op"`
}

// Bundle is the wire shape of spec.md §6's export format: every field
// verbatim as persisted, no derived state.
type Bundle struct {
	Operations   []exportedOperation `json:"operations"`
	Baselines    []store.Baseline    `json:"baselines"`
	LocalReplica *store.ReplicaInfo  `json:"localReplica"`
	Schema       *store.Schema       `json:"schema"`
}

// Export materializes the full persisted state as a Bundle plus a checksum
// over its canonical encoding, grounded on the teacher's index_manager.go
// use of cespare/xxhash for content fingerprints.
func (m *Metadata) Export() (Bundle, uint64, error) {
	if m.closed.Load() {
		return Bundle{}, 0, errs.ErrClosed
	}
	snap := m.db.NewSnapshot()
	defer snap.Close()

	var bundle Bundle
	err := m.ops.IterateOverAllOperations(snap, nil, func(root oid.OID, op patch.Operation) error {
		bundle.Operations = append(bundle.Operations, exportedOperation{RootOID: root, Op: op})
		return nil
	})
	if err != nil {
		return Bundle{}, 0, err
	}
	err = m.baselines.IterateAll(snap, func(b store.Baseline) error {
		bundle.Baselines = append(bundle.Baselines, b)
		return nil
	})
	if err != nil {
		return Bundle{}, 0, err
	}
	bundle.LocalReplica, err = m.info.GetReplica(snap)
	if err != nil {
		return Bundle{}, 0, err
	}
	bundle.Schema, err = m.info.GetSchema(snap)
	if err != nil {
		return Bundle{}, 0, err
	}

	sum, err := checksumBundle(bundle)
	if err != nil {
		return Bundle{}, 0, err
	}
	return bundle, sum, nil
}

// ResetFrom discards all persisted state and replays bundle into the store,
// after verifying wantSum against the bundle's own checksum. Per spec.md §6
// this is a full replace, not a merge: callers that want merge semantics
// should route bundle.Operations through InsertRemoteOperations instead.
func (m *Metadata) ResetFrom(bundle Bundle, wantSum uint64) error {
	if m.closed.Load() {
		return errs.ErrClosed
	}
	gotSum, err := checksumBundle(bundle)
	if err != nil {
		return err
	}
	if gotSum != wantSum {
		return errs.ErrCorruptExport
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ops.Reset(m.db); err != nil {
		return err
	}
	if err := m.baselines.Reset(m.db); err != nil {
		return err
	}

	batch := m.db.NewIndexedBatch()
	ops := make([]patch.Operation, len(bundle.Operations))
	for i, eo := range bundle.Operations {
		ops[i] = eo.Op
	}
	if _, err := m.ops.AddOperations(batch, ops); err != nil {
		return err
	}
	if err := m.baselines.SetAll(batch, bundle.Baselines); err != nil {
		return err
	}
	if err := m.db.Apply(batch, pebble.Sync); err != nil {
		return errors.Wrap(err, "lofi: reset from export")
	}

	schemaVer := m.opts.SchemaVersion
	if bundle.Schema != nil {
		if err := m.info.SetSchema(m.db, *bundle.Schema); err != nil {
			return err
		}
		schemaVer = bundle.Schema.Version
	}
	if bundle.LocalReplica != nil {
		if err := m.info.SetReplica(m.db, *bundle.LocalReplica); err != nil {
			return err
		}
		m.clock = hlc.NewLocalClock(bundle.LocalReplica.ID, schemaVer)
		if bundle.LocalReplica.AckedLogicalTime != "" {
			m.clock.See(bundle.LocalReplica.AckedLogicalTime)
		}
	}

	for _, eo := range bundle.Operations {
		m.cache.Invalidate(eo.RootOID)
		m.fireDocumentChanged(eo.RootOID)
	}
	for _, b := range bundle.Baselines {
		root := b.OID.DocumentRoot()
		m.cache.Invalidate(root)
		m.fireDocumentChanged(root)
	}
	return nil
}

// checksumBundle hashes a canonical JSON encoding of bundle. Map key
// ordering inside bundle's NormalizedObject values doesn't affect the hash:
// Go's encoding/json already sorts map keys on marshal, so the encoding is
// stable across runs for a given logical bundle.
func checksumBundle(bundle Bundle) (uint64, error) {
	sorted := bundle
	sorted.Operations = append([]exportedOperation(nil), bundle.Operations...)
	sort.Slice(sorted.Operations, func(i, j int) bool {
		if sorted.Operations[i].Op.Timestamp != sorted.Operations[j].Op.Timestamp {
			return sorted.Operations[i].Op.Timestamp < sorted.Operations[j].Op.Timestamp
		}
		return sorted.Operations[i].Op.OID < sorted.Operations[j].Op.OID
	})
	sorted.Baselines = append([]store.Baseline(nil), bundle.Baselines...)
	sort.Slice(sorted.Baselines, func(i, j int) bool { return sorted.Baselines[i].OID < sorted.Baselines[j].OID })

	raw, err := json.Marshal(sorted)
	if err != nil {
		return 0, errors.Wrap(err, "lofi: encode export bundle")
	}
	return xxhash.Sum64(raw), nil
}

// DebugDump renders every operation and baseline as one line each, in the
// spirit of the teacher's ChotkiKVString/DumpObjects: a human-readable
// listing for troubleshooting, not a format any code parses back.
func (m *Metadata) DebugDump(writer io.Writer) error {
	if m.closed.Load() {
		return errs.ErrClosed
	}
	snap := m.db.NewSnapshot()
	defer snap.Close()

	err := m.ops.IterateOverAllOperations(snap, nil, func(root oid.OID, op patch.Operation) error {
		_, err := fmt.Fprintf(writer, "%s\t%s\t%s\n", root, op.Timestamp, op.OID)
		return err
	})
	if err != nil {
		return err
	}
	return m.baselines.IterateAll(snap, func(b store.Baseline) error {
		var line string
		if b.Snapshot != nil {
			line = docmodel.DebugString(b.OID, b.Snapshot)
		} else {
			line = string(b.OID) + ": <tombstone>"
		}
		_, err := fmt.Fprintln(writer, line)
		return err
	})
}
