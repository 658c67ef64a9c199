// Package lofi is the root façade of the synchronization and persistence
// core: document reconstruction, local/remote operation ingestion, and
// rebase scheduling, coordinating the operations/baselines/info stores
// under one lock. Grounded on the teacher's Chotki struct: a single
// *pebble.DB plus a sync.Mutex guarding id/clock allocation and batch
// commit (chotki.go's cho.lock), generalized from byte packets to typed
// Operation/Baseline values.
package lofi

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/errs"
	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/internal/logging"
	"github.com/fork-archive-hub/lo-fi/oid"
	"github.com/fork-archive-hub/lo-fi/patch"
	"github.com/fork-archive-hub/lo-fi/rebase"
	"github.com/fork-archive-hub/lo-fi/store"
	"github.com/fork-archive-hub/lo-fi/transport"
)

// Metadata coordinates the operations, baselines, and info stores behind
// one lock, per spec.md §5's single-writer ordering contract.
type Metadata struct {
	mu  sync.Mutex
	db  *pebble.DB
	dir string

	opts  Options
	clock *hlc.LocalClock
	log   logging.Logger

	ops       store.OperationsStore
	baselines store.BaselinesStore
	info      store.InfoStore
	cache     *store.SnapshotCache
	dirty     *store.DirtyRoots
	rebaser   *rebase.Engine

	hooksMu sync.Mutex
	hooks   map[oid.OID][]func(oid.OID)

	closed atomic.Bool
}

// OnDocumentChanged registers fn to be called (with rootOid) whenever a
// local insert, remote insert, or rebase touches rootOid's document, i.e.
// any OID with the same oid.DocumentRoot().
// Supplements spec.md §4.7 from the teacher's AddHook/RemoveHook/fireCalls
// pattern in chotki.go: an in-process observation hook for a reactive/UI
// layer, not a transport — the core never depends on what fn does.
func (m *Metadata) OnDocumentChanged(rootOid oid.OID, fn func(oid.OID)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks[rootOid] = append(m.hooks[rootOid], fn)
}

// DrainDirtyRoots returns every document root touched since the last call
// and clears the set, for a poll-based observer that doesn't want to
// register an OnDocumentChanged callback per root.
func (m *Metadata) DrainDirtyRoots() []oid.OID {
	return m.dirty.TakeAll()
}

func (m *Metadata) fireDocumentChanged(root oid.OID) {
	docRoot := root.DocumentRoot()
	var keys []oid.OID
	var fns []func(oid.OID)
	m.hooksMu.Lock()
	for key, registered := range m.hooks {
		if key.DocumentRoot() != docRoot {
			continue
		}
		for _, fn := range registered {
			keys = append(keys, key)
			fns = append(fns, fn)
		}
	}
	m.hooksMu.Unlock()
	for i, fn := range fns {
		fn(keys[i])
	}
}

func openDB(dir string, create bool) (*pebble.DB, error) {
	popts := &pebble.Options{}
	if dir == "" {
		popts.FS = vfs.NewMem()
	} else if create {
		popts.ErrorIfExists = true
	} else {
		popts.ErrorIfNotExists = true
	}
	return pebble.Open(dir, popts)
}

func newMetadata(db *pebble.DB, dir string, opts Options) (*Metadata, error) {
	cache, err := store.NewSnapshotCache(opts.SnapshotCacheSize)
	if err != nil {
		return nil, err
	}
	ops := store.NewPebbleOperationsStore()
	baselines := store.NewPebbleBaselinesStore()
	m := &Metadata{
		db:        db,
		dir:       dir,
		opts:      opts,
		log:       opts.Logger,
		ops:       ops,
		baselines: baselines,
		info:      store.NewPebbleInfoStore(),
		cache:     cache,
		dirty:     store.NewDirtyRoots(),
		hooks:     make(map[oid.OID][]func(oid.OID)),
	}
	m.rebaser = rebase.NewEngine(ops, baselines, opts.Logger, opts.Registerer)
	patch.SetLogger(opts.Logger)
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(store.NewPebbleCollector(db))
	}
	return m, nil
}

// Create initializes a brand-new replica, minting a fresh ReplicaID (or
// using opts.ReplicaID) and schema row, mirroring chotki.go's Create →
// Drain(init) → Close → Open round trip, collapsed into one step since
// there is no bootstrap packet log to replay here.
func Create(opts Options) (*Metadata, error) {
	opts.SetDefaults()
	db, err := openDB(opts.Dir, true)
	if err != nil {
		return nil, errors.Wrap(err, "lofi: create")
	}
	m, err := newMetadata(db, opts.Dir, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.info.SetReplica(db, store.ReplicaInfo{ID: opts.ReplicaID}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.info.SetSchema(db, store.Schema{Version: opts.SchemaVersion, Shape: json.RawMessage("null")}); err != nil {
		_ = db.Close()
		return nil, err
	}
	m.clock = hlc.NewLocalClock(opts.ReplicaID, opts.SchemaVersion)
	return m, nil
}

// Open resumes an existing replica, rehydrating the HLC from the stored
// ackedLogicalTime per spec.md §9's design note ("initialize on open,
// snapshot on close, rehydrate from ackedLogicalTime").
func Open(opts Options) (*Metadata, error) {
	opts.SetDefaults()
	db, err := openDB(opts.Dir, false)
	if err != nil {
		return nil, errors.Wrap(err, "lofi: open")
	}
	m, err := newMetadata(db, opts.Dir, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	info, err := m.info.GetReplica(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if info == nil {
		_ = db.Close()
		return nil, errs.ErrClosed
	}
	m.opts.ReplicaID = info.ID
	schemaVer := opts.SchemaVersion
	if schema, err := m.info.GetSchema(db); err == nil && schema != nil {
		schemaVer = schema.Version
	}
	m.clock = hlc.NewLocalClock(info.ID, schemaVer)
	if info.AckedLogicalTime != "" {
		m.clock.See(info.AckedLogicalTime)
	}
	return m, nil
}

// Close sets the cancellation flag checked by rebase.Engine.Run and closes
// the pebble handle. In-flight transactions complete; only future rebase
// iterations short-circuit, matching spec.md §5's cancellation contract.
func (m *Metadata) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Close()
}

// Now mints a fresh HLC timestamp. The HLC is a single-writer resource
// owned by this façade (spec.md §5); callers use this to stamp the
// Operations they hand to InsertLocalOperation.
func (m *Metadata) Now() (hlc.Timestamp, error) {
	if m.closed.Load() {
		return "", errs.ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock.Now(), nil
}

// InsertLocalOperation persists ops as local edits, emits the outbound
// operation message, and attempts an autonomous rebase if this replica has
// never synced. Per spec.md §4.7.
func (m *Metadata) InsertLocalOperation(ctx context.Context, ops []patch.Operation) (mapset.Set[oid.OID], error) {
	if m.closed.Load() {
		return nil, errs.ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stamped := make([]patch.Operation, len(ops))
	for i, op := range ops {
		op.IsLocal = true
		stamped[i] = op
	}

	batch := m.db.NewIndexedBatch()
	roots, err := m.ops.AddOperations(batch, stamped)
	if err != nil {
		return nil, err
	}
	if err := m.db.Apply(batch, pebble.Sync); err != nil {
		return nil, errors.Wrap(err, "lofi: insert local operation")
	}
	m.invalidateRoots(roots)

	if err := m.opts.Sink.SendOperation(transport.OperationMessage{
		Envelope:   transport.NewEnvelope(transport.TypeOperation),
		ReplicaID:  m.opts.ReplicaID,
		Operations: stamped,
	}); err != nil {
		m.log.WarnCtx(ctx, "outbound operation send failed", "err", err)
	}

	if !m.opts.DisableAutonomousRebase {
		info, err := m.info.GetReplica(m.db)
		if err == nil && info != nil && info.LastSyncedLogicalTime == nil {
			if err := m.runRebaseLocked(ctx, m.clock.Now()); err != nil {
				m.log.WarnCtx(ctx, "autonomous rebase failed", "err", err)
			}
		}
	}
	return roots, nil
}

// InsertRemoteOperations persists ops tagged isLocal=false, acknowledges
// the last timestamp seen, and returns the affected document roots. Per
// spec.md §4.7.
func (m *Metadata) InsertRemoteOperations(ctx context.Context, ops []patch.Operation) (mapset.Set[oid.OID], error) {
	if m.closed.Load() {
		return nil, errs.ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	remote := make([]patch.Operation, len(ops))
	for i, op := range ops {
		op.IsLocal = false
		remote[i] = op
	}

	batch := m.db.NewIndexedBatch()
	roots, err := m.ops.AddOperations(batch, remote)
	if err != nil {
		return nil, err
	}
	if err := m.db.Apply(batch, pebble.Sync); err != nil {
		return nil, errors.Wrap(err, "lofi: insert remote operations")
	}
	m.invalidateRoots(roots)

	if last := latestTimestamp(remote); last != "" {
		m.clock.See(last)
		if err := m.ackLocked(ctx, last); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// InsertRemoteBaselines persists baselines and acknowledges the last
// timestamp seen, returning the affected document roots.
func (m *Metadata) InsertRemoteBaselines(ctx context.Context, baselines []store.Baseline) (mapset.Set[oid.OID], error) {
	if m.closed.Load() {
		return nil, errs.ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.db.NewIndexedBatch()
	if err := m.baselines.SetAll(batch, baselines); err != nil {
		return nil, err
	}
	if err := m.db.Apply(batch, pebble.Sync); err != nil {
		return nil, errors.Wrap(err, "lofi: insert remote baselines")
	}

	roots := mapset.NewSet[oid.OID]()
	var lastTs hlc.Timestamp
	for _, b := range baselines {
		root := b.OID.DocumentRoot()
		roots.Add(root)
		m.cache.Invalidate(root)
		m.fireDocumentChanged(root)
		if lastTs == "" || hlc.Less(lastTs, b.Timestamp) {
			lastTs = b.Timestamp
		}
	}
	if lastTs != "" {
		m.clock.See(lastTs)
		if err := m.ackLocked(ctx, lastTs); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// Ack emits an outbound ack message and raises the local ackedLogicalTime
// monotonically.
func (m *Metadata) Ack(ctx context.Context, ts hlc.Timestamp) error {
	if m.closed.Load() {
		return errs.ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ackLocked(ctx, ts)
}

func (m *Metadata) ackLocked(ctx context.Context, ts hlc.Timestamp) error {
	info, err := m.info.GetReplica(m.db)
	if err != nil {
		return err
	}
	if info == nil {
		info = &store.ReplicaInfo{ID: m.opts.ReplicaID}
	}
	if info.AckedLogicalTime == "" || hlc.Less(info.AckedLogicalTime, ts) {
		info.AckedLogicalTime = ts
		if err := m.info.SetReplica(m.db, *info); err != nil {
			return err
		}
	}
	if err := m.opts.Sink.SendAck(transport.AckMessage{
		Envelope:  transport.NewEnvelope(transport.TypeAck),
		ReplicaID: m.opts.ReplicaID,
		Timestamp: ts,
	}); err != nil {
		m.log.WarnCtx(ctx, "outbound ack send failed", "err", err)
	}
	return nil
}

// SetGlobalAck persists the server-declared watermark and invokes rebase
// with it. This server-driven trigger runs whether or not
// DisableAutonomousRebase is set.
func (m *Metadata) SetGlobalAck(ctx context.Context, ts hlc.Timestamp) error {
	if m.closed.Load() {
		return errs.ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.info.SetGlobalAck(m.db, ts); err != nil {
		return err
	}
	info, err := m.info.GetReplica(m.db)
	if err != nil {
		return err
	}
	if info != nil {
		info.LastSyncedLogicalTime = &ts
		if err := m.info.SetReplica(m.db, *info); err != nil {
			return err
		}
	}
	return m.runRebaseLocked(ctx, ts)
}

// runRebaseLocked requires mu to already be held. It opens one indexed
// batch over the operations/baselines stores, runs the rebase engine, and
// commits the result, then notifies the sink.
func (m *Metadata) runRebaseLocked(ctx context.Context, watermark hlc.Timestamp) error {
	batch := m.db.NewIndexedBatch()
	newBaselines, err := m.rebaser.Run(ctx, batch, watermark, &m.closed)
	if err != nil {
		return err
	}
	if err := m.db.Apply(batch, pebble.Sync); err != nil {
		return errors.Wrap(err, "lofi: rebase commit")
	}
	for _, b := range newBaselines {
		root := b.OID.DocumentRoot()
		m.cache.Invalidate(root)
		m.fireDocumentChanged(root)
	}
	if len(newBaselines) == 0 {
		return nil
	}
	var tmax hlc.Timestamp
	for _, b := range newBaselines {
		if tmax == "" || hlc.Less(tmax, b.Timestamp) {
			tmax = b.Timestamp
		}
	}
	if err := m.opts.Sink.NotifyRebase(transport.RebaseEvent{
		Envelope:  transport.NewEnvelope(transport.TypeRebase),
		Tmax:      tmax,
		Baselines: newBaselines,
	}); err != nil {
		m.log.WarnCtx(ctx, "outbound rebase notify failed", "err", err)
	}
	return nil
}

// GetDocumentSnapshot loads all baselines for rootOid, folds all
// operations in timestamp order, substitutes refs, and returns the
// materialized document, or errs.ErrDocumentDeleted if the root is absent.
// Readers take a pebble snapshot so a concurrent rebase cannot be observed
// half-applied, per spec.md §5.
func (m *Metadata) GetDocumentSnapshot(rootOid oid.OID) (any, error) {
	if m.closed.Load() {
		return nil, errs.ErrClosed
	}
	if !rootOid.IsRoot() {
		return nil, errs.ErrNotRootOid
	}
	if cached, ok := m.cache.Get(rootOid); ok {
		return cached, nil
	}

	snap := m.db.NewSnapshot()
	defer snap.Close()

	objects, err := m.foldDocument(snap, rootOid)
	if err != nil {
		return nil, err
	}
	if _, ok := objects[rootOid]; !ok {
		return nil, errs.ErrDocumentDeleted
	}
	val, _, err := docmodel.SubstituteRefsWithObjects(rootOid, objects)
	if err != nil {
		return nil, err
	}
	m.cache.Put(rootOid, val)
	return val, nil
}

// GetAllDocumentRelatedOids returns the union of OIDs appearing in
// baselines and operations under rootOid — a superset of the OIDs
// actually reachable from the root value, per spec.md §4.7.
func (m *Metadata) GetAllDocumentRelatedOids(rootOid oid.OID) ([]oid.OID, error) {
	if m.closed.Load() {
		return nil, errs.ErrClosed
	}
	if !rootOid.IsRoot() {
		return nil, errs.ErrNotRootOid
	}

	snap := m.db.NewSnapshot()
	defer snap.Close()

	// Baselines are keyed by the literal OID they snapshot (rootOid and
	// every rootOid-rooted sub-object share rootOid's literal prefix via
	// Sub), so they scan on rootOid as-is. Operations are filed under
	// op.OID.DocumentRoot() (see AddOperations), so that scan must use the
	// same normalized prefix or it misses everything but a literal "root" subId.
	seen := mapset.NewSet[oid.OID]()
	baselines, err := m.baselines.GetAllForDocument(snap, rootOid)
	if err != nil {
		return nil, err
	}
	for _, b := range baselines {
		seen.Add(b.OID)
	}
	err = m.ops.IterateOverAllOperationsForDocument(snap, rootOid.DocumentRoot(), nil, func(op patch.Operation) error {
		seen.Add(op.OID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := seen.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// foldDocument builds the OID→NormalizedObject map for rootOid: baselines
// first, then every operation for the document folded in timestamp order
// via patch.Apply. An OID folded to absent (delete) is removed from the
// map entirely so SubstituteRefsWithObjects treats it as gone, not as a
// live empty object.
func (m *Metadata) foldDocument(reader pebble.Reader, rootOid oid.OID) (map[oid.OID]docmodel.NormalizedObject, error) {
	objects := make(map[oid.OID]docmodel.NormalizedObject)
	baselines, err := m.baselines.GetAllForDocument(reader, rootOid)
	if err != nil {
		return nil, err
	}
	for _, b := range baselines {
		if b.Snapshot != nil {
			objects[b.OID] = b.Snapshot
		}
	}

	err = m.ops.IterateOverAllOperationsForDocument(reader, rootOid.DocumentRoot(), nil, func(op patch.Operation) error {
		cur := objects[op.OID]
		next, err := patch.Apply(cur, op.Data)
		if err != nil {
			return err
		}
		if next == nil {
			delete(objects, op.OID)
		} else {
			objects[op.OID] = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// UpdateSchema rejects silent schema drift: if the stored version equals
// schema.Version but the shape differs, the call fails unless
// overrideConflict equals the stored (conflicting) version. A stored shape
// of JSON null (the placeholder row Create writes) counts as no shape
// recorded yet and never conflicts.
func (m *Metadata) UpdateSchema(schema store.Schema, overrideConflict *int) error {
	if m.closed.Load() {
		return errs.ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.info.GetSchema(m.db)
	if err != nil {
		return err
	}
	placeholder := existing != nil && (len(existing.Shape) == 0 || string(existing.Shape) == "null")
	if existing != nil && !placeholder && existing.Version == schema.Version && !jsonEqual(existing.Shape, schema.Shape) {
		if overrideConflict == nil || *overrideConflict != existing.Version {
			return errs.ErrSchemaDrift
		}
	}
	if err := m.info.SetSchema(m.db, schema); err != nil {
		return err
	}
	m.clock.SetSchemaVersion(schema.Version)
	return nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	aCanon, _ := json.Marshal(av)
	bCanon, _ := json.Marshal(bv)
	return string(aCanon) == string(bCanon)
}

func (m *Metadata) invalidateRoots(roots mapset.Set[oid.OID]) {
	for _, root := range roots.ToSlice() {
		m.cache.Invalidate(root)
		m.dirty.Mark(root)
		m.fireDocumentChanged(root)
	}
}

func latestTimestamp(ops []patch.Operation) hlc.Timestamp {
	var last hlc.Timestamp
	for _, op := range ops {
		if last == "" || hlc.Less(last, op.Timestamp) {
			last = op.Timestamp
		}
	}
	return last
}
