package rebase_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/internal/logging"
	"github.com/fork-archive-hub/lo-fi/oid"
	"github.com/fork-archive-hub/lo-fi/patch"
	"github.com/fork-archive-hub/lo-fi/rebase"
	"github.com/fork-archive-hub/lo-fi/store"
)

func openTestDB(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustOid(t *testing.T, s string) oid.OID {
	t.Helper()
	o, err := oid.Parse(s)
	require.NoError(t, err)
	return o
}

func newEngine(ops store.OperationsStore, baselines store.BaselinesStore) *rebase.Engine {
	return rebase.NewEngine(ops, baselines, logging.NewDefaultLogger(slog.LevelError), nil)
}

func TestRunFoldsOperationsIntoBaselineAtTmax(t *testing.T) {
	db := openTestDB(t)
	ops := store.NewPebbleOperationsStore()
	baselines := store.NewPebbleBaselinesStore()
	root := mustOid(t, "todo/a:x")

	t1 := hlc.Timestamp("0000000000001.000000.r1.1")
	t2 := hlc.Timestamp("0000000000002.000000.r1.1")
	_, err := ops.AddOperations(db, []patch.Operation{
		{OID: root, Timestamp: t1, Data: patch.Patch{Kind: patch.KindInitialize, Value: docmodel.ObjectMap{"title": "a"}}},
		{OID: root, Timestamp: t2, Data: patch.Patch{Kind: patch.KindSet, Name: "title", Value: "b"}},
	})
	require.NoError(t, err)

	e := newEngine(ops, baselines)
	batch := db.NewIndexedBatch()
	watermark := hlc.Timestamp("0000000000003.000000.r1.1")
	newBaselines, err := e.Run(context.Background(), batch, watermark, nil)
	require.NoError(t, err)
	require.NoError(t, db.Apply(batch, pebble.Sync))

	require.Len(t, newBaselines, 1)
	assert.Equal(t, t2, newBaselines[0].Timestamp)
	assert.Equal(t, docmodel.ObjectMap{"title": "b"}, newBaselines[0].Snapshot)

	got, err := baselines.Get(db, root)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, t2, got.Timestamp)

	var remaining []patch.Operation
	require.NoError(t, ops.IterateOverAllOperationsForDocument(db, root, nil, func(op patch.Operation) error {
		remaining = append(remaining, op)
		return nil
	}))
	assert.Empty(t, remaining)
}

func TestRunLeavesOperationsAboveWatermarkUntouched(t *testing.T) {
	db := openTestDB(t)
	ops := store.NewPebbleOperationsStore()
	baselines := store.NewPebbleBaselinesStore()
	root := mustOid(t, "todo/a:x")

	t1 := hlc.Timestamp("0000000000001.000000.r1.1")
	t2 := hlc.Timestamp("0000000000005.000000.r1.1")
	_, err := ops.AddOperations(db, []patch.Operation{
		{OID: root, Timestamp: t1, Data: patch.Patch{Kind: patch.KindInitialize, Value: docmodel.ObjectMap{"title": "a"}}},
		{OID: root, Timestamp: t2, Data: patch.Patch{Kind: patch.KindSet, Name: "title", Value: "b"}},
	})
	require.NoError(t, err)

	e := newEngine(ops, baselines)
	batch := db.NewIndexedBatch()
	watermark := hlc.Timestamp("0000000000002.000000.r1.1")
	_, err = e.Run(context.Background(), batch, watermark, nil)
	require.NoError(t, err)
	require.NoError(t, db.Apply(batch, pebble.Sync))

	got, err := baselines.Get(db, root)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, docmodel.ObjectMap{"title": "a"}, got.Snapshot)

	var remaining []patch.Operation
	require.NoError(t, ops.IterateOverAllOperationsForDocument(db, root, nil, func(op patch.Operation) error {
		remaining = append(remaining, op)
		return nil
	}))
	require.Len(t, remaining, 1)
	assert.Equal(t, t2, remaining[0].Timestamp)
}

// TestRunFoldThroughRunningResultNotOriginalBase is the spec's second Open
// Question regression: a set of a key followed by its removal, scanned
// together, must leave the key absent rather than resurrecting it by
// re-applying each op against the pre-rebase baseline independently.
func TestRunFoldThroughRunningResultNotOriginalBase(t *testing.T) {
	db := openTestDB(t)
	ops := store.NewPebbleOperationsStore()
	baselines := store.NewPebbleBaselinesStore()
	root := mustOid(t, "todo/a:x")

	require.NoError(t, baselines.Set(db, store.Baseline{
		OID:       root,
		Snapshot:  docmodel.ObjectMap{},
		Timestamp: hlc.Timestamp("0000000000001.000000.r1.1"),
	}))

	t2 := hlc.Timestamp("0000000000002.000000.r1.1")
	t3 := hlc.Timestamp("0000000000003.000000.r1.1")
	_, err := ops.AddOperations(db, []patch.Operation{
		{OID: root, Timestamp: t2, Data: patch.Patch{Kind: patch.KindSet, Name: "flag", Value: true}},
		{OID: root, Timestamp: t3, Data: patch.Patch{Kind: patch.KindRemove, Name: "flag"}},
	})
	require.NoError(t, err)

	e := newEngine(ops, baselines)
	batch := db.NewIndexedBatch()
	watermark := hlc.Timestamp("0000000000004.000000.r1.1")
	_, err = e.Run(context.Background(), batch, watermark, nil)
	require.NoError(t, err)
	require.NoError(t, db.Apply(batch, pebble.Sync))

	got, err := baselines.Get(db, root)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, docmodel.ObjectMap{}, got.Snapshot)
}

func TestRunWithNoOperationsBelowWatermarkIsNoop(t *testing.T) {
	db := openTestDB(t)
	ops := store.NewPebbleOperationsStore()
	baselines := store.NewPebbleBaselinesStore()

	e := newEngine(ops, baselines)
	batch := db.NewIndexedBatch()
	newBaselines, err := e.Run(context.Background(), batch, hlc.Timestamp("0000000000001.000000.r1.1"), nil)
	require.NoError(t, err)
	assert.Empty(t, newBaselines)
}

func TestRunDeletesBaselineWhenFoldedToAbsent(t *testing.T) {
	db := openTestDB(t)
	ops := store.NewPebbleOperationsStore()
	baselines := store.NewPebbleBaselinesStore()
	root := mustOid(t, "todo/a:x")

	t1 := hlc.Timestamp("0000000000001.000000.r1.1")
	t2 := hlc.Timestamp("0000000000002.000000.r1.1")
	require.NoError(t, baselines.Set(db, store.Baseline{OID: root, Snapshot: docmodel.ObjectMap{"a": 1.0}, Timestamp: t1}))
	_, err := ops.AddOperations(db, []patch.Operation{
		{OID: root, Timestamp: t2, Data: patch.Patch{Kind: patch.KindDelete}},
	})
	require.NoError(t, err)

	e := newEngine(ops, baselines)
	batch := db.NewIndexedBatch()
	_, err = e.Run(context.Background(), batch, hlc.Timestamp("0000000000003.000000.r1.1"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Apply(batch, pebble.Sync))

	got, err := baselines.Get(db, root)
	require.NoError(t, err)
	assert.Nil(t, got)
}
