package store_test

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/oid"
	"github.com/fork-archive-hub/lo-fi/patch"
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

func TestAddAndIterateOperationsForDocument(t *testing.T) {
	db := openTestDB(t)
	s := store.NewPebbleOperationsStore()
	root := mustOid(t, "todo/a:x")

	ops := []patch.Operation{
		{OID: root, Timestamp: hlc.Timestamp("0000000000001.000000.r1.1"), Data: patch.Patch{Kind: patch.KindSet, Name: "title", Value: "hi"}},
		{OID: root, Timestamp: hlc.Timestamp("0000000000002.000000.r1.1"), Data: patch.Patch{Kind: patch.KindSet, Name: "title", Value: "bye"}},
	}
	roots, err := s.AddOperations(db, ops)
	require.NoError(t, err)
	assert.True(t, roots.Contains(root.DocumentRoot()))

	var seen []patch.Operation
	err = s.IterateOverAllOperationsForDocument(db, root, nil, func(op patch.Operation) error {
		seen = append(seen, op)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, "hi", seen[0].Data.Value)
	assert.Equal(t, "bye", seen[1].Data.Value)
}

func TestIterateOverAllOperationsForDocumentTruncatesAtTo(t *testing.T) {
	db := openTestDB(t)
	s := store.NewPebbleOperationsStore()
	root := mustOid(t, "todo/a:x")

	ops := []patch.Operation{
		{OID: root, Timestamp: hlc.Timestamp("0000000000001.000000.r1.1"), Data: patch.Patch{Kind: patch.KindSet, Name: "a", Value: 1.0}},
		{OID: root, Timestamp: hlc.Timestamp("0000000000002.000000.r1.1"), Data: patch.Patch{Kind: patch.KindSet, Name: "a", Value: 2.0}},
	}
	_, err := s.AddOperations(db, ops)
	require.NoError(t, err)

	cutoff := hlc.Timestamp("0000000000001.000000.r1.1")
	var seen []patch.Operation
	err = s.IterateOverAllOperationsForDocument(db, root, &cutoff, func(op patch.Operation) error {
		seen = append(seen, op)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, 1.0, seen[0].Data.Value)
}

func TestDeleteOperationRemovesIt(t *testing.T) {
	db := openTestDB(t)
	s := store.NewPebbleOperationsStore()
	root := mustOid(t, "todo/a:x")
	ts := hlc.Timestamp("0000000000001.000000.r1.1")

	_, err := s.AddOperations(db, []patch.Operation{
		{OID: root, Timestamp: ts, Data: patch.Patch{Kind: patch.KindSet, Name: "a", Value: 1.0}},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteOperation(db, root, root, ts))

	var seen []patch.Operation
	err = s.IterateOverAllOperationsForDocument(db, root, nil, func(op patch.Operation) error {
		seen = append(seen, op)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, seen)
}
