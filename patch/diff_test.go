package patch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/oid"
	"github.com/fork-archive-hub/lo-fi/patch"
)

func rootOid(t *testing.T) oid.OID {
	t.Helper()
	o, err := oid.Parse("todo/a:x")
	require.NoError(t, err)
	return o
}

func TestInitializeAndRead(t *testing.T) {
	r := rootOid(t)
	ops, err := patch.DiffToPatches(nil, r, map[string]any{"id": "a", "title": "hi"}, "T1", patch.DiffOptions{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, patch.KindInitialize, ops[0].Data.Kind)
	assert.Equal(t, r, ops[0].OID)

	obj, ok := ops[0].Data.Value.(docmodel.ObjectMap)
	require.True(t, ok)
	assert.Equal(t, "a", obj["id"])
	assert.Equal(t, "hi", obj["title"])
}

func TestNestedReplaceByIdentity(t *testing.T) {
	r := rootOid(t)
	subOid := r.Sub("sub")
	old := map[oid.OID]docmodel.NormalizedObject{
		r:      docmodel.ObjectMap{"id": "a", "sub": docmodel.ObjectRef{ID: subOid}},
		subOid: docmodel.ObjectMap{"v": 1.0},
	}
	ops, err := patch.DiffToPatches(old, r, map[string]any{
		"id":  "a",
		"sub": map[string]any{"v": 2.0},
	}, "T2", patch.DiffOptions{MergeUnknownObjects: true})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, patch.KindSet, ops[0].Data.Kind)
	assert.Equal(t, subOid, ops[0].OID)
	assert.Equal(t, "v", ops[0].Data.Name)
	assert.Equal(t, 2.0, ops[0].Data.Value)
}

func TestNestedReplaceByReassignment(t *testing.T) {
	r := rootOid(t)
	subOid := r.Sub("sub")
	old := map[oid.OID]docmodel.NormalizedObject{
		r:      docmodel.ObjectMap{"id": "a", "sub": docmodel.ObjectRef{ID: subOid}},
		subOid: docmodel.ObjectMap{"v": 1.0},
	}
	ops, err := patch.DiffToPatches(old, r, map[string]any{
		"id":  "a",
		"sub": map[string]any{"v": 2.0},
	}, "T3", patch.DiffOptions{MergeUnknownObjects: false})
	require.NoError(t, err)

	var kinds []patch.Kind
	for _, op := range ops {
		kinds = append(kinds, op.Data.Kind)
	}
	assert.Contains(t, kinds, patch.KindInitialize)
	assert.Contains(t, kinds, patch.KindSet)
	assert.Contains(t, kinds, patch.KindDelete)

	last := ops[len(ops)-1]
	assert.Equal(t, patch.KindDelete, last.Data.Kind)
	assert.Equal(t, subOid, last.OID)

	var initOid oid.OID
	for _, op := range ops {
		if op.Data.Kind == patch.KindInitialize {
			initOid = op.OID
		}
	}
	require.NotEqual(t, oid.OID(""), initOid)
	assert.NotEqual(t, subOid, initOid, "the replacement sub-object must not reuse the oid being deleted")
}

func TestListTailShrink(t *testing.T) {
	r := rootOid(t)
	old := map[oid.OID]docmodel.NormalizedObject{
		r: docmodel.ObjectList{1.0, 2.0, 3.0},
	}
	ops, err := patch.DiffToPatches(old, r, []any{1.0, 2.0}, "T4", patch.DiffOptions{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, patch.KindListDelete, ops[0].Data.Kind)
	assert.Equal(t, 2, ops[0].Data.Index)
	assert.Equal(t, 1, ops[0].Data.Count)
}

func TestShapeConflictIsFatal(t *testing.T) {
	r := rootOid(t)
	old := map[oid.OID]docmodel.NormalizedObject{
		r: docmodel.ObjectList{1.0},
	}
	_, err := patch.DiffToPatches(old, r, map[string]any{"a": 1.0}, "T5", patch.DiffOptions{})
	assert.Error(t, err)
}

func TestRemoveEmittedForDroppedKey(t *testing.T) {
	r := rootOid(t)
	old := map[oid.OID]docmodel.NormalizedObject{
		r: docmodel.ObjectMap{"a": 1.0, "b": 2.0},
	}
	ops, err := patch.DiffToPatches(old, r, map[string]any{"a": 1.0}, "T6", patch.DiffOptions{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, patch.KindRemove, ops[0].Data.Kind)
	assert.Equal(t, "b", ops[0].Data.Name)
}

func TestDefaultUndefinedSuppressesRemove(t *testing.T) {
	r := rootOid(t)
	old := map[oid.OID]docmodel.NormalizedObject{
		r: docmodel.ObjectMap{"a": 1.0, "b": 2.0},
	}
	ops, err := patch.DiffToPatches(old, r, map[string]any{"a": 1.0}, "T7", patch.DiffOptions{DefaultUndefined: true})
	require.NoError(t, err)
	assert.Empty(t, ops)
}
