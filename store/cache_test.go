package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fork-archive-hub/lo-fi/store"
)

func TestSnapshotCachePutGetInvalidate(t *testing.T) {
	c, err := store.NewSnapshotCache(8)
	require.NoError(t, err)
	root := mustOid(t, "todo/a:x")

	_, ok := c.Get(root)
	assert.False(t, ok)

	c.Put(root, map[string]any{"title": "hi"})
	v, ok := c.Get(root)
	require.True(t, ok)
	assert.Equal(t, "hi", v.(map[string]any)["title"])

	c.Invalidate(root)
	_, ok = c.Get(root)
	assert.False(t, ok)
}

func TestDirtyRootsMarkAndTakeAll(t *testing.T) {
	d := store.NewDirtyRoots()
	a := mustOid(t, "todo/a:x")
	b := mustOid(t, "todo/b:x")

	d.Mark(a)
	d.Mark(b)
	d.Mark(a)

	taken := d.TakeAll()
	assert.Len(t, taken, 2)
	assert.Empty(t, d.TakeAll())
}
