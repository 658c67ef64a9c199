package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/fork-archive-hub/lo-fi/oid"
)

// SnapshotCache caches materialized getDocumentSnapshot results keyed by
// document root, grounded on the teacher's classCache/hashIndexCache LRU
// usage in index_manager.go. The facade invalidates an entry whenever a
// write touches its root; a miss simply re-folds from baselines.
type SnapshotCache struct {
	lru *lru.Cache[oid.OID, any]
}

func NewSnapshotCache(size int) (*SnapshotCache, error) {
	c, err := lru.New[oid.OID, any](size)
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{lru: c}, nil
}

func (c *SnapshotCache) Get(root oid.OID) (any, bool) { return c.lru.Get(root) }
func (c *SnapshotCache) Put(root oid.OID, v any)      { c.lru.Add(root, v) }

// Invalidate drops every cached snapshot whose OID has the same document
// root as root: writes report oid.DocumentRoot() while snapshots are cached
// under the root OID the caller asked for.
func (c *SnapshotCache) Invalidate(root oid.OID) {
	docRoot := root.DocumentRoot()
	for _, k := range c.lru.Keys() {
		if k.DocumentRoot() == docRoot {
			c.lru.Remove(k)
		}
	}
}

// DirtyRoots tracks document roots touched since the last TakeAll (the
// facade's DrainDirtyRoots), using a lock-free map so insertLocalOperation
// never blocks on a mutex just to mark a root dirty.
type DirtyRoots struct {
	m *xsync.MapOf[oid.OID, struct{}]
}

func NewDirtyRoots() *DirtyRoots {
	return &DirtyRoots{m: xsync.NewMapOf[oid.OID, struct{}]()}
}

func (d *DirtyRoots) Mark(root oid.OID) { d.m.Store(root, struct{}{}) }

// TakeAll drains every marked root, clearing the set.
func (d *DirtyRoots) TakeAll() []oid.OID {
	var out []oid.OID
	d.m.Range(func(k oid.OID, _ struct{}) bool {
		out = append(out, k)
		d.m.Delete(k)
		return true
	})
	return out
}
