// Package patch implements the operation model described by the core spec:
// the Patch tagged union, the diff engine that produces patches from a
// before/after value pair, and the applier that folds patches onto a
// normalized baseline. Dispatch follows the teacher's rdx.RDT tagged-
// interface idiom, adapted to a single struct with a Kind discriminant
// since Go has no sum types and the variant set is closed and small.
package patch

import (
	"log/slog"
	"reflect"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/internal/logging"
	"github.com/fork-archive-hub/lo-fi/oid"
)

// Kind discriminates the Patch variants of spec.md §3.
type Kind string

const (
	KindInitialize      Kind = "initialize"
	KindSet             Kind = "set"
	KindRemove          Kind = "remove"
	KindListPush        Kind = "list-push"
	KindListInsert      Kind = "list-insert"
	KindListDelete      Kind = "list-delete"
	KindListMoveByIndex Kind = "list-move-by-index"
	KindListMoveByRef   Kind = "list-move-by-ref"
	KindListRemove      Kind = "list-remove"
	KindListAdd         Kind = "list-add"
	KindDelete          Kind = "delete"
)

// RemoveMode selects how many matches list-remove drops.
type RemoveMode string

const (
	RemoveFirst RemoveMode = "first"
	RemoveLast  RemoveMode = "last"
	RemoveAll   RemoveMode = "all"
)

// Patch is the tagged union of spec.md §3's Patch variants. Only the fields
// relevant to Kind are meaningful; the applier ignores the rest.
type Patch struct {
	Kind Kind

	Name  string                  // set (object), remove
	Value docmodel.PropertyValue  // initialize (shallow NormalizedObject), set, list-push, list-move-by-ref, list-remove, list-add
	Values []docmodel.PropertyValue // list-insert (many)

	Index int // set (array slot), list-insert, list-move-by-index (from), list-move-by-ref (to)
	To    int // list-move-by-index
	Count int // list-delete

	Only RemoveMode // list-remove
}

// Operation is a single timestamped mutation targeting one OID.
type Operation struct {
	OID       oid.OID
	Timestamp hlc.Timestamp
	Data      Patch
	IsLocal   bool
}

// DiffOptions controls the diff engine's identity and absence handling, per
// spec.md §4.2.
type DiffOptions struct {
	MergeUnknownObjects bool
	DefaultUndefined    bool
}

var log logging.Logger = logging.NewDefaultLogger(slog.LevelInfo)

// SetLogger overrides the package-level logger; the root facade calls this
// at Open time so patch-apply warnings share the caller's sink.
func SetLogger(l logging.Logger) { log = l }

func valuesEqual(a docmodel.PropertyValue, b docmodel.PropertyValue) bool {
	return reflect.DeepEqual(a, b)
}

func refID(v docmodel.PropertyValue) (oid.OID, bool) {
	if ref, ok := v.(docmodel.ObjectRef); ok {
		return ref.ID, true
	}
	return "", false
}
