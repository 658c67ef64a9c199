// Package errs collects the sentinel errors shared across lofi's
// subsystems, mirroring the teacher's chotki_errors package.
package errs

import "errors"

var (
	// ErrShapeConflict is returned by the diff engine when from/to disagree
	// on array-vs-object shape at the same key path.
	ErrShapeConflict = errors.New("lofi: array/object shape conflict in diff")

	// ErrMissingRef is returned by SubstituteRefsWithObjects when an
	// ObjectRef has no corresponding entry in the supplied OID map.
	ErrMissingRef = errors.New("lofi: object reference has no entry in map")

	// ErrNotRootOid is returned by document-level APIs given a non-root OID.
	ErrNotRootOid = errors.New("lofi: expected a document root oid")

	// ErrUnknownPatchKind is returned by the applier on an unrecognized tag.
	ErrUnknownPatchKind = errors.New("lofi: unknown patch kind")

	// ErrEmptyListInsert is returned by list-insert with no values.
	ErrEmptyListInsert = errors.New("lofi: list-insert requires at least one value")

	// ErrSchemaDrift is returned by updateSchema on silent version collision.
	ErrSchemaDrift = errors.New("lofi: schema version collision without override")

	// ErrBadOid is returned by oid.Parse on a malformed string.
	ErrBadOid = errors.New("lofi: malformed object identifier")

	// ErrClosed is returned by any store/facade operation after Close.
	ErrClosed = errors.New("lofi: no replica open")

	// ErrDocumentDeleted is returned by GetDocumentSnapshot when the root is absent.
	ErrDocumentDeleted = errors.New("lofi: document root is deleted")

	// ErrCorruptExport is returned by resetFrom when the checksum doesn't match.
	ErrCorruptExport = errors.New("lofi: export checksum mismatch")
)
