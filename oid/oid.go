// Package oid implements the object-identifier grammar and codec described
// in the core spec: a string naming a sub-object within a document,
// collection/docId(:subId(#path)?)?. The parser is a hand-rolled byte scan
// in the teacher's id.go style (no regexp) rather than a generic grammar
// library, since the grammar is small, fixed, and performance-sensitive
// (every normalize/diff/apply call parses or builds an OID).
package oid

import (
	"strings"

	"github.com/fork-archive-hub/lo-fi/errs"
)

// OID addresses a single sub-object within a document. The zero value is
// not a valid OID; construct one via Parse, New, or Sub.
type OID string

const (
	collSep = '/'
	subSep  = ':'
	pathSep = '#'
)

// New builds a root OID for a document: collection/docId:subId.
func New(collection, docID, subID string) OID {
	var b strings.Builder
	b.WriteString(collection)
	b.WriteByte(collSep)
	b.WriteString(docID)
	b.WriteByte(subSep)
	b.WriteString(subID)
	return OID(b.String())
}

// Parse validates and returns o as a typed OID. It does not allocate.
func Parse(s string) (OID, error) {
	if s == "" {
		return "", errs.ErrBadOid
	}
	slash := strings.IndexByte(s, collSep)
	if slash <= 0 || slash == len(s)-1 {
		return "", errs.ErrBadOid
	}
	rest := s[slash+1:]
	if rest == "" {
		return "", errs.ErrBadOid
	}
	// docId must be non-empty; if a ':' is present subId must be non-empty too.
	if colon := strings.IndexByte(rest, subSep); colon == 0 {
		return "", errs.ErrBadOid
	} else if colon >= 0 {
		sub := rest[colon+1:]
		if hash := strings.IndexByte(sub, pathSep); hash == 0 || (hash > 0 && hash == len(sub)-1) {
			return "", errs.ErrBadOid
		} else if sub == "" {
			return "", errs.ErrBadOid
		}
	}
	return OID(s), nil
}

// Collection returns the collection segment.
func (o OID) Collection() string {
	s := string(o)
	if i := strings.IndexByte(s, collSep); i >= 0 {
		return s[:i]
	}
	return ""
}

// DocID returns the docId segment (the part between '/' and the first ':').
func (o OID) DocID() string {
	s := string(o)
	i := strings.IndexByte(s, collSep)
	if i < 0 {
		return ""
	}
	rest := s[i+1:]
	if c := strings.IndexByte(rest, subSep); c >= 0 {
		return rest[:c]
	}
	return rest
}

// SubID returns the subId segment, or "" if the OID has none (bare doc ref).
func (o OID) SubID() string {
	s := string(o)
	c := strings.IndexByte(s, subSep)
	if c < 0 {
		return ""
	}
	rest := s[c+1:]
	if h := strings.IndexByte(rest, pathSep); h >= 0 {
		return rest[:h]
	}
	return rest
}

// Path returns the '#'-prefixed key-path suffix without the '#', or "" if
// this is a root OID.
func (o OID) Path() string {
	s := string(o)
	if h := strings.IndexByte(s, pathSep); h >= 0 {
		return s[h+1:]
	}
	return ""
}

// IsRoot reports whether o has no '#' path component.
func (o OID) IsRoot() bool {
	return strings.IndexByte(string(o), pathSep) < 0
}

// Root strips any '#path' suffix, returning the OID of the addressed
// sub-object's own identity (not necessarily the document root).
func (o OID) Root() OID {
	s := string(o)
	if h := strings.IndexByte(s, pathSep); h >= 0 {
		return OID(s[:h])
	}
	return o
}

// DocumentRoot returns the OID of the document root: the collection/docId
// prefix with any subId replaced by the document's root subId and any
// '#path' suffix stripped. It is derivable by lexical truncation alone, per
// the core spec's invariant, with no store lookup required.
func (o OID) DocumentRoot() OID {
	s := string(o)
	if h := strings.IndexByte(s, pathSep); h >= 0 {
		s = s[:h]
	}
	if c := strings.IndexByte(s, subSep); c >= 0 {
		s = s[:c]
	}
	return OID(s + string(subSep) + RootSubID)
}

// RootSubID is the conventional subId assigned to a document's root
// sub-object when one is created without an explicit id.
const RootSubID = "root"

// PathSep is the '#' byte separating a root OID from its key-path suffix,
// exported for store's prefix-scan bound construction.
const PathSep = pathSep

// Sub derives the OID of a nested sub-object addressed by a key path
// relative to parent. The path segments are joined with '.', matching the
// normalization algorithm's keyPath accumulation.
func (parent OID) Sub(path string) OID {
	existing := parent.Path()
	if existing != "" {
		path = existing + "." + path
	}
	return OID(string(parent.Root()) + string(pathSep) + path)
}

// String implements fmt.Stringer.
func (o OID) String() string { return string(o) }
