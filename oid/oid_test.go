package oid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fork-archive-hub/lo-fi/oid"
)

func TestParseRoot(t *testing.T) {
	o, err := oid.Parse("todo/a:x")
	assert.NoError(t, err)
	assert.Equal(t, "todo", o.Collection())
	assert.Equal(t, "a", o.DocID())
	assert.Equal(t, "x", o.SubID())
	assert.Equal(t, "", o.Path())
	assert.True(t, o.IsRoot())
}

func TestParseSub(t *testing.T) {
	o, err := oid.Parse("todo/a:x#sub.nested")
	assert.NoError(t, err)
	assert.Equal(t, "todo", o.Collection())
	assert.Equal(t, "a", o.DocID())
	assert.Equal(t, "x", o.SubID())
	assert.Equal(t, "sub.nested", o.Path())
	assert.False(t, o.IsRoot())
}

func TestParseBareDoc(t *testing.T) {
	o, err := oid.Parse("todo/a")
	assert.NoError(t, err)
	assert.Equal(t, "a", o.DocID())
	assert.Equal(t, "", o.SubID())
}

func TestParseMalformed(t *testing.T) {
	cases := []string{"", "todo", "/a:x", "todo/", "todo/a:", "todo/a:x#"}
	for _, c := range cases {
		_, err := oid.Parse(c)
		assert.Error(t, err, c)
	}
}

func TestDocumentRootIsLexicalTruncation(t *testing.T) {
	o, err := oid.Parse("todo/a:x#sub.nested")
	assert.NoError(t, err)
	assert.Equal(t, oid.OID("todo/a:root"), o.DocumentRoot())

	root, err := oid.Parse("todo/a:root")
	assert.NoError(t, err)
	assert.Equal(t, root.DocumentRoot(), o.DocumentRoot())
}

func TestSubAccumulatesPath(t *testing.T) {
	root, err := oid.Parse("todo/a:x")
	assert.NoError(t, err)
	s1 := root.Sub("sub")
	assert.Equal(t, oid.OID("todo/a:x#sub"), s1)
	s2 := s1.Sub("nested")
	assert.Equal(t, oid.OID("todo/a:x#sub.nested"), s2)
}

func TestRootStripsPath(t *testing.T) {
	o, err := oid.Parse("todo/a:x#sub")
	assert.NoError(t, err)
	assert.Equal(t, oid.OID("todo/a:x"), o.Root())
}
