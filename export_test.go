package lofi_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fork-archive-hub/lo-fi/errs"
	"github.com/fork-archive-hub/lo-fi/patch"
)

func TestExportResetFromRoundTrip(t *testing.T) {
	src := newTestMetadata(t)
	root := mustOid(t, "todo/a:x")

	now, err := src.Now()
	require.NoError(t, err)
	_, err = src.InsertLocalOperation(context.Background(), []patch.Operation{
		{OID: root, Timestamp: now, Data: patch.Patch{Kind: patch.KindInitialize, Value: mapAsObject(t, map[string]any{"title": "hi"})}},
	})
	require.NoError(t, err)

	bundle, sum, err := src.Export()
	require.NoError(t, err)
	require.Len(t, bundle.Operations, 1)
	require.NotNil(t, bundle.LocalReplica)
	require.NotNil(t, bundle.Schema)

	dst := newTestMetadata(t)
	require.NoError(t, dst.ResetFrom(bundle, sum))

	snap, err := dst.GetDocumentSnapshot(root)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "hi"}, snap)
}

func TestResetFromRejectsBadChecksum(t *testing.T) {
	src := newTestMetadata(t)
	bundle, sum, err := src.Export()
	require.NoError(t, err)

	dst := newTestMetadata(t)
	err = dst.ResetFrom(bundle, sum+1)
	assert.ErrorIs(t, err, errs.ErrCorruptExport)
}

func TestExportChecksumStableAcrossCalls(t *testing.T) {
	m := newTestMetadata(t)
	root := mustOid(t, "todo/a:x")
	now, err := m.Now()
	require.NoError(t, err)
	_, err = m.InsertLocalOperation(context.Background(), []patch.Operation{
		{OID: root, Timestamp: now, Data: patch.Patch{Kind: patch.KindInitialize, Value: mapAsObject(t, map[string]any{"title": "hi"})}},
	})
	require.NoError(t, err)

	_, sum1, err := m.Export()
	require.NoError(t, err)
	_, sum2, err := m.Export()
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)
}

func TestDebugDumpWritesOneLinePerRow(t *testing.T) {
	m := newTestMetadata(t)
	root := mustOid(t, "todo/a:x")
	now, err := m.Now()
	require.NoError(t, err)
	_, err = m.InsertLocalOperation(context.Background(), []patch.Operation{
		{OID: root, Timestamp: now, Data: patch.Patch{Kind: patch.KindInitialize, Value: mapAsObject(t, map[string]any{"title": "hi"})}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.DebugDump(&buf))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"), "one operation row, no baselines")
}
