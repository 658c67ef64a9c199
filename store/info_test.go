package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/store"
)

func TestReplicaInfoRoundTrip(t *testing.T) {
	db := openTestDB(t)
	s := store.NewPebbleInfoStore()

	require.NoError(t, s.SetReplica(db, store.ReplicaInfo{ID: "replica-a", AckedLogicalTime: "T1"}))
	got, err := s.GetReplica(db)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "replica-a", got.ID)
	assert.Equal(t, hlc.Timestamp("T1"), got.AckedLogicalTime)
}

func TestGlobalAckAbsentUntilSet(t *testing.T) {
	db := openTestDB(t)
	s := store.NewPebbleInfoStore()

	got, err := s.GetGlobalAck(db)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SetGlobalAck(db, hlc.Timestamp("T3")))
	got, err = s.GetGlobalAck(db)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hlc.Timestamp("T3"), *got)
}

func TestSchemaRoundTrip(t *testing.T) {
	db := openTestDB(t)
	s := store.NewPebbleInfoStore()

	require.NoError(t, s.SetSchema(db, store.Schema{Version: 1, Shape: []byte(`{"shape":"A"}`)}))
	got, err := s.GetSchema(db)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Version)
}
