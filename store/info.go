package store

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/fork-archive-hub/lo-fi/hlc"
)

// ReplicaInfo is spec.md's LocalReplicaInfo: the local replica's own
// identity and the watermarks it tracks against the server.
type ReplicaInfo struct {
	ID                    string
	AckedLogicalTime      hlc.Timestamp
	LastSyncedLogicalTime *hlc.Timestamp
}

// Schema is the opaque, versioned schema row. Schema shape definition is
// out of scope for this layer; updateSchema only ever compares Version and
// the JSON content of Shape for drift detection.
type Schema struct {
	Version int
	Shape   json.RawMessage
}

// InfoStore persists the singleton rows described in spec.md §6:
// local replica identity, the global ack watermark, and the stored schema.
type InfoStore interface {
	GetReplica(reader pebble.Reader) (*ReplicaInfo, error)
	SetReplica(writer pebble.Writer, info ReplicaInfo) error
	GetGlobalAck(reader pebble.Reader) (*hlc.Timestamp, error)
	SetGlobalAck(writer pebble.Writer, ts hlc.Timestamp) error
	GetSchema(reader pebble.Reader) (*Schema, error)
	SetSchema(writer pebble.Writer, s Schema) error
}

type PebbleInfoStore struct{}

func NewPebbleInfoStore() *PebbleInfoStore { return &PebbleInfoStore{} }

func (s *PebbleInfoStore) GetReplica(reader pebble.Reader) (*ReplicaInfo, error) {
	var info ReplicaInfo
	ok, err := getInfoRow(reader, infoLocalReplica, &info)
	if !ok || err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *PebbleInfoStore) SetReplica(writer pebble.Writer, info ReplicaInfo) error {
	return setInfoRow(writer, infoLocalReplica, info)
}

func (s *PebbleInfoStore) GetGlobalAck(reader pebble.Reader) (*hlc.Timestamp, error) {
	var ts hlc.Timestamp
	ok, err := getInfoRow(reader, infoGlobalAck, &ts)
	if !ok || err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *PebbleInfoStore) SetGlobalAck(writer pebble.Writer, ts hlc.Timestamp) error {
	return setInfoRow(writer, infoGlobalAck, ts)
}

func (s *PebbleInfoStore) GetSchema(reader pebble.Reader) (*Schema, error) {
	var schema Schema
	ok, err := getInfoRow(reader, infoSchema, &schema)
	if !ok || err != nil {
		return nil, err
	}
	return &schema, nil
}

func (s *PebbleInfoStore) SetSchema(writer pebble.Writer, schema Schema) error {
	return setInfoRow(writer, infoSchema, schema)
}

func getInfoRow(reader pebble.Reader, name string, out any) (bool, error) {
	val, closer, err := reader.Get(infoKey(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "store: get info row")
	}
	defer closer.Close()
	if err := json.Unmarshal(val, out); err != nil {
		return false, errors.Wrap(err, "store: decode info row")
	}
	return true, nil
}

func setInfoRow(writer pebble.Writer, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writer.Set(infoKey(name), raw, pebble.Sync)
}
