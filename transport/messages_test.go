package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/transport"
)

func TestNewEnvelopeCarriesRequestedType(t *testing.T) {
	env := transport.NewEnvelope(transport.TypeAck)
	assert.Equal(t, transport.TypeAck, env.Type)
	assert.NotEqual(t, env.ID.String(), "")
}

func TestNoopSinkAcceptsEveryMessageKind(t *testing.T) {
	var sink transport.Sink = transport.NoopSink{}

	require.NoError(t, sink.SendOperation(transport.OperationMessage{
		Envelope:  transport.NewEnvelope(transport.TypeOperation),
		ReplicaID: "r1",
	}))
	require.NoError(t, sink.SendAck(transport.AckMessage{
		Envelope:  transport.NewEnvelope(transport.TypeAck),
		ReplicaID: "r1",
		Timestamp: hlc.Timestamp("0000000000001.000000.r1.1"),
	}))
	require.NoError(t, sink.NotifyRebase(transport.RebaseEvent{
		Envelope: transport.NewEnvelope(transport.TypeRebase),
	}))
}
