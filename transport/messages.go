// Package transport defines the message shapes the core hands to an
// external transport, per spec.md §6: struct definitions and an outbound
// Sink interface only, no socket or framing code — grounded on the
// teacher's packets.go message-shape idea, generalized away from its
// binary TLV framing.
package transport

import (
	"github.com/oklog/ulid/v2"

	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/patch"
	"github.com/fork-archive-hub/lo-fi/store"
)

// MessageType discriminates the three outbound message shapes of spec.md
// §6: `{type: 'operation', ...}`, `{type: 'ack', ...}`, and the internal
// rebase observer event.
type MessageType string

const (
	TypeOperation MessageType = "operation"
	TypeAck       MessageType = "ack"
	TypeRebase    MessageType = "rebase"
)

// Envelope carries a ULID so an external transport can dedupe, order, or
// log messages without inspecting their payload.
type Envelope struct {
	ID   ulid.ULID
	Type MessageType
}

// OperationMessage is `{ type: 'operation', operations, replicaId }`:
// locally produced operations this replica wants acknowledged by peers.
type OperationMessage struct {
	Envelope
	ReplicaID  string
	Operations []patch.Operation
}

// AckMessage is `{ type: 'ack', timestamp, replicaId }`: an acknowledgment
// that a replica has observed all operations up to Timestamp.
type AckMessage struct {
	Envelope
	ReplicaID string
	Timestamp hlc.Timestamp
}

// RebaseEvent is the internal observer event emitted after a local rebase
// run: the latest folded timestamp (Tmax) and the baselines that replaced
// their OIDs' operation history, for anyone watching compaction (metrics, tests, a future
// transport that wants to skip resending folded history).
type RebaseEvent struct {
	Envelope
	Tmax      hlc.Timestamp
	Baselines []store.Baseline
}

// Sink is what Metadata hands outbound messages to. The core never opens a
// socket itself (spec.md §1 Non-goals: "on-the-wire transport and socket
// handling" is an external collaborator's job); a Sink implementation
// supplied by that collaborator does the actual sending.
type Sink interface {
	SendOperation(OperationMessage) error
	SendAck(AckMessage) error
	NotifyRebase(RebaseEvent) error
}

// NewEnvelope mints a fresh envelope id for t. ULID generation is not
// deterministic across calls (it is seeded from wall time plus crypto
// randomness), so tests that need reproducible ids should compare message
// bodies rather than envelope ids.
func NewEnvelope(t MessageType) Envelope {
	return Envelope{ID: ulid.Make(), Type: t}
}

// NoopSink discards every message; useful as the default Sink when a
// Metadata instance has no transport collaborator wired in yet.
type NoopSink struct{}

func (NoopSink) SendOperation(OperationMessage) error { return nil }
func (NoopSink) SendAck(AckMessage) error             { return nil }
func (NoopSink) NotifyRebase(RebaseEvent) error       { return nil }
