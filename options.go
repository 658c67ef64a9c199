package lofi

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fork-archive-hub/lo-fi/internal/logging"
	"github.com/fork-archive-hub/lo-fi/transport"
)

// Options configures a Metadata replica. Grounded on the teacher's
// chotki.Options / SetDefaults pattern.
type Options struct {
	// ReplicaID identifies this replica durably. Create mints one via
	// uuid if empty; Open requires the stored replica row to already
	// carry one and ignores this field.
	ReplicaID string

	// SchemaVersion is stamped into every locally issued HLC timestamp.
	SchemaVersion int

	// Dir is the pebble data directory. Empty means an in-memory store
	// (vfs.NewMem()), used by tests.
	Dir string

	// Sink receives outbound operation/ack/rebase messages. Defaults to
	// transport.NoopSink{} when nil.
	Sink transport.Sink

	// SnapshotCacheSize bounds the document-snapshot LRU.
	SnapshotCacheSize int

	// DisableAutonomousRebase turns off the pre-sync autonomous rebase
	// trigger of spec.md §4.8, for callers that want every operation kept
	// until a server ack arrives.
	DisableAutonomousRebase bool

	// Registerer receives the store/rebase prometheus collectors. Nil
	// skips registration (tests typically leave this nil).
	Registerer prometheus.Registerer

	Logger logging.Logger
}

// SetDefaults fills in every unset field with its production default.
func (o *Options) SetDefaults() {
	if o.ReplicaID == "" {
		o.ReplicaID = uuid.NewString()
	}
	if o.SchemaVersion == 0 {
		o.SchemaVersion = 1
	}
	if o.Sink == nil {
		o.Sink = transport.NoopSink{}
	}
	if o.SnapshotCacheSize == 0 {
		o.SnapshotCacheSize = 256
	}
	if o.Logger == nil {
		o.Logger = logging.NewDefaultLogger(slog.LevelInfo)
	}
}
