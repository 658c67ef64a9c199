// Package hlc implements the hybrid logical clock described by the core
// spec, grounded on the teacher's rdx.Clock (See/Time/Src) interface shape
// but producing lexically-ordered string stamps rather than a packed
// 64-bit ID, since the spec requires lexical comparison to equal temporal
// order across replicas and schema versions.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp is a lexically-sortable HLC stamp: fixed-width wall-clock
// milliseconds, a monotonic counter, the replica id, and the schema
// version at time of issue, '.'-joined so string comparison equals
// temporal ordering.
type Timestamp string

const wallWidth = 13 // enough decimal digits for milliseconds through year 2286
const counterWidth = 6

// Clock is the interface the rest of lofi depends on; LocalClock is the
// only production implementation, mirroring the teacher's split between
// the Clock interface and LocalLogicalClock.
type Clock interface {
	// Now issues a fresh timestamp strictly greater than any previously
	// issued or observed timestamp.
	Now() Timestamp
	// See observes a foreign timestamp, raising the local clock if it is
	// ahead, so subsequent Now() calls stay strictly greater.
	See(Timestamp)
	// Src returns the replica id this clock stamps timestamps with.
	Src() string
}

// LocalClock is the single-writer HLC owned by the metadata façade.
type LocalClock struct {
	mu         sync.Mutex
	replicaID  string
	schemaVer  int
	lastWallMs int64
	counter    int64
}

// NewLocalClock constructs a clock for replicaID starting from the given
// schema version. Now reads the wall clock via time.Now(); NowAt takes the
// wall-clock reading from the caller instead.
func NewLocalClock(replicaID string, schemaVersion int) *LocalClock {
	return &LocalClock{replicaID: replicaID, schemaVer: schemaVersion}
}

// Src implements Clock.
func (c *LocalClock) Src() string { return c.replicaID }

// SetSchemaVersion updates the version stamped into future timestamps;
// called by updateSchema after a successful version bump.
func (c *LocalClock) SetSchemaVersion(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemaVer = v
}

// Now implements Clock using the real wall clock.
func (c *LocalClock) Now() Timestamp { return c.NowAt(time.Now().UnixMilli()) }

// NowAt issues a timestamp strictly greater than any previously issued or
// observed one, using wallMs as the current wall-clock reading. Exposed
// separately from Now so tests can drive the wall clock deterministically;
// production callers use Now.
func (c *LocalClock) NowAt(wallMs int64) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wallMs > c.lastWallMs {
		c.lastWallMs = wallMs
		c.counter = 0
	} else {
		c.counter++
	}
	return c.encode()
}

// See implements Clock: raising the local wall-clock component when a
// foreign timestamp is ahead of it, per spec.md §4.4.
func (c *LocalClock) See(t Timestamp) {
	wallMs, counter, _, _, err := decode(t)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if wallMs > c.lastWallMs || (wallMs == c.lastWallMs && counter >= c.counter) {
		c.lastWallMs = wallMs
		c.counter = counter
	}
}

func (c *LocalClock) encode() Timestamp {
	return Timestamp(fmt.Sprintf("%0*d.%0*d.%s.%d",
		wallWidth, c.lastWallMs,
		counterWidth, c.counter,
		c.replicaID,
		c.schemaVer,
	))
}

func decode(t Timestamp) (wallMs, counter int64, replicaID string, schemaVer int, err error) {
	parts := strings.SplitN(string(t), ".", 4)
	if len(parts) != 4 {
		return 0, 0, "", 0, fmt.Errorf("hlc: malformed timestamp %q", t)
	}
	wallMs, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, "", 0, err
	}
	counter, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, "", 0, err
	}
	replicaID = parts[2]
	schemaVer, err = strconv.Atoi(parts[3])
	if err != nil {
		return 0, 0, "", 0, err
	}
	return wallMs, counter, replicaID, schemaVer, nil
}

// ReplicaOf extracts the replica id component of a timestamp.
func ReplicaOf(t Timestamp) string {
	_, _, replica, _, err := decode(t)
	if err != nil {
		return ""
	}
	return replica
}

// Less reports whether a sorts strictly before b, which for well-formed
// timestamps of equal component widths is equivalent to string comparison;
// exposed as a named helper so callers don't need to know that.
func Less(a, b Timestamp) bool { return string(a) < string(b) }
