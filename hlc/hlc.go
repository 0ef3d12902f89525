// Package hlc implements the hybrid logical clock used to causally order
// local edits and merged remote rows (spec.md §4.1).
package hlc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp is an (ms, counter, nodeID) triple. The zero value sorts before
// every timestamp issued by a real Clock.
type Timestamp struct {
	Millis  int64
	Counter uint32
	NodeID  string
}

// Compare returns -1, 0, or 1 as t sorts before, equal to, or after o,
// comparing lexicographically on (Millis, Counter, NodeID).
func (t Timestamp) Compare(o Timestamp) int {
	if t.Millis != o.Millis {
		if t.Millis < o.Millis {
			return -1
		}
		return 1
	}
	if t.Counter != o.Counter {
		if t.Counter < o.Counter {
			return -1
		}
		return 1
	}
	return strings.Compare(t.NodeID, o.NodeID)
}

func (t Timestamp) Less(o Timestamp) bool    { return t.Compare(o) < 0 }
func (t Timestamp) After(o Timestamp) bool   { return t.Compare(o) > 0 }
func (t Timestamp) IsZero() bool             { return t == Timestamp{} }

func max(a, b Timestamp) Timestamp {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// delimiter separates the three fields of the wire format. It must never
// appear in a nodeID.
const delimiter = ":"

// String renders the wire format. Its lexicographic sort order matches the
// numeric order of the triple: fixed-width zero-padded millis and counter
// guarantee that.
func (t Timestamp) String() string {
	return fmt.Sprintf("%020d%s%010d%s%s", t.Millis, delimiter, t.Counter, delimiter, t.NodeID)
}

// Parse round-trips the output of String. Unknown/malformed input fails with
// a parse error (spec.md §3 "unknown fields fail with a parse error").
func Parse(s string) (Timestamp, error) {
	parts := strings.SplitN(s, delimiter, 3)
	if len(parts) != 3 {
		return Timestamp{}, fmt.Errorf("hlc: malformed timestamp %q", s)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed millis in %q: %w", s, err)
	}
	counter, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed counter in %q: %w", s, err)
	}
	if parts[2] == "" {
		return Timestamp{}, fmt.Errorf("hlc: malformed timestamp %q: empty node id", s)
	}
	return Timestamp{Millis: millis, Counter: uint32(counter), NodeID: parts[2]}, nil
}

// Clock is a process-wide monotonic causal timestamp source (spec.md §4.1).
// The zero value is not usable; construct with New.
type Clock struct {
	mu     sync.Mutex
	nodeID string
	last   Timestamp
	wall   func() time.Time
}

// New constructs a Clock seeded with nodeID. nodeID should be stable across
// process restarts on the same node (e.g. a generated UUID persisted
// alongside the database file).
func New(nodeID string) *Clock {
	return &Clock{nodeID: nodeID, wall: time.Now}
}

// Now returns a new Timestamp observing HLC monotonicity: if wall-clock time
// has advanced past the last emitted timestamp, the counter resets to 0;
// otherwise the counter increments. O(1), never blocks on I/O.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wallMillis := c.wall().UnixMilli()
	if wallMillis > c.last.Millis {
		c.last = Timestamp{Millis: wallMillis, Counter: 0, NodeID: c.nodeID}
	} else {
		c.last = Timestamp{Millis: c.last.Millis, Counter: c.last.Counter + 1, NodeID: c.nodeID}
	}
	return c.last
}

// Observe advances the clock's internal state to max(internal, remote) so
// that the next Now() call is guaranteed to causally follow remote. Used
// when merging remote rows during bulk load.
func (c *Clock) Observe(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = max(c.last, remote)
}

// NodeID returns the node identity this clock stamps timestamps with.
func (c *Clock) NodeID() string { return c.nodeID }
