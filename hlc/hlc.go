// Package hlc implements a Hybrid Logical Clock timestamp: a totally
// ordered, lexicographically comparable identifier combining wallclock
// time with a logical tie-breaking counter and a producer id.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp is an opaque, totally ordered HLC value. Zero value is the
// sentinel "older than any real timestamp" per spec.
type Timestamp struct {
	Physical int64  // wallclock nanoseconds
	Logical  uint32 // tie-break counter for same-physical events
	NodeID   string // producer id, final tie-break
}

// Zero is strictly smaller than any timestamp produced by Clock.Now,
// suitable as Consensus State's initial last_hlc_in_consensus.
var Zero = Timestamp{}

// String renders a fixed-width, lexicographically sortable encoding:
// 20-digit physical, 10-digit logical, then the node id. Zero-padding
// keeps string comparison equivalent to numeric comparison.
func (t Timestamp) String() string {
	return fmt.Sprintf("%020d:%010d:%s", t.Physical, t.Logical, t.NodeID)
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater
// than other.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Physical != other.Physical:
		if t.Physical < other.Physical {
			return -1
		}
		return 1
	case t.Logical != other.Logical:
		if t.Logical < other.Logical {
			return -1
		}
		return 1
	case t.NodeID != other.NodeID:
		return strings.Compare(t.NodeID, other.NodeID)
	default:
		return 0
	}
}

// Less reports whether t orders strictly before other.
func (t Timestamp) Less(other Timestamp) bool { return t.Compare(other) < 0 }

// Parse decodes the String() encoding back into a Timestamp.
func Parse(s string) (Timestamp, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Timestamp{}, fmt.Errorf("hlc: malformed timestamp %q", s)
	}
	phys, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: bad physical component: %w", err)
	}
	logical, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: bad logical component: %w", err)
	}
	return Timestamp{Physical: phys, Logical: uint32(logical), NodeID: parts[2]}, nil
}

// Clock is a single producer's HLC generator. Safe for concurrent use:
// the node merges into it from router receive goroutines (via the
// WorkValidator) and reads it from RPC handler goroutines.
type Clock struct {
	mu      sync.Mutex
	nodeID  string
	last    Timestamp
	wallNow func() int64 // overridable for deterministic tests
}

// NewClock creates a Clock for the given local node id.
func NewClock(nodeID string) *Clock {
	return &Clock{
		nodeID:  nodeID,
		wallNow: func() int64 { return time.Now().UnixNano() },
	}
}

// Now advances and returns the local clock: max(last, wallclock) with
// the logical counter incremented when wallclock hasn't moved forward.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advanceLocked(Timestamp{Physical: c.wallNow(), NodeID: c.nodeID})
}

// Merge folds a remote timestamp into the local clock, advancing local
// time to max(local, remote) + epsilon, per spec.md §4.1 step 4.
func (c *Clock) Merge(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	candidate := Timestamp{Physical: c.wallNow(), NodeID: c.nodeID}
	if remote.Physical >= candidate.Physical {
		candidate.Physical = remote.Physical
		candidate.Logical = remote.Logical + 1
	}
	return c.advanceLocked(candidate)
}

// advanceLocked enforces strict monotonicity relative to c.last and
// stores the result as the new last. Caller holds c.mu.
func (c *Clock) advanceLocked(candidate Timestamp) Timestamp {
	next := candidate
	if !c.last.Less(next) {
		next = Timestamp{Physical: c.last.Physical, Logical: c.last.Logical + 1, NodeID: c.nodeID}
	}
	c.last = next
	return next
}

// CheckExpired reports whether ts is older than maxAge relative to the
// clock's current wallclock — used for tx_expiry_sec (spec.md §4.1,
// optional step 3).
func (c *Clock) CheckExpired(ts Timestamp, maxAge time.Duration) bool {
	now := c.wallNow()
	return time.Duration(now-ts.Physical) > maxAge
}
