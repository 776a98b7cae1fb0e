package hlc

import "testing"

func TestCompareOrdering(t *testing.T) {
	a := Timestamp{Physical: 100, Logical: 0, NodeID: "a"}
	b := Timestamp{Physical: 100, Logical: 1, NodeID: "a"}
	c := Timestamp{Physical: 200, Logical: 0, NodeID: "a"}

	if !a.Less(b) {
		t.Error("a should be less than b (lower logical)")
	}
	if !b.Less(c) {
		t.Error("b should be less than c (lower physical)")
	}
	if a.Compare(a) != 0 {
		t.Error("a should equal itself")
	}
}

func TestStringRoundTrip(t *testing.T) {
	ts := Timestamp{Physical: 1234567890, Logical: 42, NodeID: "node-a"}
	parsed, err := Parse(ts.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != ts {
		t.Errorf("round trip mismatch: got %+v want %+v", parsed, ts)
	}
}

func TestStringOrderingMatchesCompare(t *testing.T) {
	a := Timestamp{Physical: 5, Logical: 9, NodeID: "a"}
	b := Timestamp{Physical: 10, Logical: 0, NodeID: "a"}
	if !(a.String() < b.String()) {
		t.Error("lexicographic string order should match numeric Compare order")
	}
}

func TestZeroIsSmallestRealTimestamp(t *testing.T) {
	real := Timestamp{Physical: 1, Logical: 0, NodeID: "a"}
	if !Zero.Less(real) {
		t.Error("Zero must be less than any real timestamp")
	}
}

func TestClockMergeAdvancesPastRemote(t *testing.T) {
	c := NewClock("local")
	c.wallNow = func() int64 { return 100 }

	remote := Timestamp{Physical: 500, Logical: 3, NodeID: "remote"}
	merged := c.Merge(remote)

	if merged.Physical < remote.Physical {
		t.Errorf("merged physical %d should be >= remote physical %d", merged.Physical, remote.Physical)
	}
	if merged.Compare(remote) <= 0 {
		t.Error("merge must strictly advance past the remote timestamp")
	}
}

func TestClockNowMonotonic(t *testing.T) {
	wall := int64(1000)
	c := NewClock("local")
	c.wallNow = func() int64 { return wall }

	first := c.Now()
	second := c.Now() // wallclock didn't move
	if !first.Less(second) {
		t.Error("Now() must be strictly monotonic even under a stalled wallclock")
	}
}
