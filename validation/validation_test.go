package validation

import (
	"testing"

	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/membership"
	"github.com/tolelom/delegate/txn"
)

type fakeCommitter struct {
	applied    []hlc.Timestamp
	rolledBack []hlc.Timestamp
	applyErr   error
}

func (f *fakeCommitter) HardApply(h hlc.Timestamp, local *txn.BlockResult) error {
	f.applied = append(f.applied, h)
	return f.applyErr
}

func (f *fakeCommitter) RollbackTo(h hlc.Timestamp) error {
	f.rolledBack = append(f.rolledBack, h)
	return nil
}

type fakeProcQueue struct {
	appended []*txn.WorkItem
	stopped  bool
	started  bool
}

func (f *fakeProcQueue) Append(w *txn.WorkItem) { f.appended = append(f.appended, w) }
func (f *fakeProcQueue) Stop()                  { f.stopped = true }
func (f *fakeProcQueue) Start()                 { f.started = true }
func (f *fakeProcQueue) Flush()                 {}

func newTestQueue(t *testing.T, percent int) (*Queue, *fakeCommitter, *fakeProcQueue) {
	t.Helper()
	members := membership.New(nil, []string{"vk1", "vk2", "vk3"})
	committer := &fakeCommitter{}
	pq := &fakeProcQueue{}
	q := New(percent, members, "me", committer, pq, 8)
	return q, committer, pq
}

func br(hash string) *txn.BlockResult { return &txn.BlockResult{Hash: hash} }

func TestIdealConsensusMatchesMeCommits(t *testing.T) {
	q, committer, _ := newTestQueue(t, 75)
	h := hlc.Timestamp{Physical: 1, NodeID: "me"}

	q.Append(h, br("aaaa"), nil)
	q.AddSolution(h, "vk1", br("aaaa"), nil)
	q.AddSolution(h, "vk2", br("aaaa"), nil)

	q.ProcessNext()

	if len(committer.applied) != 1 || committer.applied[0] != h {
		t.Fatalf("expected hard_apply(%s), got %v", h, committer.applied)
	}
	if q.LastHLCInConsensus() != h {
		t.Errorf("last_hlc_in_consensus = %s, want %s", q.LastHLCInConsensus(), h)
	}
}

func TestIdealConsensusNotMatchingMeTriggersRollback(t *testing.T) {
	q, committer, pq := newTestQueue(t, 75)
	h := hlc.Timestamp{Physical: 1, NodeID: "me"}

	q.Append(h, br("mine"), &txn.WorkItem{HLC: h})
	q.AddSolution(h, "vk1", br("theirs"), nil)
	q.AddSolution(h, "vk2", br("theirs"), nil)
	q.AddSolution(h, "vk3", br("theirs"), nil)

	q.ProcessNext()

	if len(committer.applied) != 0 {
		t.Fatalf("expected no hard_apply, got %v", committer.applied)
	}
	if len(committer.rolledBack) != 1 {
		t.Fatalf("expected one rollback, got %v", committer.rolledBack)
	}
	if !pq.stopped || !pq.started {
		t.Error("expected processing queue to be stopped then restarted")
	}
	if !q.DetectedRollback() {
		t.Error("expected detected_rollback to be set")
	}
	if len(pq.appended) != 1 || pq.appended[0].HLC != h {
		t.Fatalf("expected transaction_processed for %s requeued onto the processing queue, got %v", h, pq.appended)
	}
}

func TestInsufficientSolutionsDoesNotResolve(t *testing.T) {
	q, committer, _ := newTestQueue(t, 75)
	h := hlc.Timestamp{Physical: 1, NodeID: "me"}

	q.Append(h, br("aaaa"), nil)
	q.ProcessNext()

	if len(committer.applied) != 0 {
		t.Fatalf("expected no consensus yet, got applied=%v", committer.applied)
	}
	// still pending: ProcessNext re-enqueues unresolved HLCs automatically,
	// so the next call re-evaluates once more solutions arrive.
	q.AddSolution(h, "vk1", br("aaaa"), nil)
	q.AddSolution(h, "vk2", br("aaaa"), nil)
	q.ProcessNext()
	if len(committer.applied) != 1 {
		t.Fatalf("expected consensus once enough solutions arrived, got %v", committer.applied)
	}
}

func TestTallySolutionsRanksByCount(t *testing.T) {
	solutions := map[string]*txn.BlockResult{
		"me":  br("aaaa"),
		"vk1": br("bbbb"),
		"vk2": br("bbbb"),
	}
	tally := TallySolutions(solutions)
	if tally.Ranked[0].Hash != "bbbb" || tally.Ranked[0].Count != 2 {
		t.Fatalf("expected bbbb with count 2 on top, got %+v", tally.Ranked[0])
	}
	if tally.IsTied {
		t.Error("expected no tie")
	}
}

func TestCheckFailedConsensusPicksSmallestHex(t *testing.T) {
	solutions := map[string]*txn.BlockResult{
		"me":  br("ff00"),
		"vk1": br("0a00"),
	}
	tally := TallySolutions(solutions)
	result := checkFailedConsensus(tally, "ff00", 2)
	if result.Solution != "0a00" {
		t.Errorf("expected smallest hex 0a00 to win, got %s", result.Solution)
	}
	if result.ConsensusType != "failed" {
		t.Errorf("expected failed consensus type, got %s", result.ConsensusType)
	}
	if result.MatchesMe {
		t.Error("expected matches_me false since my solution lost the tie-break")
	}
}

// TestEagerConsensusResolvesOnLastArrival covers spec.md §8's eager
// consensus scenario: once ideal consensus becomes mathematically
// impossible (too few reports left to ever reach the needed
// threshold), the tally can still resolve "eagerly" once a leading
// hash's margin over the next-best exceeds every remaining vote that
// could possibly flip it — here, exactly when the very last solution
// arrives.
func TestEagerConsensusResolvesOnLastArrival(t *testing.T) {
	members := membership.New(nil, []string{"vk1", "vk2", "vk3", "vk4"})
	committer := &fakeCommitter{}
	pq := &fakeProcQueue{}
	q := New(80, members, "me", committer, pq, 8)
	h := hlc.Timestamp{Physical: 1, NodeID: "me"}

	// 3 of 5 in, three-way tie: ideal is now impossible (needed=4, and
	// even every remaining vote going to the current leader couldn't
	// reach it), eager can't resolve yet either.
	q.Append(h, br("A"), nil)
	q.AddSolution(h, "vk1", br("B"), nil)
	q.AddSolution(h, "vk2", br("C"), nil)
	q.ProcessNext()
	if len(committer.applied) != 0 {
		t.Fatalf("expected no consensus after 3/5 solutions, got %v", committer.applied)
	}

	// 4 of 5 in: "A" leads 2-1-1, but the single missing vote could
	// still close the gap, so eager still can't resolve.
	q.AddSolution(h, "vk3", br("A"), nil)
	q.ProcessNext()
	if len(committer.applied) != 0 {
		t.Fatalf("expected no consensus after 4/5 solutions, got %v", committer.applied)
	}

	// Last arrival: "A" now leads 3-1-1 with nothing left outstanding —
	// eager consensus resolves immediately.
	q.AddSolution(h, "vk4", br("A"), nil)
	q.ProcessNext()
	if len(committer.applied) != 1 || committer.applied[0] != h {
		t.Fatalf("expected hard_apply(%s) on eager consensus, got %v", h, committer.applied)
	}
}

func TestAddSolutionResetsLastCheckOnResubmit(t *testing.T) {
	q, _, _ := newTestQueue(t, 75)
	h := hlc.Timestamp{Physical: 1, NodeID: "me"}

	q.AddSolution(h, "vk1", br("aaaa"), nil)
	q.records[h.String()].check.numSolutions = 1
	q.AddSolution(h, "vk1", br("bbbb"), nil)

	if q.records[h.String()].check.numSolutions != 0 {
		t.Error("expected last-check counter reset on resubmission")
	}
	if !q.ShouldCheckAgain(h) {
		t.Error("expected should_check_again to be true after resubmission")
	}
}

// TestProcessNextDropsBadPeersOnFailedConsensus covers the wiring spec.md's
// supplemented drop_bad_peers feature requires: ProcessNext itself must
// call DropBadPeers once a tie-broken failed consensus resolves, not
// just leave it reachable as a standalone method.
func TestProcessNextDropsBadPeersOnFailedConsensus(t *testing.T) {
	q, committer, _ := newTestQueue(t, 75)
	h := hlc.Timestamp{Physical: 1, NodeID: "me"}

	// Two-way tie, nothing outstanding: ideal and eager both become
	// impossible in the same check, so it resolves as "failed" and
	// "aaaa" wins the smallest-hex tie-break.
	q.Append(h, br("aaaa"), nil)
	q.AddSolution(h, "vk1", br("bbbb"), nil)
	q.AddSolution(h, "vk2", br("aaaa"), nil)
	q.AddSolution(h, "vk3", br("bbbb"), nil)
	q.ProcessNext()

	if len(committer.applied) != 1 || committer.applied[0] != h {
		t.Fatalf("expected hard_apply(%s) since my solution won the tie-break, got %v", h, committer.applied)
	}
	bad := q.members.PeersNotInConsensus()
	if len(bad) != 2 {
		t.Fatalf("expected 2 peers flagged out of consensus, got %v", bad)
	}
	for _, vk := range bad {
		if vk != "vk1" && vk != "vk3" {
			t.Errorf("unexpected vk flagged out of consensus: %s", vk)
		}
	}
}

func TestDropBadPeersReportsDivergentVks(t *testing.T) {
	q, _, _ := newTestQueue(t, 75)
	h := hlc.Timestamp{Physical: 1, NodeID: "me"}
	q.AddSolution(h, "me", br("winner"), nil)
	q.AddSolution(h, "vk1", br("winner"), nil)
	q.AddSolution(h, "vk2", br("loser"), nil)

	members := membership.New(nil, []string{"vk1", "vk2", "vk3"})
	q.members = members
	q.DropBadPeers(h, ConsensusResult{Solution: "winner"})

	bad := members.PeersNotInConsensus()
	if len(bad) != 1 || bad[0] != "vk2" {
		t.Errorf("expected only vk2 flagged, got %v", bad)
	}
}
