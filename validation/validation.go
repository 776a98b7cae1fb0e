// Package validation implements the ValidationQueue of spec.md §4.4:
// per-HLC tally of local and peer execution results, the three-phase
// consensus decision (ideal → eager → failed), and the commit/rollback
// dispatch. Grounded line-for-line on
// original_source/lamden/nodes/validation_queue.py.
package validation

import (
	"log"
	"sort"
	"sync"

	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/membership"
	"github.com/tolelom/delegate/txn"
)

// Committer is the subset of commit.Committer the ValidationQueue
// drives, per spec.md §4.5.
type Committer interface {
	HardApply(h hlc.Timestamp, local *txn.BlockResult) error
	RollbackTo(h hlc.Timestamp) error
}

// ProcessingQueue is the subset of procqueue.Queue the ValidationQueue
// drives during rollback, per spec.md §4.4's rollback path.
type ProcessingQueue interface {
	Append(w *txn.WorkItem)
	Stop()
	Start()
	Flush()
}

// lastCheck is the small state triple that must be updated jointly
// with solutions, per the Design Notes' "nested per-HLC record" note.
type lastCheck struct {
	idealPossible bool
	eagerPossible bool
	numSolutions  int
}

// Record is the per-HLC Validation Record of spec.md §3.
type Record struct {
	Solutions            map[string]*txn.BlockResult
	check                lastCheck
	TransactionProcessed *txn.WorkItem
}

// ConsensusResult is the outcome of one consensus evaluation.
type ConsensusResult struct {
	HasConsensus    bool
	ConsensusType   string // "ideal" | "eager" | "failed"
	ConsensusNeeded int
	Solution        string
	MySolution      string
	MatchesMe       bool
	IdealPossible   bool
	EagerPossible   bool
}

// Tally is the per-hash vote count over one Record's solutions.
type Tally struct {
	Counts   map[string]int
	Ranked   []rankedSolution // descending by count
	TopTied  []rankedSolution // prefix of Ranked sharing the top count
	IsTied   bool
}

type rankedSolution struct {
	Hash  string
	Count int
}

// Queue is the ValidationQueue. Safe for concurrent use: the node's
// event loop drives ProcessNext while router receive goroutines call
// AddSolution.
type Queue struct {
	mu sync.Mutex

	localVK         string
	consensusPercent int
	members         *membership.Registry
	committer       Committer
	procQueue       ProcessingQueue
	history         *History

	records            map[string]*Record
	pending            []hlc.Timestamp
	pendingSet         map[string]bool
	lastHLCInConsensus hlc.Timestamp

	running          bool
	testing          bool
	debug            bool
	detectedRollback bool
}

// New creates a Queue. historyCap bounds the validation_results_history
// ring buffer (spec.md's supplemented feature; the Python source leaves
// this dict unbounded).
func New(consensusPercent int, members *membership.Registry, localVK string, committer Committer, procQueue ProcessingQueue, historyCap int) *Queue {
	return &Queue{
		localVK:          localVK,
		consensusPercent: consensusPercent,
		members:          members,
		committer:        committer,
		procQueue:        procQueue,
		history:          NewHistory(historyCap),
		records:          make(map[string]*Record),
		pendingSet:       make(map[string]bool),
		running:          true,
	}
}

// Start marks the queue running again after a rollback-induced stop.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = true
}

// Stop marks the queue not-running; ProcessNext becomes a no-op.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
}

// Running reports whether the queue is currently processing.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// DetectedRollback reports whether a rollback has fired, for test assertions.
func (q *Queue) DetectedRollback() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.detectedRollback
}

// LastHLCInConsensus returns the monotonic consensus watermark.
func (q *Queue) LastHLCInConsensus() hlc.Timestamp {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastHLCInConsensus
}

// SetTesting/SetDebug toggle the verbose/testing hooks of spec.md §6's config surface.
func (q *Queue) SetTesting(v bool) { q.mu.Lock(); q.testing = v; q.mu.Unlock() }
func (q *Queue) SetDebug(v bool)   { q.mu.Lock(); q.debug = v; q.mu.Unlock() }

// Append registers the local node's own solution for h and enqueues h
// for consensus evaluation if it is not already pending. Mirrors the
// Python source's ValidationQueue.append.
func (q *Queue) Append(h hlc.Timestamp, local *txn.BlockResult, workItem *txn.WorkItem) {
	q.AddSolution(h, q.localVK, local, workItem)

	q.mu.Lock()
	defer q.mu.Unlock()
	key := h.String()
	if !q.pendingSet[key] {
		q.pendingSet[key] = true
		q.pending = append(q.pending, h)
	}
}

// Lookup returns the live (not yet settled) Record for h, for RPC
// introspection (getValidationRecord). Settled records have moved into
// the History ring buffer — see History.Lookup.
func (q *Queue) Lookup(h hlc.Timestamp) (*Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[h.String()]
	return rec, ok
}

// History exposes the settled-record ring buffer for RPC introspection.
func (q *Queue) History() *History {
	return q.history
}

// AddSolution registers vk's solution for h, creating the Record on
// first arrival. A second solution from the same vk forces
// re-evaluation by resetting the last-check triple.
func (q *Queue) AddSolution(h hlc.Timestamp, vk string, br *txn.BlockResult, workItem *txn.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if h.Compare(q.lastHLCInConsensus) < 0 {
		return
	}

	key := h.String()
	rec, ok := q.records[key]
	if !ok {
		rec = &Record{
			Solutions: make(map[string]*txn.BlockResult),
			check:     lastCheck{idealPossible: true, eagerPossible: true},
		}
		q.records[key] = rec
	}

	if workItem != nil {
		rec.TransactionProcessed = workItem
	}

	if _, already := rec.Solutions[vk]; already {
		rec.check.numSolutions = 0
		rec.check.idealPossible = true
		rec.check.eagerPossible = true
	}
	rec.Solutions[vk] = br
}

// ShouldCheckAgain reports whether new solutions have arrived since
// the Record's last consensus check.
func (q *Queue) ShouldCheckAgain(h hlc.Timestamp) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[h.String()]
	if !ok {
		return false
	}
	return rec.check.numSolutions != len(rec.Solutions)
}

// ProcessNext pops the lowest pending HLC and evaluates consensus for
// it, committing, rolling back, or re-enqueueing per spec.md §4.4.
func (q *Queue) ProcessNext() {
	q.mu.Lock()
	if !q.running || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	sort.Slice(q.pending, func(i, j int) bool { return q.pending[i].Less(q.pending[j]) })
	next := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.pendingSet, next.String())
	q.mu.Unlock()

	if !q.ShouldCheckAgain(next) {
		q.requeue(next)
		return
	}

	result, ok := q.checkConsensus(next)
	if !ok {
		q.requeue(next)
		return
	}
	if !result.HasConsensus {
		q.requeue(next) // still collecting; last_check already updated by checkConsensus
		return
	}

	if result.ConsensusType == "failed" {
		q.DropBadPeers(next, result)
	}

	if result.MatchesMe {
		q.commit(next, result)
		return
	}
	q.initiateRollback(next, result)
}

func (q *Queue) requeue(h hlc.Timestamp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := h.String()
	if !q.pendingSet[key] {
		q.pendingSet[key] = true
		q.pending = append(q.pending, h)
	}
}

func (q *Queue) commit(h hlc.Timestamp, result ConsensusResult) {
	q.mu.Lock()
	rec := q.records[h.String()]
	if rec == nil {
		q.mu.Unlock()
		return
	}
	local := rec.Solutions[q.localVK]
	q.mu.Unlock()

	if err := q.committer.HardApply(h, local); err != nil {
		log.Fatalf("[validation] StorageFailure: hard_apply(%s): %v", h, err)
	}

	q.mu.Lock()
	q.lastHLCInConsensus = h
	delete(q.records, h.String())
	q.history.Record(h, rec, result)
	q.mu.Unlock()
}

// initiateRollback runs the rollback protocol of spec.md §4.4's
// "matches_me == false" path.
func (q *Queue) initiateRollback(failedHLC hlc.Timestamp, result ConsensusResult) {
	log.Printf("[validation] consensus divergence at %s: network chose %s, local computed %s",
		failedHLC, result.Solution, result.MySolution)

	q.procQueue.Stop()
	q.Stop()

	q.mu.Lock()
	q.detectedRollback = true
	q.mu.Unlock()

	if err := q.committer.RollbackTo(q.LastHLCInConsensus()); err != nil {
		log.Fatalf("[validation] StorageFailure: rollback_to(%s): %v", q.LastHLCInConsensus(), err)
	}

	q.mu.Lock()
	q.pending = nil
	q.pendingSet = make(map[string]bool)

	var toRequeue []*txn.WorkItem
	for key, rec := range q.records {
		parsed, err := hlc.Parse(key)
		if err != nil {
			continue
		}
		if parsed.Compare(failedHLC) >= 0 && rec.TransactionProcessed != nil {
			toRequeue = append(toRequeue, rec.TransactionProcessed)
		}
		delete(rec.Solutions, q.localVK)
		rec.check = lastCheck{idealPossible: true, eagerPossible: true}
	}
	q.mu.Unlock()

	sort.Slice(toRequeue, func(i, j int) bool { return toRequeue[i].HLC.Less(toRequeue[j].HLC) })
	for _, w := range toRequeue {
		q.procQueue.Append(w)
	}

	q.procQueue.Start()
	q.Start()
}

// checkConsensus implements spec.md §4.4's three-phase evaluation.
// The bool return is false only when the Record vanished between pop
// and evaluation (should not happen under single-goroutine discipline,
// but guarded defensively).
func (q *Queue) checkConsensus(h hlc.Timestamp) (ConsensusResult, bool) {
	q.mu.Lock()
	rec, ok := q.records[h.String()]
	if !ok {
		q.mu.Unlock()
		return ConsensusResult{}, false
	}

	total := len(rec.Solutions)
	rec.check.numSolutions = total

	numPeers := len(q.members.GetPeersForConsensus()) + 1
	needed := ceilPercent(numPeers, q.consensusPercent)

	if total < needed {
		q.mu.Unlock()
		return ConsensusResult{HasConsensus: false}, true
	}

	mySolution := ""
	if my, ok := rec.Solutions[q.localVK]; ok {
		mySolution = my.Hash
	}
	missing := numPeers - total
	tally := TallySolutions(rec.Solutions)

	idealPossible := rec.check.idealPossible
	eagerPossible := rec.check.eagerPossible
	q.mu.Unlock()

	if idealPossible {
		res := checkIdealConsensus(tally, mySolution, needed, missing)
		q.mu.Lock()
		rec.check.idealPossible = res.IdealPossible
		q.mu.Unlock()
		if res.HasConsensus || res.IdealPossible {
			return res, true
		}
	}

	if eagerPossible {
		res := checkEagerConsensus(tally, mySolution, needed, missing)
		q.mu.Lock()
		rec.check.eagerPossible = res.EagerPossible
		q.mu.Unlock()
		if res.HasConsensus || res.EagerPossible {
			return res, true
		}
		return checkFailedConsensus(tally, mySolution, needed), true
	}

	// Both ideal and eager were already marked impossible on a prior
	// check; failed consensus always yields a result.
	return checkFailedConsensus(tally, mySolution, needed), true
}

func ceilPercent(n, percent int) int {
	num := n * percent
	needed := num / 100
	if num%100 != 0 {
		needed++
	}
	return needed
}

// TallySolutions counts matching hashes across a Record's solutions
// and ranks them, grounded on tally_solutions.
func TallySolutions(solutions map[string]*txn.BlockResult) Tally {
	counts := make(map[string]int)
	for _, br := range solutions {
		counts[br.Hash]++
	}

	ranked := make([]rankedSolution, 0, len(counts))
	for h, c := range counts {
		ranked = append(ranked, rankedSolution{Hash: h, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Hash < ranked[j].Hash
	})

	var top []rankedSolution
	for i, r := range ranked {
		if i == 0 || r.Count == top[i-1].Count {
			top = append(top, r)
		} else {
			break
		}
	}

	return Tally{Counts: counts, Ranked: ranked, TopTied: top, IsTied: len(top) > 1}
}

func checkIdealConsensus(tally Tally, mySolution string, needed, missing int) ConsensusResult {
	top := tally.Ranked[0]
	if top.Count >= needed {
		return ConsensusResult{
			HasConsensus: true, ConsensusType: "ideal", ConsensusNeeded: needed,
			Solution: top.Hash, MySolution: mySolution, MatchesMe: mySolution == top.Hash,
			IdealPossible: true,
		}
	}
	if top.Count+missing >= needed {
		return ConsensusResult{HasConsensus: false, IdealPossible: true}
	}
	return ConsensusResult{HasConsensus: false, IdealPossible: false}
}

func checkEagerConsensus(tally Tally, mySolution string, needed, missing int) ConsensusResult {
	if tally.IsTied && missing == 0 {
		return ConsensusResult{HasConsensus: false, EagerPossible: false}
	}
	second := 0
	if len(tally.Ranked) > 1 {
		second = tally.Ranked[1].Count
	}
	if tally.Ranked[0].Count > second+missing {
		return ConsensusResult{
			HasConsensus: true, ConsensusType: "eager", ConsensusNeeded: needed,
			Solution: tally.Ranked[0].Hash, MySolution: mySolution, MatchesMe: mySolution == tally.Ranked[0].Hash,
			EagerPossible: true,
		}
	}
	return ConsensusResult{HasConsensus: false, EagerPossible: true}
}

// checkFailedConsensus breaks a tie by the smallest hex-numeric hash
// value, per spec.md's pinned Open Question resolution (the Python
// source's own choice of index [0] after sorting ascending is
// ambiguous between "intended smallest" and "bug"; spec.md pins
// smallest, and this is a network-wide consensus rule — see
// DESIGN.md).
func checkFailedConsensus(tally Tally, mySolution string, needed int) ConsensusResult {
	top := make([]rankedSolution, len(tally.TopTied))
	copy(top, tally.TopTied)
	sort.Slice(top, func(i, j int) bool {
		return hexLess(top[i].Hash, top[j].Hash)
	})
	winner := top[0].Hash
	return ConsensusResult{
		HasConsensus: true, ConsensusType: "failed", ConsensusNeeded: needed,
		Solution: winner, MySolution: mySolution, MatchesMe: mySolution == winner,
	}
}

// hexLess compares two hex-encoded hash strings by numeric value, not
// lexicographically, mirroring int(hash, 16) in the Python source.
// big.Int comparison is avoided since hashes here are fixed-length
// SHA-256 hex and equal-length hex strings compare identically
// lexicographically and numerically; unequal lengths are normalized
// by left-padding the shorter string to the longer one's length.
func hexLess(a, b string) bool {
	if len(a) != len(b) {
		if len(a) < len(b) {
			a = padHex(a, len(b))
		} else {
			b = padHex(b, len(a))
		}
	}
	return a < b
}

func padHex(s string, n int) string {
	for len(s) < n {
		s = "0" + s
	}
	return s
}

// ClearMySolutions removes the local node's own solution from every
// open Record, resetting each one's last-check triple so the next
// cycle re-evaluates consensus. Mirrors clear_my_solutions;
// initiateRollback does the same clearing inline, under the same lock
// hold in which it collects the Work Items to requeue.
func (q *Queue) ClearMySolutions() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range q.records {
		delete(rec.Solutions, q.localVK)
		rec.check = lastCheck{idealPossible: true, eagerPossible: true}
	}
}

// DropBadPeers computes the vks whose submitted hash diverged from a
// resolved failed-consensus solution and reports them to membership,
// spec.md's supplemented drop_bad_peers feature.
func (q *Queue) DropBadPeers(h hlc.Timestamp, result ConsensusResult) {
	q.mu.Lock()
	rec, ok := q.records[h.String()]
	if !ok {
		q.mu.Unlock()
		return
	}
	var outOfConsensus []string
	for vk, br := range rec.Solutions {
		if br.Hash != result.Solution {
			outOfConsensus = append(outOfConsensus, vk)
		}
	}
	q.mu.Unlock()
	q.members.SetPeersNotInConsensus(outOfConsensus)
}
