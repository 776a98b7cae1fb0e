package statedriver

import (
	"fmt"
	"sync"

	"github.com/tolelom/delegate/hlc"
)

// StateDriver is the contract-state store shared by the Executor
// (read/write with uncommitted staging) and the Committer (commit/
// rollback), per spec.md §6. Grounded on the teacher's storage.StateDB,
// re-keyed: snapshots are tagged by HLC instead of a monotonic int id,
// and there are no block/account/asset-specific accessor methods —
// contract state is a flat key-value space addressed by
// (contract, variable, arguments).
type StateDriver struct {
	mu sync.Mutex

	db DB

	committed map[string][]byte // durable, already hard-applied state
	pending   map[string][]byte // uncommitted writes staged by the current Executor run

	snapshots    []hlcSnapshot // one entry per hard_apply, in application order
	appliedSet   map[string]bool
	latestNum    int64
	latestHash   string
}

type hlcSnapshot struct {
	hlc       hlc.Timestamp
	state     map[string][]byte
	blockNum  int64
	blockHash string
}

// New creates a StateDriver backed by db, with an implicit genesis
// snapshot at hlc.Zero so that rollback_to(hlc.Zero) is always valid.
func New(db DB) *StateDriver {
	s := &StateDriver{
		db:        db,
		committed: make(map[string][]byte),
		pending:   make(map[string][]byte),
		appliedSet: make(map[string]bool),
	}
	s.snapshots = append(s.snapshots, hlcSnapshot{
		hlc:   hlc.Zero,
		state: make(map[string][]byte),
	})
	return s
}

// Key builds the flat storage key for a contract variable access,
// e.g. "currency.balances:deadbeef".
func Key(contract, variable string, args ...string) string {
	k := contract + "." + variable
	for _, a := range args {
		k += ":" + a
	}
	return k
}

// GetVar reads a contract variable, checking staged writes first, then
// committed state. Returns ("", false) if unset.
func (s *StateDriver) GetVar(contract, variable string, args ...string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(contract, variable, args...)
	if v, ok := s.pending[key]; ok {
		return string(v), true
	}
	if v, ok := s.committed[key]; ok {
		return string(v), true
	}
	if s.db != nil {
		if v, err := s.db.Get([]byte(key)); err == nil {
			return string(v), true
		}
	}
	return "", false
}

// SetVar stages a write under the uncommitted pending buffer. It is
// not visible to other Work Items until a Committer calls HardApply.
func (s *StateDriver) SetVar(contract, variable string, value string, args ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[Key(contract, variable, args...)] = []byte(value)
}

// PendingWrites returns a snapshot of the currently staged (not yet
// hard-applied) writes, spec.md §6's `pending_writes`.
func (s *StateDriver) PendingWrites() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.pending))
	for k, v := range s.pending {
		out[k] = string(v)
	}
	return out
}

// ClearPending discards the staged write buffer unconditionally. The
// Executor calls this after every Work Item regardless of outcome —
// the staging buffer never survives past one execution.
func (s *StateDriver) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string][]byte)
}

// LatestBlockNum returns the number of Work Items hard-applied so far.
func (s *StateDriver) LatestBlockNum() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestNum
}

// LatestBlockHash returns the hash of the most recently hard-applied BlockResult.
func (s *StateDriver) LatestBlockHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestHash
}

// HardApply atomically applies writes (taken from the local
// BlockResult for hlc) to committed state, advances latest_block_num
// and latest_block_hash, and records a rollback snapshot tagged hlc.
// A duplicate hard_apply at an already-applied hlc is rejected, as is
// any hlc that does not order after the last applied one.
func (s *StateDriver) HardApply(h hlc.Timestamp, writes map[string]string, resultHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := h.String()
	if s.appliedSet[key] {
		return fmt.Errorf("statedriver: hard_apply already applied at hlc %s", key)
	}
	if prev := s.snapshots[len(s.snapshots)-1]; h.Compare(prev.hlc) <= 0 {
		return fmt.Errorf("statedriver: hard_apply hlc %s is not after last applied hlc %s", key, prev.hlc.String())
	}

	for k, v := range writes {
		s.committed[k] = []byte(v)
		if s.db != nil {
			if err := s.db.Set([]byte(k), []byte(v)); err != nil {
				return fmt.Errorf("statedriver: persist write %q: %w", k, err)
			}
		}
	}

	s.latestNum++
	s.latestHash = resultHash
	s.appliedSet[key] = true

	snapState := make(map[string][]byte, len(s.committed))
	for k, v := range s.committed {
		cp := make([]byte, len(v))
		copy(cp, v)
		snapState[k] = cp
	}
	s.snapshots = append(s.snapshots, hlcSnapshot{
		hlc:       h,
		state:     snapState,
		blockNum:  s.latestNum,
		blockHash: s.latestHash,
	})
	return nil
}

// RollbackTo restores committed state to the snapshot recorded right
// after hlc was hard-applied (or the genesis snapshot if hlc is
// hlc.Zero), discarding every subsequent hard_apply. The pending
// staging buffer is also cleared, since any in-flight execution is
// stale once rollback happens.
func (s *StateDriver) RollbackTo(h hlc.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, snap := range s.snapshots {
		if snap.hlc.Compare(h) == 0 {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("statedriver: no snapshot recorded for hlc %s", h.String())
	}

	target := s.snapshots[idx]
	restored := make(map[string][]byte, len(target.state))
	for k, v := range target.state {
		cp := make([]byte, len(v))
		copy(cp, v)
		restored[k] = cp
	}
	s.committed = restored
	s.latestNum = target.blockNum
	s.latestHash = target.blockHash
	s.pending = make(map[string][]byte)

	for _, dropped := range s.snapshots[idx+1:] {
		delete(s.appliedSet, dropped.hlc.String())
	}
	s.snapshots = s.snapshots[:idx+1]
	return nil
}
