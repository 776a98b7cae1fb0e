// Package commit wraps the StateDriver's hard-apply/rollback pair in
// the fail-stop discipline spec.md §4.5 requires: a storage failure at
// commit time is a consensus-breaking event, not a recoverable error,
// so it halts the process rather than limping on with divergent state.
// Grounded on the teacher's storage.StateDB.Commit/RevertToSnapshot and
// consensus.PoA.ProduceBlock's apply-then-advance-tip sequencing.
package commit

import (
	"log"

	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/statedriver"
	"github.com/tolelom/delegate/txn"
)

// Committer durably applies or discards a Work Item's BlockResult
// against a StateDriver.
type Committer struct {
	state *statedriver.StateDriver
}

// New creates a Committer over state.
func New(state *statedriver.StateDriver) *Committer {
	return &Committer{state: state}
}

// HardApply commits local's staged writes at h, per spec.md §4.5. A
// storage failure here means the durable store and the in-memory
// consensus view have diverged — the same invariant violation the
// teacher's ProduceBlock guards with log.Fatalf, since continuing
// would silently serve stale or inconsistent state to RPC callers.
func (c *Committer) HardApply(h hlc.Timestamp, local *txn.BlockResult) error {
	if local == nil {
		log.Fatalf("[commit] hard_apply(%s): no local solution recorded for a block we voted matches_me", h)
	}
	writes := make(map[string]string, len(local.Writes))
	for _, w := range local.Writes {
		writes[w.Key] = w.Value
	}
	if err := c.state.HardApply(h, writes, local.Hash); err != nil {
		log.Fatalf("[commit] StorageFailure: hard_apply(%s): %v", h, err)
	}
	return nil
}

// RollbackTo restores state to the point right after h was hard-applied,
// per spec.md §4.5's rollback path.
func (c *Committer) RollbackTo(h hlc.Timestamp) error {
	if err := c.state.RollbackTo(h); err != nil {
		log.Fatalf("[commit] StorageFailure: rollback_to(%s): %v", h, err)
	}
	return nil
}
