package commit

import (
	"testing"

	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/statedriver"
	"github.com/tolelom/delegate/txn"
)

func TestHardApplyThenRollbackRoundTrip(t *testing.T) {
	s := statedriver.New(nil)
	c := New(s)

	h1 := hlc.Timestamp{Physical: 1, NodeID: "n"}
	result1 := &txn.BlockResult{
		Hash:   "hash1",
		Writes: []txn.Write{{Key: "currency.balances:alice", Value: "70"}},
	}
	if err := c.HardApply(h1, result1); err != nil {
		t.Fatalf("hard_apply: %v", err)
	}
	if v, _ := s.GetVar("currency", "balances", "alice"); v != "70" {
		t.Fatalf("balance after hard_apply = %q, want 70", v)
	}

	h2 := hlc.Timestamp{Physical: 2, NodeID: "n"}
	result2 := &txn.BlockResult{
		Hash:   "hash2",
		Writes: []txn.Write{{Key: "currency.balances:alice", Value: "40"}},
	}
	if err := c.HardApply(h2, result2); err != nil {
		t.Fatalf("hard_apply: %v", err)
	}

	if err := c.RollbackTo(h1); err != nil {
		t.Fatalf("rollback_to: %v", err)
	}
	if v, _ := s.GetVar("currency", "balances", "alice"); v != "70" {
		t.Fatalf("balance after rollback = %q, want 70", v)
	}
	if s.LatestBlockHash() != "hash1" {
		t.Errorf("latest block hash after rollback = %q, want hash1", s.LatestBlockHash())
	}

	if err := c.HardApply(h2, result2); err != nil {
		t.Fatalf("re-apply after rollback: %v", err)
	}
	if v, _ := s.GetVar("currency", "balances", "alice"); v != "40" {
		t.Fatalf("balance after re-apply = %q, want 40", v)
	}
}
