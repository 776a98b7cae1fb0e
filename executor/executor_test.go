package executor

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/statedriver"
	"github.com/tolelom/delegate/txn"
	"github.com/tolelom/delegate/vmengine"

	_ "github.com/tolelom/delegate/vmengine/modules/economy"
)

func newWorkItem(t *testing.T, sender, contract, function string, kwargs map[string]vmengine.Value, stamps uint64) *txn.WorkItem {
	t.Helper()
	kw, err := json.Marshal(kwargs)
	if err != nil {
		t.Fatal(err)
	}
	return &txn.WorkItem{
		HLC: hlc.Timestamp{Physical: 1, NodeID: "n"},
		Tx: txn.Tx{
			Payload: txn.Payload{
				Sender:         sender,
				Contract:       contract,
				Function:       function,
				StampsSupplied: stamps,
				Kwargs:         kw,
			},
			Metadata: txn.Metadata{Timestamp: 1000},
		},
		InputHash: "inputhash1",
	}
}

func TestExecuteSuccessAppliesWrites(t *testing.T) {
	s := statedriver.New(nil)
	vmengine.SetBalance(s, "alice", big.NewRat(100, 1))
	e := New(s, nil)

	w := newWorkItem(t, "alice", "currency", "transfer", map[string]vmengine.Value{
		"to":     vmengine.String("bob"),
		"amount": mustFixed(t, "30"),
	}, 10)

	br := e.Execute(w, big.NewRat(1, 1))
	if br.Status != 0 {
		t.Fatalf("expected success, got status %d result %q", br.Status, br.Result)
	}
	if len(br.Writes) == 0 {
		t.Fatal("expected writes to be recorded")
	}

	var aliceBal string
	for _, wr := range br.Writes {
		if wr.Key == "currency.balances:alice" {
			aliceBal = wr.Value
		}
	}
	if aliceBal != "70" {
		t.Errorf("alice balance recorded in block result writes as %q, want 70 (writes are not hard-applied by Execute)", aliceBal)
	}
}

func TestExecuteFailureChargesStampsOnly(t *testing.T) {
	s := statedriver.New(nil)
	vmengine.SetBalance(s, "alice", big.NewRat(100, 1))
	e := New(s, nil)

	w := newWorkItem(t, "alice", "currency", "transfer", map[string]vmengine.Value{
		"to":     vmengine.String("bob"),
		"amount": mustFixed(t, "999999"),
	}, 10)

	br := e.Execute(w, big.NewRat(1, 1))
	if br.Status == 0 {
		t.Fatal("expected failure status for insufficient balance")
	}
	if br.StampsUsed != 10 {
		t.Errorf("stamps used = %d, want 10", br.StampsUsed)
	}
	if len(br.Writes) != 1 {
		t.Fatalf("expected exactly one stamp-deduction write, got %d", len(br.Writes))
	}
}

func TestExecuteClearsPendingRegardlessOfOutcome(t *testing.T) {
	s := statedriver.New(nil)
	vmengine.SetBalance(s, "alice", big.NewRat(100, 1))
	e := New(s, nil)

	w := newWorkItem(t, "alice", "currency", "transfer", map[string]vmengine.Value{
		"to":     vmengine.String("bob"),
		"amount": mustFixed(t, "10"),
	}, 10)
	e.Execute(w, big.NewRat(1, 1))

	if len(s.PendingWrites()) != 0 {
		t.Error("expected pending staging buffer to be empty after Execute")
	}
}

func mustFixed(t *testing.T, s string) vmengine.Value {
	t.Helper()
	v, err := vmengine.FixedFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
