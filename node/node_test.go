package node

import (
	"math/big"
	"testing"
	"time"

	"github.com/tolelom/delegate/config"
	"github.com/tolelom/delegate/crypto"
	"github.com/tolelom/delegate/txn"
	"github.com/tolelom/delegate/vmengine"
	"github.com/tolelom/delegate/wallet"
)

func testConfig(masterVK string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.NodeID = "delegate-test"
	cfg.Masters = []string{masterVK}
	cfg.ConsensusPercent = 100
	cfg.ProcessingDelayMS = 0
	cfg.Genesis.Alloc = map[string]uint64{masterVK: 1000}
	return cfg
}

func newTestNode(t *testing.T) (*Node, *wallet.Wallet) {
	t.Helper()
	master, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	nodeKey, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(master.PubKey())
	n, err := New(cfg, nodeKey, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n, master
}

func TestSingleNodeSoloConsensusCommits(t *testing.T) {
	n, master := newTestNode(t)

	kwargs := map[string]vmengine.Value{
		"to":     vmengine.String("bob"),
		"amount": vmengine.FixedPoint(big.NewRat(100, 1)),
	}
	item, err := master.NewWorkItem(n.clock.Now(), "currency", "transfer", kwargs, 10, time.Now().Unix())
	if err != nil {
		t.Fatalf("NewWorkItem: %v", err)
	}

	if err := n.validator.Accept(item); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	time.Sleep(time.Millisecond)
	n.tick()

	bal := vmengine.GetBalance(n.state, "bob")
	if bal.Cmp(big.NewRat(100, 1)) != 0 {
		t.Fatalf("bob balance = %s, want 100", bal.RatString())
	}
	if n.valQueue.LastHLCInConsensus().Compare(item.HLC) != 0 {
		t.Fatalf("last_hlc_in_consensus = %s, want %s", n.valQueue.LastHLCInConsensus(), item.HLC)
	}
}

func TestAcceptRejectsNonMaster(t *testing.T) {
	n, _ := newTestNode(t)

	imposter, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	kwargs := map[string]vmengine.Value{
		"to":     vmengine.String("bob"),
		"amount": vmengine.FixedPoint(big.NewRat(1, 1)),
	}
	item, err := imposter.NewWorkItem(n.clock.Now(), "currency", "transfer", kwargs, 10, time.Now().Unix())
	if err != nil {
		t.Fatal(err)
	}

	if err := n.validator.Accept(item); err == nil {
		t.Fatal("expected rejection for a non-master sender")
	}
	if n.procQueue.Len() != 0 {
		t.Fatalf("expected no work admitted for non-master sender")
	}
}

func TestHandleSolutionRegistersRemoteVote(t *testing.T) {
	n, _ := newTestNode(t)
	h := n.clock.Now()
	result := &txn.BlockResult{HLC: h, Hash: "deadbeef"}

	n.valQueue.AddSolution(h, "peer1", result, nil)

	rec, ok := n.valQueue.Lookup(h)
	if !ok {
		t.Fatal("expected a live record for h after AddSolution")
	}
	if rec.Solutions["peer1"].Hash != "deadbeef" {
		t.Fatalf("solution hash = %s, want deadbeef", rec.Solutions["peer1"].Hash)
	}
}

func TestBroadcastSolutionMarshalsWireShape(t *testing.T) {
	n, _ := newTestNode(t)
	h := n.clock.Now()
	result := &txn.BlockResult{HLC: h, Hash: "cafef00d"}

	// No peers connected: Broadcast is a no-op, but this exercises the
	// marshal path the way a connected peer would receive it.
	n.broadcastSolution(h, result)
}
