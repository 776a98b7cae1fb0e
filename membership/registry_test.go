package membership

import "testing"

func TestIsMaster(t *testing.T) {
	r := New([]string{"m1", "m2"}, []string{"p1"})
	if !r.IsMaster("m1") {
		t.Error("m1 should be a master")
	}
	if r.IsMaster("p1") {
		t.Error("p1 should not be a master")
	}
}

func TestSetPeersNotInConsensus(t *testing.T) {
	r := New(nil, []string{"p1", "p2", "p3"})
	r.SetPeersNotInConsensus([]string{"p2"})
	out := r.PeersNotInConsensus()
	if len(out) != 1 || out[0] != "p2" {
		t.Errorf("got %v want [p2]", out)
	}
}

func TestAddRemovePeer(t *testing.T) {
	r := New(nil, nil)
	r.AddPeer("p1")
	if len(r.GetPeersForConsensus()) != 1 {
		t.Fatal("expected 1 peer after add")
	}
	r.RemovePeer("p1")
	if len(r.GetPeersForConsensus()) != 0 {
		t.Fatal("expected 0 peers after remove")
	}
}
