package workvalidator

import (
	"testing"
	"time"

	"github.com/tolelom/delegate/crypto"
	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/membership"
	"github.com/tolelom/delegate/txn"
)

type fakeQueue struct {
	appended []*txn.WorkItem
}

func (f *fakeQueue) Append(w *txn.WorkItem) { f.appended = append(f.appended, w) }

func signedWorkItem(t *testing.T, priv crypto.PrivateKey, physical int64) *txn.WorkItem {
	t.Helper()
	w := &txn.WorkItem{
		HLC: hlc.Timestamp{Physical: physical, NodeID: "master1"},
		Tx: txn.Tx{
			Payload: txn.Payload{Sender: priv.Public().Hex(), Contract: "currency", Function: "transfer"},
		},
	}
	w.Sign(priv)
	return w
}

func genKey(t *testing.T) crypto.PrivateKey {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func TestAcceptForwardsValidWorkItem(t *testing.T) {
	priv := genKey(t)
	members := membership.New([]string{priv.Public().Hex()}, nil)
	clock := hlc.NewClock("me")
	q := &fakeQueue{}
	v := New(members, clock, q, 0)

	w := signedWorkItem(t, priv, time.Now().UnixNano())
	if err := v.Accept(w); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if len(q.appended) != 1 {
		t.Fatalf("expected one forwarded item, got %d", len(q.appended))
	}
}

func TestAcceptRejectsNonMaster(t *testing.T) {
	priv := genKey(t)
	members := membership.New(nil, nil) // empty masters set
	clock := hlc.NewClock("me")
	q := &fakeQueue{}
	v := New(members, clock, q, 0)

	w := signedWorkItem(t, priv, time.Now().UnixNano())
	if err := v.Accept(w); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(q.appended) != 0 {
		t.Error("expected nothing forwarded")
	}
}

func TestAcceptRejectsBadSignature(t *testing.T) {
	priv := genKey(t)
	members := membership.New([]string{priv.Public().Hex()}, nil)
	clock := hlc.NewClock("me")
	q := &fakeQueue{}
	v := New(members, clock, q, 0)

	w := signedWorkItem(t, priv, time.Now().UnixNano())
	w.Signature = "deadbeef"
	if err := v.Accept(w); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestAcceptRejectsExpiredHLC(t *testing.T) {
	priv := genKey(t)
	members := membership.New([]string{priv.Public().Hex()}, nil)
	clock := hlc.NewClock("me")
	q := &fakeQueue{}
	v := New(members, clock, q, time.Second)

	old := time.Now().Add(-time.Hour).UnixNano()
	w := signedWorkItem(t, priv, old)
	if err := v.Accept(w); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestAcceptMergesHLCIntoLocalClock(t *testing.T) {
	priv := genKey(t)
	members := membership.New([]string{priv.Public().Hex()}, nil)
	clock := hlc.NewClock("me")
	q := &fakeQueue{}
	v := New(members, clock, q, 0)

	future := time.Now().Add(time.Hour).UnixNano()
	w := signedWorkItem(t, priv, future)
	if err := v.Accept(w); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	next := clock.Now()
	if next.Physical < future {
		t.Errorf("local clock not advanced past merged hlc: got %d, want >= %d", next.Physical, future)
	}
}
