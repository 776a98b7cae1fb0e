package wallet

import (
	"encoding/json"

	"github.com/tolelom/delegate/crypto"
	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/txn"
	"github.com/tolelom/delegate/vmengine"
)

// Wallet holds a key pair and builds signed Work Items for this node's
// identity. Grounded on the teacher's wallet.Wallet, re-keyed from
// core.Transaction to txn.WorkItem.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key, used as SenderVK
// on Work Items this wallet signs and as the vk on this node's solutions.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address.
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewWorkItem builds and signs a Work Item calling (contract, function)
// with kwargs at the given HLC, charging up to stampsSupplied.
func (w *Wallet) NewWorkItem(h hlc.Timestamp, contract, function string, kwargs map[string]vmengine.Value, stampsSupplied uint64, timestamp int64) (*txn.WorkItem, error) {
	kw, err := json.Marshal(kwargs)
	if err != nil {
		return nil, err
	}
	payload := txn.Payload{
		Sender:         w.pub.Hex(),
		Contract:       contract,
		Function:       function,
		StampsSupplied: stampsSupplied,
		Kwargs:         kw,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	item := &txn.WorkItem{
		HLC: h,
		Tx: txn.Tx{
			Payload: payload,
			Metadata: txn.Metadata{
				Timestamp: timestamp,
				Signature: crypto.Sign(w.priv, payloadBytes),
			},
		},
	}
	item.Sign(w.priv)
	return item, nil
}
