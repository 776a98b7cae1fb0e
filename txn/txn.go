// Package txn defines the Work Item and Block Result data model of
// spec.md §3: the signed unit of work masters send to delegates, and
// the deterministic execution output delegates compare to reach
// consensus.
package txn

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tolelom/delegate/crypto"
	"github.com/tolelom/delegate/hlc"
)

// Payload is the contract call a master asked the network to execute.
type Payload struct {
	Sender         string          `json:"sender"`          // hex pubkey
	Contract       string          `json:"contract"`
	Function       string          `json:"function"`
	StampsSupplied uint64          `json:"stamps_supplied"`
	Kwargs         json.RawMessage `json:"kwargs"` // decoded by vmengine into Value map
}

// Metadata carries the timestamp and signature a master attached to Tx.
type Metadata struct {
	Timestamp int64  `json:"timestamp"` // unix seconds, source of Executor's deterministic `now`
	Signature string `json:"signature"` // hex; also used as Executor's AUXILIARY_SALT
}

// Tx is the transaction body inside a Work Item.
type Tx struct {
	Payload  Payload  `json:"payload"`
	Metadata Metadata `json:"metadata"`
}

// WorkItem is the signed unit of work a master sends to a delegate.
// Immutable after admission (spec.md §3).
type WorkItem struct {
	SenderVK  string       `json:"sender_vk"`
	HLC       hlc.Timestamp `json:"hlc"`
	Tx        Tx           `json:"tx"`
	InputHash string       `json:"input_hash"`
	Signature string       `json:"signature"`
}

// Verify checks that InputHash matches the tx body and that Signature
// validates InputHash under SenderVK, per spec.md §3's Work Item
// invariant. Master-set membership is checked separately by the
// WorkValidator (spec.md §4.1 step 1).
func (w *WorkItem) Verify() error {
	if w.SenderVK == "" {
		return errors.New("txn: missing sender_vk")
	}
	if w.InputHash != w.ComputeInputHash() {
		return errors.New("txn: input_hash does not match tx body")
	}
	pub, err := crypto.PubKeyFromHex(w.SenderVK)
	if err != nil {
		return fmt.Errorf("txn: invalid sender_vk: %w", err)
	}
	return crypto.Verify(pub, []byte(w.InputHash), w.Signature)
}

// Sign computes InputHash from the tx body and signs it with priv,
// setting SenderVK to the corresponding public key.
func (w *WorkItem) Sign(priv crypto.PrivateKey) {
	w.SenderVK = priv.Public().Hex()
	w.InputHash = w.ComputeInputHash()
	w.Signature = crypto.Sign(priv, []byte(w.InputHash))
}

// ComputeInputHash hashes the tx body deterministically.
func (w *WorkItem) ComputeInputHash() string {
	data, err := json.Marshal(w.Tx)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Write is a single state mutation produced by executing a Work Item.
type Write struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BlockResult is the deterministic execution output for one Work Item
// (spec.md §3's "solution"). All honest producers must yield an
// identical Hash given identical pre-state and Work Item.
type BlockResult struct {
	HLC        hlc.Timestamp `json:"hlc"`
	Hash       string        `json:"hash"`
	Writes     []Write       `json:"writes"`
	StampsUsed uint64        `json:"stamps_used"`
	Status     int           `json:"status"`
	Result     string        `json:"result"`
}

// ComputeHash is the deterministic digest over (writes ordered by key,
// status, hlc, input_hash) specified by spec.md §3.
func ComputeHash(writes []Write, status int, h hlc.Timestamp, inputHash string) string {
	sorted := make([]Write, len(writes))
	copy(sorted, writes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var buf bytes.Buffer
	var lenBuf [4]byte
	writeLP := func(s string) {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf.Write(lenBuf[:])
		buf.WriteString(s)
	}
	for _, w := range sorted {
		writeLP(w.Key)
		writeLP(w.Value)
	}
	binary.BigEndian.PutUint32(lenBuf[:], uint32(status))
	buf.Write(lenBuf[:])
	writeLP(h.String())
	writeLP(inputHash)
	return crypto.Hash(buf.Bytes())
}
