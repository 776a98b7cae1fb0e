// Package executor adapts the vmengine contract dispatcher to the
// deterministic execute(tx, stamp_cost, env) -> BlockResult operation
// of spec.md §4.3, grounded on
// original_source/lamden/nodes/processing_queue.py's execute_tx:
// auto_commit=false staging, unconditional staging-buffer clear, and
// the stamp-deduction-only write fallback on a non-zero status.
package executor

import (
	"math/big"

	"github.com/tolelom/delegate/events"
	"github.com/tolelom/delegate/statedriver"
	"github.com/tolelom/delegate/txn"
	"github.com/tolelom/delegate/vmengine"
)

// baseCallStamps is the flat per-call execution fee. Spec.md's
// Non-goals explicitly exclude economic/fee policy beyond honoring a
// supplied stamp_cost, so a flat deterministic fee (rather than a real
// per-opcode metering scheme) is the core's whole metering model.
const baseCallStamps = 1

// Executor applies a Work Item to contract state via vmengine, with
// snapshot-free uncommitted staging (the StateDriver's own pending
// buffer plays that role) and a clear-always discipline.
type Executor struct {
	state   *statedriver.StateDriver
	emitter *events.Emitter
}

// New creates an Executor over state, optionally emitting domain
// events through emitter (nil is a valid no-op emitter).
func New(state *statedriver.StateDriver, emitter *events.Emitter) *Executor {
	return &Executor{state: state, emitter: emitter}
}

// Execute runs w deterministically and returns its BlockResult. It
// always clears the StateDriver's pending staging buffer before
// returning, win or lose, so the engine never leaks state across calls.
func (e *Executor) Execute(w *txn.WorkItem, stampCost *big.Rat) *txn.BlockResult {
	defer e.state.ClearPending()

	payload := w.Tx.Payload

	if payload.StampsSupplied < baseCallStamps {
		return e.stampOnlyResult(w, payload.StampsSupplied, stampCost, "insufficient stamps supplied")
	}

	kwargs, err := vmengine.DecodeKwargs(payload.Kwargs)
	if err != nil {
		return e.stampOnlyResult(w, payload.StampsSupplied, stampCost, "bad kwargs: "+err.Error())
	}

	ctx := &vmengine.Context{
		State:         e.state,
		HLC:           w.HLC.String(),
		Sender:        payload.Sender,
		Now:           w.Tx.Metadata.Timestamp,
		BlockNum:      e.state.LatestBlockNum(),
		BlockHash:     e.state.LatestBlockHash(),
		InputHash:     w.InputHash,
		AuxiliarySalt: w.Tx.Metadata.Signature,
		Emitter:       e.emitter,
	}

	result, execErr := vmengine.Dispatch(payload.Contract, payload.Function, ctx, kwargs)
	if execErr != nil {
		return e.stampOnlyResult(w, payload.StampsSupplied, stampCost, execErr.Error())
	}

	writes := writesFromPending(e.state.PendingWrites())
	hash := txn.ComputeHash(writes, 0, w.HLC, w.InputHash)
	return &txn.BlockResult{
		HLC:        w.HLC,
		Hash:       hash,
		Writes:     writes,
		StampsUsed: baseCallStamps,
		Status:     0,
		Result:     result,
	}
}

// stampOnlyResult discards any staged contract writes and emits only
// the mandatory stamp-deduction write, per spec.md §4.3's status != 0
// fallback.
func (e *Executor) stampOnlyResult(w *txn.WorkItem, stampsUsed uint64, stampCost *big.Rat, reason string) *txn.BlockResult {
	e.state.ClearPending()

	sender := w.Tx.Payload.Sender
	prevBalance := vmengine.GetBalance(e.state, sender)

	newBalance := new(big.Rat).Set(prevBalance)
	if stampCost != nil && stampCost.Sign() > 0 {
		cost := new(big.Rat).Quo(new(big.Rat).SetInt64(int64(stampsUsed)), stampCost)
		newBalance.Sub(newBalance, cost)
	}
	vmengine.SetBalance(e.state, sender, newBalance)

	writes := writesFromPending(e.state.PendingWrites())
	hash := txn.ComputeHash(writes, 1, w.HLC, w.InputHash)
	return &txn.BlockResult{
		HLC:        w.HLC,
		Hash:       hash,
		Writes:     writes,
		StampsUsed: stampsUsed,
		Status:     1,
		Result:     reason,
	}
}

func writesFromPending(pending map[string]string) []txn.Write {
	writes := make([]txn.Write, 0, len(pending))
	for k, v := range pending {
		writes = append(writes, txn.Write{Key: k, Value: v})
	}
	return writes
}
