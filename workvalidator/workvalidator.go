// Package workvalidator implements the WorkValidator of spec.md §4.1:
// the router-facing gate that authenticates an inbound Work Item,
// merges its HLC into the local clock, and hands it off to the
// ProcessingQueue. Grounded on original_source/lamden/nodes/work.py's
// process_message and the teacher's router.Processor/Node.handleTx idiom.
package workvalidator

import (
	"errors"
	"log"
	"time"

	"github.com/tolelom/delegate/hlc"
	"github.com/tolelom/delegate/membership"
	"github.com/tolelom/delegate/txn"
)

// Errors returned by Accept. All are logged and dropped locally per
// spec.md §4.1 — the sending master is responsible for retransmission,
// there is no NACK.
var (
	ErrUnauthorized = errors.New("workvalidator: sender is not a master")
	ErrBadSignature = errors.New("workvalidator: signature verification failed")
	ErrExpired      = errors.New("workvalidator: hlc older than tx_expiry_sec")
)

// ProcessingQueue is the subset of procqueue.Queue the validator feeds.
type ProcessingQueue interface {
	Append(w *txn.WorkItem)
}

// Validator accepts Work Items from the router.
type Validator struct {
	members   *membership.Registry
	clock     *hlc.Clock
	queue     ProcessingQueue
	txExpiry  time.Duration // 0 disables the expiry check
}

// New creates a Validator. txExpiry of 0 disables step 3 of Accept,
// matching the Python source's own commented-out expiry check.
func New(members *membership.Registry, clock *hlc.Clock, queue ProcessingQueue, txExpiry time.Duration) *Validator {
	return &Validator{members: members, clock: clock, queue: queue, txExpiry: txExpiry}
}

// Accept runs the 5-step admission pipeline of spec.md §4.1 on an
// inbound Work Item. A non-nil error means the item was dropped; the
// caller (the router's "work" service handler) is expected to log it
// and send no reply.
func (v *Validator) Accept(w *txn.WorkItem) error {
	if !v.members.IsMaster(w.SenderVK) {
		log.Printf("[workvalidator] tx batch received from non-master %.8s", w.SenderVK)
		return ErrUnauthorized
	}

	if err := w.Verify(); err != nil {
		log.Printf("[workvalidator] invalidly signed tx from master %.8s: %v", w.SenderVK, err)
		return ErrBadSignature
	}

	if v.txExpiry > 0 && v.clock.CheckExpired(w.HLC, v.txExpiry) {
		log.Printf("[workvalidator] expired tx from master %.8s at hlc %s", w.SenderVK, w.HLC)
		return ErrExpired
	}

	v.clock.Merge(w.HLC)
	v.queue.Append(w)
	return nil
}
