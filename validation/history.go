package validation

import "github.com/tolelom/delegate/hlc"

// HistoryEntry is one settled Record moved out of the live table,
// mirroring validation_results_history in the Python source — but
// capped, since an unbounded dict is a memory leak a long-running
// delegate cannot afford (spec.md's supplemented feature).
type HistoryEntry struct {
	HLC    hlc.Timestamp
	Record *Record
	Result ConsensusResult
}

// History is a fixed-capacity ring buffer of settled Records, kept for
// RPC introspection (getValidationRecord) and post-mortem debugging.
type History struct {
	entries []HistoryEntry
	cap     int
	next    int
	full    bool
}

// NewHistory creates a History holding at most capacity entries. A
// non-positive capacity disables retention entirely.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 0
	}
	return &History{entries: make([]HistoryEntry, capacity), cap: capacity}
}

// Record appends a settled entry, overwriting the oldest once full.
func (h *History) Record(ts hlc.Timestamp, rec *Record, result ConsensusResult) {
	if h.cap == 0 {
		return
	}
	h.entries[h.next] = HistoryEntry{HLC: ts, Record: rec, Result: result}
	h.next = (h.next + 1) % h.cap
	if h.next == 0 {
		h.full = true
	}
}

// Lookup scans the retained entries for ts, returning (entry, true) on
// a hit. Older-than-retention entries report (zero, false).
func (h *History) Lookup(ts hlc.Timestamp) (HistoryEntry, bool) {
	limit := h.cap
	if !h.full {
		limit = h.next
	}
	for i := 0; i < limit; i++ {
		e := h.entries[i]
		if e.HLC == ts {
			return e, true
		}
	}
	return HistoryEntry{}, false
}

// Len reports how many entries are currently retained.
func (h *History) Len() int {
	if h.full {
		return h.cap
	}
	return h.next
}
