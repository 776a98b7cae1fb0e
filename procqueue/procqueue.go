// Package procqueue implements the ProcessingQueue of spec.md §4.2: a
// delay-gated queue that releases admitted Work Items for execution in
// HLC order once they have sat long enough for earlier, slower-arriving
// Work Items to still be admitted ahead of them. Grounded on
// original_source/lamden/nodes/processing_queue.py's append/process_next,
// with ordering reimplemented over container/heap instead of re-sorting
// a slice on every release — no third-party ordered-container package
// appears anywhere in the corpus, so this is the one place the core
// reaches for the standard library's own heap support.
package procqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/tolelom/delegate/txn"
)

type entry struct {
	work       *txn.WorkItem
	receivedAt time.Time
	index      int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return h[i].work.HLC.Less(h[j].work.HLC)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is the delay-gated admission queue. Safe for concurrent use:
// Append runs on router receive goroutines (via the WorkValidator),
// ProcessNext on the node's event loop.
type Queue struct {
	mu sync.Mutex

	items           entryHeap
	processingDelay time.Duration
	running         bool
	now             func() time.Time // overridable for deterministic tests
}

// New creates a Queue that releases items once they have sat for at
// least processingDelay.
func New(processingDelay time.Duration) *Queue {
	return &Queue{
		processingDelay: processingDelay,
		running:         true,
		now:             time.Now,
	}
}

// Append admits w, stamping its arrival time for the delay gate.
func (q *Queue) Append(w *txn.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, &entry{work: w, receivedAt: q.now()})
}

// ProcessNext releases the lowest-HLC admitted Work Item once it has
// aged past processingDelay. If the head isn't old enough yet, or the
// queue is empty or stopped, it returns (nil, false) without mutating
// the queue — mirroring the Python source's "put it back and return
// None" early-return (here there is nothing to put back: the head was
// only peeked, never popped).
func (q *Queue) ProcessNext() (*txn.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running || len(q.items) == 0 {
		return nil, false
	}
	head := q.items[0]
	if q.now().Sub(head.receivedAt) <= q.processingDelay {
		return nil, false
	}
	heap.Pop(&q.items)
	return head.work, true
}

// Len reports the number of admitted but not-yet-released Work Items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop marks the queue not-running; ProcessNext becomes a no-op. Used
// during validation's rollback protocol (spec.md §4.4).
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
}

// Start resumes processing after a rollback-induced Stop.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = true
}

// Flush discards every admitted Work Item. The validation rollback
// path does not call it: it stops the queue and appends the requeued
// Work Items alongside those still admitted.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
