package syncpipeline

import (
	"sync"

	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

// Sync is the {fence, flags, cookie, ring_index} record from the data
// model: a native synchronization primitive plus the bookkeeping needed
// to call the external retire callback.
type Sync struct {
	Fence     vkdriver.Handle
	Mergeable bool
	Cookie    uint64
	RingIndex int32
}

// Queue owns one native Vulkan queue's pending sync chain. Pending order
// is FIFO; retirement callbacks for a single queue fire in submission
// order modulo mergeable coalescing, which never reorders.
type Queue struct {
	Handle vkdriver.Handle

	mu        sync.Mutex
	pending   []*Sync
	accepting bool
}

// NewQueue creates a queue wrapper accepting submissions until device-lost.
func NewQueue(handle vkdriver.Handle) *Queue {
	return &Queue{Handle: handle, accepting: true}
}

// Submit appends sync to the pending chain. Returns false if the queue has
// stopped accepting submissions (device-lost).
func (q *Queue) Submit(s *Sync) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.accepting {
		return false
	}
	q.pending = append(q.pending, s)
	return true
}

// peekPendingAt returns the i-th pending sync (0 = front) without removing
// it, or nil if out of range.
func (q *Queue) peekPendingAt(i int) *Sync {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.pending) {
		return nil
	}
	return q.pending[i]
}

// popPending removes and returns the front of the pending chain, or nil if
// empty.
func (q *Queue) popPending() *Sync {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	s := q.pending[0]
	q.pending = q.pending[1:]
	return s
}

// PendingLen reports the number of syncs awaiting retirement.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// MarkDeviceLost stops the queue from accepting further submissions.
func (q *Queue) MarkDeviceLost() {
	q.mu.Lock()
	q.accepting = false
	q.mu.Unlock()
}

// IsAccepting reports whether the queue still accepts submissions.
func (q *Queue) IsAccepting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.accepting
}
