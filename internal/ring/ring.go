package ring

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/vera-firefly/vkrcontext/internal/region"
)

// State is a ring's lifecycle state.
type State int32

const (
	StateStarted State = iota
	StateRunning
	StateIdle
	StateStopped
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateStopped:
		return "stopped"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

const (
	statusBitIdle  = 1 << 0
	statusBitFatal = 1 << 1
)

// word returns an atomically-addressable uint32 at offset within data.
// Callers must have already validated 4-byte alignment and bounds via
// Layout.Validate; this function trusts that precondition the same way
// the teacher's mmap'd descriptor arrays trust their own bounds checks.
func word(data []byte, offset uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&data[offset]))
}

// Ring is one guest submission ring: shared-memory head/tail/status words,
// a power-of-two command buffer, and an extra ancillary-slot region.
type Ring struct {
	Index  int
	layout Layout
	res    *region.Resource

	headPtr   *uint32 // host-written, release semantics
	tailPtr   *uint32 // guest-written, acquire semantics
	statusPtr *uint32 // host-written

	buffer []byte
	extra  []byte

	state atomic.Int32

	mu           sync.Mutex
	cond         *sync.Cond
	pendingWake  bool
	lastSubmit   atomic.Int64 // unix nanos
	seqnoWaiters []seqnoWaiter

	scratch []byte // preallocated linear copy buffer, buffer-size bytes
}

type seqnoWaiter struct {
	target uint32
	ch     chan struct{}
}

// New constructs a Ring bound to a validated layout within res. Callers
// must call Layout.Validate first; New does not re-validate and reports
// ok=false only if res isn't a shm resource (dmabuf/opaque resources can
// never back a ring).
func New(index int, layout Layout, res *region.Resource) (*Ring, bool) {
	full, ok := res.FullSlice()
	if !ok {
		return nil, false
	}

	r := &Ring{
		Index:     index,
		layout:    layout,
		res:       res,
		headPtr:   word(full, layout.BaseOffset+layout.HeadOffset),
		tailPtr:   word(full, layout.BaseOffset+layout.TailOffset),
		statusPtr: word(full, layout.BaseOffset+layout.StatusOffset),
		scratch:   make([]byte, layout.BufferSize),
	}
	bufBase := layout.BaseOffset + layout.BufferOffset
	r.buffer = full[bufBase : bufBase+uint64(layout.BufferSize)]
	if layout.ExtraSize > 0 {
		base := layout.BaseOffset + layout.ExtraOffset
		r.extra = full[base : base+layout.ExtraSize]
	}
	r.cond = sync.NewCond(&r.mu)
	r.state.Store(int32(StateStarted))
	r.lastSubmit.Store(time.Now().UnixNano())
	return r, true
}

// State reports the ring's current lifecycle state.
func (r *Ring) State() State {
	return State(r.state.Load())
}

func (r *Ring) setState(s State) {
	r.state.Store(int32(s))
}

// Head returns the host-written head offset (release store target).
func (r *Ring) Head() uint32 {
	return atomic.LoadUint32(r.headPtr)
}

// Tail returns the guest-written tail offset (acquire load in the host's
// reading direction).
func (r *Ring) Tail() uint32 {
	return atomic.LoadUint32(r.tailPtr)
}

// advanceHead stores a new head value with release semantics (Go's
// sync/atomic already provides sequentially consistent ordering, a
// strictly stronger guarantee than the release/acquire pair the wire
// format requires) and wakes any seqno waiters whose target it satisfies.
func (r *Ring) advanceHead(newHead uint32) {
	atomic.StoreUint32(r.headPtr, newHead)
	r.notifySeqnoWaiters(newHead)
}

func (r *Ring) setStatusBit(bit uint32, set bool) {
	for {
		old := atomic.LoadUint32(r.statusPtr)
		var next uint32
		if set {
			next = old | bit
		} else {
			next = old &^ bit
		}
		if next == old || atomic.CompareAndSwapUint32(r.statusPtr, old, next) {
			return
		}
	}
}

// IsIdle reports whether the idle status bit is set.
func (r *Ring) IsIdle() bool {
	return atomic.LoadUint32(r.statusPtr)&statusBitIdle != 0
}

// IsFatal reports whether the fatal status bit is set.
func (r *Ring) IsFatal() bool {
	return atomic.LoadUint32(r.statusPtr)&statusBitFatal != 0
}

// Notify sets a pending-notify flag and wakes the worker even if it is
// idle and the tail hasn't moved, used by guests to wake a polling-idle
// ring.
func (r *Ring) Notify() {
	r.mu.Lock()
	r.pendingWake = true
	r.cond.Signal()
	r.mu.Unlock()
}

// WriteExtra writes a 32-bit value into the extra sub-region after bounds
// checking. offset is relative to the start of the extra region.
func (r *Ring) WriteExtra(offset uint64, value uint32) bool {
	if r.extra == nil || offset+4 > uint64(len(r.extra)) || offset%4 != 0 {
		return false
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.extra[offset])), value)
	return true
}

// Seqno returns the ring's current consumed-head seqno.
func (r *Ring) Seqno() uint32 {
	return r.Head()
}

// WaitSeqno blocks until the ring's head reaches or passes target (using
// wrap-tolerant modular comparison), or the ring becomes fatal/stopped.
func (r *Ring) WaitSeqno(target uint32) bool {
	if seqnoReached(r.Seqno(), target) {
		return true
	}

	ch := make(chan struct{})
	r.mu.Lock()
	r.seqnoWaiters = append(r.seqnoWaiters, seqnoWaiter{target: target, ch: ch})
	r.mu.Unlock()

	<-ch
	return r.State() != StateFatal
}

func (r *Ring) notifySeqnoWaiters(head uint32) {
	r.mu.Lock()
	remaining := r.seqnoWaiters[:0]
	for _, w := range r.seqnoWaiters {
		if seqnoReached(head, w.target) {
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	r.seqnoWaiters = remaining
	r.mu.Unlock()
}

// seqnoReached reports whether head has reached or passed target using
// modular (wrap-tolerant) 32-bit comparison.
func seqnoReached(head, target uint32) bool {
	return int32(head-target) >= 0
}

// MarkFatal sets the fatal status bit and transitions the ring to the
// Fatal state, waking any blocked seqno waiters so they can observe it.
func (r *Ring) MarkFatal() {
	r.setStatusBit(statusBitFatal, true)
	r.setState(StateFatal)
	r.mu.Lock()
	for _, w := range r.seqnoWaiters {
		close(w.ch)
	}
	r.seqnoWaiters = nil
	r.cond.Broadcast()
	r.mu.Unlock()
}

// LastSubmit reports when the worker last observed pending work; the
// worker measures its idle timeout from it.
func (r *Ring) LastSubmit() time.Time {
	return time.Unix(0, r.lastSubmit.Load())
}
