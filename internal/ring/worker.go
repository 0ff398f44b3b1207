package ring

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vera-firefly/vkrcontext/internal/constants"
)

// Consumer feeds a ring's linear scratch buffer into the decoder/dispatch
// pipeline. onAdvance is called after each fully-consumed command with the
// cumulative byte offset into buf consumed so far, implementing the
// "intra-stream" ring-head update so guests can reclaim ring space before
// the whole batch finishes. Consume returns true if the context became
// fatal while processing buf.
type Consumer interface {
	Consume(buf []byte, onAdvance func(consumed uint32)) (fatal bool)
}

// Start spawns the ring's worker goroutine, pinned to its own OS thread
// the way the teacher's per-queue ioLoop pins itself — guests addressing a
// ring by a fixed identity benefit from a stable thread the same way
// ublk's kernel driver expects one thread per queue. cpuAffinity, if
// non-empty, additionally pins the worker to a single CPU, assigned
// round-robin by ring index (cpuAffinity[index % len(cpuAffinity)]),
// mirroring the teacher's per-queue CPU pinning; nil/empty means no
// affinity is set.
func (r *Ring) Start(consumer Consumer, cpuAffinity []int) {
	started := make(chan struct{})
	go r.workerLoop(consumer, cpuAffinity, started)
	<-started
}

func (r *Ring) workerLoop(consumer Consumer, cpuAffinity []int, started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(cpuAffinity) > 0 {
		cpu := cpuAffinity[r.Index%len(cpuAffinity)]
		var mask unix.CPUSet
		mask.Set(cpu)
		_ = unix.SchedSetaffinity(0, &mask) // best effort; not fatal if unsupported
	}

	r.setState(StateRunning)
	close(started)

	backoff := constants.RingBackoffStart
	spins := 0

	for {
		if r.State() == StateStopped || r.State() == StateFatal {
			return
		}

		head := r.Head()
		tail := r.Tail()
		pending := tail - head // modular 32-bit subtraction

		if pending == 0 {
			if r.pastIdleTimeout() {
				if r.waitForWork() {
					continue // woken by Notify; rescan
				}
				return // stopped while idle
			}
			backoff, spins = r.backoffSleep(backoff, spins)
			continue
		}

		spins = 0
		backoff = constants.RingBackoffStart

		if uint32(pending) > r.layout.BufferSize {
			r.MarkFatal()
			return
		}

		r.copyPending(head, uint32(pending))
		r.lastSubmit.Store(time.Now().UnixNano())

		fatal := consumer.Consume(r.scratch[:pending], func(consumed uint32) {
			r.advanceHead(head + consumed)
		})
		if fatal {
			r.MarkFatal()
			return
		}
		r.advanceHead(tail)
	}
}

func (r *Ring) pastIdleTimeout() bool {
	return time.Since(r.LastSubmit()) >= r.layout.IdleTimeout
}

// waitForWork sets the idle bit and blocks until Notify, Stop or MarkFatal
// wakes it; a tail advance alone does not wake an idle worker. Returns
// false if the ring was stopped or went fatal while idle.
func (r *Ring) waitForWork() bool {
	r.setState(StateIdle)
	r.setStatusBit(statusBitIdle, true)

	r.mu.Lock()
	for !r.pendingWake && r.State() == StateIdle {
		r.cond.Wait()
	}
	r.pendingWake = false
	r.mu.Unlock()

	r.setStatusBit(statusBitIdle, false)
	if r.State() == StateStopped || r.State() == StateFatal {
		return false
	}
	r.setState(StateRunning)
	return true
}

// copyPending copies pending bytes starting at head out of the
// wrap-around ring buffer into the preallocated linear scratch buffer.
func (r *Ring) copyPending(head uint32, pending uint32) {
	bufSize := r.layout.BufferSize
	start := head % bufSize

	if uint32(start)+pending <= bufSize {
		copy(r.scratch[:pending], r.buffer[start:start+pending])
		return
	}

	firstLen := bufSize - start
	copy(r.scratch[:firstLen], r.buffer[start:bufSize])
	copy(r.scratch[firstLen:pending], r.buffer[0:pending-firstLen])
}

// backoffSleep implements the exponential back-off: thread-yield for the
// first RingSpinIterations iterations, then sleeping with a doubling
// interval capped at RingBackoffMax.
func (r *Ring) backoffSleep(current time.Duration, spins int) (time.Duration, int) {
	if spins < constants.RingSpinIterations {
		runtime.Gosched()
		return current, spins + 1
	}

	ts := unix.NsecToTimespec(current.Nanoseconds())
	_ = unix.Nanosleep(&ts, nil)

	next := current * 2
	if next > constants.RingBackoffMax {
		next = constants.RingBackoffMax
	}
	return next, spins
}

// Stop transitions the ring to Stopped, wakes the worker so it can exit,
// and releases any blocked WaitSeqno callers. It returns without waiting
// for the worker goroutine to exit, and it does not detect being called
// from the worker itself. A ring already stopped or fatal is left as is.
func (r *Ring) Stop() {
	if r.State() == StateStopped || r.State() == StateFatal {
		return
	}
	r.setState(StateStopped)
	r.mu.Lock()
	r.pendingWake = true
	for _, w := range r.seqnoWaiters {
		close(w.ch)
	}
	r.seqnoWaiters = nil
	r.cond.Broadcast()
	r.mu.Unlock()
}
