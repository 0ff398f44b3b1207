package syncpipeline

import (
	"sync"
	"time"

	"github.com/vera-firefly/vkrcontext/internal/constants"
	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

// RetireFunc is the external "fence retire" callback: (context_id,
// ring_index, cookie) -> void. Called at most once per submitted sync (or
// per surviving sync in a mergeable chain).
type RetireFunc func(contextID uint32, ringIndex int32, cookie uint64, lost bool)

// Config selects the retirement variant at init, per spec's two required
// renderer init flags (thread-sync + async-fence-callback).
type Config struct {
	// AsyncRetire selects variant 1 (thread-sync + async callback, the
	// preferred/required-in-modern-builds variant) when true, or variant 2
	// (thread-sync, synchronous callback via eventfd) when false.
	AsyncRetire bool
	WaitTimeout time.Duration
}

// DefaultConfig returns the preferred async-callback variant with the
// spec's default sync wait timeout.
func DefaultConfig() Config {
	return Config{AsyncRetire: true, WaitTimeout: constants.DefaultSyncWaitTimeout}
}

type signaledEntry struct {
	sync *Sync
	lost bool
}

// Pipeline is the per-device queue sync pipeline: a fence free list plus
// one sync goroutine per queue with device-lost handling.
type Pipeline struct {
	contextID uint32
	driver    vkdriver.Driver
	device    vkdriver.Handle
	cfg       Config
	retire    RetireFunc
	alloc     *FenceAllocator

	eventFD *EventFD // non-nil only when cfg.AsyncRetire == false

	mu            sync.Mutex
	queues        map[int32]*Queue
	signaledQueue []signaledEntry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a pipeline. When cfg.AsyncRetire is false it opens a real
// Linux eventfd for the synchronous-callback variant's drain signal.
func New(contextID uint32, driver vkdriver.Driver, device vkdriver.Handle, retire RetireFunc, cfg Config) (*Pipeline, error) {
	p := &Pipeline{
		contextID: contextID,
		driver:    driver,
		device:    device,
		cfg:       cfg,
		retire:    retire,
		alloc:     NewFenceAllocator(driver, device),
		queues:    make(map[int32]*Queue),
		stopCh:    make(chan struct{}),
	}

	if !cfg.AsyncRetire {
		efd, err := NewEventFD()
		if err != nil {
			return nil, err
		}
		p.eventFD = efd
	}

	return p, nil
}

// getOrCreateQueue returns the Queue for ringIndex, a sparse array of up
// to constants.MaxSyncQueues "sync-visible" queues, creating and starting
// its sync goroutine on first use.
func (p *Pipeline) getOrCreateQueue(ringIndex int32, handle vkdriver.Handle) (*Queue, bool) {
	if ringIndex < 0 || int(ringIndex) >= constants.MaxSyncQueues {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.queues[ringIndex]
	if ok {
		return q, true
	}

	q = NewQueue(handle)
	p.queues[ringIndex] = q
	p.wg.Add(1)
	go p.runQueueWorker(q)
	return q, true
}

// SubmitFence allocates a sync, attaches it to a native queue submission,
// and enqueues it on the indexed queue's pending chain.
func (p *Pipeline) SubmitFence(ringIndex int32, queueHandle vkdriver.Handle, cookie uint64, mergeable bool) (bool, error) {
	q, ok := p.getOrCreateQueue(ringIndex, queueHandle)
	if !ok {
		return false, nil
	}

	fence, err := p.alloc.Acquire()
	if err != nil {
		return false, err
	}
	if err := p.driver.QueueSubmitFence(queueHandle, fence); err != nil {
		p.alloc.Release(fence)
		return false, err
	}

	s := &Sync{Fence: fence, Mergeable: mergeable, Cookie: cookie, RingIndex: ringIndex}
	return q.Submit(s), nil
}

func (p *Pipeline) runQueueWorker(q *Queue) {
	defer p.wg.Done()
	if p.cfg.AsyncRetire {
		p.asyncRetireLoop(q)
	} else {
		p.syncRetireLoop(q)
	}
}

// asyncRetireLoop implements retirement variant 1: wait on the pending
// list's head with a timeout, retire directly off this goroutine on
// signal.
func (p *Pipeline) asyncRetireLoop(q *Queue) {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		s := q.peekPendingAt(0)
		if s == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		signaled, lost, err := p.driver.WaitFence(p.device, s.Fence, p.cfg.WaitTimeout)
		if err != nil {
			continue
		}
		if lost {
			q.popPending()
			q.MarkDeviceLost()
			p.retire(p.contextID, s.RingIndex, s.Cookie, true)
			p.alloc.Release(s.Fence)
			continue
		}
		if !signaled {
			continue
		}

		cur := p.coalesce(q, s)
		q.popPending()
		p.retire(p.contextID, cur.RingIndex, cur.Cookie, false)
		p.alloc.Release(cur.Fence)
	}
}

// syncRetireLoop implements retirement variant 2: move signaled syncs to
// a drain list and kick the eventfd; the caller's RetireFences fires the
// actual callback on the main thread.
func (p *Pipeline) syncRetireLoop(q *Queue) {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		s := q.peekPendingAt(0)
		if s == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		signaled, lost, err := p.driver.WaitFence(p.device, s.Fence, p.cfg.WaitTimeout)
		if err != nil {
			continue
		}
		if lost {
			q.popPending()
			q.MarkDeviceLost()
			p.pushSignaled(s, true)
			continue
		}
		if !signaled {
			continue
		}

		cur := p.coalesce(q, s)
		q.popPending()
		p.pushSignaled(cur, false)
	}
}

func (p *Pipeline) pushSignaled(s *Sync, lost bool) {
	p.mu.Lock()
	p.signaledQueue = append(p.signaledQueue, signaledEntry{sync: s, lost: lost})
	p.mu.Unlock()
	_ = p.eventFD.Signal()
}

// coalesce implements mergeable-sync coalescing starting from the
// already-confirmed-signaled front item s: while the front is mergeable
// and the next pending sync in the same queue is also signaled, the front
// is dropped (recycled, no callback) in favor of the next one. The last
// sync in the chain is never dropped, since coalesce stops as soon as
// there is no next item to confirm against — the conservative resolution
// of the mergeable open question.
func (p *Pipeline) coalesce(q *Queue, front *Sync) *Sync {
	cur := front
	for cur.Mergeable {
		next := q.peekPendingAt(1)
		if next == nil {
			break
		}
		nsig, nlost, err := p.driver.WaitFence(p.device, next.Fence, 0)
		if err != nil || nlost || !nsig {
			break
		}
		q.popPending() // drops cur, which is the current front
		p.alloc.Release(cur.Fence)
		cur = next
	}
	return cur
}

// RetireFences drains the eventfd and fires the retire callback for every
// sync accumulated by the synchronous-callback variant. A no-op (but
// still safe to call) under the async variant.
func (p *Pipeline) RetireFences() {
	if p.eventFD == nil {
		return
	}
	_ = p.eventFD.Drain()

	p.mu.Lock()
	batch := p.signaledQueue
	p.signaledQueue = nil
	p.mu.Unlock()

	for _, e := range batch {
		p.retire(p.contextID, e.sync.RingIndex, e.sync.Cookie, e.lost)
		p.alloc.Release(e.sync.Fence)
	}
}

// Stop halts every queue's sync goroutine and waits for them to exit. The
// retire callback is still invoked for every in-flight sync before this
// returns, by draining each queue's remaining pending chain.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	queues := make([]*Queue, 0, len(p.queues))
	for _, q := range p.queues {
		queues = append(queues, q)
	}
	p.mu.Unlock()

	for _, q := range queues {
		for {
			s := q.popPending()
			if s == nil {
				break
			}
			if p.cfg.AsyncRetire {
				p.retire(p.contextID, s.RingIndex, s.Cookie, false)
			} else {
				p.pushSignaled(s, false)
			}
			p.alloc.Release(s.Fence)
		}
	}
	if !p.cfg.AsyncRetire {
		p.RetireFences()
	}
	if p.eventFD != nil {
		_ = p.eventFD.Close()
	}
}
