package vkdriver

import (
	"sync"
	"sync/atomic"
	"time"
)

type fenceState struct {
	signaled bool
	lost     bool
}

// Stub is a no-cgo Driver implementation for tests and the demo CLI. It
// hands out monotonically increasing handles, tracks call counts for
// assertions, and lets tests drive fence signaling directly instead of
// waiting on a real GPU — the analog of a mock backend rather than a real
// renderer.
type Stub struct {
	next atomic.Uint64

	Calls atomic.Uint64

	mu     sync.Mutex
	fences map[Handle]*fenceState
}

// NewStub creates a Stub whose handles start at 1 (0 is always the null
// handle).
func NewStub() *Stub {
	s := &Stub{fences: make(map[Handle]*fenceState)}
	s.next.Store(1)
	return s
}

// SignalFence marks h as signaled, for tests driving queue sync scenarios.
func (s *Stub) SignalFence(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.fences[h]
	if st == nil {
		st = &fenceState{}
		s.fences[h] = st
	}
	st.signaled = true
}

// MarkFenceLost marks h as belonging to a lost device, for tests driving
// the device-lost path.
func (s *Stub) MarkFenceLost(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.fences[h]
	if st == nil {
		st = &fenceState{}
		s.fences[h] = st
	}
	st.lost = true
}

func (s *Stub) alloc() Handle {
	s.Calls.Add(1)
	return Handle(s.next.Add(1) - 1)
}

func (s *Stub) CreateInstance() (Handle, error) { return s.alloc(), nil }
func (s *Stub) DestroyInstance(Handle) error    { s.Calls.Add(1); return nil }

func (s *Stub) EnumeratePhysicalDevices(Handle) ([]Handle, error) {
	s.Calls.Add(1)
	return []Handle{s.alloc()}, nil
}

func (s *Stub) CreateDevice(Handle) (Handle, error) { return s.alloc(), nil }
func (s *Stub) DestroyDevice(Handle) error          { s.Calls.Add(1); return nil }

func (s *Stub) GetDeviceQueue(Handle, uint32, uint32) (Handle, error) { return s.alloc(), nil }

func (s *Stub) CreateBuffer(Handle, BufferDesc) (Handle, error) { return s.alloc(), nil }
func (s *Stub) DestroyBuffer(Handle, Handle) error              { s.Calls.Add(1); return nil }

func (s *Stub) CreateCommandPool(Handle) (Handle, error)        { return s.alloc(), nil }
func (s *Stub) ResetCommandPool(Handle, Handle) error           { s.Calls.Add(1); return nil }
func (s *Stub) DestroyCommandPool(Handle, Handle) error         { s.Calls.Add(1); return nil }
func (s *Stub) AllocateCommandBuffer(Handle, Handle) (Handle, error) { return s.alloc(), nil }

func (s *Stub) CreateFence(_ Handle, desc FenceDesc) (Handle, error) {
	h := s.alloc()
	s.mu.Lock()
	s.fences[h] = &fenceState{signaled: desc.Signaled}
	s.mu.Unlock()
	return h, nil
}

func (s *Stub) ResetFence(_, fence Handle) error {
	s.Calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.fences[fence]
	if st == nil {
		st = &fenceState{}
		s.fences[fence] = st
	}
	st.signaled = false
	st.lost = false
	return nil
}

func (s *Stub) DestroyFence(_, fence Handle) error {
	s.Calls.Add(1)
	s.mu.Lock()
	delete(s.fences, fence)
	s.mu.Unlock()
	return nil
}

func (s *Stub) DeviceWaitIdle(Handle) error { s.Calls.Add(1); return nil }
func (s *Stub) QueueWaitIdle(Handle) error  { s.Calls.Add(1); return nil }

func (s *Stub) QueueSubmitFence(_, _ Handle) error {
	s.Calls.Add(1)
	return nil
}

// WaitFence polls the fence's stub state. A zero timeout is a single
// non-blocking probe; a positive timeout polls at a short fixed interval
// until signaled, lost, or the deadline passes.
func (s *Stub) WaitFence(_, fence Handle, timeout time.Duration) (bool, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		st := s.fences[fence]
		s.mu.Unlock()

		if st != nil && (st.signaled || st.lost) {
			return st.signaled, st.lost, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return false, false, nil
		}
		time.Sleep(time.Millisecond)
	}
}
