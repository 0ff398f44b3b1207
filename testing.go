package vkrcontext

import (
	"sync"

	"github.com/vera-firefly/vkrcontext/internal/region"
)

// NewTestResource allocates an in-memory shm-backed Resource of size bytes
// for use in tests and the demo CLI, the analog of the teacher's
// MockBackend for a package whose backing store is mapped memory rather
// than a block device.
func NewTestResource(id uint32, size int, name string) *region.Resource {
	data := make([]byte, size)
	res, ok := region.NewSHMResource(id, data, name)
	if !ok {
		panic("vkrcontext: NewTestResource given an empty backing size")
	}
	return res
}

// TestResourceHost is a minimal dispatch.ResourceHost backed by a map,
// for tests that drive the dispatcher directly without a full Context.
type TestResourceHost struct {
	mu        sync.RWMutex
	resources map[uint32]*region.Resource
}

// NewTestResourceHost creates an empty TestResourceHost.
func NewTestResourceHost() *TestResourceHost {
	return &TestResourceHost{resources: make(map[uint32]*region.Resource)}
}

// Add registers res under its own ID.
func (h *TestResourceHost) Add(res *region.Resource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resources[res.ID] = res
}

// LookupResource implements dispatch.ResourceHost.
func (h *TestResourceHost) LookupResource(id uint32) (*region.Resource, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.resources[id]
	return r, ok
}

// CountingObserver is an Observer that records call counts for test
// assertions, the analog of the teacher's MockBackend call-count tracking
// applied to the Observer seam instead of the storage seam.
type CountingObserver struct {
	mu sync.Mutex

	DispatchCalls       int
	DispatchErrors      int
	FatalCalls          int
	RingSubmitCalls     int
	RingSubmitBytes     uint64
	FenceRetireCalls    int
	FenceLostCalls      int
	FenceCoalescedCalls int
}

// NewCountingObserver creates an empty CountingObserver.
func NewCountingObserver() *CountingObserver {
	return &CountingObserver{}
}

func (o *CountingObserver) ObserveDispatch(latencyNs uint64, driverErr bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.DispatchCalls++
	if driverErr {
		o.DispatchErrors++
	}
}

func (o *CountingObserver) ObserveFatal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.FatalCalls++
}

func (o *CountingObserver) ObserveRingSubmit(bytes uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.RingSubmitCalls++
	o.RingSubmitBytes += bytes
}

func (o *CountingObserver) ObserveFenceRetire(lost, coalesced bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.FenceRetireCalls++
	if lost {
		o.FenceLostCalls++
	}
	if coalesced {
		o.FenceCoalescedCalls++
	}
}

// Reset zeroes every counter.
func (o *CountingObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o = CountingObserver{}
}

var _ Observer = (*CountingObserver)(nil)
