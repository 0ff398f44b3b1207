// Package syncpipeline implements the queue sync pipeline: a per-device
// free list of reusable fences, per-queue pending/signaled/retired chains,
// and a sync goroutine offering two retirement variants selected at init
// (asynchronous callback, or synchronous callback via an eventfd-signaled
// drain).
package syncpipeline

import (
	"sync"

	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

// FenceAllocator is a device-local free list of reusable native fences.
type FenceAllocator struct {
	mu     sync.Mutex
	free   []vkdriver.Handle
	driver vkdriver.Driver
	device vkdriver.Handle
}

// NewFenceAllocator creates an allocator drawing fences for device.
func NewFenceAllocator(driver vkdriver.Driver, device vkdriver.Handle) *FenceAllocator {
	return &FenceAllocator{driver: driver, device: device}
}

// Acquire pops a fence off the free list, resetting it before reuse, or
// creates a new one if the list is empty.
func (a *FenceAllocator) Acquire() (vkdriver.Handle, error) {
	a.mu.Lock()
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.mu.Unlock()

		if err := a.driver.ResetFence(a.device, h); err != nil {
			return 0, err
		}
		return h, nil
	}
	a.mu.Unlock()

	return a.driver.CreateFence(a.device, vkdriver.FenceDesc{})
}

// Release returns a fence to the free list for reuse.
func (a *FenceAllocator) Release(h vkdriver.Handle) {
	a.mu.Lock()
	a.free = append(a.free, h)
	a.mu.Unlock()
}

// Len reports the number of fences currently on the free list (test/metrics use).
func (a *FenceAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}
