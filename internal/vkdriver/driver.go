// Package vkdriver specifies the seam to the native Vulkan driver: a
// function-pointer table the dispatcher calls into after resolving guest
// identifiers to host objects. The wire-format grammar of individual
// Vulkan calls and the real cgo/Vulkan-loader binding are out of scope —
// this package is the interface plus a test/demo Stub, grounded on the
// gogpu-wgpu hal.Device / vk.Commands function-table idiom.
package vkdriver

import "time"

// Handle is the native driver-level handle returned by a creation call and
// stored in an object-table entry. Its bit pattern is opaque to the
// context engine.
type Handle uint64

// BufferDesc mirrors the subset of vkBufferCreateInfo a representative
// CreateBuffer handler needs.
type BufferDesc struct {
	Size  uint64
	Usage uint32
}

// FenceDesc mirrors vkFenceCreateInfo.
type FenceDesc struct {
	Signaled bool
}

// Driver is the native function-pointer table. One Driver instance backs
// one guest context. Dispatch handlers call it one at a time (the context
// serializes dispatch), but the queue sync pipeline calls the fence and
// queue-submit methods from its own goroutines concurrently with dispatch,
// so implementations must be safe for concurrent use.
type Driver interface {
	CreateInstance() (Handle, error)
	DestroyInstance(h Handle) error

	EnumeratePhysicalDevices(instance Handle) ([]Handle, error)

	CreateDevice(physicalDevice Handle) (Handle, error)
	DestroyDevice(h Handle) error

	GetDeviceQueue(device Handle, familyIndex, index uint32) (Handle, error)

	CreateBuffer(device Handle, desc BufferDesc) (Handle, error)
	DestroyBuffer(device, buffer Handle) error

	CreateCommandPool(device Handle) (Handle, error)
	ResetCommandPool(device, pool Handle) error
	DestroyCommandPool(device, pool Handle) error
	AllocateCommandBuffer(device, pool Handle) (Handle, error)

	CreateFence(device Handle, desc FenceDesc) (Handle, error)
	ResetFence(device, fence Handle) error
	DestroyFence(device, fence Handle) error

	// DeviceWaitIdle and QueueWaitIdle block the calling goroutine until the device/queue has no
	// outstanding work. The dispatcher never calls this with an unbounded
	// wait (spec's blocking-call rejection handles that before the driver
	// is ever reached); it exists so a native stub/real driver can satisfy
	// the small set of Non-goal-adjacent passthrough calls that do carry a
	// zero timeout.
	DeviceWaitIdle(device Handle) error
	QueueWaitIdle(queue Handle) error

	// WaitFence polls a fence with a bounded timeout, reporting whether it
	// became signaled and whether the device was lost while waiting. A
	// zero timeout is a non-blocking probe (the queue sync pipeline uses
	// this to peek at a following sync for mergeable coalescing).
	WaitFence(device, fence Handle, timeout time.Duration) (signaled, lost bool, err error)

	// QueueSubmitFence attaches fence to a no-op submission on queue. The
	// generated per-call Vulkan submit grammar is out of scope; the queue
	// sync pipeline only needs the fence attached so WaitFence can observe
	// it complete.
	QueueSubmitFence(queue, fence Handle) error
}
