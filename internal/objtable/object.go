package objtable

// NativeHandle is the opaque driver-level handle a host object wraps. Its
// concrete meaning belongs to internal/vkdriver; the table only moves it
// around by value.
type NativeHandle uint64

// Object is the unit stored in the table: a guest id, its kind, and the
// native handle the driver returned when it was created.
type Object struct {
	ID     uint64
	Kind   Kind
	Native NativeHandle

	// Parent caches the owning object's id for O(children) parent/child
	// deletion instead of a full table scan. It is resolved back through
	// the table by id, never held as a raw pointer into another Object —
	// the table remains the sole owner.
	Parent   uint64
	HasParent bool

	// children lists ids directly owned by this object (e.g. a device's
	// queues/buffers, a pool's sets/buffers). Maintained by the table on
	// insert/remove, consulted on parent removal.
	children []uint64
}
