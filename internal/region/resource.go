// Package region implements the region/resource model: validated
// sub-ranges within guest-supplied shared memory, file-descriptor backed
// dmabuf/opaque resources, and the typed byte-slice view the codec reads
// and writes through.
package region

import "sync/atomic"

// Kind identifies how a Resource is backed.
type Kind int

const (
	KindSHM Kind = iota
	KindDMABuf
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindSHM:
		return "shm"
	case KindDMABuf:
		return "dmabuf"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Resource is an opaque region of memory shared with a guest, identified
// by a 32-bit resource id. Once registered in a context its address/size
// are immutable until deregistration.
type Resource struct {
	ID   uint32
	Kind Kind
	Name string // debug label only, never part of wire semantics

	// mapping, set for KindSHM
	data []byte

	// fd, set for KindDMABuf/KindOpaque
	fd int

	size int64

	// exportCount counts MarkExported calls on this resource
	// (Context.GetBlobDone makes one per export bound to it). It is kept
	// per resource, not per device-memory object.
	exportCount atomic.Int32
}

// NewSHMResource creates a shm-backed resource from a mapped byte slice.
// The mapping pointer must be non-nil and size > 0.
func NewSHMResource(id uint32, data []byte, name string) (*Resource, bool) {
	if data == nil || len(data) == 0 {
		return nil, false
	}
	return &Resource{ID: id, Kind: KindSHM, Name: name, data: data, size: int64(len(data))}, true
}

// NewFDResource creates a dmabuf/opaque resource backed by an externally
// opened file descriptor. fd must be non-negative and size > 0.
func NewFDResource(id uint32, kind Kind, fd int, size int64, name string) (*Resource, bool) {
	if fd < 0 || size <= 0 || kind == KindSHM {
		return nil, false
	}
	return &Resource{ID: id, Kind: kind, Name: name, fd: fd, size: size}, true
}

// Size returns the total size of the resource in bytes.
func (r *Resource) Size() int64 {
	if r == nil {
		return 0
	}
	return r.size
}

// FD returns the backing file descriptor for dmabuf/opaque resources, or
// -1 for shm resources.
func (r *Resource) FD() int {
	if r == nil || r.Kind == KindSHM {
		return -1
	}
	return r.fd
}

// AsSlice returns the byte slice backing region within this resource. Only
// valid for shm resources; callers must have already validated the region
// via Region.IsValid against this resource.
func (r *Resource) AsSlice(reg Region) ([]byte, bool) {
	if r == nil || r.Kind != KindSHM {
		return nil, false
	}
	if !reg.IsValid(r.size) {
		return nil, false
	}
	return r.data[reg.Begin:reg.End], true
}

// FullSlice returns the entire backing byte slice for a shm resource, for
// callers (e.g. ring construction) that need to address multiple
// sub-regions directly rather than through a single AsSlice call.
func (r *Resource) FullSlice() ([]byte, bool) {
	if r == nil || r.Kind != KindSHM {
		return nil, false
	}
	return r.data, true
}

// MarkExported increments the export counter and reports whether this is
// the first export (true) or a re-export of an already-exported resource
// (false, the caller should reject it).
func (r *Resource) MarkExported() bool {
	if r == nil {
		return false
	}
	return r.exportCount.Add(1) == 1
}

// ExportCount reports how many times this resource has been exported.
func (r *Resource) ExportCount() int32 {
	if r == nil {
		return 0
	}
	return r.exportCount.Load()
}
