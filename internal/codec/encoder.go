package codec

import (
	"sync"

	"github.com/vera-firefly/vkrcontext/internal/region"
)

// Encoder writes the reply command stream into a guest-visible shm
// resource. Unlike Decoder, its operations are mutex-protected: the reply
// destination can change asynchronously (e.g. SetReplyCommandStream
// arriving on a different ring) while a handler is mid-write.
type Encoder struct {
	mu     sync.Mutex
	res    *region.Resource
	offset uint64
	size   uint64
	pos    uint64

	fatal *fatalFlag
}

// NewEncoder creates an encoder bound to no stream, sharing fatal with the
// given flag.
func NewEncoder(fatal *fatalFlag) *Encoder {
	return &Encoder{fatal: fatal}
}

// SetStream binds a destination sub-range within a shm reply resource.
func (e *Encoder) SetStream(res *region.Resource, offset, size uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if res == nil {
		e.fatal.Set()
		return false
	}
	reg, ok := region.NewRegion(offset, offset+size)
	if !ok || !reg.IsValid(res.Size()) {
		e.fatal.Set()
		return false
	}

	e.res = res
	e.offset = offset
	e.size = size
	e.pos = 0
	return true
}

// Seek moves the write position within the bound stream.
func (e *Encoder) Seek(position uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res == nil || position > e.size {
		e.fatal.Set()
		return false
	}
	e.pos = position
	return true
}

// Write copies value into the stream at the current position and advances
// the position by paddedSize (which may exceed len(value) for alignment
// padding). Fatal if there isn't room for paddedSize bytes.
func (e *Encoder) Write(paddedSize uint64, value []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res == nil || e.pos+paddedSize > e.size {
		e.fatal.Set()
		return false
	}

	dst, ok := e.res.AsSlice(region.Region{Begin: e.offset + e.pos, End: e.offset + e.pos + uint64(len(value))})
	if !ok {
		e.fatal.Set()
		return false
	}
	copy(dst, value)

	e.pos += paddedSize
	return true
}

// CheckStream unbinds the encoder if it is currently bound to res — called
// when that resource is about to be destroyed.
func (e *Encoder) CheckStream(res *region.Resource) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res == res {
		e.res = nil
		e.offset = 0
		e.size = 0
		e.pos = 0
	}
}

// IsFatal reports the shared sticky fatal flag.
func (e *Encoder) IsFatal() bool {
	return e.fatal.IsSet()
}

// IsBound reports whether a reply stream has been set, so callers can skip
// writing a per-command return code when the guest hasn't requested one
// instead of driving the encoder fatal for lack of a destination.
func (e *Encoder) IsBound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.res != nil
}
