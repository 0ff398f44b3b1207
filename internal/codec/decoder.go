package codec

import (
	"encoding/binary"

	"github.com/vera-firefly/vkrcontext/internal/objtable"
	"github.com/vera-firefly/vkrcontext/internal/region"
)

// Decoder walks a command stream: either a caller-owned buffer or a
// sub-range of a shm resource. Decoder operations run only from the
// thread currently executing commands for a context/ring — no internal
// locking, unlike Encoder.
type Decoder struct {
	data   []byte
	cursor int
	end    int

	// boundResource/boundOffset describe the resource the
	// current stream was bound from, if any, so the stream can be
	// invalidated when that resource is destroyed or re-read for
	// indirect identifier loads.
	boundResource *region.Resource
	boundOffset   uint64

	arena *Arena
	stack stateStack
	floor Mark

	table *objtable.Table
	fatal *fatalFlag
}

// NewDecoder creates a decoder bound to no stream, sharing fatal with the
// given flag (obtained from a Codec) and resolving ids through table.
func NewDecoder(table *objtable.Table, fatal *fatalFlag) *Decoder {
	return &Decoder{arena: NewArena(), table: table, fatal: fatal}
}

// SetBufferStream points the decoder at a contiguous, caller-owned buffer.
func (d *Decoder) SetBufferStream(buf []byte) {
	d.data = buf
	d.cursor = 0
	d.end = len(buf)
	d.boundResource = nil
}

// SetResourceStream points the decoder at a sub-range of a shm resource,
// recording the resource identity so the stream can be invalidated if the
// resource is destroyed mid-use.
func (d *Decoder) SetResourceStream(res *region.Resource, offset, size uint64) bool {
	reg, ok := region.NewRegion(offset, offset+size)
	if !ok {
		d.fatal.Set()
		return false
	}
	slice, ok := res.AsSlice(reg)
	if !ok {
		d.fatal.Set()
		return false
	}
	d.data = slice
	d.cursor = 0
	d.end = len(slice)
	d.boundResource = res
	d.boundOffset = offset
	return true
}

// Invalidate unbinds the stream if it currently reads from res, matching
// the resource-destruction path; subsequent reads are treated as fatal
// short reads since the underlying memory may be gone.
func (d *Decoder) Invalidate(res *region.Resource) {
	if d.boundResource == res {
		d.data = nil
		d.cursor = 0
		d.end = 0
		d.boundResource = nil
	}
}

// HasCommand reports whether there is unconsumed data in the stream.
func (d *Decoder) HasCommand() bool {
	return d.cursor < d.end
}

// IsFatal reports the shared sticky fatal flag.
func (d *Decoder) IsFatal() bool {
	return d.fatal.IsSet()
}

// Cursor returns the current byte offset into the bound stream, used by
// the dispatcher to advance a ring's head to the precise point consumed.
func (d *Decoder) Cursor() int {
	return d.cursor
}

// Read advances the cursor by n bytes and returns them. On a short read it
// sets the sticky fatal flag and returns a zero-filled slice of length n
// rather than a truncated one, so callers that don't check ok still see
// deterministic (if meaningless) bytes.
func (d *Decoder) Read(n int) ([]byte, bool) {
	if n < 0 || d.cursor+n > d.end {
		d.fatal.Set()
		return make([]byte, max(n, 0)), false
	}
	out := d.data[d.cursor : d.cursor+n]
	d.cursor += n
	return out, true
}

// Peek returns the next n bytes without advancing the cursor.
func (d *Decoder) Peek(n int) ([]byte, bool) {
	if n < 0 || d.cursor+n > d.end {
		d.fatal.Set()
		return make([]byte, max(n, 0)), false
	}
	return d.data[d.cursor : d.cursor+n], true
}

// Lookup resolves a guest id to an object of the expected kind. id == 0
// returns (zero, false) without being fatal — guests legitimately pass
// null handles. A non-zero id that's missing or kind-mismatched sets the
// sticky fatal flag, matching a malformed/malicious command stream.
func (d *Decoder) Lookup(id uint64, expectedKind objtable.Kind) (objtable.Object, bool) {
	if id == 0 {
		return objtable.Object{}, false
	}
	obj, ok := d.table.Lookup(id, expectedKind)
	if !ok {
		d.fatal.Set()
		return objtable.Object{}, false
	}
	return obj, true
}

// LoadID implements identifier ingress: inline ids are read directly from
// the 8-byte slot; indirect ids treat the slot as a resource-relative
// offset into the currently bound resource stream and re-read the 8 real
// id bytes from there through the same bounds-checked Resource helpers —
// never raw pointer arithmetic.
func (d *Decoder) LoadID(slot []byte, indirect bool) (uint64, bool) {
	if len(slot) != 8 {
		d.fatal.Set()
		return 0, false
	}
	if !indirect {
		return binary.LittleEndian.Uint64(slot), true
	}

	if d.boundResource == nil {
		d.fatal.Set()
		return 0, false
	}
	offset := binary.LittleEndian.Uint64(slot)
	reg, ok := region.NewRegion(offset, offset+8)
	if !ok {
		d.fatal.Set()
		return 0, false
	}
	idBytes, ok := d.boundResource.AsSlice(reg)
	if !ok {
		d.fatal.Set()
		return 0, false
	}
	return binary.LittleEndian.Uint64(idBytes), true
}

// AllocTemp suballocates n scratch bytes from the per-command arena.
func (d *Decoder) AllocTemp(n int) ([]byte, bool) {
	buf, ok := d.arena.Alloc(n)
	if !ok {
		d.fatal.Set()
	}
	return buf, ok
}

// AllocTempArray suballocates n*count scratch bytes, failing fatally on
// multiplication overflow.
func (d *Decoder) AllocTempArray(n, count int) ([]byte, bool) {
	buf, ok := d.arena.AllocArray(n, count)
	if !ok {
		d.fatal.Set()
	}
	return buf, ok
}

// ResetTemp rewinds the arena to the current nesting floor, called between
// commands. Allocations made before a still-open PushState survive this;
// allocations made after it do not.
func (d *Decoder) ResetTemp() {
	d.arena.ResetTo(d.floor)
}

// GC releases all but the arena's most recently used buffer. Called at a
// natural command-stream boundary (end of a submit), not after every
// single command.
func (d *Decoder) GC() {
	d.arena.GC()
}

// PushState saves the current stream position and raises the arena floor
// to the current fill point, so allocations made before the push survive
// ResetTemp calls until PopState.
func (d *Decoder) PushState() bool {
	if !d.stack.push(savedState{cursor: d.cursor, end: d.end, mark: d.floor}) {
		d.fatal.Set()
		return false
	}
	d.floor = d.arena.Mark()
	return true
}

// PopState restores the stream position saved by the matching PushState
// and releases everything allocated since it.
func (d *Decoder) PopState() bool {
	saved, ok := d.stack.pop()
	if !ok {
		d.fatal.Set()
		return false
	}
	d.arena.ResetTo(d.floor)
	d.floor = saved.mark
	d.cursor = saved.cursor
	d.end = saved.end
	return true
}

// StackDepth reports the current nesting depth, used to reject a second
// ExecuteCommandStreams while one is already active.
func (d *Decoder) StackDepth() int {
	return d.stack.len()
}

// EnterSubStream repositions the cursor/end window to [offset, offset+size)
// within the currently bound stream's own backing array, for nested
// ExecuteCommandStreams that addresses a sub-range of the same command
// buffer rather than switching to a different resource. Callers must call
// PushState first so the outer window is restored by the matching
// PopState.
func (d *Decoder) EnterSubStream(offset, size uint64) bool {
	if offset > uint64(len(d.data)) || size > uint64(len(d.data))-offset {
		d.fatal.Set()
		return false
	}
	d.cursor = int(offset)
	d.end = int(offset + size)
	return true
}
