package codec

import "github.com/vera-firefly/vkrcontext/internal/constants"

// Mark captures an arena high-water mark: which buffer is being filled and
// how far into it, so the arena can rewind to exactly this point later.
type Mark struct {
	bufIndex int
	offset   int
}

// Arena is the decoder's per-command scratch allocator: a growing list of
// pooled byte buffers. Alloc returns 8-byte aligned suballocations; Reset
// rewinds to a saved mark; GC releases all but the most recently used
// buffer back to the chunk pool.
type Arena struct {
	buffers  [][]byte
	used     []int // bytes filled in each buffer
	totalCap int64 // sum of buffer capacities, bounded by MaxArenaBytes
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Alloc suballocates n bytes, 8-byte aligned, growing the arena if the
// current buffer lacks room. Returns ok=false (without mutating state) if
// growth would exceed the 1 GiB hard cap.
func (a *Arena) Alloc(n int) ([]byte, bool) {
	if n < 0 {
		return nil, false
	}
	if n == 0 {
		return []byte{}, true
	}

	if len(a.buffers) > 0 {
		last := len(a.buffers) - 1
		off := alignUp(a.used[last], constants.ArenaAlignment)
		if off+n <= len(a.buffers[last]) {
			a.used[last] = off + n
			return a.buffers[last][off : off+n], true
		}
	}

	return a.grow(n)
}

// AllocArray suballocates an n*count byte buffer, failing fatally (ok=false)
// on multiplication overflow rather than wrapping silently.
func (a *Arena) AllocArray(n, count int) ([]byte, bool) {
	if n < 0 || count < 0 {
		return nil, false
	}
	if n != 0 && count > int(^uint(0)>>1)/n {
		return nil, false
	}
	return a.Alloc(n * count)
}

func (a *Arena) grow(n int) ([]byte, bool) {
	size := n
	if size < chunk64k {
		size = chunk64k
	}

	if a.totalCap+int64(size) > constants.MaxArenaBytes {
		return nil, false
	}

	buf := getChunk(size)
	a.buffers = append(a.buffers, buf)
	a.used = append(a.used, n)
	a.totalCap += int64(cap(buf))

	return buf[:n], true
}

// Mark returns a mark for the arena's current fill point.
func (a *Arena) Mark() Mark {
	if len(a.buffers) == 0 {
		return Mark{}
	}
	return Mark{bufIndex: len(a.buffers) - 1, offset: a.used[len(a.buffers)-1]}
}

// ResetTo rewinds the arena to mark, releasing any buffers allocated after
// it and truncating the fill offset of the buffer the mark points into. A
// pointer returned by Alloc is only valid until the next ResetTo at or
// before the nesting level that produced it.
func (a *Arena) ResetTo(mark Mark) {
	if len(a.buffers) == 0 {
		return
	}
	if mark.bufIndex >= len(a.buffers) {
		return
	}

	for i := len(a.buffers) - 1; i > mark.bufIndex; i-- {
		putChunk(a.buffers[i])
		a.totalCap -= int64(cap(a.buffers[i]))
		a.buffers = a.buffers[:i]
		a.used = a.used[:i]
	}
	a.used[mark.bufIndex] = mark.offset
}

// GC releases every buffer but the last back to the chunk pool, keeping
// only the most recently used one around for the next command.
func (a *Arena) GC() {
	if len(a.buffers) <= 1 {
		return
	}
	for i := 0; i < len(a.buffers)-1; i++ {
		putChunk(a.buffers[i])
		a.totalCap -= int64(cap(a.buffers[i]))
	}
	last := len(a.buffers) - 1
	a.buffers = [][]byte{a.buffers[last]}
	a.used = []int{a.used[last]}
}
