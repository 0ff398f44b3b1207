package codec

import "sync"

// Size-bucketed chunk sizes for arena growth. Adapted from the teacher's
// queue buffer pool: power-of-2 buckets trade a little internal
// fragmentation for a fixed, small set of sync.Pool instances instead of
// one per distinct request size.
const (
	chunk64k  = 64 * 1024
	chunk256k = 256 * 1024
	chunk1m   = 1024 * 1024
	chunk4m   = 4 * 1024 * 1024
)

// chunkPool is the shared set of arena chunk pools. Uses the pointer-to-slice
// pattern to avoid sync.Pool boxing a slice header on every Get/Put.
var chunkPool = struct {
	p64k  sync.Pool
	p256k sync.Pool
	p1m   sync.Pool
	p4m   sync.Pool
}{
	p64k:  sync.Pool{New: func() any { b := make([]byte, chunk64k); return &b }},
	p256k: sync.Pool{New: func() any { b := make([]byte, chunk256k); return &b }},
	p1m:   sync.Pool{New: func() any { b := make([]byte, chunk1m); return &b }},
	p4m:   sync.Pool{New: func() any { b := make([]byte, chunk4m); return &b }},
}

// getChunk returns a pooled buffer of at least the requested size. Requests
// larger than the largest bucket are allocated directly and never pooled.
func getChunk(size int) []byte {
	switch {
	case size <= chunk64k:
		return (*chunkPool.p64k.Get().(*[]byte))[:chunk64k]
	case size <= chunk256k:
		return (*chunkPool.p256k.Get().(*[]byte))[:chunk256k]
	case size <= chunk1m:
		return (*chunkPool.p1m.Get().(*[]byte))[:chunk1m]
	case size <= chunk4m:
		return (*chunkPool.p4m.Get().(*[]byte))[:chunk4m]
	default:
		return make([]byte, size)
	}
}

// putChunk returns buf to the pool matching its capacity, if any.
func putChunk(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case chunk64k:
		chunkPool.p64k.Put(&buf)
	case chunk256k:
		chunkPool.p256k.Put(&buf)
	case chunk1m:
		chunkPool.p1m.Put(&buf)
	case chunk4m:
		chunkPool.p4m.Put(&buf)
	}
}
