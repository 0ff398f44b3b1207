package codec

import "testing"

func TestGetChunkSizeBuckets(t *testing.T) {
	tests := []struct {
		name        string
		requestSize int
		expectCap   int
	}{
		{"64k bucket - exact", chunk64k, chunk64k},
		{"64k bucket - smaller", chunk64k - 1024, chunk64k},
		{"256k bucket - exact", chunk256k, chunk256k},
		{"256k bucket - smaller", chunk256k - 1024, chunk256k},
		{"1m bucket - exact", chunk1m, chunk1m},
		{"1m bucket - smaller", chunk1m - 1024, chunk1m},
		{"4m bucket - exact", chunk4m, chunk4m},
		{"4m bucket - smaller", chunk4m - 1024, chunk4m},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := getChunk(tt.requestSize)
			if len(buf) != tt.expectCap {
				t.Errorf("getChunk(%d) returned len=%d, want %d", tt.requestSize, len(buf), tt.expectCap)
			}
			putChunk(buf)
		})
	}
}

func TestGetChunkOversizeBypassesPool(t *testing.T) {
	buf := getChunk(chunk4m + 1)
	if len(buf) != chunk4m+1 {
		t.Errorf("getChunk(oversize) returned len=%d, want %d", len(buf), chunk4m+1)
	}
	// Must not panic: putChunk silently drops anything that doesn't match a
	// bucket's exact capacity.
	putChunk(buf)
}

func TestChunkPoolReuse(t *testing.T) {
	buf1 := getChunk(chunk64k)
	ptr1 := &buf1[0]
	putChunk(buf1)

	buf2 := getChunk(chunk64k)
	ptr2 := &buf2[0]
	putChunk(buf2)

	if ptr1 == ptr2 {
		t.Log("chunk was reused from the pool")
	} else {
		t.Log("chunk was not reused (sync.Pool GC behavior)")
	}
}

func TestPutChunkNonStandardCapIsNoop(t *testing.T) {
	buf := make([]byte, 100*1024) // not a bucket boundary
	putChunk(buf)                 // must not panic
}

func BenchmarkGetChunk64k(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := getChunk(chunk64k)
		putChunk(buf)
	}
}

func BenchmarkGetChunk1m(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := getChunk(chunk1m)
		putChunk(buf)
	}
}
