package syncpipeline

import (
	"testing"

	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

func TestFenceAllocatorReusesReleasedFence(t *testing.T) {
	stub := vkdriver.NewStub()
	alloc := NewFenceAllocator(stub, 1)

	h1, err := alloc.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	alloc.Release(h1)

	if alloc.Len() != 1 {
		t.Fatalf("expected 1 free fence, got %d", alloc.Len())
	}

	h2, err := alloc.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected the released fence to be reused, got h1=%d h2=%d", h1, h2)
	}
	if alloc.Len() != 0 {
		t.Errorf("expected free list to be drained after reuse, got %d", alloc.Len())
	}
}

func TestFenceAllocatorCreatesWhenEmpty(t *testing.T) {
	stub := vkdriver.NewStub()
	alloc := NewFenceAllocator(stub, 1)

	h1, _ := alloc.Acquire()
	h2, _ := alloc.Acquire()
	if h1 == h2 {
		t.Error("expected distinct fences when the free list is empty")
	}
}
