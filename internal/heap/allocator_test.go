package heap_test

import (
	"testing"

	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/heap"
)

const testHeapBase = 0x40000000
const testHeapSize = 0x1000000

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	eng, err := arm.New()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	h, err := heap.Init(eng.Mem, testHeapBase, testHeapSize)
	if err != nil {
		t.Fatalf("init heap: %v", err)
	}
	return h
}

func TestAllocReturnsFirstDataAddress(t *testing.T) {
	h := newTestHeap(t)

	addr, err := h.Alloc(10)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if want := uint32(testHeapBase + 4); addr != want {
		t.Errorf("addr = 0x%x, want 0x%x", addr, want)
	}
}

func TestAllocSplitsRemainder(t *testing.T) {
	h := newTestHeap(t)

	first, err := h.Alloc(10)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	second, err := h.Alloc(20)
	if err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	if second <= first {
		t.Errorf("second allocation 0x%x did not advance past first 0x%x", second, first)
	}

	stats, err := h.Walk()
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if stats.Blocks < 3 {
		t.Errorf("expected at least 3 blocks (two allocations + remainder), got %d", stats.Blocks)
	}
}

func TestFreeThenReallocReusesBlock(t *testing.T) {
	h := newTestHeap(t)

	addr, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := h.Free(addr); err != nil {
		t.Fatalf("free: %v", err)
	}

	addr2, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("realloc: %v", err)
	}
	if addr2 != addr {
		t.Errorf("expected first-fit to reuse freed block at 0x%x, got 0x%x", addr, addr2)
	}
}

func TestDoubleFreeIsInvalidState(t *testing.T) {
	h := newTestHeap(t)

	addr, err := h.Alloc(8)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := h.Free(addr); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := h.Free(addr); err == nil {
		t.Error("expected double free to report invalid state")
	}
}

func TestAllocFailureWhenExhausted(t *testing.T) {
	eng, err := arm.New()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	defer eng.Close()

	h, err := heap.Init(eng.Mem, testHeapBase, 64)
	if err != nil {
		t.Fatalf("init heap: %v", err)
	}

	if _, err := h.Alloc(1024); err == nil {
		t.Error("expected allocation failure for oversized request")
	}
}
