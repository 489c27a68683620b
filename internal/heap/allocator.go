// Package heap implements a boundary-tag, first-fit allocator over a fixed
// guest memory region. Every block, free or in-use, is prefixed by a 4-byte
// inline header: the low 31 bits hold the block's total size (header
// included), the high bit marks it in-use. Freed blocks are never merged
// with their neighbors.
package heap

import (
	"fmt"

	"github.com/wipirt/wipirt/internal/memory"
)

const headerSize = 4

const inUseBit = uint32(1) << 31

// header packs a block's size and in-use flag into the wire format stored
// at the start of every block.
type header uint32

func newHeader(size uint32, inUse bool) header {
	h := header(size &^ uint32(inUseBit))
	if inUse {
		h |= header(inUseBit)
	}
	return h
}

func (h header) size() uint32  { return uint32(h) &^ inUseBit }
func (h header) inUse() bool   { return uint32(h)&inUseBit != 0 }

// InvalidStateError reports heap metadata that cannot be reconciled with a
// consistent walk of the region (a zero-size header, or freeing a block
// that is not marked in-use).
type InvalidStateError struct {
	Addr uint32
	Msg  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("heap: invalid state at 0x%08x: %s", e.Addr, e.Msg)
}

// AllocationFailureError reports that no free block large enough for the
// request could be found; this is recoverable by the caller (e.g. the
// guest's allocator may abort just the failing call).
type AllocationFailureError struct {
	Requested uint32
}

func (e *AllocationFailureError) Error() string {
	return fmt.Sprintf("heap: allocation failure, requested %d bytes", e.Requested)
}

// Heap is a first-fit allocator over [Base, Base+Size) of a memory.Space.
// It never coalesces freed neighbors back together; a workload that
// frees-then-reallocates in a different size pattern will fragment the
// region over time. That tradeoff is deliberate: reclaiming merge logic
// would need back-pointers this wire format doesn't carry, and nothing in
// this runtime's guest workloads is long-enough-lived to need it.
type Heap struct {
	mem  *memory.Space
	Base uint32
	Size uint32
}

// Init maps the heap region and writes a single free block spanning it.
func Init(mem *memory.Space, base, size uint32) (*Heap, error) {
	if err := mem.Map(base, size); err != nil {
		return nil, err
	}
	h := &Heap{mem: mem, Base: base, Size: size}
	if err := mem.WriteU32(base, uint32(newHeader(size, false))); err != nil {
		return nil, err
	}
	return h, nil
}

func roundUp4(v uint32) uint32 {
	return (v + 3) &^ 3
}

// Alloc returns the address of a usable (header-free) region of at least
// size bytes, or an AllocationFailureError if the heap has no block large
// enough.
func (h *Heap) Alloc(size uint32) (uint32, error) {
	allocSize := roundUp4(size + headerSize)

	addr, err := h.findFree(allocSize)
	if err != nil {
		return 0, err
	}

	prevHdrWord, err := h.mem.ReadU32(addr)
	if err != nil {
		return 0, err
	}
	prevHdr := header(prevHdrWord)

	if err := h.mem.WriteU32(addr, uint32(newHeader(allocSize, true))); err != nil {
		return 0, err
	}

	if remaining := prevHdr.size() - allocSize; remaining > 0 {
		if err := h.mem.WriteU32(addr+allocSize, uint32(newHeader(remaining, false))); err != nil {
			return 0, err
		}
	}

	return addr + headerSize, nil
}

// Free marks the block backing a previously-allocated address as free. It
// does not attempt to merge it with neighboring free blocks.
func (h *Heap) Free(address uint32) error {
	if address < h.Base+headerSize {
		return &InvalidStateError{Addr: address, Msg: "address below heap data region"}
	}
	base := address - headerSize
	hdrWord, err := h.mem.ReadU32(base)
	if err != nil {
		return err
	}
	hdr := header(hdrWord)
	if !hdr.inUse() {
		return &InvalidStateError{Addr: base, Msg: "double free: block not in use"}
	}
	return h.mem.WriteU32(base, uint32(newHeader(hdr.size(), false)))
}

// findFree walks block headers from Base looking for the first free block
// whose size is at least requestSize.
func (h *Heap) findFree(requestSize uint32) (uint32, error) {
	cursor := h.Base
	end := h.Base + h.Size
	for cursor < end {
		hdrWord, err := h.mem.ReadU32(cursor)
		if err != nil {
			return 0, err
		}
		hdr := header(hdrWord)
		if hdr.size() == 0 {
			return 0, &InvalidStateError{Addr: cursor, Msg: "zero-size block header"}
		}
		if !hdr.inUse() && hdr.size() >= requestSize {
			return cursor, nil
		}
		cursor += hdr.size()
	}
	return 0, &AllocationFailureError{Requested: requestSize}
}

// Stats is the heap occupancy Walk reports, for tests and the monitor view.
// Walk never mutates state.
type Stats struct {
	Blocks  int
	Used    uint32
	Free    uint32
	Largest uint32
}

// Walk computes Stats by scanning the header chain.
func (h *Heap) Walk() (Stats, error) {
	var s Stats
	cursor := h.Base
	end := h.Base + h.Size
	for cursor < end {
		hdrWord, err := h.mem.ReadU32(cursor)
		if err != nil {
			return s, err
		}
		hdr := header(hdrWord)
		if hdr.size() == 0 {
			return s, &InvalidStateError{Addr: cursor, Msg: "zero-size block header"}
		}
		s.Blocks++
		if hdr.inUse() {
			s.Used += hdr.size()
		} else {
			s.Free += hdr.size()
			if hdr.size() > s.Largest {
				s.Largest = hdr.size()
			}
		}
		cursor += hdr.size()
	}
	return s, nil
}
