// Package memory provides the paged guest address space backing the ARM
// engine. Pages are 64 KiB and must be explicitly mapped before they can be
// read or written; touching an unmapped page is a fatal condition, not a
// lazily-filled one.
package memory

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

const (
	// PageSize is the granularity at which guest memory is mapped.
	PageSize = 0x1_0000
	// PageCount covers the full 32-bit address space in PageSize steps.
	PageCount = 0x1_0000
)

// UnmappedAccessError reports a read or write that touched a page never
// handed to Map.
type UnmappedAccessError struct {
	Addr uint32
}

func (e *UnmappedAccessError) Error() string {
	return fmt.Sprintf("unmapped access at 0x%08x", e.Addr)
}

// Space tracks which 64 KiB pages of a Unicorn instance's address space have
// been mapped, and rejects access to the rest.
type Space struct {
	uc      uc.Unicorn
	present [PageCount]bool
}

// New wraps an existing Unicorn engine instance with page-presence tracking.
func New(engine uc.Unicorn) *Space {
	return &Space{uc: engine}
}

func pageOf(addr uint32) uint32 { return addr / PageSize }

// Map allocates the pages spanning [addr, addr+size) if not already present.
// size is rounded up to a page boundary; addr is rounded down.
func (s *Space) Map(addr, size uint32) error {
	if size == 0 {
		return nil
	}
	start := pageOf(addr)
	end := pageOf(addr+size-1) + 1

	runStart := uint32(0)
	haveRun := false
	for p := start; p < end; p++ {
		if s.present[p] {
			if haveRun {
				if err := s.mapPages(runStart, p); err != nil {
					return err
				}
				haveRun = false
			}
			continue
		}
		if !haveRun {
			runStart = p
			haveRun = true
		}
	}
	if haveRun {
		if err := s.mapPages(runStart, end); err != nil {
			return err
		}
	}
	return nil
}

func (s *Space) mapPages(startPage, endPage uint32) error {
	base := uint64(startPage) * PageSize
	size := uint64(endPage-startPage) * PageSize
	if err := s.uc.MemMap(base, size); err != nil {
		return fmt.Errorf("map 0x%x..0x%x: %w", base, base+size, err)
	}
	for p := startPage; p < endPage; p++ {
		s.present[p] = true
	}
	return nil
}

// checkRange verifies every page touched by [addr, addr+size) is present.
func (s *Space) checkRange(addr, size uint32) error {
	if size == 0 {
		return nil
	}
	start := pageOf(addr)
	end := pageOf(addr+size-1) + 1
	for p := start; p < end; p++ {
		if !s.present[p] {
			return &UnmappedAccessError{Addr: addr}
		}
	}
	return nil
}

// Read copies size bytes starting at addr out of guest memory.
func (s *Space) Read(addr, size uint32) ([]byte, error) {
	if err := s.checkRange(addr, size); err != nil {
		return nil, err
	}
	return s.uc.MemRead(uint64(addr), uint64(size))
}

// Write copies data into guest memory starting at addr.
func (s *Space) Write(addr uint32, data []byte) error {
	if err := s.checkRange(addr, uint32(len(data))); err != nil {
		return err
	}
	return s.uc.MemWrite(uint64(addr), data)
}

// IsMapped reports whether every page in [addr, addr+size) is present.
func (s *Space) IsMapped(addr, size uint32) bool {
	return s.checkRange(addr, size) == nil
}
