// Package elfload maps a 32-bit ARM ELF guest image into a driver.System
// and resolves its dynamic imports against the host function registry.
// It plays the role the vendor boot shim would in a full WIPI stack: the
// spec treats "load the guest program image" as an external collaborator,
// but something has to turn a .so on disk into mapped pages and a
// resolved GOT, and this is that something.
package elfload

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/driver"
	"github.com/wipirt/wipirt/internal/hostfn"
	"github.com/wipirt/wipirt/internal/log"
)

// 32-bit ARM relocation types (EM_ARM, as opposed to the AArch64 ones this
// loader's ancestor targeted).
const (
	rArmAbs32    = 2
	rArmGlobDat  = 21
	rArmJumpSlot = 22
	rArmRelative = 23
)

// LoadBase is where an image is relocated to when its lowest PT_LOAD vaddr
// lies below LoadBase (typically a position-independent image linked at 0).
const LoadBase = 0x0001_0000

// Image describes a loaded guest program.
type Image struct {
	Path     string
	Entry    uint32
	Symbols  map[string]uint32 // symbol name -> resolved virtual address
	Imports  map[string]uint32 // symbol name -> GOT slot address needing resolution
	BaseAddr uint32
	EndAddr  uint32
}

// Load reads the ELF at path, maps its PT_LOAD segments into sys, and
// resolves dynamic imports against sys.Functions (falling back to a stub
// that logs once and ends the call with driver.UnimplementedError, for
// anything unregistered).
func Load(sys *driver.System, path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfload: open: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_ARM {
		return nil, &driver.DecodeError{Msg: fmt.Sprintf("expected EM_ARM, got %v", f.Machine)}
	}

	fileBase := uint32(0xFFFFFFFF)
	fileEnd := uint32(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if uint32(prog.Vaddr) < fileBase {
			fileBase = uint32(prog.Vaddr)
		}
		if end := uint32(prog.Vaddr + prog.Memsz); end > fileEnd {
			fileEnd = end
		}
	}
	if fileBase == 0xFFFFFFFF {
		return nil, &driver.DecodeError{Msg: "no PT_LOAD segments"}
	}

	var relocOffset uint32
	if fileBase < 0x10000 {
		relocOffset = LoadBase - fileBase
	}

	img := &Image{
		Path:     path,
		Entry:    uint32(f.Entry) + relocOffset,
		Symbols:  make(map[string]uint32),
		Imports:  make(map[string]uint32),
		BaseAddr: fileBase + relocOffset,
		EndAddr:  fileEnd + relocOffset,
	}

	if syms, err := f.DynamicSymbols(); err == nil {
		indexSymbols(syms, relocOffset, img.Symbols)
	}
	if syms, err := f.Symbols(); err == nil {
		indexSymbols(syms, relocOffset, img.Symbols)
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("elfload: read file: %w", err)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		vaddr := uint32(prog.Vaddr) + relocOffset

		const pageSize = 0x1000
		alignedAddr := vaddr &^ (pageSize - 1)
		alignedEnd := (vaddr + uint32(prog.Memsz) + pageSize - 1) &^ (pageSize - 1)
		if err := sys.Engine.Map(alignedAddr, alignedEnd-alignedAddr); err != nil {
			return nil, fmt.Errorf("elfload: map segment at 0x%08x: %w", vaddr, err)
		}

		if prog.Filesz > 0 && prog.Off+prog.Filesz <= uint64(len(fileData)) {
			data := fileData[prog.Off : prog.Off+prog.Filesz]
			if err := sys.WriteBytes(vaddr, data); err != nil {
				return nil, fmt.Errorf("elfload: write segment at 0x%08x: %w", vaddr, err)
			}
		}
		if prog.Memsz > prog.Filesz {
			bssStart := vaddr + uint32(prog.Filesz)
			bssSize := uint32(prog.Memsz - prog.Filesz)
			if bssSize > 0 {
				sys.WriteBytes(bssStart, make([]byte, bssSize))
			}
		}
	}

	if err := applyRelocations(sys, f, relocOffset, img); err != nil {
		return nil, fmt.Errorf("elfload: relocations: %w", err)
	}

	return img, nil
}

func indexSymbols(syms []elf.Symbol, relocOffset uint32, out map[string]uint32) {
	for _, sym := range syms {
		if sym.Name == "" {
			continue
		}
		addr := uint32(sym.Value) + relocOffset
		name := stripVersion(sym.Name)
		if sym.Value != 0 {
			out[name] = addr
		}
	}
}

func stripVersion(name string) string {
	if idx := strings.IndexByte(name, '@'); idx != -1 {
		return name[:idx]
	}
	return name
}

// applyRelocations walks .rel.dyn/.rel.plt (ARM32 ELF uses implicit-addend
// REL entries, not RELA) and fixes up GOT slots: RELATIVE entries get
// base+existing-value, GLOB_DAT/JUMP_SLOT entries get the resolved address
// of the named symbol — which, for an unresolved external symbol, is the
// guest-visible hook address RegisterFunction assigned it, falling back to
// fallbackStub (which fails the call as unimplemented) if nothing claimed
// that name.
func applyRelocations(sys *driver.System, f *elf.File, relocOffset uint32, img *Image) error {
	dynSyms, _ := f.DynamicSymbols()
	symByIndex := make(map[int]elf.Symbol, len(dynSyms)+1)
	for i, sym := range dynSyms {
		symByIndex[i+1] = sym // ELF symbol index 0 is STN_UNDEF; Go's slice skips it
	}

	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_REL {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		const entrySize = 8 // Elf32_Rel: r_offset(4) + r_info(4)
		for i := 0; i+entrySize <= len(data); i += entrySize {
			rOffset := binary.LittleEndian.Uint32(data[i:])
			rInfo := binary.LittleEndian.Uint32(data[i+4:])
			relType := rInfo & 0xFF
			symIdx := int(rInfo >> 8)
			target := rOffset + relocOffset

			switch relType {
			case rArmRelative:
				existing, _ := sys.Engine.Mem.ReadU32(target)
				sys.Engine.Mem.WriteU32(target, existing+relocOffset)

			case rArmGlobDat, rArmJumpSlot:
				sym, ok := symByIndex[symIdx]
				if !ok || sym.Name == "" {
					continue
				}
				name := stripVersion(sym.Name)
				resolved := resolveImport(sys, img, name)
				sys.Engine.Mem.WriteU32(target, resolved)

			case rArmAbs32:
				sym, ok := symByIndex[symIdx]
				if !ok {
					continue
				}
				if sym.Value != 0 {
					existing, _ := sys.Engine.Mem.ReadU32(target)
					sys.Engine.Mem.WriteU32(target, uint32(sym.Value)+relocOffset+existing)
				} else if sym.Name != "" {
					resolved := resolveImport(sys, img, stripVersion(sym.Name))
					sys.Engine.Mem.WriteU32(target, resolved)
				}
			}
		}
	}
	return nil
}

// resolveImport finds addr for name, first among symbols already defined in
// the image, then in the host function registry (wiring a PLT entry to a
// registered kernel function), and finally a logged fallback stub the
// first time name is seen unresolved.
func resolveImport(sys *driver.System, img *Image, name string) uint32 {
	if addr, ok := img.Symbols[name]; ok && addr != 0 {
		return addr
	}
	if _, addr, ok := sys.Functions.ByName(name); ok {
		img.Imports[name] = addr
		return addr
	}
	if addr, ok := img.Imports[name]; ok {
		return addr
	}
	addr := sys.RegisterFunction(name, fallbackStub(name))
	img.Imports[name] = addr
	return addr
}

// fallbackStub stands in for a symbol nothing claimed: the first call logs
// it once, then ends the guest call with driver.UnimplementedError, the
// recoverable taxonomy kind for "stub callback invoked that exists only as
// a placeholder" — surfaced to whatever awaited the run_function, not
// silently treated as a successful no-op.
func fallbackStub(name string) hostfn.HostFunc {
	logged := false
	return func(hs *hostfn.System, ctx arm.Context) hostfn.Outcome {
		if !logged {
			hs.Log.Debug("unresolved import called", log.Fn(name))
			logged = true
		}
		return hostfn.Abort(&driver.UnimplementedError{Name: name})
	}
}
