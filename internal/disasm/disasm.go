// Package disasm renders guest instruction bytes as assembly text for trace
// output and the monitor view. It is the 32-bit ARM/Thumb sibling of the
// teacher's arm64asm-based disasm() helper, generalized to ARM's two
// instruction sets and their variable Thumb encoding length.
package disasm

import (
	"fmt"

	"golang.org/x/arch/arm/armasm"
)

// Mode selects which instruction set code bytes should be decoded as.
type Mode int

const (
	ModeARM Mode = iota
	ModeThumb
)

// Instruction is one decoded instruction: its mnemonic text and the number
// of bytes it occupied, so a caller can advance a disassembly cursor.
type Instruction struct {
	Text string
	Size int
}

// Decode decodes the instruction at the start of code with a single armasm
// call in the requested mode; armasm reports how many bytes it consumed.
// When decoding fails the result is a .word line sized 4 bytes for ARM and
// 2 bytes for Thumb.
func Decode(code []byte, mode Mode) Instruction {
	if len(code) < 2 {
		return Instruction{Text: "???", Size: len(code)}
	}

	var gomode armasm.Mode
	if mode == ModeThumb {
		gomode = armasm.ModeThumb
	} else {
		gomode = armasm.ModeARM
		if len(code) < 4 {
			return Instruction{Text: "???", Size: len(code)}
		}
	}

	inst, err := armasm.Decode(code, gomode)
	if err != nil {
		size := 4
		if mode == ModeThumb {
			size = 2
		}
		if size > len(code) {
			size = len(code)
		}
		return Instruction{Text: fmt.Sprintf(".word 0x%08x", wordAt(code)), Size: size}
	}
	return Instruction{Text: inst.String(), Size: inst.Len}
}

// ModeForThumbBit picks ModeThumb when the CPSR T-bit (bit 5) is set,
// matching how PC's low bit selects the instruction set at a branch.
func ModeForThumbBit(cpsr uint32) Mode {
	if cpsr&(1<<5) != 0 {
		return ModeThumb
	}
	return ModeARM
}

func wordAt(code []byte) uint32 {
	var w uint32
	for i := 0; i < 4 && i < len(code); i++ {
		w |= uint32(code[i]) << (8 * i)
	}
	return w
}
