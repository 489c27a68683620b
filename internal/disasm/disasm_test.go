package disasm_test

import (
	"strings"
	"testing"

	"github.com/wipirt/wipirt/internal/disasm"
)

func TestDecodeARMInstruction(t *testing.T) {
	// mov r0, #42
	code := []byte{0x2a, 0x00, 0xa0, 0xe3}
	inst := disasm.Decode(code, disasm.ModeARM)
	if inst.Size != 4 {
		t.Errorf("size = %d, want 4", inst.Size)
	}
	if !strings.Contains(strings.ToLower(inst.Text), "mov") {
		t.Errorf("decoded text %q does not look like a MOV", inst.Text)
	}
}

func TestDecodeUnknownBytesFallsBackToWord(t *testing.T) {
	code := []byte{0xff, 0xff, 0xff, 0xff}
	inst := disasm.Decode(code, disasm.ModeARM)
	if !strings.HasPrefix(inst.Text, ".word") {
		t.Errorf("expected .word fallback, got %q", inst.Text)
	}
}

func TestModeForThumbBit(t *testing.T) {
	if disasm.ModeForThumbBit(0) != disasm.ModeARM {
		t.Error("expected ModeARM when T-bit clear")
	}
	if disasm.ModeForThumbBit(1<<5) != disasm.ModeThumb {
		t.Error("expected ModeThumb when T-bit set")
	}
}
