package arm_test

import (
	"testing"

	"github.com/wipirt/wipirt/internal/arm"
)

// A minimal ARM program: MOV r0, #42; BX lr. Encoded little-endian.
// e3a0002a  mov r0, #42
// e12fff1e  bx lr
var movAndReturn = []byte{
	0x2a, 0x00, 0xa0, 0xe3,
	0x1e, 0xff, 0x2f, 0xe1,
}

func newEngine(t *testing.T) *arm.Engine {
	t.Helper()
	eng, err := arm.New()
	if err != nil {
		t.Fatalf("arm.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestRunStopsAtEndAddress(t *testing.T) {
	eng := newEngine(t)
	const base = 0x1000
	if err := eng.Map(base, 0x1000); err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := eng.Mem.Write(base, movAndReturn); err != nil {
		t.Fatalf("write code: %v", err)
	}

	ctx, _ := eng.GetContext()
	ctx.Pc = base
	ctx.Lr = 0xDEADBEEF
	if err := eng.SetContext(ctx); err != nil {
		t.Fatalf("set context: %v", err)
	}

	stop, err := eng.Run(0xDEADBEEF, arm.HookRange{}, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stop != 0xDEADBEEF {
		t.Errorf("stop pc = 0x%x, want 0xDEADBEEF", stop)
	}

	final, _ := eng.GetContext()
	if final.R0 != 42 {
		t.Errorf("r0 = %d, want 42", final.R0)
	}
}

func TestWritePCSetsThumbBitOnOddTarget(t *testing.T) {
	eng := newEngine(t)
	if err := eng.WritePC(0x1001); err != nil {
		t.Fatalf("write pc: %v", err)
	}
	ctx, err := eng.GetContext()
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if ctx.Pc != 0x1000 {
		t.Errorf("pc = 0x%x, want 0x1000 (thumb bit masked off)", ctx.Pc)
	}
	if ctx.Cpsr&(1<<5) == 0 {
		t.Error("expected CPSR T-bit set for odd target")
	}
}

func TestHookRangeContains(t *testing.T) {
	h := arm.HookRange{Low: 0xF0000000, High: 0xF0000010}
	if !h.Contains(0xF0000004) {
		t.Error("expected hook range to contain address inside window")
	}
	if h.Contains(0xF0000010) {
		t.Error("hook range is half-open; High itself should not be contained")
	}
}
