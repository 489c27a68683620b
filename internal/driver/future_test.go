package driver_test

import (
	"testing"

	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/driver"
	"github.com/wipirt/wipirt/internal/hostfn"
	"github.com/wipirt/wipirt/internal/log"
)

func newTestSystem(t *testing.T) (*driver.System, *hostfn.Registry) {
	t.Helper()
	reg := hostfn.NewRegistry()
	sys, err := driver.New(driver.DefaultConfig(), reg, log.NewNop())
	if err != nil {
		t.Fatalf("driver.New: %v", err)
	}
	t.Cleanup(func() { sys.Close() })
	return sys, reg
}

func drain[R any](t *testing.T, fut *driver.RunFunctionFuture[R]) R {
	t.Helper()
	for i := 0; i < 10000; i++ {
		v, ok := fut.Poll()
		if ok {
			return v
		}
	}
	t.Fatal("future never resolved")
	var zero R
	return zero
}

func TestRunFunctionDispatchesHostFunction(t *testing.T) {
	sys, reg := newTestSystem(t)
	addr := reg.Register(hostfn.Def{Name: "add", Category: "test", Fn: func(_ *hostfn.System, ctx arm.Context) hostfn.Outcome {
		ctx.R0 = ctx.R0 + ctx.R1
		ctx.Pc = ctx.Lr
		return hostfn.Done(ctx)
	}})

	fut, err := driver.RunFunction(sys, addr, []uint32{3, 4}, driver.Uint32Result, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	if got := drain(t, fut); got != 7 {
		t.Errorf("result = %d, want 7", got)
	}
	if err := fut.Err(); err != nil {
		t.Errorf("unexpected Err(): %v", err)
	}
}

func TestGuestAbortResolvesFutureWithError(t *testing.T) {
	sys, reg := newTestSystem(t)
	addr := reg.Register(hostfn.Def{Name: "abort", Category: "test", Fn: func(_ *hostfn.System, ctx arm.Context) hostfn.Outcome {
		return hostfn.Abort(&driver.GuestAbortError{Code: -1})
	}})

	fut, err := driver.RunFunction(sys, addr, nil, driver.Uint32Result, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	drain(t, fut)
	if fut.Err() == nil {
		t.Fatal("expected Err() to report the guest abort")
	}
	if _, ok := fut.Err().(*driver.GuestAbortError); !ok {
		t.Errorf("Err() = %T, want *driver.GuestAbortError", fut.Err())
	}
}

func TestNestedHostCallIntoGuestCode(t *testing.T) {
	sys, reg := newTestSystem(t)

	// A trivial guest function: MOV r0, #99; BX lr.
	const codeAddr = 0x00010000
	code := []byte{0x63, 0x00, 0xa0, 0xe3, 0x1e, 0xff, 0x2f, 0xe1}
	if err := sys.MapCode(codeAddr, code); err != nil {
		t.Fatalf("map code: %v", err)
	}

	addr := reg.Register(hostfn.Def{Name: "caller", Category: "test", Fn: func(hs *hostfn.System, ctx arm.Context) hostfn.Outcome {
		poll := hs.Call(codeAddr, nil)
		return hostfn.Awaiting(func() (arm.Context, bool) {
			inner, ok := poll()
			if !ok {
				return arm.Context{}, false
			}
			ctx.R0 = inner.R0
			ctx.Pc = ctx.Lr
			return ctx, true
		})
	}})

	fut, err := driver.RunFunction(sys, addr, nil, driver.Uint32Result, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	if got := drain(t, fut); got != 99 {
		t.Errorf("result = %d, want 99 (value set by nested guest call)", got)
	}
}

func TestArgumentsBeyondFourSpillToStack(t *testing.T) {
	sys, reg := newTestSystem(t)
	addr := reg.Register(hostfn.Def{Name: "sum6", Category: "test", Fn: func(hs *hostfn.System, ctx arm.Context) hostfn.Outcome {
		a4, _ := hs.Mem.ReadU32(ctx.Sp)
		a5, _ := hs.Mem.ReadU32(ctx.Sp + 4)
		ctx.R0 = ctx.R0 + ctx.R1 + ctx.R2 + ctx.R3 + a4 + a5
		ctx.Pc = ctx.Lr
		return hostfn.Done(ctx)
	}})

	fut, err := driver.RunFunction(sys, addr, []uint32{1, 2, 3, 4, 5, 6}, driver.Uint32Result, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	if got := drain(t, fut); got != 21 {
		t.Errorf("result = %d, want 21", got)
	}
}

func TestUnregisteredHookAddressIsFatal(t *testing.T) {
	sys, reg := newTestSystem(t)
	reg.Register(hostfn.Def{Name: "only", Category: "test", Fn: func(_ *hostfn.System, ctx arm.Context) hostfn.Outcome {
		ctx.Pc = ctx.Lr
		return hostfn.Done(ctx)
	}})

	// hostfn.HookBase+2 falls inside the registered hook range but is not
	// the address of any registered slot (slots are 4 bytes apart) — a
	// corrupted or miscomputed function pointer landing here must be
	// fatal, not silently treated as a no-op return.
	fut, err := driver.RunFunction(sys, hostfn.HookBase+2, nil, driver.VoidResult, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	drain(t, fut)
	if _, ok := fut.Err().(*driver.BadFunctionHandleError); !ok {
		t.Errorf("Err() = %v (%T), want *driver.BadFunctionHandleError", fut.Err(), fut.Err())
	}
}

func TestContextDepthTracksNesting(t *testing.T) {
	sys, reg := newTestSystem(t)
	addr := reg.Register(hostfn.Def{Name: "noop", Category: "test", Fn: func(_ *hostfn.System, ctx arm.Context) hostfn.Outcome {
		if d := sys.ContextDepth(); d != 1 {
			t.Errorf("expected ContextDepth 1 inside the call, got %d", d)
		}
		ctx.Pc = ctx.Lr
		return hostfn.Done(ctx)
	}})

	if sys.ContextDepth() != 0 {
		t.Fatalf("expected ContextDepth 0 before any call")
	}
	fut, err := driver.RunFunction(sys, addr, nil, driver.VoidResult, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	drain(t, fut)
	if sys.ContextDepth() != 0 {
		t.Errorf("expected ContextDepth to return to 0 once the call resolves, got %d", sys.ContextDepth())
	}
}
