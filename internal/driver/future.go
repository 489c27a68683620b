package driver

import (
	"fmt"

	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/hostfn"
)

// ResultAdapter extracts a typed result from the register file left behind
// when a guest call reaches RunFunctionLR. Most calls only care about r0;
// an adapter lets a caller ask for something else (a pointer result, a
// packed struct read back out of guest memory, or the raw context) without
// RunFunction hardcoding which register that is.
type ResultAdapter[R any] func(ctx arm.Context) R

// Uint32Result extracts r0 as the call's return value — the common case
// for anything declared to return an int, a pointer, or a boolean.
func Uint32Result(ctx arm.Context) uint32 { return ctx.R0 }

// VoidResult discards the register file; used for calls declared void.
func VoidResult(ctx arm.Context) struct{} { return struct{}{} }

// ContextResult returns the whole register file, for internal callers
// (such as nested host-initiated calls) that need more than one register.
func ContextResult(ctx arm.Context) arm.Context { return ctx }

// buildCallContext produces the register file a guest call starts with:
// base is the context to branch from (normally whatever the engine holds
// right now), args 0-3 go in r0-r3, remaining args are pushed onto the
// stack, lr is the RunFunctionLR sentinel and pc is the target (honoring
// the Thumb bit the way a real BLX would).
func buildCallContext(sys *System, base arm.Context, target uint32, args []uint32) (arm.Context, error) {
	ctx := base
	for i := 0; i < 4 && i < len(args); i++ {
		ctx.SetReg(i, args[i])
	}

	if len(args) > 4 {
		extra := args[4:]
		sp := ctx.Sp - uint32(4*len(extra))
		for i, v := range extra {
			if err := sys.Engine.Mem.WriteU32(sp+uint32(4*i), v); err != nil {
				return ctx, fmt.Errorf("driver: marshal stack arg %d: %w", i+4, err)
			}
		}
		ctx.Sp = sp
	}

	ctx.Lr = RunFunctionLR
	if target%2 == 1 {
		ctx.Cpsr |= cpsrThumbBit
		ctx.Pc = target - 1
	} else {
		ctx.Cpsr &^= cpsrThumbBit
		ctx.Pc = target &^ 1
	}
	return ctx, nil
}

const cpsrThumbBit = 1 << 5

// RunFunctionFuture drives a single guest call to completion, suspending
// whenever execution reaches the host-function hook range and resuming
// once the dispatched HostFunc (and anything it nested) resolves. This
// mirrors a hand-rolled coroutine: each Poll either advances a pending
// nested future or steps the engine from the last saved context, and the
// whole thing must be re-entered from exactly the state it left off in —
// it cannot be parked on a goroutine stack because the ISA engine beneath
// it only understands being run from a register file, not being suspended
// mid-instruction.
type RunFunctionFuture[R any] struct {
	sys             *System
	previousContext arm.Context
	context         *arm.Context
	waiting         func() (arm.Context, bool)
	adapter         ResultAdapter[R]
	done            bool
	result          R
	err             error
	stepBudget      uint64
}

// Err returns the error, if any, that ended the call — set when a host
// function returned an error Outcome (such as a guest abort) or the hook
// address had no registered function. Only meaningful once Poll has
// returned ok=true.
func (f *RunFunctionFuture[R]) Err() error { return f.err }

// RunFunction starts a guest call to target with args, to be driven by
// Poll. The engine's current register file is saved and will be restored
// once the call resolves, so callers can freely nest calls from within a
// host callback.
func RunFunction[R any](sys *System, target uint32, args []uint32, adapter ResultAdapter[R], stepBudget uint64) (*RunFunctionFuture[R], error) {
	prev, err := sys.SaveContext()
	if err != nil {
		return nil, err
	}
	start, err := buildCallContext(sys, prev, target, args)
	if err != nil {
		return nil, err
	}
	sys.pushContext(prev)

	return &RunFunctionFuture[R]{
		sys:             sys,
		previousContext: prev,
		context:         &start,
		adapter:         adapter,
		stepBudget:      stepBudget,
	}, nil
}

// Poll implements sched.Future[R].
func (f *RunFunctionFuture[R]) Poll() (R, bool) {
	if f.done {
		return f.result, true
	}

	if f.waiting != nil {
		ctx, ok := f.waiting()
		if !ok {
			var zero R
			return zero, false
		}
		f.context = &ctx
		f.waiting = nil
	}

	ctx := *f.context

	if ctx.Pc == RunFunctionLR {
		result := f.adapter(ctx)
		f.sys.popContext()
		f.sys.RestoreContext(f.previousContext)
		f.done = true
		f.result = result
		return result, true
	}

	newCtx, hookAddr, hit := f.sys.stepFrom(ctx, f.stepBudget)
	if hit {
		fn, ok := f.sys.Functions.Dispatch(hookAddr)
		if !ok {
			// A hook PC outside the registered range, or an index the
			// registry never assigned, is BadFunctionHandle: fatal, per
			// the error taxonomy. It unwinds the whole call rather than
			// being treated as a no-op continuation.
			f.sys.popContext()
			f.sys.RestoreContext(f.previousContext)
			f.done = true
			f.err = &BadFunctionHandleError{Addr: hookAddr}
			f.sys.logCrashDump(newCtx, f.err)
			var zero R
			return zero, true
		}

		if name, ok := f.sys.Functions.NameAt(hookAddr); ok {
			f.sys.noteCall(name)
		}

		hostSys := f.sys.hostSystem()
		outcome := fn(hostSys, newCtx)
		if outcome.Err != nil {
			f.sys.popContext()
			f.sys.RestoreContext(f.previousContext)
			f.done = true
			f.err = outcome.Err
			if isFatal(outcome.Err) {
				f.sys.logCrashDump(newCtx, outcome.Err)
			}
			var zero R
			return zero, true
		}
		if outcome.Ready {
			f.context = &outcome.Context
		} else {
			f.waiting = outcome.Poll
			f.context = nil
		}
		var zero R
		return zero, false
	}

	f.context = &newCtx
	var zero R
	return zero, false
}

// Bootstrap invokes entry the way a WIPI loader invokes a program's kernel
// entry point — a single run_function call taking the image's bss size as
// its only argument — and drives it synchronously to completion with an
// unbounded step budget. Callers wanting cooperative, tick-driven execution
// should call RunFunction directly and hand the future to an executor
// instead.
func Bootstrap(sys *System, entry uint32, bssSize uint32) (uint32, error) {
	fut, err := RunFunction(sys, entry, []uint32{bssSize}, Uint32Result, 0)
	if err != nil {
		return 0, err
	}
	for {
		v, ok := fut.Poll()
		if ok {
			if err := fut.Err(); err != nil {
				return 0, err
			}
			return v, nil
		}
	}
}

// hostSystem builds the capability set passed to HostFunc implementations,
// binding Call to a nested RunFunction so a stub can itself invoke guest
// code and suspend until it returns.
func (s *System) hostSystem() *hostfn.System {
	return &hostfn.System{
		Mem:  s.Engine.Mem,
		Heap: s.Heap,
		Log:  s.Log,
		Call: func(target uint32, args []uint32) func() (arm.Context, bool) {
			fut, err := RunFunction(s, target, args, ContextResult, 0)
			if err != nil {
				return func() (arm.Context, bool) { return arm.Context{}, true }
			}
			return fut.Poll
		},
	}
}

// stepFrom runs the engine starting at ctx until it reaches RunFunctionLR,
// lands inside the host-function hook range, or exhausts budget
// instructions (0 means unbounded — used for synchronous top-level calls
// driven outside the executor's Tick). hit reports whether it stopped
// inside the hook range, in which case hookAddr is the exact address
// reached.
func (s *System) stepFrom(ctx arm.Context, budget uint64) (result arm.Context, hookAddr uint32, hit bool) {
	if err := s.Engine.SetContext(ctx); err != nil {
		return ctx, 0, false
	}
	low, high := s.Functions.HookRange()
	stopPC, _ := s.Engine.Run(RunFunctionLR, arm.HookRange{Low: low, High: high}, budget)

	newCtx, _ := s.Engine.GetContext()
	if stopPC >= low && stopPC < high {
		return newCtx, stopPC, true
	}
	return newCtx, 0, false
}
