package driver

import "fmt"

// Fatal errors indicate the guest/host bridge is in a state that cannot be
// recovered from by retrying or aborting just the current call: the
// address space, allocator metadata, or function table have become
// inconsistent.

// UnmappedAccessError wraps a memory.UnmappedAccessError surfaced through
// the driver layer.
type UnmappedAccessError struct {
	Addr uint32
}

func (e *UnmappedAccessError) Error() string {
	return fmt.Sprintf("driver: unmapped guest access at 0x%08x", e.Addr)
}

// InvalidAllocatorStateError wraps a heap.InvalidStateError.
type InvalidAllocatorStateError struct {
	Addr uint32
	Msg  string
}

func (e *InvalidAllocatorStateError) Error() string {
	return fmt.Sprintf("driver: invalid allocator state at 0x%08x: %s", e.Addr, e.Msg)
}

// BadFunctionHandleError reports a hook address with no registered host
// function, or a RunFunction call targeting an address the registry never
// assigned.
type BadFunctionHandleError struct {
	Addr uint32
}

func (e *BadFunctionHandleError) Error() string {
	return fmt.Sprintf("driver: no host function registered at 0x%08x", e.Addr)
}

// Recoverable errors only fail the call that raised them.

// AllocationFailureError wraps heap.AllocationFailureError.
type AllocationFailureError struct {
	Requested uint32
}

func (e *AllocationFailureError) Error() string {
	return fmt.Sprintf("driver: allocation of %d bytes failed", e.Requested)
}

// UnimplementedError reports a guest call into a host function stub that
// exists only as a placeholder.
type UnimplementedError struct {
	Name string
}

func (e *UnimplementedError) Error() string {
	return fmt.Sprintf("driver: %q is not implemented", e.Name)
}

// GuestAbortError reports the guest program explicitly aborting (e.g. via
// the libc abort()/exit() family). It is not returned as a Go error from
// RunFunction: the future resolves and reports it through Err(), so a
// caller awaiting a guest call observes the abort without a panic or a
// broken future chain, matching the rest of the guest-call ABI.
type GuestAbortError struct {
	Code int32
}

func (e *GuestAbortError) Error() string {
	return fmt.Sprintf("driver: guest aborted with code %d", e.Code)
}

// DecodeError reports a guest instruction or structure the engine could
// not make sense of. Returned to whoever triggered the decode (elfload.Load
// for a non-ARM or segment-less image), not treated as a fatal condition.
type DecodeError struct {
	Addr uint32
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("driver: decode error at 0x%08x: %s", e.Addr, e.Msg)
}

// isFatal reports whether err belongs to the fatal half of the taxonomy
// (UnmappedAccess, InvalidAllocatorState, BadFunctionHandle) — the kinds
// for which RunFunctionFuture.Poll logs a crash dump before ending the
// call. The error itself still reaches the caller through the future's
// Err(), the same way a recoverable one does.
func isFatal(err error) bool {
	switch err.(type) {
	case *UnmappedAccessError, *InvalidAllocatorStateError, *BadFunctionHandleError:
		return true
	default:
		return false
	}
}
