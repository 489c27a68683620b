// Package driver is the core runtime surface: it owns the ISA engine, the
// heap allocator and the host function registry, and implements the
// guest-call ABI (register_function / run_function) described by the
// host↔guest bridge. It is the seam every WIPI-C kernel adapter, JSR
// binding, or scripted callback is built on top of.
package driver

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/heap"
	"github.com/wipirt/wipirt/internal/hostfn"
	"github.com/wipirt/wipirt/internal/log"
	"github.com/wipirt/wipirt/internal/memory"
	"github.com/wipirt/wipirt/internal/trace"
)

// Guest address space layout. With the default sizes, code, stack, heap and
// the host-function hook range do not overlap; New does not check regions
// sized by a boot descriptor for overlap.
const (
	CodeBase         = 0x0001_0000
	StackBase        = 0x7000_0000
	DefaultStackSize = 0x0010_0000

	DefaultHeapBase = 0x4000_0000
	DefaultHeapSize = 0x0100_0000

	// PEBBase is the peripheral/environment block: a small reserved region
	// near the top of the address space, below the host-function hook
	// range, that host-provided data (boot-time environment, not guest
	// code or heap) lives at. Nothing in this repo writes to it yet, but
	// it is mapped unconditionally so a kernel adapter can rely on it
	// being present without negotiating the address with the driver.
	PEBBase = 0xE000_0000
	PEBSize = 0x0000_1000
)

// RunFunctionLR is the sentinel link-register value that marks "this guest
// call is finished" rather than a real return address. No guest image is
// ever mapped at this address, so reaching it can only mean run_function's
// trampoline call returned. The value is even: a bx lr to an odd address
// would enter Thumb state at the address minus one, so the PC would never
// equal the sentinel.
const RunFunctionLR = 0xDEADBEEE

// System is the aggregate every host callback is handed a reference to. It
// is named System (rather than "Backend", the other name this concept
// carries in older design notes) throughout this codebase.
type System struct {
	Engine    *arm.Engine
	Heap      *heap.Heap
	Functions *hostfn.Registry
	Log       *log.Logger

	stackTop    uint32
	stackBottom uint32

	// contextStack records every context RunFunction has saved so a
	// caller (or the monitor view) can inspect nesting depth; the actual
	// resume value for each in-flight call lives in that call's
	// RunFunctionFuture, not here.
	contextStack []arm.Context

	// recentCalls is a small ring of the most recently dispatched
	// host-function names, carried for the crash dump a fatal error
	// renders — it is not a full call history.
	recentCalls []string
}

const recentCallsLimit = 8

// Config describes the memory regions a System should set up.
type Config struct {
	StackSize uint32
	HeapBase  uint32
	HeapSize  uint32
}

// DefaultConfig returns the layout used when no boot descriptor overrides
// it.
func DefaultConfig() Config {
	return Config{
		StackSize: DefaultStackSize,
		HeapBase:  DefaultHeapBase,
		HeapSize:  DefaultHeapSize,
	}
}

// New creates a System with a fresh engine, stack and heap mapped per cfg,
// and fns wired in as the host function table.
func New(cfg Config, fns *hostfn.Registry, logger *log.Logger) (*System, error) {
	eng, err := arm.New()
	if err != nil {
		return nil, err
	}

	if err := eng.Map(StackBase-cfg.StackSize, cfg.StackSize); err != nil {
		return nil, fmt.Errorf("driver: map stack: %w", err)
	}

	if err := eng.Map(PEBBase, PEBSize); err != nil {
		return nil, fmt.Errorf("driver: map PEB: %w", err)
	}

	hp, err := heap.Init(eng.Mem, cfg.HeapBase, cfg.HeapSize)
	if err != nil {
		return nil, fmt.Errorf("driver: init heap: %w", err)
	}

	if logger == nil {
		logger = log.NewNop()
	}

	sys := &System{
		Engine:      eng,
		Heap:        hp,
		Functions:   fns,
		Log:         logger,
		stackTop:    StackBase,
		stackBottom: StackBase - cfg.StackSize,
	}

	// Every guest call builds on the previous register file (see
	// buildCallContext), so the very first call needs a real stack pointer
	// rather than the zero value Unicorn starts a fresh register with.
	if err := eng.SetContext(arm.Context{Sp: sys.stackTop}); err != nil {
		return nil, fmt.Errorf("driver: init stack pointer: %w", err)
	}
	return sys, nil
}

// Close releases the underlying engine.
func (s *System) Close() error { return s.Engine.Close() }

// MapCode loads a guest image's bytes at addr (normally CodeBase) after
// ensuring the destination pages are mapped.
func (s *System) MapCode(addr uint32, code []byte) error {
	if err := s.Engine.Map(addr, uint32(len(code))); err != nil {
		return err
	}
	return s.Engine.Mem.Write(addr, code)
}

// RegisterFunction wires a host-implemented symbol into the function table
// and returns the guest-visible hook address callers should place in an
// import slot or kernel-interface pointer table entry.
func (s *System) RegisterFunction(name string, fn hostfn.HostFunc, aliases ...string) uint32 {
	return s.Functions.Register(hostfn.Def{Name: name, Aliases: aliases, Fn: fn, Category: "kernel"})
}

// ReadBytes reads size bytes at addr.
func (s *System) ReadBytes(addr, size uint32) ([]byte, error) {
	data, err := s.Engine.Mem.Read(addr, size)
	if err != nil {
		return nil, wrapMemErr(addr, err)
	}
	return data, nil
}

// WriteBytes writes data at addr.
func (s *System) WriteBytes(addr uint32, data []byte) error {
	if err := s.Engine.Mem.Write(addr, data); err != nil {
		return wrapMemErr(addr, err)
	}
	return nil
}

func wrapMemErr(addr uint32, err error) error {
	if _, ok := err.(*memory.UnmappedAccessError); ok {
		return &UnmappedAccessError{Addr: addr}
	}
	return err
}

// ReadGeneric reads a little-endian POD value of type T (size <= 8 bytes,
// per the round-trip property every POD must satisfy) at addr.
func ReadGeneric[T any](s *System, addr uint32) (T, error) {
	var v T
	size := binary.Size(v)
	if size <= 0 || size > 8 {
		return v, fmt.Errorf("driver: ReadGeneric: unsupported type size %d", size)
	}
	data, err := s.ReadBytes(addr, uint32(size))
	if err != nil {
		return v, err
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &v); err != nil {
		return v, fmt.Errorf("driver: ReadGeneric: %w", err)
	}
	return v, nil
}

// WriteGeneric writes v, a little-endian POD value of size <= 8 bytes, at
// addr.
func WriteGeneric[T any](s *System, addr uint32, v T) error {
	size := binary.Size(v)
	if size <= 0 || size > 8 {
		return fmt.Errorf("driver: WriteGeneric: unsupported type size %d", size)
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("driver: WriteGeneric: %w", err)
	}
	return s.WriteBytes(addr, buf.Bytes())
}

// Alloc requests size bytes from the heap, wrapping the allocator's own
// error types the way ReadBytes/WriteBytes wrap memory.UnmappedAccessError.
func (s *System) Alloc(size uint32) (uint32, error) {
	ptr, err := s.Heap.Alloc(size)
	if err != nil {
		return 0, wrapHeapErr(err)
	}
	return ptr, nil
}

// Free releases a block previously returned by Alloc.
func (s *System) Free(addr uint32) error {
	if err := s.Heap.Free(addr); err != nil {
		return wrapHeapErr(err)
	}
	return nil
}

func wrapHeapErr(err error) error {
	switch e := err.(type) {
	case *heap.InvalidStateError:
		return &InvalidAllocatorStateError{Addr: e.Addr, Msg: e.Msg}
	case *heap.AllocationFailureError:
		return &AllocationFailureError{Requested: e.Requested}
	default:
		return err
	}
}

// noteCall records name as the most recently dispatched host function, for
// logCrashDump's "recent host-function names" line.
func (s *System) noteCall(name string) {
	s.recentCalls = append(s.recentCalls, name)
	if len(s.recentCalls) > recentCallsLimit {
		s.recentCalls = s.recentCalls[len(s.recentCalls)-recentCallsLimit:]
	}
}

// logCrashDump renders the fatal-error crash dump spec.md's error-handling
// design calls for: a register snapshot, the top of the guest stack, and
// the most recently dispatched host-function names. It is the tick
// boundary a fatal error unwinds to before being returned to the window
// loop.
func (s *System) logCrashDump(ctx arm.Context, err error) {
	stackTop, _ := s.ReadBytes(ctx.Sp, 64)
	s.Log.Error("fatal guest error",
		zap.Error(err),
		log.Addr(uint64(ctx.Pc)),
		zap.Uint32("sp", ctx.Sp),
		zap.Uint32("lr", ctx.Lr),
		zap.Uint32("r0", ctx.R0),
		zap.Binary("stack_top", stackTop),
		zap.Strings("recent_calls", s.recentCalls),
	)
}

// SaveContext snapshots the current register file.
func (s *System) SaveContext() (arm.Context, error) {
	return s.Engine.GetContext()
}

// RestoreContext installs a previously saved register file.
func (s *System) RestoreContext(ctx arm.Context) error {
	return s.Engine.SetContext(ctx)
}

func (s *System) pushContext(ctx arm.Context) {
	s.contextStack = append(s.contextStack, ctx)
}

func (s *System) popContext() {
	if len(s.contextStack) == 0 {
		return
	}
	s.contextStack = s.contextStack[:len(s.contextStack)-1]
}

// ContextDepth reports how many nested guest calls are currently suspended
// waiting on a host callback; 0 means the system is idle between calls.
func (s *System) ContextDepth() int { return len(s.contextStack) }

// EnableTrace wires sink to receive an enriched trace.Event every time a
// host function reports its own activity via Log.Trace, the same role the
// teacher's stubs.DefaultRegistry.OnCall played for its key-extraction
// trace view. Passing a nil sink disables tracing.
func (s *System) EnableTrace(sink func(*trace.Event)) {
	if sink == nil {
		s.Log.SetOnTrace(nil)
		return
	}
	s.Log.SetOnTrace(func(pc uint64, category, name, detail string) {
		e := trace.NewEvent(pc, category, name, detail)
		trace.DefaultEnricher(e)
		sink(e)
	})
}
