// Package hostfn is the host-side half of the guest↔host function-call
// bridge: a registry of Go functions the guest can "call" by branching
// into a reserved hook-address range, each wired to a fixed, monotonically
// increasing address the loader can place into an import slot or a
// kernel-interface pointer table.
//
// Stub packages register themselves the same way the teacher's libc stubs
// did: an init() function in the package that implements a given kernel
// surface calls Register for each symbol it provides. Importing the
// package for its side effect is what wires it into a System.
package hostfn

import (
	"sync"

	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/heap"
	"github.com/wipirt/wipirt/internal/log"
	"github.com/wipirt/wipirt/internal/memory"
)

// HookBase is the start of the guest address range reserved for host
// function dispatch. An address in [HookBase, HookBase+4*N) never contains
// real instructions; reaching it during Run means "invoke host function
// (addr-HookBase)/4".
const HookBase = 0xF0000000

// System is the capability set a HostFunc is given: memory and heap
// access, a logger, and Call, which lets a host function itself invoke a
// guest function and suspend until it completes (the guest→host→guest
// nesting case). Call is bound by the driver; stub packages never
// construct a System themselves.
type System struct {
	Mem  *memory.Space
	Heap *heap.Heap
	Log  *log.Logger
	Call CallFunc
}

// CallFunc issues a nested guest call and returns a poll function that
// yields the finished register context once the nested call completes.
type CallFunc func(target uint32, args []uint32) func() (arm.Context, bool)

// Outcome is what a HostFunc hands back to the driver: either an
// immediately-resolved register context (Ready), or a poll function to
// keep driving because the stub itself is waiting on a nested guest call.
type Outcome struct {
	Ready   bool
	Context arm.Context
	Poll    func() (arm.Context, bool)

	// Err, when set, marks the guest call as having aborted (e.g. the
	// guest called abort()/exit()). It resolves the calling
	// RunFunctionFuture immediately rather than propagating as a Go
	// panic or a broken future chain — the caller observes it via the
	// future's Err() after Poll reports completion.
	Err error
}

// Done builds a synchronously-resolved Outcome. Most stubs (malloc, strlen,
// memcpy, ...) never suspend and use this.
func Done(ctx arm.Context) Outcome { return Outcome{Ready: true, Context: ctx} }

// Awaiting builds an Outcome for a stub that issued a nested call via
// System.Call and must be re-polled until that call resolves.
func Awaiting(poll func() (arm.Context, bool)) Outcome { return Outcome{Poll: poll} }

// Abort builds an Outcome that ends the guest call in error, e.g. for
// abort()/exit() stubs.
func Abort(err error) Outcome { return Outcome{Ready: true, Err: err} }

// HostFunc implements one guest-callable symbol. ctx is the register file
// at the moment the guest branched into the hook address; a synchronous
// stub reads its arguments from ctx, performs its effect, and returns
// Done(ctx) with the result register and Pc set to ctx.Lr so the guest
// resumes at its caller.
type HostFunc func(sys *System, ctx arm.Context) Outcome

// Def describes one registered symbol.
type Def struct {
	Name     string
	Aliases  []string
	Fn       HostFunc
	Category string
}

// Registry assigns each registered symbol the next hook address in order
// and dispatches hook hits back to the matching HostFunc.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Def
	byAddr map[uint32]*Def
	order  []string // registration order, for List, Count and HookRange
	logger *log.Logger
}

// DefaultRegistry is the registry populated by package init() functions,
// the same role stubs.DefaultRegistry played for the teacher's Android
// stub packages.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Def),
		byAddr: make(map[uint32]*Def),
	}
}

// SetLogger attaches a logger used for registration-time diagnostics.
func (r *Registry) SetLogger(l *log.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// Register assigns def the next free hook address and indexes it (and its
// aliases) by name. Called from package init() functions.
func (r *Registry) Register(def Def) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := HookBase + 4*uint32(len(r.order))
	stored := def
	r.byName[def.Name] = &stored
	for _, alias := range def.Aliases {
		r.byName[alias] = &stored
	}
	r.byAddr[addr] = &stored
	r.order = append(r.order, def.Name)

	if r.logger != nil {
		r.logger.Debug("registered host function",
			log.Fn(def.Name),
			log.Addr(uint64(addr)),
		)
	}
	return addr
}

// Addr returns the hook address assigned to name, and whether it is known.
func (r *Registry) Addr(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for addr, def := range r.byAddr {
		if def.Name == name {
			return addr, true
		}
	}
	return 0, false
}

// Dispatch looks up the HostFunc registered at addr.
func (r *Registry) Dispatch(addr uint32) (HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byAddr[addr]
	if !ok {
		return nil, false
	}
	return def.Fn, true
}

// NameAt returns the primary symbol name registered at addr, for crash-dump
// and trace rendering that only has the hook address to go on.
func (r *Registry) NameAt(addr uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byAddr[addr]
	if !ok {
		return "", false
	}
	return def.Name, true
}

// ByName looks up a Def by symbol name or alias, for the ELF loader's
// import resolution.
func (r *Registry) ByName(name string) (*Def, uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	if !ok {
		return nil, 0, false
	}
	for addr, d := range r.byAddr {
		if d == def {
			return def, addr, true
		}
	}
	return nil, 0, false
}

// Count returns the number of distinct registered symbols (aliases not
// counted twice).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns registered primary symbol names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Register adds def to the default registry.
func Register(def Def) uint32 { return DefaultRegistry.Register(def) }

// HookRange returns the [low, high) span covering every hook address
// assigned so far, for wiring into arm.Engine.Run.
func (r *Registry) HookRange() (low, high uint32) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return HookBase, HookBase + 4*uint32(len(r.order))
}
