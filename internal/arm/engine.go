// Package arm implements the ISA engine contract: a stepped ARM/Thumb
// interpreter over a paged address space, register access, and a bounded
// run loop that can be stopped either at a fixed end address or anywhere
// inside a hook-address range.
package arm

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/wipirt/wipirt/internal/memory"
)

// register index mapping for the Unicorn ARM32 backend.
var gpRegs = [9]int{
	uc.ARM_REG_R0, uc.ARM_REG_R1, uc.ARM_REG_R2, uc.ARM_REG_R3,
	uc.ARM_REG_R4, uc.ARM_REG_R5, uc.ARM_REG_R6, uc.ARM_REG_R7, uc.ARM_REG_R8,
}

const (
	regSb   = uc.ARM_REG_R9
	regSl   = uc.ARM_REG_R10
	regFp   = uc.ARM_REG_R11
	regIp   = uc.ARM_REG_R12
	regSp   = uc.ARM_REG_SP
	regLr   = uc.ARM_REG_LR
	regPc   = uc.ARM_REG_PC
	regCpsr = uc.ARM_REG_CPSR
)

// HookRange is the half-open [Low, High) window of PC values that, when
// reached, end a Run call early so the driver can dispatch a host callback
// instead of stepping real instructions there.
type HookRange struct {
	Low, High uint32
}

// Contains reports whether pc falls inside the range.
func (h HookRange) Contains(pc uint32) bool {
	return pc >= h.Low && pc < h.High
}

// Engine is the stepped ARM/Thumb interpreter. It owns a Unicorn instance in
// ARM mode and a paged memory.Space layered over it.
type Engine struct {
	uc  uc.Unicorn
	Mem *memory.Space

	stopped bool
}

// New creates an ARM engine with an empty, fully-unmapped address space.
func New() (*Engine, error) {
	u, err := uc.NewUnicorn(uc.ARCH_ARM, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("arm: create unicorn: %w", err)
	}
	return &Engine{uc: u, Mem: memory.New(u)}, nil
}

// Close releases the underlying Unicorn instance.
func (e *Engine) Close() error {
	return e.uc.Close()
}

// Map allocates pages for [addr, addr+size).
func (e *Engine) Map(addr, size uint32) error {
	return e.Mem.Map(addr, size)
}

// GetContext snapshots the full register file.
func (e *Engine) GetContext() (Context, error) {
	var ctx Context
	var err error
	for i := range gpRegs {
		v, rerr := e.uc.RegRead(gpRegs[i])
		if rerr != nil {
			err = rerr
		}
		ctx.SetReg(i, uint32(v))
	}
	ctx.Sb, _ = e.reg32(regSb)
	ctx.Sl, _ = e.reg32(regSl)
	ctx.Fp, _ = e.reg32(regFp)
	ctx.Ip, _ = e.reg32(regIp)
	ctx.Sp, _ = e.reg32(regSp)
	ctx.Lr, _ = e.reg32(regLr)
	ctx.Pc, _ = e.reg32(regPc)
	ctx.Cpsr, _ = e.reg32(regCpsr)
	if err != nil {
		return ctx, fmt.Errorf("arm: read context: %w", err)
	}
	return ctx, nil
}

func (e *Engine) reg32(reg int) (uint32, error) {
	v, err := e.uc.RegRead(reg)
	return uint32(v), err
}

// SetContext restores a previously saved register file wholesale.
func (e *Engine) SetContext(ctx Context) error {
	for i := range gpRegs {
		if err := e.uc.RegWrite(gpRegs[i], uint64(ctx.Reg(i))); err != nil {
			return err
		}
	}
	if err := e.uc.RegWrite(regSb, uint64(ctx.Sb)); err != nil {
		return err
	}
	if err := e.uc.RegWrite(regSl, uint64(ctx.Sl)); err != nil {
		return err
	}
	if err := e.uc.RegWrite(regFp, uint64(ctx.Fp)); err != nil {
		return err
	}
	if err := e.uc.RegWrite(regIp, uint64(ctx.Ip)); err != nil {
		return err
	}
	if err := e.uc.RegWrite(regSp, uint64(ctx.Sp)); err != nil {
		return err
	}
	if err := e.uc.RegWrite(regLr, uint64(ctx.Lr)); err != nil {
		return err
	}
	if err := e.uc.RegWrite(regCpsr, uint64(ctx.Cpsr)); err != nil {
		return err
	}
	// A PC write also sets the backend's Thumb state from the low bit, so
	// the saved T-bit is carried over as an odd PC.
	pc := ctx.Pc
	if ctx.Cpsr&cpsrThumb != 0 {
		pc |= 1
	}
	return e.WritePC(pc)
}

// WritePC sets the program counter, honoring the Thumb bit: an odd target
// address switches the CPSR T-bit on and is masked down to the even
// instruction address, matching real ARM branch-and-exchange semantics.
func (e *Engine) WritePC(pc uint32) error {
	if pc%2 == 1 {
		cpsr, err := e.reg32(regCpsr)
		if err != nil {
			return err
		}
		if err := e.uc.RegWrite(regCpsr, uint64(cpsr|cpsrThumb)); err != nil {
			return err
		}
		// The backend masks the low bit off the stored PC and keeps it as
		// its Thumb flag; writing pc-1 here would switch back to ARM.
		return e.uc.RegWrite(regPc, uint64(pc))
	}
	return e.uc.RegWrite(regPc, uint64(pc))
}

// PC reads the program counter.
func (e *Engine) PC() uint32 {
	v, _ := e.reg32(regPc)
	return v
}

// Run steps instructions starting at the current PC until either pc == end,
// pc lands inside hook, or maxSteps instructions have executed (0 means
// unbounded). Returns the PC at which it stopped.
func (e *Engine) Run(end uint32, hook HookRange, maxSteps uint64) (uint32, error) {
	e.stopped = false
	steps := uint64(0)

	hookHandle, err := e.uc.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, addr uint64, _ uint32) {
		pc := uint32(addr)
		steps++
		if e.stopped || pc == end || hook.Contains(pc) || (maxSteps != 0 && steps > maxSteps) {
			e.stopped = true
			e.uc.Stop()
		}
	}, 1, 0)
	if err != nil {
		return 0, fmt.Errorf("arm: install run hook: %w", err)
	}
	defer e.uc.HookDel(hookHandle)

	startPC := uint64(e.PC())
	if cpsr, _ := e.reg32(regCpsr); cpsr&cpsrThumb != 0 {
		startPC |= 1 // the start address's low bit selects Thumb
	}
	if err := e.uc.Start(startPC, 0); err != nil {
		// Neither end nor the hook range holds mapped code, so reaching
		// them can surface as a fetch fault; that is still a normal stop.
		if pc := e.PC(); pc == end || hook.Contains(pc) {
			return pc, nil
		}
		return e.PC(), fmt.Errorf("arm: run: %w", err)
	}
	return e.PC(), nil
}

// Stop requests that a Run in progress halt at the next instruction
// boundary.
func (e *Engine) Stop() {
	e.stopped = true
	e.uc.Stop()
}
