package arm

// Context is a snapshot of the full ARM register file: r0-r8, the three
// conventionally-named registers (sb/sl/fp), the scratch register ip, the
// stack pointer, link register, program counter and the CPSR flags
// register. It is a plain value type so that the driver can save and
// restore it wholesale across nested guest calls.
type Context struct {
	R0, R1, R2, R3, R4, R5, R6, R7, R8 uint32
	Sb                                 uint32 // r9
	Sl                                 uint32 // r10
	Fp                                 uint32 // r11
	Ip                                 uint32 // r12
	Sp                                 uint32 // r13
	Lr                                 uint32 // r14
	Pc                                 uint32 // r15
	Cpsr                               uint32
}

// Reg returns the general-purpose register r0-r8 by index. Panics outside
// that range; callers needing sb/sl/fp/ip/sp/lr/pc address the named
// fields directly.
func (c *Context) Reg(n int) uint32 {
	switch n {
	case 0:
		return c.R0
	case 1:
		return c.R1
	case 2:
		return c.R2
	case 3:
		return c.R3
	case 4:
		return c.R4
	case 5:
		return c.R5
	case 6:
		return c.R6
	case 7:
		return c.R7
	case 8:
		return c.R8
	default:
		panic("arm: register index out of range r0-r8")
	}
}

// SetReg writes the general-purpose register r0-r8 by index.
func (c *Context) SetReg(n int, v uint32) {
	switch n {
	case 0:
		c.R0 = v
	case 1:
		c.R1 = v
	case 2:
		c.R2 = v
	case 3:
		c.R3 = v
	case 4:
		c.R4 = v
	case 5:
		c.R5 = v
	case 6:
		c.R6 = v
	case 7:
		c.R7 = v
	case 8:
		c.R8 = v
	default:
		panic("arm: register index out of range r0-r8")
	}
}

// CPSR Thumb bit.
const cpsrThumb = 1 << 5
