// Package script lets a boot descriptor implement a host function as a
// JavaScript snippet instead of compiled Go, using goja as the embedded
// engine. This is the extensibility seam for kernel surfaces that don't
// warrant a Go package of their own: a config.ScriptDef compiles once at
// boot and is wired into the function registry exactly like any other
// hostfn.HostFunc.
package script

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/hostfn"
)

// Callback is a compiled script bound to one guest-callable function. The
// script's top-level expression must evaluate to a JS function taking
// (args, mem) and returning the value to place in r0.
type Callback struct {
	name string
	rt   *goja.Runtime
	fn   goja.Callable
}

// Compile parses source and resolves its top-level function value. Each
// Callback owns a private goja.Runtime: scripts don't share global state
// with each other.
func Compile(name, source string) (*Callback, error) {
	rt := goja.New()
	// Parenthesized so that a bare "function(args, mem) {...}" is parsed as
	// an expression rather than a (nameless, hence invalid) declaration.
	v, err := rt.RunString("(" + source + "\n)")
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("script %s: source must evaluate to a function", name)
	}
	return &Callback{name: name, rt: rt, fn: fn}, nil
}

// HostFunc adapts the script into a hostfn.HostFunc. Every invocation
// rebuilds the args array and mem helpers bound to the current sys, then
// calls into the script synchronously — scripts can't issue nested guest
// calls, only read/write memory and compute a return value.
func (c *Callback) HostFunc() hostfn.HostFunc {
	return func(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
		args := c.rt.NewArray(ctx.R0, ctx.R1, ctx.R2, ctx.R3)
		mem := c.buildMemObject(sys)

		result, err := c.fn(goja.Undefined(), args, mem)
		if err != nil {
			sys.Log.Warn("script host function failed", zap.String("fn", c.name), zap.Error(err))
			ctx.R0 = 0
		} else {
			ctx.R0 = uint32(result.ToInteger())
		}
		ctx.Pc = ctx.Lr
		return hostfn.Done(ctx)
	}
}

// buildMemObject exposes guest memory access to the script as plain JS
// functions closed over sys, so a callback can inspect or mutate guest
// state without the script package knowing anything about the ISA engine.
func (c *Callback) buildMemObject(sys *hostfn.System) *goja.Object {
	obj := c.rt.NewObject()
	obj.Set("readU32", func(addr uint32) uint32 {
		v, _ := sys.Mem.ReadU32(addr)
		return v
	})
	obj.Set("writeU32", func(addr, v uint32) {
		sys.Mem.WriteU32(addr, v)
	})
	obj.Set("readString", func(addr uint32, max int) string {
		s, _ := sys.Mem.ReadString(addr, max)
		return s
	})
	obj.Set("writeString", func(addr uint32, s string) {
		sys.Mem.WriteString(addr, s)
	})
	return obj
}
