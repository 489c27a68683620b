package libc

import (
	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/driver"
	"github.com/wipirt/wipirt/internal/hostfn"
)

func init() {
	hostfn.Register(hostfn.Def{Name: "abort", Fn: stubAbort, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "exit", Fn: stubExit, Aliases: []string{"_exit", "_Exit"}, Category: "libc"})
}

func stubAbort(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	sys.Log.Trace(uint64(ctx.Lr), "libc", "abort", "program aborted")
	return hostfn.Abort(&driver.GuestAbortError{Code: -1})
}

func stubExit(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	code := int32(ctx.R0)
	sys.Log.Trace(uint64(ctx.Lr), "libc", "exit", hostfn.FormatPtr("code", uint32(code)))
	return hostfn.Abort(&driver.GuestAbortError{Code: code})
}
