package libc

import (
	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/hostfn"
)

// Mocked clock, held fixed so guest runs are deterministic and repeatable
// traces diff cleanly.
var (
	MockTimeSec  uint32 = 1_704_067_200 // 2024-01-01T00:00:00Z
	MockTimeUSec uint32 = 0
)

func init() {
	hostfn.Register(hostfn.Def{Name: "time", Fn: stubTime, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "gettimeofday", Fn: stubGettimeofday, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "clock", Fn: stubClock, Category: "libc"})
}

func stubTime(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	if tloc := ctx.R0; tloc != 0 {
		sys.Mem.WriteU32(tloc, MockTimeSec)
	}
	return ret(ctx, MockTimeSec)
}

func stubGettimeofday(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	if tv := ctx.R0; tv != 0 {
		sys.Mem.WriteU32(tv, MockTimeSec)
		sys.Mem.WriteU32(tv+4, MockTimeUSec)
	}
	return ret(ctx, 0)
}

func stubClock(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	return ret(ctx, 1_000_000)
}
