package libc

import (
	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/hostfn"
)

func init() {
	hostfn.Register(hostfn.Def{Name: "strlen", Fn: stubStrlen, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "memcpy", Fn: stubMemcpy, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "memset", Fn: stubMemset, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "memmove", Fn: stubMemmove, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "memcmp", Fn: stubMemcmp, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "strcmp", Fn: stubStrcmp, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "strcpy", Fn: stubStrcpy, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "strcat", Fn: stubStrcat, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "strchr", Fn: stubStrchr, Category: "libc"})
}

const maxCString = 4096

func stubStrlen(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	str, _ := sys.Mem.ReadString(ctx.R0, maxCString)
	return ret(ctx, uint32(len(str)))
}

func stubMemcpy(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	dest, src, n := ctx.R0, ctx.R1, ctx.R2
	if n > 0 && n < 0x100000 {
		if data, err := sys.Mem.Read(src, n); err == nil {
			sys.Mem.Write(dest, data)
		}
	}
	return ret(ctx, dest)
}

func stubMemset(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	dest, c, n := ctx.R0, byte(ctx.R1), ctx.R2
	if n > 0 && n < 0x100000 {
		data := make([]byte, n)
		for i := range data {
			data[i] = c
		}
		sys.Mem.Write(dest, data)
	}
	return ret(ctx, dest)
}

func stubMemmove(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	// The guest's backing store is Unicorn's own memory, so there is no Go
	// slice aliasing to worry about between the read and the write below
	// the way a manual forward copy in C would have to.
	return stubMemcpy(sys, ctx)
}

func stubMemcmp(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	a, b, n := ctx.R0, ctx.R1, ctx.R2
	var result uint32
	if n > 0 && n < 0x100000 {
		sa, _ := sys.Mem.Read(a, n)
		sb, _ := sys.Mem.Read(b, n)
		for i := uint32(0); i < n && int(i) < len(sa) && int(i) < len(sb); i++ {
			if sa[i] < sb[i] {
				result = 0xffffffff
				break
			} else if sa[i] > sb[i] {
				result = 1
				break
			}
		}
	}
	return ret(ctx, result)
}

func stubStrcmp(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	a, _ := sys.Mem.ReadString(ctx.R0, 256)
	b, _ := sys.Mem.ReadString(ctx.R1, 256)
	var result uint32
	if a < b {
		result = 0xffffffff
	} else if a > b {
		result = 1
	}
	return ret(ctx, result)
}

func stubStrcpy(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	dest, src := ctx.R0, ctx.R1
	str, _ := sys.Mem.ReadString(src, maxCString)
	sys.Mem.WriteString(dest, str)
	return ret(ctx, dest)
}

func stubStrcat(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	dest, src := ctx.R0, ctx.R1
	destStr, _ := sys.Mem.ReadString(dest, maxCString)
	srcStr, _ := sys.Mem.ReadString(src, maxCString)
	sys.Mem.WriteString(dest, destStr+srcStr)
	return ret(ctx, dest)
}

func stubStrchr(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	addr, c := ctx.R0, byte(ctx.R1)
	str, _ := sys.Mem.ReadString(addr, maxCString)
	for i := 0; i < len(str); i++ {
		if str[i] == c {
			return ret(ctx, addr+uint32(i))
		}
	}
	if c == 0 {
		return ret(ctx, addr+uint32(len(str)))
	}
	return ret(ctx, 0)
}
