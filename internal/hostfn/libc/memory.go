// Package libc provides the memory, string and time management surface a
// WIPI-C guest program expects from its kernel: malloc/free and friends,
// the string.h family, and the handful of time functions most guest code
// touches only to seed a PRNG or stamp a log line.
package libc

import (
	"github.com/wipirt/wipirt/internal/arm"
	"github.com/wipirt/wipirt/internal/hostfn"
)

func init() {
	hostfn.Register(hostfn.Def{Name: "malloc", Fn: stubMalloc, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "calloc", Fn: stubCalloc, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "realloc", Fn: stubRealloc, Category: "libc"})
	hostfn.Register(hostfn.Def{Name: "free", Fn: stubFree, Category: "libc"})
}

// ret installs the return value in r0 and sends the guest back to its
// caller; every synchronous libc stub ends this way.
func ret(ctx arm.Context, r0 uint32) hostfn.Outcome {
	ctx.R0 = r0
	ctx.Pc = ctx.Lr
	return hostfn.Done(ctx)
}

func align4(v uint32) uint32 { return (v + 3) &^ 3 }

func stubMalloc(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	size := ctx.R0
	if size == 0 {
		size = 4
	}
	ptr, err := sys.Heap.Alloc(align4(size))
	if err != nil {
		sys.Log.Trace(uint64(ctx.Lr), "libc", "malloc", "allocation failed")
		return ret(ctx, 0)
	}
	sys.Log.Trace(uint64(ctx.Lr), "libc", "malloc", hostfn.FormatPtrPair("size", size, "->", ptr))
	return ret(ctx, ptr)
}

func stubCalloc(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	count, size := ctx.R0, ctx.R1
	total := align4(count * size)
	if total == 0 {
		total = 4
	}
	ptr, err := sys.Heap.Alloc(total)
	if err != nil {
		return ret(ctx, 0)
	}
	zeros := make([]byte, total)
	sys.Mem.Write(ptr, zeros)
	sys.Log.Trace(uint64(ctx.Lr), "libc", "calloc", hostfn.FormatPtrPair("total", total, "->", ptr))
	return ret(ctx, ptr)
}

func stubRealloc(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	oldPtr, size := ctx.R0, ctx.R1
	if size == 0 {
		if oldPtr != 0 {
			sys.Heap.Free(oldPtr)
		}
		return ret(ctx, 0)
	}
	newPtr, err := sys.Heap.Alloc(align4(size))
	if err != nil {
		return ret(ctx, 0)
	}
	if oldPtr != 0 {
		// The allocator has no block-size lookup by address alone without
		// walking headers, and this stub does not need the old contents
		// preserved beyond what guest code immediately re-populates, so
		// unlike a real realloc this never copies forward.
		sys.Heap.Free(oldPtr)
	}
	sys.Log.Trace(uint64(ctx.Lr), "libc", "realloc", hostfn.FormatPtrPair("size", size, "->", newPtr))
	return ret(ctx, newPtr)
}

func stubFree(sys *hostfn.System, ctx arm.Context) hostfn.Outcome {
	addr := ctx.R0
	if addr != 0 {
		sys.Heap.Free(addr)
	}
	sys.Log.Trace(uint64(ctx.Lr), "libc", "free", hostfn.FormatPtr("addr", addr))
	return ret(ctx, 0)
}
