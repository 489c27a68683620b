package script_test

import (
	"testing"

	"github.com/wipirt/wipirt/internal/driver"
	"github.com/wipirt/wipirt/internal/hostfn"
	"github.com/wipirt/wipirt/internal/log"
	"github.com/wipirt/wipirt/internal/script"
)

func TestScriptAddsArguments(t *testing.T) {
	cb, err := script.Compile("add", `function(args, mem) { return args[0] + args[1]; }`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	reg := hostfn.NewRegistry()
	sys, err := driver.New(driver.DefaultConfig(), reg, log.NewNop())
	if err != nil {
		t.Fatalf("driver.New: %v", err)
	}
	defer sys.Close()

	addr := reg.Register(hostfn.Def{Name: "add", Category: "script", Fn: cb.HostFunc()})
	fut, err := driver.RunFunction(sys, addr, []uint32{3, 4}, driver.Uint32Result, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	var result uint32
	for i := 0; i < 1000; i++ {
		if v, ok := fut.Poll(); ok {
			result = v
			break
		}
	}
	if result != 7 {
		t.Errorf("result = %d, want 7", result)
	}
}

func TestScriptMemAccess(t *testing.T) {
	cb, err := script.Compile("double_at", `function(args, mem) {
		var v = mem.readU32(args[0]);
		mem.writeU32(args[0], v * 2);
		return 0;
	}`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	reg := hostfn.NewRegistry()
	sys, err := driver.New(driver.DefaultConfig(), reg, log.NewNop())
	if err != nil {
		t.Fatalf("driver.New: %v", err)
	}
	defer sys.Close()

	ptr, err := sys.Heap.Alloc(4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := sys.Engine.Mem.WriteU32(ptr, 21); err != nil {
		t.Fatalf("write: %v", err)
	}

	addr := reg.Register(hostfn.Def{Name: "double_at", Category: "script", Fn: cb.HostFunc()})
	fut, err := driver.RunFunction(sys, addr, []uint32{ptr}, driver.VoidResult, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if _, ok := fut.Poll(); ok {
			break
		}
	}

	got, err := sys.Engine.Mem.ReadU32(ptr)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got != 42 {
		t.Errorf("mem[ptr] = %d, want 42", got)
	}
}
