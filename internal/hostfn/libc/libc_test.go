package libc_test

import (
	"testing"

	"github.com/wipirt/wipirt/internal/driver"
	"github.com/wipirt/wipirt/internal/hostfn"
	_ "github.com/wipirt/wipirt/internal/hostfn/all"
	"github.com/wipirt/wipirt/internal/log"
)

func newTestSystem(t *testing.T) *driver.System {
	t.Helper()
	sys, err := driver.New(driver.DefaultConfig(), hostfn.DefaultRegistry, log.NewNop())
	if err != nil {
		t.Fatalf("driver.New: %v", err)
	}
	t.Cleanup(func() { sys.Close() })
	return sys
}

func call(t *testing.T, sys *driver.System, name string, args ...uint32) uint32 {
	t.Helper()
	addr, ok := hostfn.DefaultRegistry.Addr(name)
	if !ok {
		t.Fatalf("no host function registered for %q", name)
	}
	fut, err := driver.RunFunction(sys, addr, args, driver.Uint32Result, 0)
	if err != nil {
		t.Fatalf("RunFunction(%s): %v", name, err)
	}
	for i := 0; i < 10000; i++ {
		if v, ok := fut.Poll(); ok {
			if err := fut.Err(); err != nil {
				t.Fatalf("%s aborted: %v", name, err)
			}
			return v
		}
	}
	t.Fatalf("%s never resolved", name)
	return 0
}

func TestMallocThenFreeRoundTrips(t *testing.T) {
	sys := newTestSystem(t)
	ptr := call(t, sys, "malloc", 64)
	if ptr == 0 {
		t.Fatal("malloc returned null")
	}
	if call(t, sys, "free", ptr) != 0 {
		t.Error("free should return 0")
	}
}

func TestCallocZeroesMemory(t *testing.T) {
	sys := newTestSystem(t)
	ptr := call(t, sys, "calloc", 4, 8)
	data, err := sys.ReadBytes(ptr, 32)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}
}

func TestStrlenMatchesWrittenString(t *testing.T) {
	sys := newTestSystem(t)
	ptr := call(t, sys, "malloc", 16)
	if err := sys.WriteBytes(ptr, []byte("hello\x00")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := call(t, sys, "strlen", ptr); got != 5 {
		t.Errorf("strlen = %d, want 5", got)
	}
}

func TestMemcpyCopiesBytes(t *testing.T) {
	sys := newTestSystem(t)
	src := call(t, sys, "malloc", 16)
	dst := call(t, sys, "malloc", 16)
	sys.WriteBytes(src, []byte("copy-me\x00"))
	call(t, sys, "memcpy", dst, src, 8)
	data, _ := sys.ReadBytes(dst, 8)
	if string(data) != "copy-me\x00" {
		t.Errorf("memcpy result = %q", data)
	}
}

func TestAbortReportsGuestAbortError(t *testing.T) {
	sys := newTestSystem(t)
	addr, ok := hostfn.DefaultRegistry.Addr("abort")
	if !ok {
		t.Fatal("abort not registered")
	}
	fut, err := driver.RunFunction(sys, addr, nil, driver.Uint32Result, 0)
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	for i := 0; i < 10000; i++ {
		if _, ok := fut.Poll(); ok {
			break
		}
	}
	var abortErr *driver.GuestAbortError
	if e, ok := fut.Err().(*driver.GuestAbortError); !ok {
		t.Fatalf("Err() = %v, want *driver.GuestAbortError", fut.Err())
	} else {
		abortErr = e
	}
	if abortErr.Code != -1 {
		t.Errorf("abort code = %d, want -1", abortErr.Code)
	}
}

func TestTimeReturnsMockedClock(t *testing.T) {
	sys := newTestSystem(t)
	got := call(t, sys, "time", 0)
	if got == 0 {
		t.Error("time() returned 0")
	}
}
