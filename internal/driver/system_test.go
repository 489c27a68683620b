package driver_test

import (
	"testing"

	"github.com/wipirt/wipirt/internal/driver"
)

func TestGenericRoundTripsPODValues(t *testing.T) {
	sys, _ := newTestSystem(t)
	ptr, err := sys.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := driver.WriteGeneric(sys, ptr, uint32(0xCAFEBABE)); err != nil {
		t.Fatalf("WriteGeneric(uint32): %v", err)
	}
	got, err := driver.ReadGeneric[uint32](sys, ptr)
	if err != nil {
		t.Fatalf("ReadGeneric(uint32): %v", err)
	}
	if got != 0xCAFEBABE {
		t.Errorf("uint32 round-trip = 0x%x, want 0xCAFEBABE", got)
	}

	if err := driver.WriteGeneric(sys, ptr, uint64(0x1122334455667788)); err != nil {
		t.Fatalf("WriteGeneric(uint64): %v", err)
	}
	got64, err := driver.ReadGeneric[uint64](sys, ptr)
	if err != nil {
		t.Fatalf("ReadGeneric(uint64): %v", err)
	}
	if got64 != 0x1122334455667788 {
		t.Errorf("uint64 round-trip = 0x%x, want 0x1122334455667788", got64)
	}

	if err := driver.WriteGeneric(sys, ptr, int16(-7)); err != nil {
		t.Fatalf("WriteGeneric(int16): %v", err)
	}
	got16, err := driver.ReadGeneric[int16](sys, ptr)
	if err != nil {
		t.Fatalf("ReadGeneric(int16): %v", err)
	}
	if got16 != -7 {
		t.Errorf("int16 round-trip = %d, want -7", got16)
	}
}

func TestAllocThenFreeRoundTrips(t *testing.T) {
	sys, _ := newTestSystem(t)
	ptr, err := sys.Alloc(32)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := sys.Free(ptr); err != nil {
		t.Fatalf("Free: %v", err)
	}
}

func TestFreeInvalidAddressReportsAllocatorState(t *testing.T) {
	sys, _ := newTestSystem(t)
	err := sys.Free(driver.DefaultHeapBase + 4)
	if _, ok := err.(*driver.InvalidAllocatorStateError); !ok {
		t.Errorf("Free(bad addr) = %v (%T), want *driver.InvalidAllocatorStateError", err, err)
	}
}
