package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wipirt/wipirt/internal/config"
	"github.com/wipirt/wipirt/internal/driver"
)

func TestLoadParsesHexAddresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.yaml")
	yaml := `
image: guest.so
entry: wipi_main
log_level: debug
heap:
  base: "0x40000000"
  size: "0x800000"
stack:
  size: 65536
scripts:
  - name: custom_fn
    source: "function(args, mem) { return 0; }"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Entry != "wipi_main" {
		t.Errorf("entry = %q, want wipi_main", cfg.Entry)
	}
	if cfg.Heap.Base != 0x40000000 {
		t.Errorf("heap base = 0x%x, want 0x40000000", uint32(cfg.Heap.Base))
	}
	if cfg.Heap.Size != 0x800000 {
		t.Errorf("heap size = 0x%x, want 0x800000", uint32(cfg.Heap.Size))
	}
	if cfg.Stack.Size != 65536 {
		t.Errorf("stack size = %d, want 65536", uint32(cfg.Stack.Size))
	}
	if len(cfg.Scripts) != 1 || cfg.Scripts[0].Name != "custom_fn" {
		t.Errorf("expected one scripted function named custom_fn, got %+v", cfg.Scripts)
	}
}

func TestDefaultMatchesDriverDefaults(t *testing.T) {
	cfg := config.Default()
	dc := cfg.DriverConfig()
	if dc.HeapSize == 0 || dc.StackSize == 0 {
		t.Error("expected non-zero defaults")
	}
	if want := driver.DefaultConfig(); dc != want {
		t.Errorf("DriverConfig() = %+v, want %+v", dc, want)
	}
}
