// Package config loads the YAML boot descriptor a run is configured from:
// heap and stack sizing, the log level, which symbol to treat as the entry
// point, and any host functions implemented as script rather than compiled
// Go. This is the file-based configuration layer the teacher's snapshot
// never needed (galago took everything from flags), added here because a
// boot descriptor is the natural place to describe a guest image's memory
// layout and kernel extensions without a rebuild.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wipirt/wipirt/internal/driver"
)

// HexUint32 unmarshals either a YAML integer or a "0x..." string into a
// uint32, so a descriptor can write addresses in hex without quoting them
// as decimal.
type HexUint32 uint32

func (h *HexUint32) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		var n uint32
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("config: value %q is not a number or hex string", node.Value)
		}
		*h = HexUint32(n)
		return nil
	}
	raw = strings.TrimSpace(raw)
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
		base = 16
	}
	v, err := strconv.ParseUint(raw, base, 32)
	if err != nil {
		return fmt.Errorf("config: invalid address %q: %w", node.Value, err)
	}
	*h = HexUint32(v)
	return nil
}

// ScriptDef declares one host function implemented as a JavaScript snippet
// instead of compiled Go, resolved by internal/script at boot time.
type ScriptDef struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
	File    string   `yaml:"file,omitempty"`   // path to a .js file, relative to the descriptor
	Source  string   `yaml:"source,omitempty"` // inline source, mutually exclusive with File
}

// Heap describes the guest heap region.
type Heap struct {
	Base HexUint32 `yaml:"base"`
	Size HexUint32 `yaml:"size"`
}

// Stack describes the guest stack region's size; its top address is fixed
// by driver.StackBase.
type Stack struct {
	Size HexUint32 `yaml:"size"`
}

// Config is the full boot descriptor for one guest run.
type Config struct {
	Image    string      `yaml:"image"`
	Entry    string      `yaml:"entry"`
	LogLevel string      `yaml:"log_level"`
	Heap     Heap        `yaml:"heap"`
	Stack    Stack       `yaml:"stack"`
	Scripts  []ScriptDef `yaml:"scripts,omitempty"`
}

// Default returns a Config matching driver.DefaultConfig, for a run with no
// descriptor file.
func Default() *Config {
	d := driver.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Heap:     Heap{Base: HexUint32(d.HeapBase), Size: HexUint32(d.HeapSize)},
		Stack:    Stack{Size: HexUint32(d.StackSize)},
	}
}

// Load reads and parses a boot descriptor from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// DriverConfig builds the driver.Config this descriptor describes.
func (c *Config) DriverConfig() driver.Config {
	return driver.Config{
		StackSize: uint32(c.Stack.Size),
		HeapBase:  uint32(c.Heap.Base),
		HeapSize:  uint32(c.Heap.Size),
	}
}
