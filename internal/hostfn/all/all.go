// Package all blank-imports every host function package so that importing
// it once wires the full kernel surface into hostfn.DefaultRegistry via
// their init() functions.
package all

import (
	_ "github.com/wipirt/wipirt/internal/hostfn/libc"
)
