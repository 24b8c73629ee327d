package machine

import (
	"os"

	"github.com/xyproto/env/v2"
)

// DefaultNumPhysPages is the amount of physical memory, in frames, of a
// machine whose configuration does not say otherwise.
const DefaultNumPhysPages = 32

// Config describes a simulated machine and the kernel running on it.
type Config struct {
	// NumPhysPages is the number of physical frames.
	NumPhysPages uint32

	// DebugFlags lists the enabled kfmt.Debugf categories.
	DebugFlags string

	// SwapDir is the directory where per-process swap files are created.
	SwapDir string
}

// ConfigFromEnv builds a Config from the NACHOS_NUM_PHYS_PAGES, NACHOS_DEBUG
// and NACHOS_SWAP_DIR environment variables, falling back to defaults for
// missing or invalid values. A page count outside 1..MaxPhysPages is invalid.
func ConfigFromEnv() Config {
	numPhysPages := env.Int("NACHOS_NUM_PHYS_PAGES", DefaultNumPhysPages)
	if numPhysPages <= 0 || uint64(numPhysPages) > uint64(MaxPhysPages) {
		numPhysPages = DefaultNumPhysPages
	}

	return Config{
		NumPhysPages: uint32(numPhysPages),
		DebugFlags:   env.Str("NACHOS_DEBUG"),
		SwapDir:      env.Str("NACHOS_SWAP_DIR", os.TempDir()),
	}
}
