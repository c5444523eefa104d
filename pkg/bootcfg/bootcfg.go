// Package bootcfg loads the kernel's boot-time tunables. It plays the role
// that biscuit/src/limits/limits.go's hardcoded Syslimit_t plays there, but
// the values are load-bearing configuration instead of baked-in constants,
// read from a YAML boot manifest.
package bootcfg

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the system-wide tunables consulted at boot.
type Config struct {
	// FramePages is the number of physical page frames in the arena
	// managed by pkg/mem's allocator.
	FramePages int `yaml:"frame_pages"`
	// MaxProcs is the configured limit on live process-table entries. It is
	// loaded and defaulted here; the process table does not enforce it.
	MaxProcs int `yaml:"max_procs"`
	// DefaultPriority is the priority newly created threads receive
	// unless the caller overrides it.
	DefaultPriority int `yaml:"default_priority"`
	// KernelStackPages is the configured per-thread kernel stack size. It is
	// loaded and defaulted here; thread creation allocates no kernel stack
	// and does not read it.
	KernelStackPages int `yaml:"kernel_stack_pages"`
}

// Default returns the tunables used when no boot manifest is supplied,
// chosen to mirror the orders of magnitude in limits.MkSysLimit.
func Default() Config {
	return Config{
		FramePages:       1 << 16,
		MaxProcs:         1 << 14,
		DefaultPriority:  10,
		KernelStackPages: 2,
	}
}

// Load reads a YAML boot manifest from path, filling any field left at its
// zero value with the corresponding default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var overlay Config
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return Config{}, err
	}
	if overlay.FramePages != 0 {
		cfg.FramePages = overlay.FramePages
	}
	if overlay.MaxProcs != 0 {
		cfg.MaxProcs = overlay.MaxProcs
	}
	if overlay.DefaultPriority != 0 {
		cfg.DefaultPriority = overlay.DefaultPriority
	}
	if overlay.KernelStackPages != 0 {
		cfg.KernelStackPages = overlay.KernelStackPages
	}
	return cfg, nil
}
