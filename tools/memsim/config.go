package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"gopher32/kernel/mm"
	"gopher32/kernel/mm/vmm"
)

const (
	// maxMemoryMB is the installed memory limit of a 32-bit machine.
	maxMemoryMB = 4096

	defaultJunk = 0xdeadbeef
)

// config describes the simulated machine.
type config struct {
	Machine machineConfig `toml:"machine"`
}

type machineConfig struct {
	// MemoryMB is the amount of installed memory. When zero, the kernel
	// uses its reference layout which assumes the full 4Gb are present.
	MemoryMB uint32 `toml:"memory_mb"`

	// Junk is the 32-bit pattern used to fill frames on first access.
	Junk *uint32 `toml:"junk"`
}

// memoryTop returns the address of the last byte of installed memory or 0
// if the reference layout is used.
func (c machineConfig) memoryTop() uintptr {
	if c.MemoryMB == 0 {
		return 0
	}
	return uintptr(mm.Size(c.MemoryMB)*mm.Mb - 1)
}

func (c machineConfig) junk() uint32 {
	if c.Junk == nil {
		return defaultJunk
	}
	return *c.Junk
}

// loadConfig loads the machine config from path. An empty path selects the
// default machine.
func loadConfig(path string) (*config, error) {
	var c config
	if path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return nil, fmt.Errorf("loading config %q: %w", path, err)
		}
	}

	if c.Machine.MemoryMB > maxMemoryMB {
		return nil, fmt.Errorf("memory_mb %d exceeds the %dMb a 32-bit machine can address", c.Machine.MemoryMB, maxMemoryMB)
	}

	return &c, nil
}

// script is a list of memory management operations executed after boot.
type script struct {
	Ops []op `toml:"op"`
}

// op is a single scripted operation. Kind is one of alloc, free, map, unmap
// or translate.
type op struct {
	Kind  string   `toml:"kind"`
	Virt  uint64   `toml:"virt"`
	Phys  uint64   `toml:"phys"`
	Size  uint64   `toml:"size"`
	Flags []string `toml:"flags"`
	Count int      `toml:"count"`

	// Expect names the error the operation must fail with. An empty
	// value expects success.
	Expect string `toml:"expect"`

	// ExpectPhys is the address a translate operation must return.
	ExpectPhys *uint64 `toml:"expect_phys"`
}

var opKinds = map[string]bool{
	"alloc":     true,
	"free":      true,
	"map":       true,
	"unmap":     true,
	"translate": true,
}

var flagNames = map[string]vmm.PageTableEntryFlag{
	"rw":            vmm.FlagRW,
	"user":          vmm.FlagUserAccessible,
	"write-through": vmm.FlagWriteThroughCaching,
	"no-cache":      vmm.FlagDoNotCache,
}

// parseFlags converts a list of flag names to page table entry flags.
func parseFlags(names []string) (vmm.PageTableEntryFlag, error) {
	var flags vmm.PageTableEntryFlag
	for _, name := range names {
		flag, ok := flagNames[strings.ToLower(name)]
		if !ok {
			return 0, fmt.Errorf("unknown page flag %q", name)
		}
		flags |= flag
	}
	return flags, nil
}

// loadScript decodes and validates a script file.
func loadScript(path string) (*script, error) {
	var s script
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, fmt.Errorf("loading script %q: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("script %q: unknown keys %v", path, undecoded)
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("script %q: %w", path, err)
	}
	return &s, nil
}

func (s *script) validate() error {
	for i, o := range s.Ops {
		if !opKinds[o.Kind] {
			return fmt.Errorf("op %d: unknown kind %q", i, o.Kind)
		}

		if _, err := parseFlags(o.Flags); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}

		if o.Expect != "" {
			if _, ok := errorNames[o.Expect]; !ok {
				return fmt.Errorf("op %d: unknown expected error %q", i, o.Expect)
			}
		}

		if o.ExpectPhys != nil && o.Kind != "translate" {
			return fmt.Errorf("op %d: expect_phys only applies to translate", i)
		}
	}
	return nil
}
