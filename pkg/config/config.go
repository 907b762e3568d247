// Package config loads per-ISA translator configuration: the
// optional-extension toggles and structural parameters a decoder must
// consult before choosing how to decode an instruction.
//
// Grounded on the rest-of-pack convention of TOML for small,
// human-edited configuration files (none of bassosimone/risc32's own code
// reads a config file — risc32 hard-codes its one fixed ISA — so this
// is an addition grounded on the wider example corpus rather than on
// bassosimone/risc32 itself); github.com/BurntSushi/toml is the decoder used.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ISAConfig is one guest architecture's configurable feature set.
type ISAConfig struct {
	// Name identifies the target, e.g. "riscv32imac" or "lm32".
	Name string `toml:"name"`

	// HardwareDivide enables native divide/remainder instructions;
	// when false, the RISC-V decoder routes every divide/remainder
	// through its riscv_divrem_by_zero helper call instead. The LM32
	// decoder does not read this setting.
	HardwareDivide bool `toml:"hardware_divide"`

	// MisalignedAccess permits guest loads/stores at addresses not
	// naturally aligned to their size; when false, the RISC-V decoder
	// marks its 16- and 32-bit qemu_ld/qemu_st ops AlignStrict, so the
	// alignment requirement travels with the emitted access (the decoder
	// itself does not return ErrAlignmentFault for it). The LM32 decoder
	// does not read this setting.
	MisalignedAccess bool `toml:"misaligned_access"`

	// RegisterWindowSize is the number of physical windowed registers,
	// or zero for architectures without register windows (RISC-V and
	// LM32 as realized here both leave this at zero; it exists for
	// completeness against architectures with windowed registers).
	RegisterWindowSize int `toml:"register_window_size"`
}

// Load reads and decodes an ISAConfig from a TOML file at path.
func Load(path string) (*ISAConfig, error) {
	var cfg ISAConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration for a known target name,
// used when no config file is supplied (e.g. the CLI's --arch flag
// without --config).
func Default(name string) (*ISAConfig, error) {
	cfg, ok := defaults[name]
	if !ok {
		return nil, fmt.Errorf("config: no default configuration for %q", name)
	}
	c := cfg
	return &c, nil
}

var defaults = map[string]ISAConfig{
	"riscv32imac": {
		Name:             "riscv32imac",
		HardwareDivide:   true,
		MisalignedAccess: false,
	},
	"lm32": {
		Name:             "lm32",
		HardwareDivide:   true,
		MisalignedAccess: false,
	},
}
