// Package config loads CLI settings from defaults, an optional YAML file and
// UNFREEZE_* environment variables.
package config

import (
	"encoding/binary"
	"strings"

	"github.com/dustin/go-humanize"
)

// Config represents the complete unfreeze configuration.
// It can be loaded from .unfreeze.yaml with environment variable overrides.
type Config struct {
	Extract ExtractConfig `yaml:"extract" mapstructure:"extract"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ExtractConfig controls how containers are decoded and extracted.
type ExtractConfig struct {
	Workers       int    `yaml:"workers" mapstructure:"workers"`                 // concurrent entries, 0 = GOMAXPROCS
	SearchWindow  string `yaml:"search_window" mapstructure:"search_window"`     // trailing bytes searched for the magic, 0 = whole file
	ByteOrder     string `yaml:"byte_order" mapstructure:"byte_order"`           // preferred footer byte order: "little" or "big"
	Overwrite     bool   `yaml:"overwrite" mapstructure:"overwrite"`             // replace existing files
	ModuleDirs    bool   `yaml:"module_dirs" mapstructure:"module_dirs"`         // unpack module archives into <name>_extracted/
	MemoryBudget  string `yaml:"memory_budget" mapstructure:"memory_budget"`     // bytes held by in-flight entries, 0 = unlimited
	MaxModuleSize string `yaml:"max_module_size" mapstructure:"max_module_size"` // decompressed size limit per module
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Extract: ExtractConfig{
			SearchWindow:  "64KiB",
			ByteOrder:     "little",
			MemoryBudget:  "0",
			MaxModuleSize: "256MiB",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// SearchWindowBytes returns the parsed search window.
func (c *ExtractConfig) SearchWindowBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.SearchWindow)
	if err != nil {
		return 0, err
	}
	return int64(min(n, 1<<62)), nil //nolint:gosec // clamped
}

// MemoryBudgetBytes returns the parsed memory budget.
func (c *ExtractConfig) MemoryBudgetBytes() (uint64, error) {
	return humanize.ParseBytes(c.MemoryBudget)
}

// MaxModuleSizeBytes returns the parsed module size limit.
func (c *ExtractConfig) MaxModuleSizeBytes() (uint64, error) {
	return humanize.ParseBytes(c.MaxModuleSize)
}

// Order returns the preferred footer byte order.
func (c *ExtractConfig) Order() binary.ByteOrder {
	if strings.EqualFold(c.ByteOrder, "big") {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
