package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the config file name searched for, without extension.
const FileName = ".unfreeze"

// Loader loads configuration.
//
// Priority, highest first: environment variables (UNFREEZE_*), the config
// file, defaults. Command-line flags are applied by the caller on top.
type Loader struct {
	// File is an explicit config file. When set, it must exist and the
	// search directories are ignored.
	File string

	// Dirs are searched in order for .unfreeze.yaml.
	Dirs []string
}

// NewLoader creates a loader that searches the working directory and the
// home directory.
func NewLoader(file string) *Loader {
	l := &Loader{File: file}
	if wd, err := os.Getwd(); err == nil {
		l.Dirs = append(l.Dirs, wd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		l.Dirs = append(l.Dirs, home)
	}
	return l
}

// Load loads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	if l.File != "" {
		v.SetConfigFile(l.File)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		for _, dir := range l.Dirs {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("UNFREEZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine unless one was named explicitly.
		var notFound viper.ConfigFileNotFoundError
		if l.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("extract.workers", defaults.Extract.Workers)
	v.SetDefault("extract.search_window", defaults.Extract.SearchWindow)
	v.SetDefault("extract.byte_order", defaults.Extract.ByteOrder)
	v.SetDefault("extract.overwrite", defaults.Extract.Overwrite)
	v.SetDefault("extract.module_dirs", defaults.Extract.ModuleDirs)
	v.SetDefault("extract.memory_budget", defaults.Extract.MemoryBudget)
	v.SetDefault("extract.max_module_size", defaults.Extract.MaxModuleSize)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
}
