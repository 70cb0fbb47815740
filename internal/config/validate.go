package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSize indicates a size setting that is not a byte count
	ErrInvalidSize = errors.New("invalid size")

	// ErrInvalidByteOrder indicates an unsupported byte order name
	ErrInvalidByteOrder = errors.New("invalid byte order")

	// ErrInvalidLogLevel indicates an unsupported log level
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidLogFormat indicates an unsupported log format
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	return errors.Join(validateExtract(&cfg.Extract), validateLog(&cfg.Log))
}

func validateExtract(cfg *ExtractConfig) error {
	var errs []error

	if _, err := cfg.SearchWindowBytes(); err != nil {
		errs = append(errs, fmt.Errorf("%w: search_window %q: %v", ErrInvalidSize, cfg.SearchWindow, err))
	}
	if _, err := cfg.MemoryBudgetBytes(); err != nil {
		errs = append(errs, fmt.Errorf("%w: memory_budget %q: %v", ErrInvalidSize, cfg.MemoryBudget, err))
	}
	n, err := cfg.MaxModuleSizeBytes()
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: max_module_size %q: %v", ErrInvalidSize, cfg.MaxModuleSize, err))
	} else if n == 0 {
		errs = append(errs, fmt.Errorf("%w: max_module_size must be positive", ErrInvalidSize))
	}

	switch strings.ToLower(cfg.ByteOrder) {
	case "little", "big":
	default:
		errs = append(errs, fmt.Errorf("%w: must be 'little' or 'big', got '%s'", ErrInvalidByteOrder, cfg.ByteOrder))
	}

	return errors.Join(errs...)
}

func validateLog(cfg *LogConfig) error {
	var errs []error

	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: got '%s'", ErrInvalidLogLevel, cfg.Level))
	}

	switch strings.ToLower(cfg.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: must be 'text' or 'json', got '%s'", ErrInvalidLogFormat, cfg.Format))
	}

	return errors.Join(errs...)
}
