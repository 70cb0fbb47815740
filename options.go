package unfreeze

import (
	"encoding/binary"
	"log/slog"
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkers sets the number of entries extracted concurrently, and the
// number of module records unpacked concurrently per nested archive.
// Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(x *Extractor) {
		x.workers = n
	}
}

// WithSearchWindow limits how many trailing bytes are searched for the
// container magic (default 64 KiB). Zero searches the whole input.
func WithSearchWindow(n int64) Option {
	return func(x *Extractor) {
		if n < 0 {
			n = 0
		}
		x.window = n
	}
}

// WithByteOrder sets the byte order tried first when decoding the footer.
// The other order is still tried when the preferred one is inconsistent.
// Defaults to little-endian.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(x *Extractor) {
		x.order = order
	}
}

// WithOverwrite allows overwriting existing files.
// By default, existing files are kept and the entry is reported as skipped.
func WithOverwrite(overwrite bool) Option {
	return func(x *Extractor) {
		x.overwrite = overwrite
	}
}

// WithModuleArchiveDirs places the modules of each nested module archive
// under "<entry name>_extracted/" instead of the output root.
func WithModuleArchiveDirs(enabled bool) Option {
	return func(x *Extractor) {
		x.moduleDirs = enabled
	}
}

// WithMemoryBudget caps the bytes held by in-flight entries.
// Set limit to 0 to disable the limit.
func WithMemoryBudget(limit uint64) Option {
	return func(x *Extractor) {
		x.memoryBudget = limit
	}
}

// WithMaxModuleSize limits the decompressed size of each module in a nested
// module archive.
func WithMaxModuleSize(limit uint64) Option {
	return func(x *Extractor) {
		x.maxModuleSize = limit
	}
}

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Extractor) {
		x.logger = logger
	}
}

// WithProgress sets a callback for progress updates.
// The callback may be called concurrently.
func WithProgress(fn ProgressFunc) Option {
	return func(x *Extractor) {
		x.progress = fn
	}
}
