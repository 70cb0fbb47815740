package unfreeze

import "github.com/meigma/unfreeze/internal/archtype"

// Errors that mean the input is not a usable container.
var (
	// ErrMagicNotFound is returned when the container magic is absent from the search window.
	ErrMagicNotFound = archtype.ErrMagicNotFound

	// ErrHeaderCorrupt is returned when no known footer layout is consistent with the input.
	ErrHeaderCorrupt = archtype.ErrHeaderCorrupt

	// ErrTocCorrupt is returned when the table of contents is structurally invalid.
	ErrTocCorrupt = archtype.ErrTocCorrupt
)

// Errors reported for individual entries in a Report.
var (
	// ErrUnsafePath is returned when an entry name would escape the output directory.
	ErrUnsafePath = archtype.ErrUnsafePath

	// ErrDecompression is returned when decompression fails or yields the wrong length.
	ErrDecompression = archtype.ErrDecompression

	// ErrModuleArchiveCorrupt is returned when a nested module archive is structurally invalid.
	ErrModuleArchiveCorrupt = archtype.ErrModuleArchiveCorrupt

	// ErrOutOfBounds is returned when an entry's data lies outside the container.
	ErrOutOfBounds = archtype.ErrOutOfBounds

	// ErrIO is returned when reading the input or writing output fails.
	// Extract also returns it when the output directory is not writable.
	ErrIO = archtype.ErrIO
)

// Skip reasons reported in Result.Err.
var (
	// ErrExists means the destination file already exists and overwriting is disabled.
	ErrExists = archtype.ErrExists

	// ErrNoContent means the entry type carries no extractable bytes.
	ErrNoContent = archtype.ErrNoContent
)

// IsFatal reports whether err means the input is not a usable container.
func IsFatal(err error) bool {
	return archtype.IsFatal(err)
}
