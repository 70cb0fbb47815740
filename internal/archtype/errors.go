// Package archtype defines shared types used across the unfreeze package and
// its internal packages. This avoids circular imports between unfreeze and
// the decoding packages.
package archtype

import "errors"

// Sentinel errors for container decoding and extraction.
//
// ErrMagicNotFound, ErrHeaderCorrupt and ErrTocCorrupt mean the input is not
// a supported container and abort the run. The rest are scoped to a single
// entry.
var (
	// ErrMagicNotFound is returned when the container magic is absent from the search window.
	ErrMagicNotFound = errors.New("unfreeze: container magic not found")

	// ErrHeaderCorrupt is returned when no known footer layout is consistent with the source.
	ErrHeaderCorrupt = errors.New("unfreeze: container header corrupt")

	// ErrTocCorrupt is returned when the table of contents is structurally invalid.
	ErrTocCorrupt = errors.New("unfreeze: table of contents corrupt")

	// ErrUnsafePath is returned when an entry name would escape the output root.
	ErrUnsafePath = errors.New("unfreeze: unsafe path")

	// ErrDecompression is returned when decompression fails or yields the wrong length.
	ErrDecompression = errors.New("unfreeze: decompression failed")

	// ErrModuleArchiveCorrupt is returned when a nested module archive is structurally invalid.
	ErrModuleArchiveCorrupt = errors.New("unfreeze: module archive corrupt")

	// ErrOutOfBounds is returned when a read extends past the end of the source.
	ErrOutOfBounds = errors.New("unfreeze: read out of bounds")

	// ErrIO is returned when reading the source or writing output fails.
	ErrIO = errors.New("unfreeze: i/o failure")
)

// Skip reasons reported in Result.Err when Outcome is OutcomeSkipped.
var (
	// ErrExists means the destination file already exists and overwriting is disabled.
	ErrExists = errors.New("unfreeze: output file exists")

	// ErrNoContent means the entry type carries no extractable bytes.
	ErrNoContent = errors.New("unfreeze: entry has no content")
)

// IsFatal reports whether err means the input is not a usable container.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMagicNotFound) ||
		errors.Is(err, ErrHeaderCorrupt) ||
		errors.Is(err, ErrTocCorrupt)
}
