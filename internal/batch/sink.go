package batch

import (
	"fmt"
	"io"

	"github.com/meigma/unfreeze/internal/archtype"
)

// Sink receives extracted file content.
//
// Implementations determine where content is written and can filter which
// paths to write. Paths are slash-separated and relative to the output root.
type Sink interface {
	// ShouldProcess returns false if this path should be skipped.
	// This allows implementations to keep existing files.
	ShouldProcess(path string) bool

	// Writer returns a writer for the content of path.
	// The returned Committer must have Commit() called after a successful
	// write, or Discard() called on any error.
	Writer(path string) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called.
// For example, a file-based implementation might write to a temp file
// and rename it on Commit, or delete it on Discard.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content visible at its path.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}

// Put writes content to path through sink.
// It returns false without writing when the sink skips the path.
func Put(sink Sink, path string, content []byte) (bool, error) {
	if !sink.ShouldProcess(path) {
		return false, nil
	}
	w, err := sink.Writer(path)
	if err != nil {
		return false, err
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return false, fmt.Errorf("%w: write %s: %w", archtype.ErrIO, path, err)
	}
	if err := w.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
