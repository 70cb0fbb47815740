// Package source provides read-only random access to the packaged binary.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/sizing"
)

// ByteSource provides random access to the input binary.
//
// Implementations must be safe for concurrent ReadAt calls; there is no
// shared cursor.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Slice reads exactly n bytes at off from src.
// It returns ErrOutOfBounds if the range extends past the end of src.
func Slice(src ByteSource, off, n uint64) ([]byte, error) {
	size := src.Size()
	if size < 0 || !sizing.InBounds(off, n, uint64(size)) {
		return nil, fmt.Errorf("%w: [%d, +%d) of %d", archtype.ErrOutOfBounds, off, n, size)
	}
	length, err := sizing.ToInt(n, archtype.ErrOutOfBounds)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if length == 0 {
		return buf, nil
	}
	read, err := src.ReadAt(buf, int64(off)) //nolint:gosec // off+n <= size, which fits in int64
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", archtype.ErrIO, err)
	}
	if read != length {
		return nil, fmt.Errorf("%w: short read (%d of %d bytes)", archtype.ErrIO, read, length)
	}
	return buf, nil
}

// File wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so the size is cached at construction.
// ReadAt uses positioned reads and does not move the file offset.
type File struct {
	file *os.File
	size int64
}

// Open opens the binary at path for random access.
// The returned File must be closed to release the handle.
func Open(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", archtype.ErrIO, path, err)
	}
	src, err := NewFile(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

// NewFile creates a File from an open file.
func NewFile(f *os.File) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", archtype.ErrIO, f.Name(), err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", archtype.ErrIO, f.Name())
	}
	return &File{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *File) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (s *File) Size() int64 {
	return s.size
}

// Close closes the underlying file.
func (s *File) Close() error {
	return s.file.Close()
}

// Bytes is an in-memory ByteSource.
type Bytes []byte

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (b Bytes) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", archtype.ErrOutOfBounds)
	}
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the length of the backing slice.
func (b Bytes) Size() int64 {
	return int64(len(b))
}

// Interface compliance.
var (
	_ ByteSource = (*File)(nil)
	_ ByteSource = Bytes(nil)
)
