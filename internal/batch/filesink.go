package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/unfreeze/internal/archtype"
)

// tempPrefix marks staged files that have not been committed yet.
const tempPrefix = ".unfreeze-"

// FileSink writes files beneath an output root.
//
// Files are written to a temporary file in the same directory and renamed
// to the final path on Commit, so partially written files are never visible
// at the final path. All access goes through an os.Root, which refuses paths
// that resolve outside the output root.
type FileSink struct {
	dir       string
	root      *os.Root
	overwrite bool

	dirs    singleflight.Group
	created sync.Map // dir -> struct{}

	check func(*FileSink) error
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// OpenFileSink creates dir if needed and verifies that files can be created
// in it. Directories it created are removed again when the check fails.
// The returned sink must be closed.
func OpenFileSink(dir string, opts ...FileSinkOption) (_ *FileSink, err error) {
	created := firstMissing(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create output directory: %w", archtype.ErrIO, err)
	}
	defer func() {
		if err != nil && created != "" {
			removeCreated(dir, created)
		}
	}()

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: open output directory: %w", archtype.ErrIO, err)
	}

	s := &FileSink{dir: dir, root: root, check: (*FileSink).checkWritable}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.check(s); err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	return s, nil
}

// firstMissing returns the outermost ancestor of dir (or dir itself) that
// does not exist yet, or "" when dir exists.
func firstMissing(dir string) string {
	missing := ""
	for p := filepath.Clean(dir); ; {
		if _, err := os.Lstat(p); !errors.Is(err, fs.ErrNotExist) {
			return missing
		}
		missing = p
		parent := filepath.Dir(p)
		if parent == p {
			return missing
		}
		p = parent
	}
}

// removeCreated removes the empty directories from dir up to and including
// top.
func removeCreated(dir, top string) {
	for p := filepath.Clean(dir); ; p = filepath.Dir(p) {
		if os.Remove(p) != nil || p == top {
			return
		}
	}
}

// checkWritable creates and removes a staged file in the output root.
func (s *FileSink) checkWritable() error {
	f, rel, err := createTempFile(s.root, ".")
	if err != nil {
		return fmt.Errorf("%w: output directory %s is not writable: %w", archtype.ErrIO, s.dir, err)
	}
	_ = f.Close() //nolint:errcheck // nothing was written
	if err := s.root.Remove(rel); err != nil {
		return fmt.Errorf("%w: output directory %s: %w", archtype.ErrIO, s.dir, err)
	}
	return nil
}

// Dir returns the output root path.
func (s *FileSink) Dir() string {
	return s.dir
}

// Close releases the output root.
func (s *FileSink) Close() error {
	return s.root.Close()
}

// ShouldProcess returns false if the file already exists and overwrite is disabled.
func (s *FileSink) ShouldProcess(path string) bool {
	if s.overwrite {
		return true
	}
	if !fs.ValidPath(path) {
		return false
	}
	// Lookup errors other than an existing file are left for Writer to report.
	_, err := s.root.Lstat(filepath.FromSlash(path))
	return err != nil
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
// Parent directories are created as needed.
func (s *FileSink) Writer(path string) (Committer, error) {
	if !fs.ValidPath(path) || path == "." {
		return nil, fmt.Errorf("%w: %q", archtype.ErrUnsafePath, path)
	}
	destRel := filepath.FromSlash(path)
	dir := filepath.Dir(destRel)
	if err := s.mkdirAll(dir); err != nil {
		return nil, fmt.Errorf("%w: create directory %s: %w", archtype.ErrIO, dir, err)
	}

	tempFile, tempRel, err := createTempFile(s.root, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %w", archtype.ErrIO, err)
	}
	return &fileCommitter{
		destRel:  destRel,
		tempFile: tempFile,
		tempRel:  tempRel,
		root:     s.root,
	}, nil
}

// mkdirAll creates dir once. Concurrent callers for the same directory share
// one MkdirAll.
func (s *FileSink) mkdirAll(dir string) error {
	if dir == "." {
		return nil
	}
	if _, ok := s.created.Load(dir); ok {
		return nil
	}
	_, err, _ := s.dirs.Do(dir, func() (any, error) {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
		s.created.Store(dir, struct{}{})
		return nil, nil
	})
	return err
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	destRel  string
	tempFile *os.File
	tempRel  string
	root     *os.Root
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file and renames it to the final path.
func (c *fileCommitter) Commit() error {
	if err := c.tempFile.Close(); err != nil {
		_ = c.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("%w: close temp file: %w", archtype.ErrIO, err)
	}
	if err := c.root.Rename(c.tempRel, c.destRel); err != nil {
		_ = c.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("%w: rename to %s: %w", archtype.ErrIO, c.destRel, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return c.root.Remove(c.tempRel)
}

func createTempFile(root *os.Root, dir string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		rel := filepath.Join(dir, tempPrefix+uuid.NewString())
		f, err := root.OpenFile(rel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, rel, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}
