package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/unfreeze/internal/archtype"
)

func openSink(t *testing.T, opts ...FileSinkOption) (*FileSink, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	sink, err := OpenFileSink(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink, dir
}

// stagedFiles returns leftover temp files under dir.
func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	var staged []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), tempPrefix) {
			staged = append(staged, p)
		}
		return nil
	})
	require.NoError(t, err)
	return staged
}

func TestFileSink_Writes(t *testing.T) {
	t.Parallel()

	sink, dir := openSink(t)
	assert.Equal(t, dir, sink.Dir())

	wrote, err := Put(sink, "pkg/sub/mod.pyc", []byte("code"))
	require.NoError(t, err)
	assert.True(t, wrote)

	got, err := os.ReadFile(filepath.Join(dir, "pkg", "sub", "mod.pyc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("code"), got)
	assert.Empty(t, stagedFiles(t, dir))
}

func TestFileSink_SkipsExisting(t *testing.T) {
	t.Parallel()

	sink, dir := openSink(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.pyc"), []byte("old"), 0o600))

	wrote, err := Put(sink, "main.pyc", []byte("new"))
	require.NoError(t, err)
	assert.False(t, wrote)

	got, err := os.ReadFile(filepath.Join(dir, "main.pyc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func TestFileSink_Overwrite(t *testing.T) {
	t.Parallel()

	sink, dir := openSink(t, WithOverwrite(true))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.pyc"), []byte("old"), 0o600))

	wrote, err := Put(sink, "main.pyc", []byte("new"))
	require.NoError(t, err)
	assert.True(t, wrote)

	got, err := os.ReadFile(filepath.Join(dir, "main.pyc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestFileSink_Discard(t *testing.T) {
	t.Parallel()

	sink, dir := openSink(t)
	w, err := sink.Writer("lib/data.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	assert.NoFileExists(t, filepath.Join(dir, "lib", "data.bin"))
	assert.Empty(t, stagedFiles(t, dir))
}

func TestFileSink_UnsafePaths(t *testing.T) {
	t.Parallel()

	sink, _ := openSink(t)
	for _, p := range []string{"../escape", "/abs", "a/../../b", ".", ""} {
		_, err := sink.Writer(p)
		require.ErrorIs(t, err, archtype.ErrUnsafePath, p)
	}
}

func TestFileSink_SymlinkEscape(t *testing.T) {
	t.Parallel()

	sink, dir := openSink(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	_, err := Put(sink, "link/evil.txt", []byte("x"))
	require.ErrorIs(t, err, archtype.ErrIO)
	assert.NoFileExists(t, filepath.Join(outside, "evil.txt"))
}

func TestFileSink_ConcurrentDirectories(t *testing.T) {
	t.Parallel()

	sink, dir := openSink(t)
	var wg sync.WaitGroup
	errs := make([]error, 64)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = Put(sink, fmt.Sprintf("pkg/shared/deep/mod%02d.pyc", i), []byte{byte(i)})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dir, "pkg", "shared", "deep", fmt.Sprintf("mod%02d.pyc", i)))
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got)
	}
}

func TestFileSink_DirectoryBlockedByFile(t *testing.T) {
	t.Parallel()

	sink, dir := openSink(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg"), []byte("file"), 0o600))

	_, err := Put(sink, "pkg/mod.pyc", []byte("x"))
	require.ErrorIs(t, err, archtype.ErrIO)
}

func TestOpenFileSink_NotWritable(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := OpenFileSink(filepath.Join(blocker, "out"))
	require.ErrorIs(t, err, archtype.ErrIO)
}

func TestOpenFileSink_RemovesCreatedDirsOnFailure(t *testing.T) {
	t.Parallel()

	failCheck := func(s *FileSink) {
		s.check = func(*FileSink) error { return fmt.Errorf("%w: read-only", archtype.ErrIO) }
	}

	t.Run("created", func(t *testing.T) {
		t.Parallel()

		parent := t.TempDir()
		_, err := OpenFileSink(filepath.Join(parent, "a", "b", "out"), failCheck)
		require.ErrorIs(t, err, archtype.ErrIO)
		assert.NoDirExists(t, filepath.Join(parent, "a"))
	})

	t.Run("existing", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "out")
		require.NoError(t, os.Mkdir(dir, 0o750))
		_, err := OpenFileSink(dir, failCheck)
		require.ErrorIs(t, err, archtype.ErrIO)
		assert.DirExists(t, dir)
	})
}
