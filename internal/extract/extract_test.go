package extract

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/batch"
	"github.com/meigma/unfreeze/internal/carchive"
	"github.com/meigma/unfreeze/internal/cookie"
	"github.com/meigma/unfreeze/internal/source"
	"github.com/meigma/unfreeze/internal/testutil"
)

// header311 is the compiled-module header written for interpreter 3.11.
var header311 = append([]byte{0xa7, 0x0d, 0x0d, 0x0a}, make([]byte, 12)...)

type fixture struct {
	extractor *Extractor
	entries   []carchive.Entry
	dir       string
}

func setup(t *testing.T, c testutil.TestContainer, opts ...Option) fixture {
	t.Helper()

	src := source.Bytes(testutil.BuildContainer(t, c))
	off, err := cookie.Locate(src, cookie.DefaultWindow)
	require.NoError(t, err)
	h, err := carchive.DecodeHeader(src, uint64(off))
	require.NoError(t, err)
	entries, err := carchive.ReadAll(src, h)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	sink, err := batch.OpenFileSink(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	return fixture{extractor: New(src, h, sink, opts...), entries: entries, dir: dir}
}

func (f fixture) extractAll(t *testing.T) []archtype.Result {
	t.Helper()
	results := make([]archtype.Result, len(f.entries))
	for i, entry := range f.entries {
		results[i] = f.extractor.Extract(context.Background(), entry)
	}
	return results
}

func (f fixture) read(t *testing.T, rel string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return data
}

func TestExtractVerbatimSource(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "main.py", Type: 's', Data: []byte("print(1)")},
	}})
	results := f.extractAll(t)

	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, archtype.OutcomeSucceeded, r.Outcome)
	assert.Equal(t, "main.py", r.Path)
	assert.Equal(t, uint64(8), r.Size)
	assert.Equal(t, digest.FromBytes([]byte("print(1)")), r.Digest)
	assert.Equal(t, []byte("print(1)"), f.read(t, "main.py"))
}

func TestExtractCompiledModules(t *testing.T) {
	t.Parallel()

	code := []byte{0xe3, 0x00, 0x01, 0x02, 0x03}
	withHeader := append(append([]byte{}, header311...), code...)

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "mod", Type: 'm', Data: code, Compression: testutil.Zlib},
		{Name: "pkg", Type: 'M', Data: code},
		{Name: "already", Type: 'm', Data: withHeader},
	}})
	results := f.extractAll(t)

	for _, r := range results {
		require.Equal(t, archtype.OutcomeSucceeded, r.Outcome, "%s: %v", r.Name, r.Err)
	}
	assert.Equal(t, withHeader, f.read(t, "mod.pyc"))
	assert.Equal(t, withHeader, f.read(t, "pkg.pyc"))
	assert.Equal(t, withHeader, f.read(t, "already.pyc"))
}

func TestExtractScriptsKeepStoredBytes(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "main", Type: 's', Data: []byte("print(1)")},
		{Name: "boot", Type: 's', Data: []byte{0xe3, 0x00, 0x01}, Compression: testutil.RawDeflate},
	}})
	results := f.extractAll(t)

	for _, r := range results {
		require.Equal(t, archtype.OutcomeSucceeded, r.Outcome, "%s: %v", r.Name, r.Err)
	}
	assert.Equal(t, "main.pyc", results[0].Path)
	assert.Equal(t, []byte("print(1)"), f.read(t, "main.pyc"))
	assert.Equal(t, uint64(8), results[0].Size)
	assert.Equal(t, []byte{0xe3, 0x00, 0x01}, f.read(t, "boot.pyc"))
}

func TestExtractUnknownVersionWritesWithoutHeader(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{PyVersion: 999, Entries: []testutil.TestEntry{
		{Name: "mod", Type: 'm', Data: []byte{0xe3, 0x01}},
	}})
	f.extractor.AdoptArchiveMagic(f.entries)
	results := f.extractAll(t)

	require.Equal(t, archtype.OutcomeSucceeded, results[0].Outcome)
	assert.Equal(t, []byte{0xe3, 0x01}, f.read(t, "mod.pyc"))
}

func TestExtractUnknownVersionAdoptsArchiveMagic(t *testing.T) {
	t.Parallel()

	tag := [4]byte{0x60, 0x0e, '\r', '\n'}
	archive := testutil.BuildModuleArchive(t, testutil.TestModuleArchive{
		Version: tag,
		Modules: []testutil.TestModule{{Name: "helper", Code: []byte{0xe3, 0x07}}},
	})
	f := setup(t, testutil.TestContainer{PyVersion: 315, Entries: []testutil.TestEntry{
		{Name: "mod", Type: 'm', Data: []byte{0xe3, 0x01}},
		{Name: "PYZ-00.pyz", Type: 'z', Data: archive, Compression: testutil.Zlib},
	}})
	f.extractor.AdoptArchiveMagic(f.entries)
	results := f.extractAll(t)

	for _, r := range results {
		require.False(t, r.Failed(), "%s: %v", r.Name, r.Err)
	}
	header := append(tag[:], make([]byte, 12)...)
	assert.Equal(t, append(append([]byte{}, header...), 0xe3, 0x01), f.read(t, "mod.pyc"))
	assert.Equal(t, append(append([]byte{}, header...), 0xe3, 0x07), f.read(t, "helper.pyc"))
}

func TestExtractZipArchiveWithoutModuleMagic(t *testing.T) {
	t.Parallel()

	zip := []byte("PK\x03\x04 zipped modules")
	archive := testutil.BuildModuleArchive(t, testutil.TestModuleArchive{
		Version: [4]byte{0xa7, 0x0d, '\r', '\n'},
		Modules: []testutil.TestModule{{Name: "inner", Code: []byte{0xe3}}},
	})
	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "modules.zip", Type: 'Z', Data: zip, Compression: testutil.Zlib},
		{Name: "PYZ-01.pyz", Type: 'Z', Data: archive},
	}})
	results := f.extractAll(t)

	require.Equal(t, archtype.OutcomeSucceeded, results[0].Outcome, "%v", results[0].Err)
	assert.Equal(t, "modules.zip", results[0].Path)
	assert.Equal(t, zip, f.read(t, "modules.zip"))

	require.Equal(t, archtype.OutcomeSucceeded, results[1].Outcome)
	require.Len(t, results[1].Children, 1)
	assert.FileExists(t, filepath.Join(f.dir, "inner.pyc"))
}

func TestExtractVerbatimTypes(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "lib/libfoo.so", Type: 'b', Data: []byte("\x7fELF"), Compression: testutil.Zlib},
		{Name: "data\\config.json", Type: 'x', Data: []byte(`{"a":1}`)},
		{Name: "base_library.zip", Type: 'a', Data: []byte("PK\x03\x04")},
		{Name: "splash", Type: 'l', Data: []byte("tcl")},
		{Name: "mystery", Type: '?', Data: []byte("??")},
	}})
	results := f.extractAll(t)

	want := map[string][]byte{
		"lib/libfoo.so":    []byte("\x7fELF"),
		"data/config.json": []byte(`{"a":1}`),
		"base_library.zip": []byte("PK\x03\x04"),
		"splash":           []byte("tcl"),
		"mystery":          []byte("??"),
	}
	for _, r := range results {
		require.Equal(t, archtype.OutcomeSucceeded, r.Outcome, "%s: %v", r.Name, r.Err)
		assert.Equal(t, want[r.Path], f.read(t, r.Path))
	}
}

func TestExtractSkipsOptions(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "v", Type: 'o'},
		{Name: "other:lib.so", Type: 'd'},
	}})
	results := f.extractAll(t)

	for _, r := range results {
		assert.Equal(t, archtype.OutcomeSkipped, r.Outcome)
		assert.ErrorIs(t, r.Err, archtype.ErrNoContent)
		assert.Empty(t, r.Path)
	}
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractFailures(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "good.txt", Type: 'x', Data: []byte("good")},
		{Name: "short.bin", Type: 'x', Data: []byte("0123456789"), Compression: testutil.RawDeflate, DeclaredLength: testutil.Ptr[uint32](11)},
		{Name: "long.bin", Type: 'x', Data: []byte("0123456789"), Compression: testutil.Zlib, DeclaredLength: testutil.Ptr[uint32](9)},
		{Name: "stored.bin", Type: 'x', Data: []byte("abc"), DeclaredLength: testutil.Ptr[uint32](4)},
		{Name: "flag.bin", Type: 'x', Data: []byte("abc"), Flag: testutil.Ptr[byte](2)},
		{Name: "../escape.txt", Type: 'x', Data: []byte("evil")},
		{Name: "also-good.txt", Type: 'x', Data: []byte("fine")},
	}})
	results := f.extractAll(t)

	require.Len(t, results, 7)
	assert.Equal(t, archtype.OutcomeSucceeded, results[0].Outcome)
	for _, r := range results[1:5] {
		assert.Equal(t, archtype.OutcomeFailed, r.Outcome, r.Name)
		assert.ErrorIs(t, r.Err, archtype.ErrDecompression, r.Name)
		assert.NoFileExists(t, filepath.Join(f.dir, r.Name))
	}
	assert.Equal(t, archtype.OutcomeFailed, results[5].Outcome)
	assert.ErrorIs(t, results[5].Err, archtype.ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(f.dir), "escape.txt"))
	assert.Equal(t, archtype.OutcomeSucceeded, results[6].Outcome)
	assert.Equal(t, []byte("fine"), f.read(t, "also-good.txt"))
}

func TestPayloadOutOfBounds(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "a", Type: 'x', Data: []byte("abc")},
	}})
	entry := f.entries[0]
	entry.DataOffset = 1 << 30
	_, err := f.extractor.Payload(entry)
	require.ErrorIs(t, err, archtype.ErrOutOfBounds)

	entry = f.entries[0]
	entry.CompressedLength = ^uint32(0)
	entry.UncompressedLength = entry.CompressedLength
	_, err = f.extractor.Payload(entry)
	require.ErrorIs(t, err, archtype.ErrOutOfBounds)
}

func TestExtractSkipsExisting(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "keep.txt", Type: 'x', Data: []byte("new")},
	}})
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "keep.txt"), []byte("old"), 0o600))

	results := f.extractAll(t)
	assert.Equal(t, archtype.OutcomeSkipped, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, archtype.ErrExists)
	assert.Equal(t, []byte("old"), f.read(t, "keep.txt"))
}

func moduleArchive(t *testing.T, order binary.ByteOrder) []byte {
	t.Helper()
	return testutil.BuildModuleArchive(t, testutil.TestModuleArchive{
		Order:   order,
		Version: [4]byte{0x61, 0x0d, '\r', '\n'},
		Modules: []testutil.TestModule{
			{Name: "pkg", IsPackage: true, Code: []byte{0xe3, 0x10}},
			{Name: "pkg.sub", Code: []byte{0xe3, 0x20}, Zlib: true},
		},
	})
}

func TestExtractModuleArchive(t *testing.T) {
	t.Parallel()

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			t.Parallel()
			f := setup(t, testutil.TestContainer{Order: order, Entries: []testutil.TestEntry{
				{Name: "PYZ-00.pyz", Type: 'z', Data: moduleArchive(t, order), Compression: testutil.Zlib},
			}}, WithWorkers(2))
			results := f.extractAll(t)

			require.Len(t, results, 1)
			r := results[0]
			require.Equal(t, archtype.OutcomeSucceeded, r.Outcome, "%v", r.Err)
			assert.False(t, r.Failed())
			require.Len(t, r.Children, 2)
			assert.Equal(t, "pkg/__init__.pyc", r.Children[0].Path)
			assert.Equal(t, byte('M'), r.Children[0].Type)
			assert.Equal(t, "pkg/sub.pyc", r.Children[1].Path)
			assert.Equal(t, byte('m'), r.Children[1].Type)

			assert.Equal(t, append(append([]byte{}, header311...), 0xe3, 0x10), f.read(t, "pkg/__init__.pyc"))
			assert.Equal(t, append(append([]byte{}, header311...), 0xe3, 0x20), f.read(t, "pkg/sub.pyc"))
		})
	}
}

func TestExtractModuleArchiveDirs(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "PYZ-00.pyz", Type: 'z', Data: moduleArchive(t, binary.LittleEndian)},
	}}, WithModuleArchiveDirs(true))
	results := f.extractAll(t)

	require.Equal(t, archtype.OutcomeSucceeded, results[0].Outcome)
	assert.Equal(t, "PYZ-00.pyz_extracted", results[0].Path)
	assert.FileExists(t, filepath.Join(f.dir, "PYZ-00.pyz_extracted", "pkg", "__init__.pyc"))
	assert.FileExists(t, filepath.Join(f.dir, "PYZ-00.pyz_extracted", "pkg", "sub.pyc"))
}

func TestExtractModuleArchiveVersionFallback(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{PyVersion: 999, Entries: []testutil.TestEntry{
		{Name: "PYZ-00.pyz", Type: 'z', Data: moduleArchive(t, binary.LittleEndian)},
	}})
	results := f.extractAll(t)

	require.Equal(t, archtype.OutcomeSucceeded, results[0].Outcome)
	got := f.read(t, "pkg/sub.pyc")
	// 3.9 header from the archive's own tag.
	assert.Equal(t, []byte{0x61, 0x0d, '\r', '\n'}, got[:4])
	assert.Len(t, got, 16+2)
}

func TestExtractModuleArchiveRecordFailure(t *testing.T) {
	t.Parallel()

	archive := testutil.BuildModuleArchive(t, testutil.TestModuleArchive{
		Version: [4]byte{0x61, 0x0d, '\r', '\n'},
		Modules: []testutil.TestModule{
			{Name: "ok", Code: []byte{0xe3}},
			{Name: "broken", Stored: []byte{0xff, 0xff}},
		},
	})
	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "PYZ-00.pyz", Type: 'z', Data: archive},
	}})
	results := f.extractAll(t)

	r := results[0]
	assert.Equal(t, archtype.OutcomeSucceeded, r.Outcome)
	assert.True(t, r.Failed())
	require.Len(t, r.Children, 2)
	assert.Equal(t, archtype.OutcomeSucceeded, r.Children[0].Outcome)
	assert.Equal(t, archtype.OutcomeFailed, r.Children[1].Outcome)
	assert.ErrorIs(t, r.Children[1].Err, archtype.ErrDecompression)
	assert.FileExists(t, filepath.Join(f.dir, "ok.pyc"))
}

func TestExtractModuleArchiveCorrupt(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "PYZ-00.pyz", Type: 'z', Data: []byte("not a module archive")},
	}})
	results := f.extractAll(t)

	assert.Equal(t, archtype.OutcomeFailed, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, archtype.ErrModuleArchiveCorrupt)
}

func TestExtractCanceled(t *testing.T) {
	t.Parallel()

	f := setup(t, testutil.TestContainer{Entries: []testutil.TestEntry{
		{Name: "a.txt", Type: 'x', Data: []byte("a")},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := f.extractor.Extract(ctx, f.entries[0])
	assert.Equal(t, archtype.OutcomeFailed, r.Outcome)
	assert.ErrorIs(t, r.Err, context.Canceled)
}
