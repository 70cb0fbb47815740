package carchive

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/testutil"
)

func TestReadTOC(t *testing.T) {
	t.Parallel()

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			t.Parallel()
			data := testutil.BuildContainer(t, testutil.TestContainer{
				Order: order,
				Entries: []testutil.TestEntry{
					{Name: "main", Type: 's', Data: []byte("print(1)"), Compression: testutil.Zlib},
					{Name: `lib\site.py`, Type: 'x', Data: []byte("import os")},
					{Name: "PYZ-00.pyz", Type: 'z', Data: []byte("PYZ\x00")},
				},
			})
			h := decode(t, data)

			entries, err := ReadAll(testutil.NewMockByteSource(data), h)
			require.NoError(t, err)
			require.Len(t, entries, 3)

			assert.Equal(t, "main", entries[0].Name)
			assert.Equal(t, TypeSource, entries[0].Type)
			assert.True(t, entries[0].Compressed())
			assert.Equal(t, uint32(8), entries[0].UncompressedLength)
			assert.Equal(t, uint32(0), entries[0].DataOffset)

			assert.Equal(t, `lib\site.py`, entries[1].Name)
			assert.Equal(t, TypeData, entries[1].Type)
			assert.False(t, entries[1].Compressed())
			assert.Equal(t, entries[0].CompressedLength, entries[1].DataOffset)
			assert.Equal(t, uint32(9), entries[1].CompressedLength)
			assert.Equal(t, uint32(9), entries[1].UncompressedLength)

			assert.Equal(t, TypeModuleArchive, entries[2].Type)

			var total uint32
			for _, e := range entries {
				total += e.RecordLength
			}
			assert.Equal(t, h.TOCLength, total)
		})
	}
}

func TestReadTOCStaysInBounds(t *testing.T) {
	t.Parallel()

	data := testutil.BuildContainer(t, testutil.TestContainer{Entries: sampleEntries()})
	h := decode(t, data)
	src := testutil.NewMockByteSource(data)

	_, err := ReadAll(src, h)
	require.NoError(t, err)
	assert.LessOrEqual(t, src.MaxReadEnd(), int64(h.Start+uint64(h.TOCOffset)+uint64(h.TOCLength)))
}

func TestReadTOCTruncated(t *testing.T) {
	t.Parallel()

	for _, delta := range []int{-1, -5, -17, -20} {
		data := testutil.BuildContainer(t, testutil.TestContainer{
			TOCLengthDelta: delta,
			Entries:        sampleEntries(),
		})
		h := decode(t, data)
		src := testutil.NewMockByteSource(data)

		_, err := ReadAll(src, h)
		require.ErrorIs(t, err, archtype.ErrTocCorrupt, "delta %d", delta)
		assert.LessOrEqual(t, src.MaxReadEnd(), int64(h.Start+uint64(h.TOCOffset)+uint64(h.TOCLength)))
	}
}

func TestReadTOCCorruptRecords(t *testing.T) {
	t.Parallel()

	valid := testutil.BuildContainer(t, testutil.TestContainer{Entries: sampleEntries()})
	h := decode(t, valid)
	tocStart := int(h.Start) + int(h.TOCOffset)
	firstLen := int(binary.LittleEndian.Uint32(valid[tocStart:]))

	tests := []struct {
		name   string
		mutate func(b []byte)
	}{
		{
			name: "record length below minimum",
			mutate: func(b []byte) {
				binary.LittleEndian.PutUint32(b[tocStart:], EntryHeaderSize-1)
			},
		},
		{
			name: "record length overshoots table",
			mutate: func(b []byte) {
				binary.LittleEndian.PutUint32(b[tocStart:], h.TOCLength+4)
			},
		},
		{
			name: "name without terminator",
			mutate: func(b []byte) {
				b[tocStart+firstLen-1] = 'X'
			},
		},
		{
			name: "empty name",
			mutate: func(b []byte) {
				b[tocStart+EntryHeaderSize] = 0
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := bytes.Clone(valid)
			tt.mutate(data)
			_, err := ReadAll(testutil.NewMockByteSource(data), h)
			require.ErrorIs(t, err, archtype.ErrTocCorrupt)
		})
	}
}

func TestReadTOCLazy(t *testing.T) {
	t.Parallel()

	data := testutil.BuildContainer(t, testutil.TestContainer{Entries: sampleEntries()})
	h := decode(t, data)
	src := testutil.NewMockByteSource(data)

	var names []string
	for entry, err := range ReadTOC(src, h) {
		require.NoError(t, err)
		names = append(names, entry.Name)
		break
	}
	assert.Equal(t, []string{"main"}, names)

	// Re-ranging restarts from the first record.
	var again []string
	for entry, err := range ReadTOC(src, h) {
		require.NoError(t, err)
		again = append(again, entry.Name)
	}
	assert.Equal(t, []string{"main", "data/readme.txt"}, again)
}

func TestReadTOCEmpty(t *testing.T) {
	t.Parallel()

	data := testutil.BuildContainer(t, testutil.TestContainer{})
	h := decode(t, data)
	entries, err := ReadAll(testutil.NewMockByteSource(data), h)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTypeCodeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "source", TypeSource.String())
	assert.Equal(t, "module-archive", TypeZipArchive.String())
	assert.Equal(t, `unknown('?')`, TypeCode('?').String())
}
