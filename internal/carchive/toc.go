package carchive

import (
	"bytes"
	"fmt"
	"iter"

	"golang.org/x/crypto/cryptobyte"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/source"
)

// EntryHeaderSize is the size of a record before its name field.
const EntryHeaderSize = 4*4 + 1 + 1

// TypeCode identifies what an entry holds.
type TypeCode byte

// Known entry type codes.
const (
	TypeSource        TypeCode = 's'
	TypeModule        TypeCode = 'm'
	TypePackage       TypeCode = 'M'
	TypeModuleArchive TypeCode = 'z'
	TypeZipArchive    TypeCode = 'Z'
	TypeExtension     TypeCode = 'b'
	TypeData          TypeCode = 'x'
	TypeSubArchive    TypeCode = 'a'
	TypeOption        TypeCode = 'o'
	TypeDependency    TypeCode = 'd'
	TypeSplash        TypeCode = 'l'
)

// String returns a readable name for the type code.
func (t TypeCode) String() string {
	switch t {
	case TypeSource:
		return "source"
	case TypeModule:
		return "module"
	case TypePackage:
		return "package"
	case TypeModuleArchive, TypeZipArchive:
		return "module-archive"
	case TypeExtension:
		return "extension"
	case TypeData:
		return "data"
	case TypeSubArchive:
		return "sub-archive"
	case TypeOption:
		return "option"
	case TypeDependency:
		return "dependency"
	case TypeSplash:
		return "splash"
	default:
		return fmt.Sprintf("unknown(%q)", byte(t))
	}
}

// Compression flag values.
const (
	FlagStored     byte = 0
	FlagCompressed byte = 1
)

// Entry is one table of contents record.
type Entry struct {
	// RecordLength is the declared record size, including the name field.
	RecordLength uint32

	// DataOffset is the payload offset relative to the container start.
	DataOffset uint32

	// CompressedLength is the stored payload size.
	CompressedLength uint32

	// UncompressedLength is the payload size after decompression.
	UncompressedLength uint32

	// Flag is the raw compression flag.
	Flag byte

	// Type is the entry type code.
	Type TypeCode

	// Name is the entry name as stored, without the NUL terminator.
	Name string
}

// Compressed reports whether the payload is deflate-compressed.
func (e *Entry) Compressed() bool {
	return e.Flag == FlagCompressed
}

// ReadTOC returns the table of contents entries described by h.
//
// The table is read once, bounded to exactly TOC offset + TOC length, and
// walked lazily. The sequence yields a non-nil error wrapping ErrTocCorrupt
// and stops when a record is malformed. It is pure: ranging over it again
// re-reads the same entries.
func ReadTOC(src source.ByteSource, h *Header) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		table, err := source.Slice(src, h.Start+uint64(h.TOCOffset), uint64(h.TOCLength))
		if err != nil {
			yield(Entry{}, fmt.Errorf("%w: %w", archtype.ErrTocCorrupt, err))
			return
		}

		s := cryptobyte.String(table)
		var pos uint32
		for !s.Empty() {
			entry, err := readEntry(&s, h, pos)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
			pos += entry.RecordLength
		}
	}
}

// ReadAll collects every table of contents entry.
// It returns the first decoding error encountered.
func ReadAll(src source.ByteSource, h *Header) ([]Entry, error) {
	var entries []Entry
	for entry, err := range ReadTOC(src, h) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// readEntry consumes one record from s. pos is the record offset within the
// table and only used for error messages.
func readEntry(s *cryptobyte.String, h *Header, pos uint32) (Entry, error) {
	var lenField []byte
	if !s.ReadBytes(&lenField, 4) {
		return Entry{}, fmt.Errorf("%w: truncated record length at %d", archtype.ErrTocCorrupt, pos)
	}
	recLen := h.Order.Uint32(lenField)
	if recLen < EntryHeaderSize {
		return Entry{}, fmt.Errorf("%w: record length %d at %d below minimum %d", archtype.ErrTocCorrupt, recLen, pos, EntryHeaderSize)
	}

	var rec []byte
	if !s.ReadBytes(&rec, int(recLen-4)) {
		return Entry{}, fmt.Errorf("%w: record at %d overruns table (%d bytes left, %d declared)", archtype.ErrTocCorrupt, pos, len(*s)+4, recLen)
	}

	name := rec[EntryHeaderSize-4:]
	end := bytes.IndexByte(name, 0)
	if end < 0 {
		return Entry{}, fmt.Errorf("%w: unterminated name at %d", archtype.ErrTocCorrupt, pos)
	}
	if end == 0 {
		return Entry{}, fmt.Errorf("%w: empty name at %d", archtype.ErrTocCorrupt, pos)
	}

	return Entry{
		RecordLength:       recLen,
		DataOffset:         h.Order.Uint32(rec[0:4]),
		CompressedLength:   h.Order.Uint32(rec[4:8]),
		UncompressedLength: h.Order.Uint32(rec[8:12]),
		Flag:               rec[12],
		Type:               TypeCode(rec[13]),
		Name:               string(name[:end]),
	}, nil
}
