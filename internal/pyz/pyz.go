// Package pyz decodes the nested module archive: a record table of compiled
// modules followed by their individually compressed code objects.
//
// Layout (integers use the container byte order):
//
//	magic "PYZ\0" (4) | version tag (4) | record count (4)
//	record: code offset (4) | code length (4) | is-package (1) |
//	        name length (2) | name
//	code blobs
//
// Code offsets are absolute within the module archive. The version tag is the
// compiled-module magic of the interpreter that built the archive.
package pyz

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/inflate"
	"github.com/meigma/unfreeze/internal/pathutil"
	"github.com/meigma/unfreeze/internal/pyc"
	"github.com/meigma/unfreeze/internal/sizing"
)

// Magic identifies a module archive.
var Magic = [4]byte{'P', 'Y', 'Z', 0}

// HasMagic reports whether data starts with the module archive magic.
func HasMagic(data []byte) bool {
	return bytes.HasPrefix(data, Magic[:])
}

const (
	// HeaderSize is the size of the fixed module archive header.
	HeaderSize = 12

	// minRecordSize is the smallest possible record: fixed fields plus a
	// one-byte name.
	minRecordSize = 4 + 4 + 1 + 2 + 1

	// DefaultMaxModuleSize bounds the decompressed size of one code object.
	DefaultMaxModuleSize = 256 << 20
)

// Header is the fixed module archive header.
type Header struct {
	// Version is the compiled-module magic recorded by the building interpreter.
	Version pyc.Magic

	// Count is the number of records.
	Count uint32
}

// Record locates one compiled module inside the archive.
type Record struct {
	Name      string
	Offset    uint32
	Length    uint32
	IsPackage bool
}

// Module is a reconstructed compiled-module file.
type Module struct {
	// Name is the dotted module name.
	Name string

	// Path is the slash-separated destination relative to the archive root.
	Path string

	// Data is the compiled-module file contents, header included.
	Data []byte
}

// Archive is a decoded module archive. It holds a reference to the archive
// bytes and never modifies them.
type Archive struct {
	Header
	Records []Record

	data      []byte
	maxModule uint64
	pool      *inflate.Pool
}

// Option configures an Archive.
type Option func(*Archive)

// WithMaxModuleSize limits the decompressed size of each code object.
func WithMaxModuleSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxModule = limit
	}
}

// WithPool sets the decoder pool used for code objects.
func WithPool(pool *inflate.Pool) Option {
	return func(a *Archive) {
		a.pool = pool
	}
}

// Open decodes the module archive header and record table from data.
//
// Returns ErrModuleArchiveCorrupt when the magic is wrong, the table is
// truncated, a name is empty, or a record points outside the code area.
func Open(data []byte, order binary.ByteOrder, opts ...Option) (*Archive, error) {
	if len(data) < HeaderSize || !HasMagic(data) {
		return nil, fmt.Errorf("%w: bad magic", archtype.ErrModuleArchiveCorrupt)
	}

	a := &Archive{
		data:      data,
		maxModule: DefaultMaxModuleSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	copy(a.Version[:], data[4:8])
	a.Count = order.Uint32(data[8:12])
	if uint64(a.Count)*minRecordSize > uint64(len(data)-HeaderSize) {
		return nil, fmt.Errorf("%w: %d records do not fit in %d bytes", archtype.ErrModuleArchiveCorrupt, a.Count, len(data))
	}

	s := cryptobyte.String(data[HeaderSize:])
	a.Records = make([]Record, 0, a.Count)
	for i := range a.Count {
		rec, err := readRecord(&s, order)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", archtype.ErrModuleArchiveCorrupt, i, err)
		}
		a.Records = append(a.Records, rec)
	}

	codeStart := uint64(len(data) - len(s))
	for i, rec := range a.Records {
		if uint64(rec.Offset) < codeStart || !sizing.InBounds(uint64(rec.Offset), uint64(rec.Length), uint64(len(data))) {
			return nil, fmt.Errorf("%w: record %d (%s) range [%d, +%d) outside code area [%d, %d)",
				archtype.ErrModuleArchiveCorrupt, i, rec.Name, rec.Offset, rec.Length, codeStart, len(data))
		}
	}
	return a, nil
}

func readRecord(s *cryptobyte.String, order binary.ByteOrder) (Record, error) {
	var fixed, name []byte
	if !s.ReadBytes(&fixed, 4+4+1+2) {
		return Record{}, fmt.Errorf("truncated record")
	}
	nameLen := order.Uint16(fixed[9:11])
	if nameLen == 0 {
		return Record{}, fmt.Errorf("empty name")
	}
	if !s.ReadBytes(&name, int(nameLen)) {
		return Record{}, fmt.Errorf("truncated name")
	}
	return Record{
		Name:      string(name),
		Offset:    order.Uint32(fixed[0:4]),
		Length:    order.Uint32(fixed[4:8]),
		IsPackage: fixed[8] != 0,
	}, nil
}

// ResolveVersion picks the interpreter version used for reconstructed
// headers: the container's version when its magic is known, otherwise the
// version named by the archive's own tag.
//
// A well-formed tag from an interpreter newer than the magic table is used
// verbatim with the current 16-byte header layout.
func (a *Archive) ResolveVersion(container pyc.Version) (pyc.Version, pyc.Magic, error) {
	if m, ok := pyc.MagicFor(container); ok {
		return container, m, nil
	}
	if v, ok := pyc.VersionOf(a.Version); ok {
		return v, a.Version, nil
	}
	if pyc.IsMagic(a.Version) {
		v := container
		if pyc.HeaderSize(v) != pyc.HeaderSize(pyc.Latest) {
			v = pyc.Latest
		}
		return v, a.Version, nil
	}
	return pyc.Version{}, pyc.Magic{}, fmt.Errorf("%w: unknown interpreter version %s and tag %x",
		archtype.ErrModuleArchiveCorrupt, container, a.Version[:])
}

// Module reconstructs the compiled-module file for rec. It is safe to call
// concurrently for different records.
func (a *Archive) Module(rec Record, v pyc.Version, m pyc.Magic) (Module, error) {
	p, err := pathutil.ModulePath(rec.Name, rec.IsPackage)
	if err != nil {
		return Module{}, err
	}

	blob := a.data[rec.Offset : rec.Offset+rec.Length]
	code, err := a.pool.DecompressAll(blob, a.maxModule)
	if err != nil {
		return Module{}, fmt.Errorf("module %s: %w", rec.Name, err)
	}

	header := pyc.Header(v, m)
	out := make([]byte, 0, len(header)+len(code))
	out = append(out, header...)
	out = append(out, code...)
	return Module{Name: rec.Name, Path: p, Data: out}, nil
}
