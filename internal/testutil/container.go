package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// CookieMagic is the container footer magic.
var CookieMagic = []byte{'M', 'E', 'I', 0o14, 0o13, 0o12, 0o13, 0o16}

// ModuleArchiveMagic is the nested module archive magic.
var ModuleArchiveMagic = []byte{'P', 'Y', 'Z', 0}

// DefaultStub stands in for the native launcher in front of the container.
var DefaultStub = append([]byte("\x7fELF launcher stub"), bytes.Repeat([]byte{0x90}, 64)...)

// Compression selects how a test payload is stored.
type Compression uint8

const (
	Stored Compression = iota
	RawDeflate
	Zlib
)

// TestEntry holds data for building one table of contents record.
type TestEntry struct {
	Name        string
	Type        byte
	Data        []byte
	Compression Compression

	// DeclaredLength overrides the uncompressed length field when non-nil.
	DeclaredLength *uint32

	// Flag overrides the compression flag when non-nil.
	Flag *byte
}

// TestContainer describes a synthetic frozen executable.
type TestContainer struct {
	// Order defaults to little-endian.
	Order binary.ByteOrder

	// Legacy selects the footer without the library name field.
	Legacy bool

	// LibName is written into the library name field.
	LibName string

	// PyVersion is the interpreter version code, default 311.
	PyVersion uint32

	// Stub precedes the container, default DefaultStub.
	Stub []byte

	// Trailer is appended after the footer.
	Trailer []byte

	// TOCLengthDelta is added to the declared TOC length.
	TOCLengthDelta int

	Entries []TestEntry
}

// Ptr returns a pointer to v, for optional TestEntry fields.
func Ptr[T any](v T) *T {
	return &v
}

// BuildContainer assembles stub, entry payloads, table of contents, footer
// and trailer.
func BuildContainer(tb testing.TB, c TestContainer) []byte {
	tb.Helper()
	out, err := EncodeContainer(c)
	if err != nil {
		tb.Fatalf("build container: %v", err)
	}
	return out
}

// EncodeContainer is BuildContainer for callers without a testing.TB.
func EncodeContainer(c TestContainer) ([]byte, error) {
	order := c.Order
	if order == nil {
		order = binary.LittleEndian
	}
	stub := c.Stub
	if stub == nil {
		stub = DefaultStub
	}
	version := c.PyVersion
	if version == 0 {
		version = 311
	}

	var body, toc bytes.Buffer
	for _, e := range c.Entries {
		stored, err := Encode(e.Data, e.Compression)
		if err != nil {
			return nil, err
		}
		offset := body.Len()
		body.Write(stored)

		flag := byte(0)
		if e.Compression != Stored {
			flag = 1
		}
		if e.Flag != nil {
			flag = *e.Flag
		}
		uncompressed := uint32(len(e.Data)) //nolint:gosec // test data is small
		if e.DeclaredLength != nil {
			uncompressed = *e.DeclaredLength
		}

		name := append([]byte(e.Name), 0)
		recLen := 18 + len(name)
		rec := make([]byte, 18, recLen)
		order.PutUint32(rec[0:4], uint32(recLen))         //nolint:gosec // test data is small
		order.PutUint32(rec[4:8], uint32(offset))         //nolint:gosec // test data is small
		order.PutUint32(rec[8:12], uint32(len(stored)))   //nolint:gosec // test data is small
		order.PutUint32(rec[12:16], uncompressed)
		rec[16] = flag
		rec[17] = e.Type
		rec = append(rec, name...)
		toc.Write(rec)
	}

	footerSize := 24
	if !c.Legacy {
		footerSize += 64
	}
	footer := make([]byte, footerSize)
	copy(footer, CookieMagic)
	tocLen := toc.Len() + c.TOCLengthDelta
	order.PutUint32(footer[8:12], uint32(body.Len()+toc.Len()+footerSize)) //nolint:gosec // test data is small
	order.PutUint32(footer[12:16], uint32(body.Len()))                   //nolint:gosec // test data is small
	order.PutUint32(footer[16:20], uint32(tocLen))                       //nolint:gosec // test data is small
	order.PutUint32(footer[20:24], version)
	if !c.Legacy {
		copy(footer[24:], c.LibName)
	}

	out := make([]byte, 0, len(stub)+body.Len()+toc.Len()+len(footer)+len(c.Trailer))
	out = append(out, stub...)
	out = append(out, body.Bytes()...)
	out = append(out, toc.Bytes()...)
	out = append(out, footer...)
	out = append(out, c.Trailer...)
	return out, nil
}

// TestModule holds data for one module archive record.
type TestModule struct {
	Name      string
	IsPackage bool
	Code      []byte

	// Zlib wraps the code in zlib framing instead of raw deflate.
	Zlib bool

	// Stored replaces the compressed code blob when non-nil.
	Stored []byte
}

// TestModuleArchive describes a synthetic nested module archive.
type TestModuleArchive struct {
	// Order defaults to little-endian.
	Order binary.ByteOrder

	// Version is the archive's compiled-module magic tag.
	Version [4]byte

	Modules []TestModule
}

// BuildModuleArchive assembles a module archive.
func BuildModuleArchive(tb testing.TB, a TestModuleArchive) []byte {
	tb.Helper()
	out, err := EncodeModuleArchive(a)
	if err != nil {
		tb.Fatalf("build module archive: %v", err)
	}
	return out
}

// EncodeModuleArchive is BuildModuleArchive for callers without a testing.TB.
func EncodeModuleArchive(a TestModuleArchive) ([]byte, error) {
	order := a.Order
	if order == nil {
		order = binary.LittleEndian
	}

	blobs := make([][]byte, len(a.Modules))
	tableLen := 0
	for i, m := range a.Modules {
		switch {
		case m.Stored != nil:
			blobs[i] = m.Stored
		default:
			c := RawDeflate
			if m.Zlib {
				c = Zlib
			}
			b, err := Encode(m.Code, c)
			if err != nil {
				return nil, err
			}
			blobs[i] = b
		}
		tableLen += 11 + len(m.Name)
	}

	var out bytes.Buffer
	out.Write(ModuleArchiveMagic)
	out.Write(a.Version[:])
	out.Write(appendUint32(order, nil, uint32(len(a.Modules)))) //nolint:gosec // test data is small

	offset := 12 + tableLen
	for i, m := range a.Modules {
		rec := appendUint32(order, nil, uint32(offset))        //nolint:gosec // test data is small
		rec = appendUint32(order, rec, uint32(len(blobs[i]))) //nolint:gosec // test data is small
		pkg := byte(0)
		if m.IsPackage {
			pkg = 1
		}
		rec = append(rec, pkg)
		var nameLen [2]byte
		order.PutUint16(nameLen[:], uint16(len(m.Name))) //nolint:gosec // test data is small
		rec = append(rec, nameLen[:]...)
		rec = append(rec, m.Name...)
		out.Write(rec)
		offset += len(blobs[i])
	}
	for _, b := range blobs {
		out.Write(b)
	}
	return out.Bytes(), nil
}

// Compress encodes data with the given method.
func Compress(tb testing.TB, data []byte, c Compression) []byte {
	tb.Helper()
	out, err := Encode(data, c)
	if err != nil {
		tb.Fatalf("compress: %v", err)
	}
	return out
}

// Encode encodes data with the given method.
func Encode(data []byte, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case Stored:
		return bytes.Clone(data), nil
	case RawDeflate:
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("flate writer: %w", err)
		}
		w = fw
	case Zlib:
		w = zlib.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendUint32(order binary.ByteOrder, b []byte, v uint32) []byte {
	var buf [4]byte
	order.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}
