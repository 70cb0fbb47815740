package carchive

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/cookie"
	"github.com/meigma/unfreeze/internal/sizing"
	"github.com/meigma/unfreeze/internal/source"
)

// fixedFooterSize is the size of the magic plus the four integer fields
// shared by every layout.
const fixedFooterSize = len(cookie.Magic) + 4*4

// Layout describes one known footer variant.
type Layout struct {
	// Name identifies the layout in logs and reports.
	Name string

	// LibNameSize is the width of the NUL-padded interpreter library name
	// that follows the fixed fields. Zero means the field is absent.
	LibNameSize int
}

// Size returns the total footer size in bytes.
func (l Layout) Size() int {
	return fixedFooterSize + l.LibNameSize
}

// Layouts lists the known footer variants, newest first.
var Layouts = []Layout{
	{Name: "libname", LibNameSize: 64},
	{Name: "legacy"},
}

// ByteOrders lists the byte orders tried when decoding, in preference order.
var ByteOrders = []binary.ByteOrder{binary.LittleEndian, binary.BigEndian}

// Footer is the decoded container trailer.
type Footer struct {
	// Layout is the variant the footer was decoded with.
	Layout Layout

	// PackageLength is the container length including the footer.
	PackageLength uint32

	// TOCOffset is the table of contents offset relative to the container start.
	TOCOffset uint32

	// TOCLength is the table of contents length in bytes.
	TOCLength uint32

	// PyVersion is the target interpreter version code (e.g. 311 for 3.11).
	PyVersion uint32

	// LibName is the interpreter library name, empty for the legacy layout.
	LibName string
}

// Header is a Footer placed within its source.
type Header struct {
	Footer

	// MagicOffset is the absolute offset of the footer magic.
	MagicOffset uint64

	// Start is the absolute offset of the container start.
	Start uint64

	// Order is the byte order of every integer in the container.
	Order binary.ByteOrder
}

// End returns the absolute offset one past the footer.
func (h *Header) End() uint64 {
	return h.Start + uint64(h.PackageLength)
}

// PyMajorMinor splits the interpreter version code.
// Codes below 100 use one digit per component (27 for 2.7).
func (f *Footer) PyMajorMinor() (major, minor int) {
	v := int(f.PyVersion)
	if v >= 100 {
		return v / 100, v % 100
	}
	return v / 10, v % 10
}

// candidate is one layout/byte-order interpretation of the footer.
type candidate struct {
	header *Header
	exact  bool
}

// DecodeHeader decodes the footer whose magic starts at magicOffset.
//
// Every layout in Layouts is evaluated under each byte order in orders (or
// ByteOrders when none are given). An interpretation is consistent when the
// footer fits in the source, the derived container start is not negative,
// the table of contents fits inside the container body, and any library name
// is NUL-padded printable ASCII. An interpretation whose table of contents
// ends exactly at the footer is preferred. Returns ErrHeaderCorrupt when no
// interpretation is consistent.
func DecodeHeader(src source.ByteSource, magicOffset uint64, orders ...binary.ByteOrder) (*Header, error) {
	if len(orders) == 0 {
		orders = ByteOrders
	}
	size := src.Size()
	if size < 0 {
		return nil, archtype.ErrHeaderCorrupt
	}

	var fallback *Header
	for _, order := range orders {
		for _, layout := range Layouts {
			c, ok := decodeCandidate(src, uint64(size), magicOffset, layout, order)
			if !ok {
				continue
			}
			if c.exact {
				return c.header, nil
			}
			if fallback == nil {
				fallback = c.header
			}
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: no footer layout fits at offset %d", archtype.ErrHeaderCorrupt, magicOffset)
}

func decodeCandidate(src source.ByteSource, size, magicOffset uint64, layout Layout, order binary.ByteOrder) (candidate, bool) {
	footerSize := uint64(layout.Size()) //nolint:gosec // layout sizes are small constants
	if !sizing.InBounds(magicOffset, footerSize, size) {
		return candidate{}, false
	}
	buf, err := source.Slice(src, magicOffset, footerSize)
	if err != nil || !bytes.Equal(buf[:len(cookie.Magic)], cookie.Magic[:]) {
		return candidate{}, false
	}

	fields := buf[len(cookie.Magic):]
	f := Footer{
		Layout:        layout,
		PackageLength: order.Uint32(fields[0:4]),
		TOCOffset:     order.Uint32(fields[4:8]),
		TOCLength:     order.Uint32(fields[8:12]),
		PyVersion:     order.Uint32(fields[12:16]),
	}
	if layout.LibNameSize > 0 {
		name, ok := libName(fields[16 : 16+layout.LibNameSize])
		if !ok {
			return candidate{}, false
		}
		f.LibName = name
	}

	pkgLen := uint64(f.PackageLength)
	footerEnd := magicOffset + footerSize
	if pkgLen < footerSize || pkgLen > footerEnd {
		return candidate{}, false
	}
	body := pkgLen - footerSize
	tocEnd, ok := sizing.AddUint64(uint64(f.TOCOffset), uint64(f.TOCLength))
	if !ok || tocEnd > body {
		return candidate{}, false
	}

	return candidate{
		header: &Header{
			Footer:      f,
			MagicOffset: magicOffset,
			Start:       footerEnd - pkgLen,
			Order:       order,
		},
		exact: tocEnd == body,
	}, true
}

// libName validates a NUL-padded printable ASCII field and returns its text.
func libName(field []byte) (string, bool) {
	n := bytes.IndexByte(field, 0)
	if n < 0 {
		n = len(field)
	}
	for _, c := range field[:n] {
		if c < 0x20 || c > 0x7e {
			return "", false
		}
	}
	for _, c := range field[n:] {
		if c != 0 {
			return "", false
		}
	}
	return string(field[:n]), true
}
