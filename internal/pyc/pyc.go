// Package pyc builds the header that makes raw code-object bytes loadable
// as a compiled module file.
//
// The container keeps only the marshalled code object. The modification
// time, source size and flags fields written here are zero placeholders;
// the original values cannot be recovered and are not guessed.
package pyc

import (
	"encoding/binary"
	"fmt"
)

// Version is an interpreter major.minor pair.
type Version struct {
	Major, Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// magics maps interpreter versions to the release magic number stored in
// the first two bytes of a compiled module, little-endian, followed by "\r\n".
var magics = map[Version]uint16{
	{2, 7}:  62211,
	{3, 0}:  3131,
	{3, 1}:  3151,
	{3, 2}:  3180,
	{3, 3}:  3230,
	{3, 4}:  3310,
	{3, 5}:  3351,
	{3, 6}:  3379,
	{3, 7}:  3394,
	{3, 8}:  3413,
	{3, 9}:  3425,
	{3, 10}: 3439,
	{3, 11}: 3495,
	{3, 12}: 3531,
	{3, 13}: 3571,
	{3, 14}: 3627,
}

// Latest is the newest interpreter in the magic table.
var Latest = Version{3, 14}

// Magic is the 4-byte tag at the start of a compiled module.
type Magic [4]byte

// MagicFor returns the release magic for v.
func MagicFor(v Version) (Magic, bool) {
	n, ok := magics[v]
	if !ok {
		return Magic{}, false
	}
	var m Magic
	binary.LittleEndian.PutUint16(m[:2], n)
	m[2], m[3] = '\r', '\n'
	return m, true
}

// IsMagic reports whether m is shaped like a compiled-module magic, even one
// missing from the table.
func IsMagic(m Magic) bool {
	return m[2] == '\r' && m[3] == '\n'
}

// VersionOf returns the interpreter version a magic belongs to.
// Pre-release magics between two releases resolve to the later release.
func VersionOf(m Magic) (Version, bool) {
	if !IsMagic(m) {
		return Version{}, false
	}
	n := binary.LittleEndian.Uint16(m[:2])
	if n == magics[Version{2, 7}] {
		return Version{2, 7}, true
	}
	best, found := Version{}, false
	for v, release := range magics {
		if v.Major < 3 || n > release {
			continue
		}
		if !found || release < magics[best] {
			best, found = v, true
		}
	}
	return best, found
}

// HeaderSize returns the compiled-module header size used by v.
func HeaderSize(v Version) int {
	switch {
	case v.Major > 3 || (v.Major == 3 && v.Minor >= 7):
		return 16 // magic, flags, mtime, source size
	case v.Major == 3 && v.Minor >= 3:
		return 12 // magic, mtime, source size
	default:
		return 8 // magic, mtime
	}
}

// Header returns a compiled-module header for v with magic m and zeroed
// placeholder fields.
func Header(v Version, m Magic) []byte {
	h := make([]byte, HeaderSize(v))
	copy(h, m[:])
	return h
}

// HasHeader reports whether data already starts with a compiled-module magic.
func HasHeader(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	_, ok := VersionOf(Magic(data[:4]))
	return ok
}
