// Package carchive decodes the container appended to a frozen executable:
// the trailing footer that locates the container, and the table of contents
// that describes each packaged entry.
//
// # Footer
//
// The footer starts with the 8-byte magic found by the cookie package and
// holds, as fixed-width unsigned 32-bit integers:
//
//	package length | TOC offset | TOC length | interpreter version
//
// followed, in the newer layout, by a 64-byte NUL-padded interpreter library
// name. The package length covers everything from the container start up to
// and including the footer, so the container start is derived from the footer
// end and any bytes appended after the footer are ignored.
//
// # Table of contents
//
// Each record is self-describing:
//
//	record length | data offset | compressed length | uncompressed length |
//	compression flag (1 byte) | type code (1 byte) | NUL-terminated name
//
// Data offsets are relative to the container start.
package carchive
