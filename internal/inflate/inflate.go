// Package inflate decompresses container payloads.
//
// Payloads are deflate streams. Most packagers wrap them in zlib framing;
// bare raw-deflate streams are accepted as well. Either way the caller
// supplies the exact expected output length and anything shorter or longer
// is an error.
package inflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/sizing"
)

// Pool manages reusable deflate decoders to reduce allocation overhead.
// The zero value is not usable; a nil *Pool creates one-off decoders.
type Pool struct {
	raw  sync.Pool
	zlib sync.Pool
}

// NewPool creates a new decoder pool.
func NewPool() *Pool {
	return &Pool{}
}

// Decompress inflates data and returns exactly want bytes.
//
// It returns ErrDecompression if the stream is invalid, ends early, or
// produces more than want bytes.
func (p *Pool) Decompress(data []byte, want uint64) ([]byte, error) {
	size, err := sizing.ToInt(want, archtype.ErrDecompression)
	if err != nil {
		return nil, err
	}

	if IsZlib(data) {
		out, zerr := p.decode(data, size, p.getZlib)
		if zerr == nil {
			return out, nil
		}
		// A raw stream can start with bytes that look like a zlib header.
		if out, err := p.decode(data, size, p.getRaw); err == nil {
			return out, nil
		}
		return nil, zerr
	}
	return p.decode(data, size, p.getRaw)
}

// DecompressAll inflates data whose output length is not recorded, reading
// the whole stream. Output beyond limit is rejected with ErrDecompression.
func (p *Pool) DecompressAll(data []byte, limit uint64) ([]byte, error) {
	get := p.getRaw
	if IsZlib(data) {
		get = p.getZlib
	}
	dec, release, err := get(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", archtype.ErrDecompression, err)
	}
	defer release()

	out, err := sizing.ReadAllWithLimit(dec, limit, archtype.ErrDecompression)
	if err != nil {
		if errors.Is(err, archtype.ErrDecompression) {
			return nil, fmt.Errorf("%w: output exceeds %d bytes", archtype.ErrDecompression, limit)
		}
		return nil, fmt.Errorf("%w: %v", archtype.ErrDecompression, err)
	}
	return out, nil
}

type getFunc func(r io.Reader) (io.Reader, func(), error)

func (p *Pool) decode(data []byte, size int, get getFunc) ([]byte, error) {
	dec, release, err := get(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", archtype.ErrDecompression, err)
	}
	defer release()

	out := make([]byte, size)
	n, err := io.ReadFull(dec, out)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream ended after %d of %d bytes", archtype.ErrDecompression, n, size)
		}
		return nil, fmt.Errorf("%w: %v", archtype.ErrDecompression, err)
	}
	if err := ensureNoExtra(dec); err != nil {
		return nil, err
	}
	return out, nil
}

// ensureNoExtra verifies the stream is exhausted. For zlib this also checks
// the trailing checksum.
func ensureNoExtra(r io.Reader) error {
	var buf [1]byte
	_, err := io.ReadFull(r, buf[:])
	switch {
	case err == nil:
		return fmt.Errorf("%w: stream longer than declared length", archtype.ErrDecompression)
	case errors.Is(err, io.EOF):
		return nil
	default:
		return fmt.Errorf("%w: %v", archtype.ErrDecompression, err)
	}
}

// IsZlib reports whether data starts with a valid zlib header
// (deflate method, no preset dictionary, valid check bits).
func IsZlib(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	if cmf&0x0f != 8 || cmf>>4 > 7 || flg&0x20 != 0 {
		return false
	}
	return (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func (p *Pool) getRaw(r io.Reader) (io.Reader, func(), error) {
	if p == nil {
		dec := flate.NewReader(r)
		return dec, func() { _ = dec.Close() }, nil
	}
	if v, ok := p.raw.Get().(io.ReadCloser); ok {
		if err := v.(flate.Resetter).Reset(r, nil); err == nil {
			return v, func() { p.raw.Put(v) }, nil
		}
	}
	dec := flate.NewReader(r)
	return dec, func() { p.raw.Put(dec) }, nil
}

func (p *Pool) getZlib(r io.Reader) (io.Reader, func(), error) {
	if p != nil {
		if v, ok := p.zlib.Get().(io.ReadCloser); ok {
			if err := v.(zlib.Resetter).Reset(r, nil); err != nil {
				return nil, nil, err
			}
			return v, func() { p.zlib.Put(v) }, nil
		}
	}
	dec, err := zlib.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return dec, func() { _ = dec.Close() }, nil
	}
	return dec, func() { p.zlib.Put(dec) }, nil
}

var defaultPool = NewPool()

// Decompress inflates data using a shared pool. See Pool.Decompress.
func Decompress(data []byte, want uint64) ([]byte, error) {
	return defaultPool.Decompress(data, want)
}

// DecompressAll inflates data using a shared pool. See Pool.DecompressAll.
func DecompressAll(data []byte, limit uint64) ([]byte, error) {
	return defaultPool.DecompressAll(data, limit)
}
