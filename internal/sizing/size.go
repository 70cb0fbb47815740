// Package sizing checks the 32-bit offsets and lengths read from container
// footers and tables before they are used to index memory or seek a source.
// Sums report overflow and conversions to Go integer types fail instead of
// wrapping.
package sizing

import (
	"io"
	"math"
)

// ToInt converts a length field to int for slicing. It returns overflowErr
// when the length cannot be allocated on this platform.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToInt64 converts a size to int64 for ReadAt offsets and semaphore weights.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// AddUint64 returns a+b, or false when an offset plus a length wraps.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// InBounds reports whether the range [off, off+n) fits inside a region of
// limit bytes, such as a payload inside its container.
func InBounds(off, n, limit uint64) bool {
	end, ok := AddUint64(off, n)
	return ok && end <= limit
}

// ReadAllWithLimit drains a decoder that has no declared output size.
// It returns overflowErr once more than maxSize bytes come out, so a small
// compressed record cannot expand without bound.
func ReadAllWithLimit(r io.Reader, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	lr := &io.LimitedReader{R: r, N: int64(maxSize) + 1} //nolint:gosec // checked above
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize {
		return nil, overflowErr
	}
	return data, nil
}
