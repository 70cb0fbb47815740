// Package cookie locates the container footer magic near the end of a binary.
package cookie

import (
	"bytes"
	"fmt"

	"github.com/meigma/unfreeze/internal/archtype"
	"github.com/meigma/unfreeze/internal/source"
)

// Magic marks the first byte of the container footer.
var Magic = [8]byte{'M', 'E', 'I', 0o14, 0o13, 0o12, 0o13, 0o16}

const (
	// DefaultWindow is the default number of trailing bytes searched for the magic.
	DefaultWindow = 64 << 10

	// chunkSize is the size of each backward read.
	chunkSize = 8 << 10
)

// Locate returns the absolute offset of the last occurrence of Magic within
// the final window bytes of src. A window of 0 searches the whole source.
//
// The source is read backward in overlapping chunks so a magic that straddles
// a chunk boundary is still found. Returns ErrMagicNotFound if the magic is
// absent from the window.
func Locate(src source.ByteSource, window int64) (int64, error) {
	size := src.Size()
	floor := int64(0)
	if window > 0 && window < size {
		floor = size - window
	}

	overlap := int64(len(Magic) - 1)
	end := size
	for end-floor >= int64(len(Magic)) {
		start := max(end-chunkSize, floor)
		buf, err := source.Slice(src, uint64(start), uint64(end-start)) //nolint:gosec // 0 <= start <= end <= size
		if err != nil {
			return 0, err
		}
		if i := bytes.LastIndex(buf, Magic[:]); i >= 0 {
			return start + int64(i), nil
		}
		if start == floor {
			break
		}
		end = start + overlap
	}
	return 0, fmt.Errorf("%w: searched last %d bytes", archtype.ErrMagicNotFound, size-floor)
}
