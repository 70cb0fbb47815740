// Package testutil builds synthetic containers and byte sources for tests.
package testutil

import (
	"io"
	"sync"
)

// MockByteSource implements a simple in-memory byte source for tests that
// records the furthest offset any read reached.
type MockByteSource struct {
	data []byte

	mu      sync.Mutex
	maxEnd  int64
	reads   int
	failAt  int64
	failErr error
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{data: data, failAt: -1}
}

// FailReadsFrom makes every read that touches offset off or beyond return err.
func (m *MockByteSource) FailReadsFrom(off int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = off
	m.failErr = err
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	m.reads++
	end := off + int64(len(p))
	if end > m.maxEnd {
		m.maxEnd = end
	}
	failAt, failErr := m.failAt, m.failErr
	m.mu.Unlock()

	if failAt >= 0 && end > failAt {
		return 0, failErr
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// MaxReadEnd returns the largest offset+length requested so far.
func (m *MockByteSource) MaxReadEnd() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxEnd
}

// Reads returns the number of ReadAt calls so far.
func (m *MockByteSource) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
