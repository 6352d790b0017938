package backend

import (
	"fmt"
	"io"
	"sync"
)

// Memory is a Buffer backed by a byte slice
type Memory struct {
	mu     sync.RWMutex
	data   []byte
	opts   Options
	closed bool
}

// NewMemory creates an in-memory buffer with the given options
func NewMemory(opts Options) (*Memory, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Memory{
		data: make([]byte, opts.InitialSize),
		opts: opts,
	}, nil
}

// ReadAt implements io.ReaderAt
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
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

// WriteAt implements io.WriterAt. Writes never extend the capacity.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("%w: %d bytes at %d, capacity %d", ErrOutOfBounds, len(p), off, len(m.data))
	}

	return copy(m.data[off:], p), nil
}

// Capacity returns the length of the backing slice
func (m *Memory) Capacity() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// Size is always zero: a memory journal starts empty
func (m *Memory) Size() int64 {
	return 0
}

// Grow reallocates the backing slice. The position is unaffected.
func (m *Memory) Grow(capacity, position int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return position, ErrClosed
	}

	next, err := m.opts.nextCapacity(capacity)
	if err != nil {
		return position, err
	}
	if next <= int64(len(m.data)) {
		return position, nil
	}

	grown := make([]byte, next)
	copy(grown, m.data)
	m.data = grown

	return position, nil
}

// Truncate zeroes everything from size onward
func (m *Memory) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if size < 0 || size > int64(len(m.data)) {
		return fmt.Errorf("%w: truncate to %d", ErrOutOfBounds, size)
	}

	clear(m.data[size:])
	return nil
}

// Sync is a no-op
func (m *Memory) Sync() error {
	return nil
}

// Close releases the backing slice
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}
