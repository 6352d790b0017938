package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// File is a Buffer backed by a persisted file.
//
// The file length always equals the journal length; capacity is a logical limit
// that grows by the configured factor, so an unwritten tail never exists on disk.
type File struct {
	mu       sync.RWMutex
	path     string
	file     *os.File
	lock     *os.File
	opts     Options
	capacity int64
	size     int64
	closed   bool
}

// LockPath returns the lock file guarding the journal file at path
func LockPath(path string) string {
	return path + ".lock"
}

// OpenFile opens or creates the journal file at path and locks it for exclusive use
func OpenFile(path string, opts Options) (*File, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	lock, err := lockFile(LockPath(path))
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		unlockFile(lock)
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		unlockFile(lock)
		return nil, fmt.Errorf("failed to stat journal file: %w", err)
	}

	capacity := opts.InitialSize
	if info.Size() > capacity {
		capacity = info.Size()
	}

	return &File{
		path:     path,
		file:     f,
		lock:     lock,
		opts:     opts,
		capacity: capacity,
		size:     info.Size(),
	}, nil
}

// Path returns the journal file path
func (b *File) Path() string {
	return b.path
}

// ReadAt implements io.ReaderAt
func (b *File) ReadAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrClosed
	}
	n, err := b.file.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("failed to read journal at %d: %w", off, err)
	}
	return n, err
}

// WriteAt implements io.WriterAt. Writes beyond the logical capacity are rejected.
func (b *File) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if off < 0 || off+int64(len(p)) > b.capacity {
		return 0, fmt.Errorf("%w: %d bytes at %d, capacity %d", ErrOutOfBounds, len(p), off, b.capacity)
	}

	n, err := b.file.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("failed to write journal at %d: %w", off, err)
	}
	return n, nil
}

// Capacity returns the logical capacity
func (b *File) Capacity() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// Size returns the file length at open time
func (b *File) Size() int64 {
	return b.size
}

// Grow raises the logical capacity. The position is unaffected.
func (b *File) Grow(capacity, position int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return position, ErrClosed
	}

	next, err := b.opts.nextCapacity(capacity)
	if err != nil {
		return position, err
	}
	if next > b.capacity {
		b.capacity = next
	}
	return position, nil
}

// Truncate cuts the file to size bytes
func (b *File) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if err := b.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate journal to %d: %w", size, err)
	}
	return nil
}

// Sync flushes the file to stable storage
func (b *File) Sync() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	return b.file.Sync()
}

// Close syncs and closes the file, then releases the lock
func (b *File) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	syncErr := b.file.Sync()
	closeErr := b.file.Close()
	unlockFile(b.lock)

	if syncErr != nil {
		return fmt.Errorf("failed to sync journal on close: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close journal: %w", closeErr)
	}
	return nil
}
