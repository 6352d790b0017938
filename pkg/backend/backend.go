// Package backend provides the byte stores a journal lives in.
//
// A Buffer is addressed with absolute offsets only; it has no cursor of its own.
// Two variants exist: Memory keeps the journal in a growable byte slice and File
// keeps it in a persisted file whose length always equals the journal length.
package backend

import (
	"errors"
	"fmt"
	"io"
)

const (
	// Megabyte is the unit used for journal sizes in configuration
	Megabyte = 1024 * 1024

	// DefaultInitialSize is the capacity a new journal starts with
	DefaultInitialSize = 100 * Megabyte

	// DefaultGrowthFactor multiplies the capacity each time the tail runs out of room
	DefaultGrowthFactor = 2.0

	// minGrowth is the smallest capacity increase of a Grow call
	minGrowth = 4096
)

var (
	// ErrCapacityExceeded is returned when a buffer cannot grow any further
	ErrCapacityExceeded = errors.New("journal capacity exceeded")
	// ErrOutOfBounds is returned for writes beyond the current capacity
	ErrOutOfBounds = errors.New("write beyond journal capacity")
	// ErrClosed is returned when a closed buffer is used
	ErrClosed = errors.New("buffer is closed")
	// ErrLocked is returned when another process holds the journal lock
	ErrLocked = errors.New("journal already in use by another process")
)

// Buffer is the capability a journal engine needs from its storage
type Buffer interface {
	io.ReaderAt
	io.WriterAt

	// Capacity returns the number of bytes that can currently be written
	Capacity() int64

	// Size returns the number of journal bytes that existed when the buffer was opened
	Size() int64

	// Grow is the growth hook. It is called with the current capacity and the
	// tail position a record is about to be written at, and returns the position
	// the record must be written at once the buffer has grown.
	Grow(capacity, position int64) (int64, error)

	// Truncate discards everything from size onward
	Truncate(size int64) error

	// Sync persists written data
	Sync() error

	// Close releases the buffer
	Close() error
}

// Options control the size of a buffer
type Options struct {
	// InitialSize is the capacity of a new buffer in bytes
	InitialSize int64
	// MaxSize caps the capacity; zero means unlimited
	MaxSize int64
	// GrowthFactor multiplies the capacity on each Grow
	GrowthFactor float64
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		InitialSize:  DefaultInitialSize,
		GrowthFactor: DefaultGrowthFactor,
	}
}

func (o Options) validate() error {
	if o.InitialSize < 0 {
		return fmt.Errorf("initial size must not be negative, got %d", o.InitialSize)
	}
	if o.MaxSize < 0 {
		return fmt.Errorf("max size must not be negative, got %d", o.MaxSize)
	}
	if o.MaxSize > 0 && o.InitialSize > o.MaxSize {
		return fmt.Errorf("initial size %d exceeds max size %d", o.InitialSize, o.MaxSize)
	}
	if o.GrowthFactor <= 1.0 {
		return fmt.Errorf("growth factor must be greater than 1.0, got %f", o.GrowthFactor)
	}
	return nil
}

// nextCapacity returns the capacity after one growth step, or ErrCapacityExceeded
// if the buffer is already at its maximum
func (o Options) nextCapacity(capacity int64) (int64, error) {
	next := int64(float64(capacity) * o.GrowthFactor)
	if next < capacity+minGrowth {
		next = capacity + minGrowth
	}
	if o.MaxSize > 0 && next > o.MaxSize {
		next = o.MaxSize
	}
	if next <= capacity {
		return capacity, fmt.Errorf("%w: at maximum size %d", ErrCapacityExceeded, o.MaxSize)
	}
	return next, nil
}
