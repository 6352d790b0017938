package journal

import (
	"errors"

	"github.com/KevoDB/jstore/pkg/backend"
	"github.com/KevoDB/jstore/pkg/record"
)

var (
	// ErrUnsupportedType is returned for type tags outside the closed set
	ErrUnsupportedType = record.ErrUnsupportedType
	// ErrNotFound is returned when a key has no live record
	ErrNotFound = record.ErrNotFound
	// ErrTypeMismatch is returned when a key holds a record of another type
	ErrTypeMismatch = record.ErrTypeMismatch
	// ErrInvalidPayload is returned when a payload does not fit its type
	ErrInvalidPayload = record.ErrInvalidPayload
	// ErrCorruptRecord is returned when a stored header cannot be decoded
	ErrCorruptRecord = record.ErrCorruptRecord
	// ErrCapacityExceeded is returned when the backing buffer cannot grow enough
	ErrCapacityExceeded = backend.ErrCapacityExceeded
	// ErrClosed is returned when a closed journal is used
	ErrClosed = errors.New("journal is closed")
	// ErrNotSynced wraps a sync failure after a mutation was applied. The new
	// state is live in memory and visible to readers but may not be durable.
	ErrNotSynced = errors.New("written but not synced")
	// ErrStopScan can be returned by a scan callback to end the walk early
	ErrStopScan = errors.New("stop scan")
)

// errorType maps an error to the label used in stats and metrics
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrCorruptRecord):
		return "corrupt_record"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "io"
	}
}
