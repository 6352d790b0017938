// Package record implements the binary framing of journal records.
//
// Every record is laid out as
//
//	active (1 byte) | type (1 byte) | length (4 bytes, big-endian) | payload (length bytes)
//
// Records are stored back-to-back, so the header of the next record always starts
// at offset + HeaderSize + length. Reclaimed slots keep their length and are
// rewritten as inactive Empty records, which keeps the journal linearly scannable.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of a record header: active(1) + type(1) + length(4)
	HeaderSize = 6

	// Active marks a record holding live data
	Active byte = 1
	// Inactive marks a reclaimed slot
	Inactive byte = 0

	// MaxPayloadSize is the largest payload a header can describe
	MaxPayloadSize = 1<<32 - 1
)

var (
	// ErrNotFound is returned when the record at an offset is inactive
	ErrNotFound = errors.New("record not found")
	// ErrTypeMismatch is returned when the stored type differs from the requested one
	ErrTypeMismatch = errors.New("record type mismatch")
	// ErrUnsupportedType is returned for type tags outside the closed set
	ErrUnsupportedType = errors.New("unsupported record type")
	// ErrCorruptRecord is returned when a header cannot describe a valid record
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrInvalidPayload is returned when a payload does not match its type width
	ErrInvalidPayload = errors.New("invalid payload")
)

// Header is the fixed-size prefix of every record
type Header struct {
	Active bool
	Type   Type
	Length uint32
}

// Size returns the total on-disk size of the record described by the header
func (h Header) Size() int64 {
	return HeaderSize + int64(h.Length)
}

// encodeHeader fills buf (at least HeaderSize bytes) with the header fields
func encodeHeader(buf []byte, active byte, t Type, length uint32) {
	buf[0] = active
	buf[1] = byte(t)
	binary.BigEndian.PutUint32(buf[2:6], length)
}

// Write stores an active record at off and returns the offset just past it.
// Header and payload are written with a single WriteAt call.
func Write(w io.WriterAt, off int64, t Type, payload []byte) (int64, error) {
	if !t.Valid() || t == TypeEmpty {
		return off, fmt.Errorf("%w: %d", ErrUnsupportedType, t)
	}
	if uint64(len(payload)) > MaxPayloadSize {
		return off, fmt.Errorf("%w: payload of %d bytes is too large", ErrInvalidPayload, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	encodeHeader(buf, Active, t, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.WriteAt(buf, off); err != nil {
		return off, fmt.Errorf("failed to write record at %d: %w", off, err)
	}

	return off + int64(len(buf)), nil
}

// WriteInactive writes an inactive Empty header describing a slot of the given
// payload length. The payload bytes are left untouched.
func WriteInactive(w io.WriterAt, off int64, length uint32) error {
	var buf [HeaderSize]byte
	encodeHeader(buf[:], Inactive, TypeEmpty, length)

	if _, err := w.WriteAt(buf[:], off); err != nil {
		return fmt.Errorf("failed to write inactive header at %d: %w", off, err)
	}
	return nil
}

// ReadHeader decodes the header stored at off
func ReadHeader(r io.ReaderAt, off int64) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := r.ReadAt(buf[:], off); err != nil {
		return Header{}, err
	}

	h := Header{
		Active: buf[0] == Active,
		Type:   Type(buf[1]),
		Length: binary.BigEndian.Uint32(buf[2:6]),
	}

	if buf[0] != Active && buf[0] != Inactive {
		return h, fmt.Errorf("%w: invalid active flag %d at %d", ErrCorruptRecord, buf[0], off)
	}
	if !h.Type.Valid() {
		return h, fmt.Errorf("%w: invalid type tag %d at %d", ErrCorruptRecord, buf[1], off)
	}

	return h, nil
}

// Read returns the payload of the active record at off if its type is expected
func Read(r io.ReaderAt, off int64, expected Type) ([]byte, error) {
	if !expected.Valid() || expected == TypeEmpty {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, expected)
	}

	h, err := ReadHeader(r, off)
	if err != nil {
		return nil, err
	}

	if !h.Active {
		return nil, ErrNotFound
	}
	if h.Type != expected {
		return nil, fmt.Errorf("%w: stored %s, requested %s", ErrTypeMismatch, h.Type, expected)
	}
	if w := expected.Width(); w > 0 && int(h.Length) != w {
		return nil, fmt.Errorf("%w: %s record with length %d", ErrCorruptRecord, h.Type, h.Length)
	}

	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := r.ReadAt(payload, off+HeaderSize); err != nil {
			return nil, fmt.Errorf("failed to read payload at %d: %w", off+HeaderSize, err)
		}
	}

	return payload, nil
}
