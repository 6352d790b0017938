package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Type is the one-byte tag identifying how a payload is encoded
type Type uint8

// Type tags are part of the on-disk format and must never be renumbered
const (
	TypeEmpty Type = iota
	TypeByteArray
	TypeText
	TypeLong
	TypeInt
	TypeDouble
	TypeFloat
	TypeShort
	TypeChar

	typeCount
)

var typeNames = [...]string{
	TypeEmpty:     "empty",
	TypeByteArray: "bytes",
	TypeText:      "text",
	TypeLong:      "long",
	TypeInt:       "int",
	TypeDouble:    "double",
	TypeFloat:     "float",
	TypeShort:     "short",
	TypeChar:      "char",
}

// Valid reports whether t belongs to the closed set of type tags
func (t Type) Valid() bool {
	return t < typeCount
}

// Width returns the fixed payload width of scalar types, or 0 for variable-width types
func (t Type) Width() int {
	switch t {
	case TypeLong, TypeDouble:
		return 8
	case TypeInt, TypeFloat:
		return 4
	case TypeShort, TypeChar:
		return 2
	default:
		return 0
	}
}

// String returns the lower-case name of the type
func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a type name (as returned by String) back to its tag
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if n == name && Type(i) != TypeEmpty {
			return Type(i), nil
		}
	}
	return TypeEmpty, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
}

// CheckPayload verifies that payload has the width required by t and that
// text payloads are valid UTF-8, so every accepted payload decodes again.
func CheckPayload(t Type, payload []byte) error {
	if !t.Valid() || t == TypeEmpty {
		return fmt.Errorf("%w: %d", ErrUnsupportedType, t)
	}
	if w := t.Width(); w > 0 && len(payload) != w {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidPayload, t, w, len(payload))
	}
	if t == TypeText && !utf8.Valid(payload) {
		return fmt.Errorf("%w: text payload is not valid UTF-8", ErrInvalidPayload)
	}
	return nil
}

// Scalar encoders. All multi-byte values are big-endian.

func EncodeShort(v int16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

func EncodeInt(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func EncodeLong(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func EncodeFloat(v float32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func EncodeDouble(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

// EncodeChar stores a rune as a single UTF-16 code unit; runes outside the
// Basic Multilingual Plane cannot be represented.
func EncodeChar(v rune) ([]byte, error) {
	if v < 0 || v > 0xFFFF || (v >= 0xD800 && v <= 0xDFFF) {
		return nil, fmt.Errorf("%w: char %U does not fit in one UTF-16 unit", ErrInvalidPayload, v)
	}
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b, nil
}

// EncodeText returns the UTF-8 bytes of s
func EncodeText(s string) []byte {
	return []byte(s)
}

func DecodeShort(b []byte) (int16, error) {
	if len(b) != 2 {
		return 0, widthError(TypeShort, b)
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func DecodeInt(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, widthError(TypeInt, b)
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func DecodeLong(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, widthError(TypeLong, b)
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func DecodeFloat(b []byte) (float32, error) {
	if len(b) != 4 {
		return 0, widthError(TypeFloat, b)
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func DecodeDouble(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, widthError(TypeDouble, b)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func DecodeChar(b []byte) (rune, error) {
	if len(b) != 2 {
		return 0, widthError(TypeChar, b)
	}
	return rune(binary.BigEndian.Uint16(b)), nil
}

// DecodeText interprets b as UTF-8 text
func DecodeText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: text payload is not valid UTF-8", ErrInvalidPayload)
	}
	return string(b), nil
}

func widthError(t Type, b []byte) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidPayload, t, t.Width(), len(b))
}
