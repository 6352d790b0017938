package record

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

// sliceBuffer is a fixed-size io.ReaderAt/io.WriterAt over a byte slice
type sliceBuffer []byte

func (s sliceBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s)) {
		return 0, io.EOF
	}
	n := copy(p, s[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s sliceBuffer) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(s)) {
		return 0, io.ErrShortWrite
	}
	return copy(s[off:], p), nil
}

func TestWriteLayout(t *testing.T) {
	buf := make(sliceBuffer, 32)

	next, err := Write(buf, 4, TypeShort, EncodeShort(34))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if next != 4+HeaderSize+2 {
		t.Errorf("expected next offset %d, got %d", 4+HeaderSize+2, next)
	}

	expected := []byte{1, byte(TypeShort), 0, 0, 0, 2, 0, 34}
	if !bytes.Equal(buf[4:12], expected) {
		t.Errorf("unexpected layout: got %v, want %v", buf[4:12], expected)
	}
}

func TestReadRoundTrip(t *testing.T) {
	char, err := EncodeChar('Ж')
	if err != nil {
		t.Fatalf("EncodeChar failed: %v", err)
	}

	cases := []struct {
		typ     Type
		payload []byte
	}{
		{TypeShort, EncodeShort(-12)},
		{TypeInt, EncodeInt(math.MaxInt32)},
		{TypeLong, EncodeLong(math.MinInt64)},
		{TypeFloat, EncodeFloat(3.5)},
		{TypeDouble, EncodeDouble(-0.125)},
		{TypeChar, char},
		{TypeText, EncodeText("journal ✓")},
		{TypeByteArray, []byte{0, 1, 2, 255}},
		{TypeText, EncodeText("")},
	}

	buf := make(sliceBuffer, 256)
	var off int64
	for _, tc := range cases {
		next, err := Write(buf, off, tc.typ, tc.payload)
		if err != nil {
			t.Fatalf("Write(%s) failed: %v", tc.typ, err)
		}

		got, err := Read(buf, off, tc.typ)
		if err != nil {
			t.Fatalf("Read(%s) failed: %v", tc.typ, err)
		}
		if !bytes.Equal(got, tc.payload) {
			t.Errorf("%s: got %v, want %v", tc.typ, got, tc.payload)
		}
		off = next
	}
}

func TestReadInactiveAndMismatch(t *testing.T) {
	buf := make(sliceBuffer, 32)

	if _, err := Write(buf, 0, TypeInt, EncodeInt(7)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if _, err := Read(buf, 0, TypeShort); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}

	if err := WriteInactive(buf, 0, 4); err != nil {
		t.Fatalf("WriteInactive failed: %v", err)
	}

	if _, err := Read(buf, 0, TypeInt); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	h, err := ReadHeader(buf, 0)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if h.Active || h.Type != TypeEmpty || h.Length != 4 {
		t.Errorf("unexpected inactive header: %+v", h)
	}

	// The payload bytes survive the header rewrite
	if v, _ := DecodeInt(buf[HeaderSize : HeaderSize+4]); v != 7 {
		t.Errorf("expected payload to be untouched, got %d", v)
	}
}

func TestUnsupportedType(t *testing.T) {
	buf := make(sliceBuffer, 32)

	if _, err := Write(buf, 0, Type(42), []byte{1}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType on write, got %v", err)
	}
	if _, err := Write(buf, 0, TypeEmpty, []byte{1}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for Empty, got %v", err)
	}
	if _, err := Read(buf, 0, Type(42)); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType on read, got %v", err)
	}
}

func TestReadHeaderCorrupt(t *testing.T) {
	buf := sliceBuffer{7, 1, 0, 0, 0, 0}
	if _, err := ReadHeader(buf, 0); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord for bad active flag, got %v", err)
	}

	buf = sliceBuffer{1, 99, 0, 0, 0, 0}
	if _, err := ReadHeader(buf, 0); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord for bad type, got %v", err)
	}
}

func TestCheckPayload(t *testing.T) {
	if err := CheckPayload(TypeLong, []byte{1, 2}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
	if err := CheckPayload(TypeText, nil); err != nil {
		t.Errorf("expected empty text to be valid, got %v", err)
	}
	if err := CheckPayload(TypeText, []byte("\xff\xfe")); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for invalid UTF-8 text, got %v", err)
	}
	if err := CheckPayload(TypeByteArray, []byte("\xff\xfe")); err != nil {
		t.Errorf("expected arbitrary bytes to be valid, got %v", err)
	}
}

func TestEncodeCharRange(t *testing.T) {
	if _, err := EncodeChar('😀'); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for astral rune, got %v", err)
	}

	b, err := EncodeChar('A')
	if err != nil {
		t.Fatalf("EncodeChar failed: %v", err)
	}
	r, err := DecodeChar(b)
	if err != nil || r != 'A' {
		t.Errorf("expected 'A', got %q (%v)", r, err)
	}
}

func TestParseType(t *testing.T) {
	for typ := TypeByteArray; typ < typeCount; typ++ {
		got, err := ParseType(typ.String())
		if err != nil || got != typ {
			t.Errorf("ParseType(%q) = %v, %v", typ.String(), got, err)
		}
	}

	if _, err := ParseType("empty"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected empty to be rejected, got %v", err)
	}
}
