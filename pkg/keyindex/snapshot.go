package keyindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
)

const (
	// SnapshotMagic identifies a key index snapshot file
	SnapshotMagic = uint64(0x4A53544F52454B59)
	// SnapshotVersion is the current snapshot format version
	SnapshotVersion = uint32(1)

	// snapshotHeaderSize covers magic, version, codec, entry count, journal end,
	// body length and checksum
	snapshotHeaderSize = 8 + 4 + 1 + 4 + 8 + 4 + 8

	// checksumOffset is where the checksum starts; it covers everything before it
	checksumOffset = snapshotHeaderSize - 8
)

var (
	// ErrNoSnapshot is returned by Load when no snapshot file exists
	ErrNoSnapshot = errors.New("no key index snapshot")
	// ErrCorruptSnapshot is returned when a snapshot fails validation
	ErrCorruptSnapshot = errors.New("corrupt key index snapshot")
)

// SnapshotInfo describes a snapshot that was written or loaded
type SnapshotInfo struct {
	Entries int
	// JournalEnd is the journal length the snapshot was taken at
	JournalEnd     int64
	Codec          Codec
	RawBytes       int
	CompressedSize int
}

// Save writes every mapping of idx to path together with the journal length it
// belongs to. The file is replaced atomically.
func Save(path string, idx Index, codec Codec, journalEnd int64) (SnapshotInfo, error) {
	var body []byte
	entries := 0
	idx.Range(func(key string, offset int64) bool {
		body = binary.AppendUvarint(body, uint64(len(key)))
		body = append(body, key...)
		body = binary.AppendUvarint(body, uint64(offset))
		entries++
		return true
	})

	compressed, err := compress(body, codec)
	if err != nil {
		return SnapshotInfo{}, err
	}

	data := make([]byte, snapshotHeaderSize, snapshotHeaderSize+len(compressed))
	binary.LittleEndian.PutUint64(data[0:8], SnapshotMagic)
	binary.LittleEndian.PutUint32(data[8:12], SnapshotVersion)
	data[12] = byte(codec)
	binary.LittleEndian.PutUint32(data[13:17], uint32(entries))
	binary.LittleEndian.PutUint64(data[17:25], uint64(journalEnd))
	binary.LittleEndian.PutUint32(data[25:29], uint32(len(compressed)))
	binary.LittleEndian.PutUint64(data[checksumOffset:], checksum(data[:checksumOffset], compressed))
	data = append(data, compressed...)

	tempPath := path + ".tmp"
	if err := writeSynced(tempPath, data); err != nil {
		os.Remove(tempPath)
		return SnapshotInfo{}, fmt.Errorf("failed to write key index snapshot: %w", err)
	}

	// Atomically rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return SnapshotInfo{}, fmt.Errorf("failed to rename key index snapshot: %w", err)
	}

	return SnapshotInfo{
		Entries:        entries,
		JournalEnd:     journalEnd,
		Codec:          codec,
		RawBytes:       len(body),
		CompressedSize: len(compressed),
	}, nil
}

// writeSynced writes data to path and flushes it to stable storage so a rename
// never publishes an empty file
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads the snapshot at path into idx. idx is left untouched when an error
// is returned.
func Load(path string, idx Index) (SnapshotInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SnapshotInfo{}, ErrNoSnapshot
		}
		return SnapshotInfo{}, fmt.Errorf("failed to read key index snapshot: %w", err)
	}

	if len(data) < snapshotHeaderSize {
		return SnapshotInfo{}, fmt.Errorf("%w: %d bytes is too small", ErrCorruptSnapshot, len(data))
	}
	if magic := binary.LittleEndian.Uint64(data[0:8]); magic != SnapshotMagic {
		return SnapshotInfo{}, fmt.Errorf("%w: invalid magic %x", ErrCorruptSnapshot, magic)
	}
	if version := binary.LittleEndian.Uint32(data[8:12]); version != SnapshotVersion {
		return SnapshotInfo{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, version)
	}

	codec := Codec(data[12])
	entries := int(binary.LittleEndian.Uint32(data[13:17]))
	journalEnd := int64(binary.LittleEndian.Uint64(data[17:25]))
	bodyLen := int(binary.LittleEndian.Uint32(data[25:29]))
	compressed := data[snapshotHeaderSize:]
	if len(compressed) != bodyLen {
		return SnapshotInfo{}, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorruptSnapshot, len(compressed), bodyLen)
	}
	if sum := binary.LittleEndian.Uint64(data[checksumOffset:]); sum != checksum(data[:checksumOffset], compressed) {
		return SnapshotInfo{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	body, err := decompress(compressed, codec)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	decoded := make(map[string]int64, entries)
	for pos := 0; pos < len(body); {
		keyLen, n := binary.Uvarint(body[pos:])
		if n <= 0 || uint64(len(body)-pos-n) < keyLen {
			return SnapshotInfo{}, fmt.Errorf("%w: bad key length at %d", ErrCorruptSnapshot, pos)
		}
		pos += n
		key := string(body[pos : pos+int(keyLen)])
		pos += int(keyLen)

		offset, n := binary.Uvarint(body[pos:])
		if n <= 0 {
			return SnapshotInfo{}, fmt.Errorf("%w: bad offset at %d", ErrCorruptSnapshot, pos)
		}
		pos += n
		decoded[key] = int64(offset)
	}

	if len(decoded) != entries {
		return SnapshotInfo{}, fmt.Errorf("%w: decoded %d entries, header says %d", ErrCorruptSnapshot, len(decoded), entries)
	}

	for key, offset := range decoded {
		idx.Put(key, offset)
	}

	return SnapshotInfo{
		Entries:        entries,
		JournalEnd:     journalEnd,
		Codec:          codec,
		RawBytes:       len(body),
		CompressedSize: len(compressed),
	}, nil
}

// Remove deletes the snapshot at path if it exists
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove key index snapshot: %w", err)
	}
	return nil
}

func checksum(header, body []byte) uint64 {
	d := xxhash.New()
	d.Write(header)
	d.Write(body)
	return d.Sum64()
}
