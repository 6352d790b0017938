package journal

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/KevoDB/jstore/pkg/backend"
	"github.com/KevoDB/jstore/pkg/common/log"
	"github.com/KevoDB/jstore/pkg/config"
	"github.com/KevoDB/jstore/pkg/freelist"
	"github.com/KevoDB/jstore/pkg/keyindex"
	"github.com/KevoDB/jstore/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryJournal(t *testing.T, initial, max int64) *Journal {
	t.Helper()

	buf, err := backend.NewMemory(backend.Options{InitialSize: initial, MaxSize: max, GrowthFactor: 2})
	require.NoError(t, err)

	j, err := Open(buf, nil, Options{Name: "test", Logger: log.NewDiscardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func openFileJournal(t *testing.T, dir string) *Journal {
	t.Helper()

	buf, err := backend.OpenFile(filepath.Join(dir, "test.journal"), backend.Options{InitialSize: 64, GrowthFactor: 2})
	require.NoError(t, err)

	j, err := Open(buf, nil, Options{
		Name:          "test",
		Logger:        log.NewDiscardLogger(),
		SyncMode:      config.SyncImmediate,
		SnapshotPath:  filepath.Join(dir, "test.keys"),
		SnapshotCodec: keyindex.CodecZstd,
	})
	require.NoError(t, err)
	return j
}

func putShort(t *testing.T, j *Journal, key string, v int16) {
	t.Helper()
	require.NoError(t, j.Put(key, record.TypeShort, record.EncodeShort(v)))
}

func getShort(t *testing.T, j *Journal, key string) int16 {
	t.Helper()
	payload, err := j.Get(key, record.TypeShort)
	require.NoError(t, err)
	v, err := record.DecodeShort(payload)
	require.NoError(t, err)
	return v
}

func scanAll(t *testing.T, j *Journal) []record.Header {
	t.Helper()
	var headers []record.Header
	require.NoError(t, j.Scan(func(_ int64, h record.Header) error {
		headers = append(headers, h)
		return nil
	}))
	return headers
}

func TestRoundTripAllTypes(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	char, err := record.EncodeChar('λ')
	require.NoError(t, err)

	values := []struct {
		key     string
		typ     record.Type
		payload []byte
	}{
		{"short", record.TypeShort, record.EncodeShort(-12)},
		{"int", record.TypeInt, record.EncodeInt(math.MaxInt32)},
		{"long", record.TypeLong, record.EncodeLong(math.MinInt64)},
		{"float", record.TypeFloat, record.EncodeFloat(3.5)},
		{"double", record.TypeDouble, record.EncodeDouble(-2.25)},
		{"char", record.TypeChar, char},
		{"text", record.TypeText, record.EncodeText("héllo wörld")},
		{"bytes", record.TypeByteArray, []byte{0, 1, 2, 0xff}},
		{"empty-text", record.TypeText, record.EncodeText("")},
	}

	for _, v := range values {
		require.NoError(t, j.Put(v.key, v.typ, v.payload))
	}
	for _, v := range values {
		got, err := j.Get(v.key, v.typ)
		require.NoError(t, err, v.key)
		assert.Equal(t, v.payload, got, v.key)
	}

	assert.Equal(t, len(values), j.Stats().Records)
}

func TestPutValidation(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	err := j.Put("k", record.TypeEmpty, nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	err = j.Put("k", record.Type(42), []byte{1})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	err = j.Put("k", record.TypeInt, []byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	// Text that could not be decoded again is refused up front
	err = j.Put("k", record.TypeText, []byte("\xff\xfe"))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	stats := j.Stats()
	assert.Equal(t, 0, stats.Records)
	assert.Equal(t, int64(0), stats.End)
}

func TestGetErrors(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)
	putShort(t, j, "Test", 34)

	_, err := j.Get("missing", record.TypeShort)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = j.Get("Test", record.TypeInt)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = j.Get("Test", record.TypeEmpty)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestShortScenario(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	putShort(t, j, "Test", 34)
	putShort(t, j, "Test2", 44)
	putShort(t, j, "Test3", 100)

	removed, err := j.Remove("Test2")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Equal(t, int16(34), getShort(t, j, "Test"))
	assert.Equal(t, int16(100), getShort(t, j, "Test3"))
	_, err = j.Get("Test2", record.TypeShort)
	assert.ErrorIs(t, err, ErrNotFound)

	putShort(t, j, "Test4", 7)

	e, err := j.Lookup("Test4")
	require.NoError(t, err)
	assert.Equal(t, int64(8), e.Offset, "Test4 reuses the slot of Test2")
	assert.Equal(t, int64(24), j.Stats().End)
	assert.Equal(t, 3, j.Stats().Records)
	assert.Equal(t, uint64(1), j.Collector().GetStats()["placement_exact"])
}

func TestRemoveMissingKey(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	removed, err := j.Remove("nope")
	require.NoError(t, err)
	assert.False(t, removed)

	putShort(t, j, "a", 1)
	removed, err = j.Remove("a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = j.Remove("a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestTombstoneIsScannable(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	require.NoError(t, j.Put("a", record.TypeText, record.EncodeText("hello")))
	require.NoError(t, j.Put("b", record.TypeInt, record.EncodeInt(5)))
	_, err := j.Remove("a")
	require.NoError(t, err)

	headers := scanAll(t, j)
	require.Len(t, headers, 2)
	assert.False(t, headers[0].Active)
	assert.Equal(t, record.TypeEmpty, headers[0].Type)
	assert.Equal(t, uint32(5), headers[0].Length)
	assert.True(t, headers[1].Active)

	stats := j.Stats()
	assert.Equal(t, uint64(5), stats.FreeBytes)
	assert.Equal(t, 1, stats.FreeBlocks)
}

func TestAppendAdvancesEnd(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	require.NoError(t, j.Put("a", record.TypeText, record.EncodeText("abc")))
	assert.Equal(t, int64(record.HeaderSize+3), j.Stats().End)

	before := j.Stats().End
	require.NoError(t, j.Put("b", record.TypeLong, record.EncodeLong(1)))
	assert.Equal(t, before+record.HeaderSize+8, j.Stats().End)

	assert.Equal(t, uint64(2), j.Collector().GetStats()["placement_append"])
}

func TestExactFitReuse(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	require.NoError(t, j.Put("a", record.TypeInt, record.EncodeInt(1)))
	require.NoError(t, j.Put("b", record.TypeInt, record.EncodeInt(2)))
	_, err := j.Remove("a")
	require.NoError(t, err)

	end := j.Stats().End
	require.NoError(t, j.Put("c", record.TypeFloat, record.EncodeFloat(1.5)))

	e, err := j.Lookup("c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Offset)
	assert.Equal(t, end, j.Stats().End)
	assert.Zero(t, j.Stats().FreeBlocks)
}

func TestSplitPlacement(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	require.NoError(t, j.Put("big", record.TypeText, record.EncodeText("0123456789abcdefghij")))
	require.NoError(t, j.Put("tail", record.TypeShort, record.EncodeShort(1)))
	_, err := j.Remove("big")
	require.NoError(t, err)

	end := j.Stats().End
	require.NoError(t, j.Put("small", record.TypeInt, record.EncodeInt(9)))

	e, err := j.Lookup("small")
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Offset)
	assert.Equal(t, end, j.Stats().End)

	// 20 byte slot: the int record takes 10 bytes, the leftover header 6
	headers := scanAll(t, j)
	require.Len(t, headers, 3)
	assert.True(t, headers[0].Active)
	assert.Equal(t, uint32(4), headers[0].Length)
	assert.False(t, headers[1].Active)
	assert.Equal(t, uint32(20-4-record.HeaderSize), headers[1].Length)
	assert.True(t, headers[2].Active)

	var total int64
	for _, h := range headers {
		total += h.Size()
	}
	assert.Equal(t, end, total, "records stay contiguous")

	stats := j.Stats()
	assert.Equal(t, uint64(10), stats.FreeBytes)
	assert.Equal(t, []freelist.BucketInfo{{Size: 10, Blocks: 1}}, stats.Buckets)
	assert.Equal(t, int16(1), getShort(t, j, "tail"))
}

func TestTooSmallBlockFallsBackToAppend(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	require.NoError(t, j.Put("a", record.TypeLong, record.EncodeLong(1)))
	_, err := j.Remove("a")
	require.NoError(t, err)

	// A 4 byte payload would leave a 4 byte hole, too small for a header
	require.NoError(t, j.Put("b", record.TypeText, record.EncodeText("abcd")))

	e, err := j.Lookup("b")
	require.NoError(t, err)
	assert.Equal(t, int64(record.HeaderSize+8), e.Offset)
	assert.Equal(t, 1, j.Stats().FreeBlocks)
}

func TestOverwrite(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	putShort(t, j, "k", 1)
	putShort(t, j, "k", 2)

	assert.Equal(t, int16(2), getShort(t, j, "k"))
	e, err := j.Lookup("k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Offset, "same-size overwrite is done in place")
	assert.Equal(t, 1, j.Stats().Records)
	assert.Zero(t, j.Stats().FreeBlocks)

	require.NoError(t, j.Put("k", record.TypeText, record.EncodeText("a longer value")))
	e, err = j.Lookup("k")
	require.NoError(t, err)
	assert.Equal(t, int64(8), e.Offset)

	headers := scanAll(t, j)
	require.Len(t, headers, 2)
	assert.False(t, headers[0].Active, "old slot is freed")
	assert.Equal(t, uint64(2), j.Stats().FreeBytes)
	assert.Equal(t, 1, j.Stats().Records)
}

func TestGrowth(t *testing.T) {
	j := newMemoryJournal(t, 16, 0)

	for i := 0; i < 10; i++ {
		require.NoError(t, j.Put(string(rune('a'+i)), record.TypeLong, record.EncodeLong(int64(i))))
	}

	stats := j.Stats()
	assert.Equal(t, int64(10*(record.HeaderSize+8)), stats.End)
	assert.GreaterOrEqual(t, stats.Capacity, stats.End)
	assert.NotZero(t, j.Collector().GetStats()["grow_count"])

	payload, err := j.Get("j", record.TypeLong)
	require.NoError(t, err)
	v, err := record.DecodeLong(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)
}

func TestCapacityExceededLeavesStateUnchanged(t *testing.T) {
	j := newMemoryJournal(t, 16, 32)

	putShort(t, j, "a", 1)
	putShort(t, j, "b", 2)
	before := j.Stats()

	err := j.Put("c", record.TypeText, record.EncodeText("this will never fit in the journal"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	after := j.Stats()
	assert.Equal(t, before.Records, after.Records)
	assert.Equal(t, before.End, after.End)
	assert.Equal(t, before.FreeBytes, after.FreeBytes)
	_, err = j.Get("c", record.TypeText)
	assert.ErrorIs(t, err, ErrNotFound)

	// An overwrite that cannot be placed keeps the old value
	err = j.Put("a", record.TypeText, record.EncodeText("this will never fit in the journal"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, int16(1), getShort(t, j, "a"))
	assert.Zero(t, j.Stats().FreeBlocks)

	assert.Equal(t, uint64(2), j.Collector().GetStats()["errors"].(map[string]uint64)["put_capacity_exceeded"])
}

func TestRecoverIsIdempotent(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)

	require.NoError(t, j.Put("a", record.TypeText, record.EncodeText("aaaa")))
	require.NoError(t, j.Put("b", record.TypeLong, record.EncodeLong(2)))
	require.NoError(t, j.Put("c", record.TypeText, record.EncodeText("cc")))
	require.NoError(t, j.Put("d", record.TypeInt, record.EncodeInt(4)))
	_, err := j.Remove("a")
	require.NoError(t, err)
	_, err = j.Remove("c")
	require.NoError(t, err)

	var inactive uint64
	for _, h := range scanAll(t, j) {
		if !h.Active {
			inactive += uint64(h.Length)
		}
	}

	first, err := j.Recover()
	require.NoError(t, err)
	second, err := j.Recover()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, inactive, first.FreeBytes)
	assert.Equal(t, uint64(4), first.RecordsScanned)
	assert.Equal(t, uint64(2), first.InactiveRecords)
	assert.Zero(t, first.DroppedKeys)
	assert.Zero(t, first.ReclaimedRecords)
	assert.Equal(t, 2, j.Stats().Records)
	assert.Equal(t, inactive, j.Stats().FreeBytes)
}

func TestScanStop(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)
	putShort(t, j, "a", 1)
	putShort(t, j, "b", 2)
	putShort(t, j, "c", 3)

	var seen int
	err := j.Scan(func(_ int64, _ record.Header) error {
		seen++
		if seen == 2 {
			return ErrStopScan
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	boom := errors.New("boom")
	err = j.Scan(func(_ int64, _ record.Header) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestEntries(t *testing.T) {
	j := newMemoryJournal(t, 1024, 0)
	putShort(t, j, "b", 1)
	require.NoError(t, j.Put("a", record.TypeText, record.EncodeText("x")))

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, record.TypeText, entries[0].Header.Type)
	assert.Equal(t, "b", entries[1].Key)
	assert.Equal(t, int64(0), entries[1].Offset)
}

func TestClosedJournal(t *testing.T) {
	buf, err := backend.NewMemory(backend.Options{InitialSize: 64, GrowthFactor: 2})
	require.NoError(t, err)
	j, err := Open(buf, nil, Options{Logger: log.NewDiscardLogger()})
	require.NoError(t, err)

	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Close(), ErrClosed)
	assert.ErrorIs(t, j.Put("a", record.TypeShort, record.EncodeShort(1)), ErrClosed)
	_, err = j.Get("a", record.TypeShort)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = j.Remove("a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPersistedReopen(t *testing.T) {
	dir := t.TempDir()

	j := openFileJournal(t, dir)
	putShort(t, j, "Test", 34)
	putShort(t, j, "Test2", 44)
	putShort(t, j, "Test3", 100)
	require.NoError(t, j.Put("text", record.TypeText, record.EncodeText("persisted")))
	_, err := j.Remove("Test2")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	info, err := os.Stat(filepath.Join(dir, "test.journal"))
	require.NoError(t, err)
	assert.Equal(t, int64(3*8+record.HeaderSize+9), info.Size(), "file holds exactly the records")

	j = openFileJournal(t, dir)
	defer j.Close()

	assert.Equal(t, int16(34), getShort(t, j, "Test"))
	assert.Equal(t, int16(100), getShort(t, j, "Test3"))
	_, err = j.Get("Test2", record.TypeShort)
	assert.ErrorIs(t, err, ErrNotFound)

	payload, err := j.Get("text", record.TypeText)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(payload))

	stats := j.Stats()
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, uint64(2), stats.FreeBytes)

	putShort(t, j, "Test4", 7)
	e, err := j.Lookup("Test4")
	require.NoError(t, err)
	assert.Equal(t, int64(8), e.Offset)
}

func TestTornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")

	j := openFileJournal(t, dir)
	putShort(t, j, "a", 1)
	putShort(t, j, "b", 2)
	require.NoError(t, j.Close())

	// Append a header that promises more bytes than the file holds
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{record.Active, byte(record.TypeText), 0, 0, 0, 50, 'x'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j = openFileJournal(t, dir)
	defer j.Close()

	assert.Equal(t, int64(16), j.Stats().End)
	assert.Equal(t, int16(2), getShort(t, j, "b"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(16), info.Size())

	recovery := j.Collector().GetStats()["recovery"].(map[string]interface{})
	assert.Equal(t, uint64(7), recovery["truncated_bytes"])
}

func TestReopenWithoutSnapshotKeepsRecords(t *testing.T) {
	dir := t.TempDir()

	j := openFileJournal(t, dir)
	putShort(t, j, "a", 1)
	putShort(t, j, "b", 2)
	require.NoError(t, j.Close())
	require.NoError(t, keyindex.Remove(filepath.Join(dir, "test.keys")))

	j = openFileJournal(t, dir)
	defer j.Close()

	_, err := j.Get("a", record.TypeShort)
	assert.ErrorIs(t, err, ErrNotFound)

	var active int
	for _, h := range scanAll(t, j) {
		if h.Active {
			active++
		}
	}
	assert.Equal(t, 2, active, "unkeyed records are not reclaimed")
	assert.Zero(t, j.Stats().FreeBlocks)
}

func TestStaleSnapshotIsRepaired(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "test.keys")

	j := openFileJournal(t, dir)
	putShort(t, j, "a", 1)
	require.NoError(t, j.Sync())
	stale, err := os.ReadFile(snapshot)
	require.NoError(t, err)

	_, err = j.Remove("a")
	require.NoError(t, err)
	putShort(t, j, "b", 2)
	require.NoError(t, j.Put("c", record.TypeInt, record.EncodeInt(3)))
	require.NoError(t, j.Close())

	// Restore a snapshot where "a" still points at the slot now owned by "b"
	// and "c" is unknown
	require.NoError(t, os.WriteFile(snapshot, stale, 0644))

	j = openFileJournal(t, dir)
	defer j.Close()

	result := j.Collector().GetStats()["recovery"].(map[string]interface{})
	assert.Equal(t, uint64(1), result["reclaimed_records"])

	// "a" maps to the live record of "b": the index cannot tell them apart
	assert.Equal(t, int16(2), getShort(t, j, "a"))
	_, err = j.Get("c", record.TypeInt)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, j.Stats().Records)
	assert.Equal(t, uint64(4), j.Stats().FreeBytes)
}

func TestCorruptSnapshotIsIgnored(t *testing.T) {
	dir := t.TempDir()

	j := openFileJournal(t, dir)
	putShort(t, j, "a", 1)
	require.NoError(t, j.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.keys"), []byte("garbage"), 0644))

	j = openFileJournal(t, dir)
	defer j.Close()

	assert.Equal(t, 0, j.Stats().Records)
	assert.Equal(t, int64(8), j.Stats().End)
}

func TestBatchSyncSavesSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "batch.keys")

	buf, err := backend.OpenFile(filepath.Join(dir, "batch.journal"), backend.Options{InitialSize: 64, GrowthFactor: 2})
	require.NoError(t, err)
	j, err := Open(buf, nil, Options{
		Logger:        log.NewDiscardLogger(),
		SyncMode:      config.SyncBatch,
		SyncBytes:     20,
		SnapshotPath:  snapshot,
		SnapshotCodec: keyindex.CodecSnappy,
	})
	require.NoError(t, err)
	defer j.Close()

	putShort(t, j, "a", 1)
	_, err = os.Stat(snapshot)
	assert.True(t, os.IsNotExist(err), "8 bytes stay below the batch threshold")

	putShort(t, j, "b", 2)
	putShort(t, j, "c", 3)

	idx := keyindex.NewSharded(1)
	info, err := keyindex.Load(snapshot, idx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Entries)
	assert.Equal(t, int64(24), info.JournalEnd)
}

func TestConcurrentMixedOperations(t *testing.T) {
	j := newMemoryJournal(t, 256, 0)

	const workers = 8
	const opsPerWorker = 300
	const keys = 16

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))

			for i := 0; i < opsPerWorker; i++ {
				key := fmt.Sprintf("k%d", r.Intn(keys))
				switch r.Intn(4) {
				case 0:
					if err := j.Put(key, record.TypeShort, record.EncodeShort(int16(i))); err != nil {
						t.Errorf("put %s: %v", key, err)
					}
				case 1:
					text := strings.Repeat("x", 1+r.Intn(12))
					if err := j.Put(key, record.TypeText, record.EncodeText(text)); err != nil {
						t.Errorf("put %s: %v", key, err)
					}
				case 2:
					_, err := j.Get(key, record.TypeShort)
					if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTypeMismatch) {
						t.Errorf("get %s: %v", key, err)
					}
				case 3:
					if _, err := j.Remove(key); err != nil {
						t.Errorf("remove %s: %v", key, err)
					}
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	var total int64
	var inactive uint64
	for _, h := range scanAll(t, j) {
		total += h.Size()
		if !h.Active {
			inactive += uint64(h.Length)
		}
	}

	stats := j.Stats()
	assert.Equal(t, stats.End, total, "records must tile the journal without gaps")
	assert.Equal(t, inactive, stats.FreeBytes)

	entries, err := j.Entries()
	require.NoError(t, err)
	assert.Equal(t, len(entries), stats.Records)
	for _, e := range entries {
		assert.True(t, e.Header.Active, e.Key)
	}

	first, err := j.Recover()
	require.NoError(t, err)
	second, err := j.Recover()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, inactive, first.FreeBytes)
	assert.Zero(t, first.DroppedKeys)
	assert.Zero(t, first.TruncatedBytes)
}

// failingSyncBuffer is a memory buffer whose Sync always fails
type failingSyncBuffer struct {
	backend.Buffer
}

func (b *failingSyncBuffer) Sync() error {
	return errors.New("disk unavailable")
}

func TestSyncFailureAfterWrite(t *testing.T) {
	mem, err := backend.NewMemory(backend.Options{InitialSize: 256, GrowthFactor: 2})
	require.NoError(t, err)

	j, err := Open(&failingSyncBuffer{Buffer: mem}, nil, Options{
		Name:     "test",
		Logger:   log.NewDiscardLogger(),
		SyncMode: config.SyncImmediate,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	// The value is stored even though the sync failed
	err = j.Put("Test", record.TypeShort, record.EncodeShort(34))
	assert.ErrorIs(t, err, ErrNotSynced)
	assert.Equal(t, int16(34), getShort(t, j, "Test"))

	// A rejected write is not reported as unsynced
	err = j.Put("bad", record.TypeInt, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.False(t, errors.Is(err, ErrNotSynced))

	removed, err := j.Remove("Test")
	assert.True(t, removed)
	assert.ErrorIs(t, err, ErrNotSynced)
	_, err = j.Get("Test", record.TypeShort)
	assert.ErrorIs(t, err, ErrNotFound)

	// An explicit sync reports the failure without the written-but-not-synced wrapper
	err = j.Sync()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotSynced))
}
