package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KevoDB/jstore/pkg/common/log"
	"github.com/KevoDB/jstore/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T, dir string) *DB {
	t.Helper()
	db, err := Open(dir, WithLogger(log.NewDiscardLogger()))
	require.NoError(t, err)
	return db
}

func TestTypedRoundTrip(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	s, err := db.CreateStore("typed", config.StorageMemory, 1)
	require.NoError(t, err)

	require.NoError(t, s.PutShort("short", -7))
	require.NoError(t, s.PutInt("int", 1<<30))
	require.NoError(t, s.PutLong("long", -1<<60))
	require.NoError(t, s.PutFloat("float", 0.5))
	require.NoError(t, s.PutDouble("double", 1e100))
	require.NoError(t, s.PutChar("char", 'Ж'))
	require.NoError(t, s.PutText("text", "journal"))
	require.NoError(t, s.PutBytes("bytes", []byte{9, 8, 7}))

	short, err := s.GetShort("short")
	require.NoError(t, err)
	assert.Equal(t, int16(-7), short)

	i, err := s.GetInt("int")
	require.NoError(t, err)
	assert.Equal(t, int32(1<<30), i)

	long, err := s.GetLong("long")
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<60), long)

	f, err := s.GetFloat("float")
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), f)

	d, err := s.GetDouble("double")
	require.NoError(t, err)
	assert.Equal(t, 1e100, d)

	c, err := s.GetChar("char")
	require.NoError(t, err)
	assert.Equal(t, 'Ж', c)

	text, err := s.GetText("text")
	require.NoError(t, err)
	assert.Equal(t, "journal", text)

	b, err := s.GetBytes("bytes")
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7}, b)

	_, err = s.GetInt("short")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = s.GetText("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.PutChar("emoji", '😀'), ErrInvalidPayload)

	assert.ErrorIs(t, s.PutText("broken", "\xff\xfe"), ErrInvalidPayload)
	_, err = s.GetText("broken")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScenario(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	s, err := db.CreateStore("MyTestDataStore", config.StoragePersisted, 10)
	require.NoError(t, err)

	require.NoError(t, s.PutShort("Test", 34))
	require.NoError(t, s.PutShort("Test2", 44))
	require.NoError(t, s.PutShort("Test3", 100))

	removed, err := s.Remove("Test2")
	require.NoError(t, err)
	assert.True(t, removed)

	v, err := s.GetShort("Test")
	require.NoError(t, err)
	assert.Equal(t, int16(34), v)

	_, err = s.GetShort("Test2")
	assert.ErrorIs(t, err, ErrNotFound)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, int64(10*config.Megabyte), stats.Capacity)
}

func TestRegistry(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	_, err := db.CreateStore("b", config.StorageMemory, 1)
	require.NoError(t, err)
	_, err = db.CreateStore("a", config.StoragePersisted, 1)
	require.NoError(t, err)

	_, err = db.CreateStore("a", config.StorageMemory, 1)
	assert.ErrorIs(t, err, ErrStoreExists)

	assert.Equal(t, []string{"a", "b"}, db.Stores())

	s, err := db.Store("b")
	require.NoError(t, err)
	assert.Equal(t, "b", s.Name())
	assert.Equal(t, config.StorageMemory, s.Storage())

	_, err = db.Store("c")
	assert.ErrorIs(t, err, ErrStoreNotFound)
	assert.ErrorIs(t, db.DeleteStore("c"), ErrStoreNotFound)

	for _, name := range []string{"", ".", "..", "x/y", "../up"} {
		_, err := db.CreateStore(name, config.StorageMemory, 1)
		assert.ErrorIs(t, err, ErrInvalidStoreName, name)
	}

	_, err = db.CreateStore("neg", config.StorageMemory, -1)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = db.CreateStore("odd", config.StorageKind("tape"), 1)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestDefaultStorageFromConfig(t *testing.T) {
	db := openDB(t, t.TempDir())
	defer db.Close()

	require.NoError(t, db.UpdateConfig(func(c *config.Config) {
		c.Storage = config.StorageMemory
		c.InitialSize = config.Megabyte
	}))

	s, err := db.CreateStore("default", "", 0)
	require.NoError(t, err)
	assert.Equal(t, config.StorageMemory, s.Storage())
	assert.Equal(t, int64(config.Megabyte), s.Stats().Capacity)
	assert.Equal(t, config.StorageMemory, db.Config().Storage)
}

func TestReopenPersistedStores(t *testing.T) {
	dir := t.TempDir()

	db := openDB(t, dir)
	disk, err := db.CreateStore("disk", config.StoragePersisted, 1)
	require.NoError(t, err)
	mem, err := db.CreateStore("mem", config.StorageMemory, 1)
	require.NoError(t, err)

	require.NoError(t, disk.PutText("greeting", "hello"))
	require.NoError(t, disk.PutLong("answer", 42))
	require.NoError(t, disk.PutShort("gone", 1))
	_, err = disk.Remove("gone")
	require.NoError(t, err)
	require.NoError(t, mem.PutInt("lost", 1))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db = openDB(t, dir)
	defer db.Close()

	assert.Equal(t, []string{"disk"}, db.Stores(), "memory stores do not survive a restart")

	disk, err = db.Store("disk")
	require.NoError(t, err)

	text, err := disk.GetText("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	answer, err := disk.GetLong("answer")
	require.NoError(t, err)
	assert.Equal(t, int64(42), answer)

	_, err = disk.GetShort("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	stats := disk.Stats()
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, uint64(2), stats.FreeBytes)

	entries, err := disk.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "answer", entries[0].Key)
	assert.Equal(t, "greeting", entries[1].Key)
}

func TestDeleteStoreRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	defer db.Close()

	s, err := db.CreateStore("doomed", config.StoragePersisted, 1)
	require.NoError(t, err)
	require.NoError(t, s.PutInt("x", 1))
	require.NoError(t, s.Sync())

	_, err = os.Stat(filepath.Join(dir, "doomed.journal"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "doomed.keys"))
	require.NoError(t, err)

	require.NoError(t, db.DeleteStore("doomed"))

	for _, name := range []string{"doomed.journal", "doomed.keys", "doomed.journal.lock"} {
		_, err = os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	manifest, err := config.LoadManifest(dir)
	require.NoError(t, err)
	_, ok := manifest.GetStore("doomed")
	assert.False(t, ok)

	// The name is free again
	_, err = db.CreateStore("doomed", config.StorageMemory, 1)
	require.NoError(t, err)
}

func TestClosedDB(t *testing.T) {
	db := openDB(t, t.TempDir())
	require.NoError(t, db.Close())

	_, err := db.CreateStore("x", config.StorageMemory, 1)
	assert.ErrorIs(t, err, ErrDBClosed)
	_, err = db.Store("x")
	assert.ErrorIs(t, err, ErrDBClosed)
	assert.ErrorIs(t, db.DeleteStore("x"), ErrDBClosed)
	assert.ErrorIs(t, db.UpdateConfig(func(*config.Config) {}), ErrDBClosed)
}
