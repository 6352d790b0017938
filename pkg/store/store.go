package store

import (
	"github.com/KevoDB/jstore/pkg/config"
	"github.com/KevoDB/jstore/pkg/journal"
	"github.com/KevoDB/jstore/pkg/record"
	"github.com/KevoDB/jstore/pkg/stats"
)

// Store is a named journal with a typed API
type Store struct {
	name    string
	storage config.StorageKind
	journal *journal.Journal
}

// Name returns the name the store was created with
func (s *Store) Name() string {
	return s.name
}

// Storage returns the kind of buffer the store lives in
func (s *Store) Storage() config.StorageKind {
	return s.storage
}

// Journal returns the underlying journal
func (s *Store) Journal() *journal.Journal {
	return s.journal
}

func (s *Store) PutShort(key string, v int16) error {
	return s.journal.Put(key, record.TypeShort, record.EncodeShort(v))
}

func (s *Store) GetShort(key string) (int16, error) {
	payload, err := s.journal.Get(key, record.TypeShort)
	if err != nil {
		return 0, err
	}
	return record.DecodeShort(payload)
}

func (s *Store) PutInt(key string, v int32) error {
	return s.journal.Put(key, record.TypeInt, record.EncodeInt(v))
}

func (s *Store) GetInt(key string) (int32, error) {
	payload, err := s.journal.Get(key, record.TypeInt)
	if err != nil {
		return 0, err
	}
	return record.DecodeInt(payload)
}

func (s *Store) PutLong(key string, v int64) error {
	return s.journal.Put(key, record.TypeLong, record.EncodeLong(v))
}

func (s *Store) GetLong(key string) (int64, error) {
	payload, err := s.journal.Get(key, record.TypeLong)
	if err != nil {
		return 0, err
	}
	return record.DecodeLong(payload)
}

func (s *Store) PutFloat(key string, v float32) error {
	return s.journal.Put(key, record.TypeFloat, record.EncodeFloat(v))
}

func (s *Store) GetFloat(key string) (float32, error) {
	payload, err := s.journal.Get(key, record.TypeFloat)
	if err != nil {
		return 0, err
	}
	return record.DecodeFloat(payload)
}

func (s *Store) PutDouble(key string, v float64) error {
	return s.journal.Put(key, record.TypeDouble, record.EncodeDouble(v))
}

func (s *Store) GetDouble(key string) (float64, error) {
	payload, err := s.journal.Get(key, record.TypeDouble)
	if err != nil {
		return 0, err
	}
	return record.DecodeDouble(payload)
}

// PutChar stores a single character. Only characters of the Basic Multilingual
// Plane can be stored.
func (s *Store) PutChar(key string, v rune) error {
	payload, err := record.EncodeChar(v)
	if err != nil {
		return err
	}
	return s.journal.Put(key, record.TypeChar, payload)
}

func (s *Store) GetChar(key string) (rune, error) {
	payload, err := s.journal.Get(key, record.TypeChar)
	if err != nil {
		return 0, err
	}
	return record.DecodeChar(payload)
}

func (s *Store) PutText(key string, v string) error {
	return s.journal.Put(key, record.TypeText, record.EncodeText(v))
}

func (s *Store) GetText(key string) (string, error) {
	payload, err := s.journal.Get(key, record.TypeText)
	if err != nil {
		return "", err
	}
	return record.DecodeText(payload)
}

// PutBytes stores an opaque byte array
func (s *Store) PutBytes(key string, v []byte) error {
	return s.journal.Put(key, record.TypeByteArray, v)
}

func (s *Store) GetBytes(key string) ([]byte, error) {
	return s.journal.Get(key, record.TypeByteArray)
}

// Remove deletes key and reports whether it existed
func (s *Store) Remove(key string) (bool, error) {
	return s.journal.Remove(key)
}

// Entries lists the live records ordered by key
func (s *Store) Entries() ([]journal.Entry, error) {
	return s.journal.Entries()
}

// Sync flushes the store to stable storage
func (s *Store) Sync() error {
	return s.journal.Sync()
}

// Recover rebuilds the free-space index of the store
func (s *Store) Recover() (stats.RecoveryResult, error) {
	return s.journal.Recover()
}

// Stats returns the shape of the underlying journal
func (s *Store) Stats() journal.Stats {
	return s.journal.Stats()
}

// Collector returns the operation statistics of the store
func (s *Store) Collector() stats.Collector {
	return s.journal.Collector()
}
