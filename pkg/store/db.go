// Package store provides typed key-value stores on top of journals and a
// registry of named stores sharing one database directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/KevoDB/jstore/pkg/backend"
	"github.com/KevoDB/jstore/pkg/common/log"
	"github.com/KevoDB/jstore/pkg/config"
	"github.com/KevoDB/jstore/pkg/journal"
	"github.com/KevoDB/jstore/pkg/keyindex"
	"github.com/KevoDB/jstore/pkg/stats"
	"github.com/KevoDB/jstore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	journalExt  = ".journal"
	snapshotExt = ".keys"
)

// DB is a registry of named stores. Persisted stores are recorded in the
// manifest of the database directory and reopened by Open; memory stores live
// as long as the DB.
type DB struct {
	dir      string
	manifest *config.Manifest
	logger   log.Logger
	tel      telemetry.Telemetry

	mu     sync.RWMutex
	stores map[string]*Store

	closed atomic.Bool
}

// Option configures a DB
type Option func(*DB)

// WithLogger sets the logger of the DB and its stores
func WithLogger(logger log.Logger) Option {
	return func(db *DB) {
		db.logger = logger
	}
}

// WithTelemetry sets the telemetry used by every store
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(db *DB) {
		db.tel = tel
	}
}

// Open opens the database directory dir, creating it with a default
// configuration if needed, and reopens every persisted store it registers.
func Open(dir string, opts ...Option) (*DB, error) {
	db := &DB{
		dir:    dir,
		logger: log.GetDefaultLogger(),
		tel:    telemetry.NewNoop(),
		stores: make(map[string]*Store),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.logger = db.logger.WithField("db", dir)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	manifest, err := config.LoadManifest(dir)
	if err != nil {
		if !errors.Is(err, config.ErrManifestNotFound) {
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
		manifest, err = config.NewManifest(dir, config.NewDefaultConfig(dir))
		if err != nil {
			return nil, fmt.Errorf("failed to create manifest: %w", err)
		}
		if err := manifest.Save(); err != nil {
			return nil, fmt.Errorf("failed to save manifest: %w", err)
		}
		db.logger.Info("Created database")
	}
	db.manifest = manifest

	for _, entry := range manifest.GetStores() {
		s, err := db.openStore(entry.Name, entry.Storage, entry.SizeMB)
		if err != nil {
			db.closeStores()
			return nil, fmt.Errorf("failed to reopen store %q: %w", entry.Name, err)
		}
		db.stores[entry.Name] = s
	}

	db.logger.Info("Opened database with %d stores", len(db.stores))
	return db, nil
}

// Config returns a copy of the current configuration
func (db *DB) Config() *config.Config {
	return db.manifest.GetConfig().Clone()
}

// UpdateConfig changes the configuration used for stores created from now on
func (db *DB) UpdateConfig(fn func(*config.Config)) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	if err := db.manifest.UpdateConfig(fn); err != nil {
		return err
	}
	return db.manifest.Save()
}

// CreateStore creates a store. A sizeMB of zero uses the configured initial size.
// An empty storage uses the configured default.
func (db *DB) CreateStore(name string, storage config.StorageKind, sizeMB int64) (*Store, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if sizeMB < 0 {
		return nil, fmt.Errorf("%w: store size must not be negative", config.ErrInvalidConfig)
	}
	if storage == "" {
		storage = db.manifest.GetConfig().Storage
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.stores[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreExists, name)
	}

	s, err := db.openStore(name, storage, sizeMB)
	if err != nil {
		return nil, err
	}

	if storage == config.StoragePersisted {
		err := db.manifest.AddStore(config.StoreEntry{Name: name, Storage: storage, SizeMB: sizeMB})
		if err == nil {
			err = db.manifest.Save()
		}
		if err != nil {
			s.journal.Close()
			db.manifest.RemoveStore(name)
			return nil, fmt.Errorf("failed to register store: %w", err)
		}
	}

	db.stores[name] = s
	db.tel.RecordCounter(context.Background(), "jstore.store.created", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrStore, name),
		attribute.String(telemetry.AttrStorage, string(storage)),
	)
	db.logger.Info("Created %s store %q", storage, name)
	return s, nil
}

func (db *DB) openStore(name string, storage config.StorageKind, sizeMB int64) (*Store, error) {
	cfg := db.manifest.GetConfig().Clone()

	opts := backend.Options{
		InitialSize:  cfg.InitialSize,
		MaxSize:      cfg.MaxSize,
		GrowthFactor: cfg.GrowthFactor,
	}
	if sizeMB > 0 {
		opts.InitialSize = sizeMB * config.Megabyte
	}
	if opts.MaxSize > 0 && opts.MaxSize < opts.InitialSize {
		opts.MaxSize = opts.InitialSize
	}

	codec, err := keyindex.ParseCodec(cfg.KeyIndexCompression)
	if err != nil {
		return nil, err
	}

	jopts := journal.Options{
		Name:          name,
		Logger:        db.logger.WithField("store", name),
		Stats:         stats.NewAtomicCollector(),
		Telemetry:     db.tel,
		SyncMode:      cfg.SyncMode,
		SyncBytes:     cfg.SyncBytes,
		SnapshotCodec: codec,
	}

	var buf backend.Buffer
	switch storage {
	case config.StorageMemory:
		buf, err = backend.NewMemory(opts)
	case config.StoragePersisted:
		buf, err = backend.OpenFile(db.journalPath(name), opts)
		if cfg.PersistKeyIndex {
			jopts.SnapshotPath = db.snapshotPath(name)
		}
	default:
		return nil, fmt.Errorf("%w: unknown storage %q", config.ErrInvalidConfig, storage)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s buffer: %w", storage, err)
	}

	j, err := journal.Open(buf, keyindex.NewSharded(cfg.KeyIndexShards), jopts)
	if err != nil {
		buf.Close()
		return nil, err
	}

	return &Store{name: name, storage: storage, journal: j}, nil
}

// Store returns the store registered under name
func (db *DB) Store(name string) (*Store, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	s, ok := db.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	return s, nil
}

// DeleteStore closes a store and removes its files
func (db *DB) DeleteStore(name string) error {
	if db.closed.Load() {
		return ErrDBClosed
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.stores[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	delete(db.stores, name)

	if err := s.journal.Close(); err != nil {
		db.logger.Warn("Failed to close store %q: %v", name, err)
	}

	if s.storage == config.StoragePersisted {
		db.manifest.RemoveStore(name)
		if err := db.manifest.Save(); err != nil {
			return fmt.Errorf("failed to unregister store: %w", err)
		}

		if err := keyindex.Remove(db.snapshotPath(name)); err != nil {
			return err
		}
		journalPath := db.journalPath(name)
		for _, path := range []string{journalPath, backend.LockPath(journalPath)} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
		}
	}

	db.tel.RecordCounter(context.Background(), "jstore.store.deleted", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrStore, name),
	)
	db.logger.Info("Deleted store %q", name)
	return nil
}

// Stores returns the names of all stores in order
func (db *DB) Stores() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.stores))
	for name := range db.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every store. Memory stores are lost.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	err := db.closeStores()
	db.logger.Info("Closed database")
	return err
}

func (db *DB) closeStores() error {
	var errs []error
	for name, s := range db.stores {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store %q: %w", name, err))
		}
	}
	db.stores = make(map[string]*Store)
	return errors.Join(errs...)
}

func (db *DB) journalPath(name string) string {
	return filepath.Join(db.dir, name+journalExt)
}

func (db *DB) snapshotPath(name string) string {
	return filepath.Join(db.dir, name+snapshotExt)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || name != filepath.Clean(name) {
		return fmt.Errorf("%w: %q", ErrInvalidStoreName, name)
	}
	return nil
}
