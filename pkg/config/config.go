package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1

	// Megabyte is the unit of store sizes on the command line and in the environment
	Megabyte = 1024 * 1024

	// JournalSizeFactor is the default journal size in megabytes
	JournalSizeFactor = 100
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// StorageKind selects the backing buffer of a store
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StoragePersisted StorageKind = "persisted"
)

// ParseStorageKind accepts "memory"/"mem" and "persisted"/"file"/"disk"
func ParseStorageKind(s string) (StorageKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory", "mem":
		return StorageMemory, nil
	case "persisted", "file", "disk":
		return StoragePersisted, nil
	default:
		return "", fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, s)
	}
}

// SyncMode controls when a persisted journal is flushed to stable storage
type SyncMode int

const (
	// SyncNone leaves flushing to the operating system and Close
	SyncNone SyncMode = iota
	// SyncBatch flushes once SyncBytes bytes have been written since the last flush
	SyncBatch
	// SyncImmediate flushes after every mutation
	SyncImmediate
)

// String returns the configuration name of the mode
func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncBatch:
		return "batch"
	case SyncImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// ParseSyncMode converts a configuration name into a SyncMode
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return SyncNone, nil
	case "batch":
		return SyncBatch, nil
	case "immediate":
		return SyncImmediate, nil
	default:
		return SyncNone, fmt.Errorf("%w: unknown sync mode %q", ErrInvalidConfig, s)
	}
}

// Config holds the settings shared by every store of a database directory
type Config struct {
	Version int `json:"version"`

	// Storage configuration
	Dir          string      `json:"dir"`
	Storage      StorageKind `json:"storage"`
	InitialSize  int64       `json:"initial_size"`
	MaxSize      int64       `json:"max_size"` // zero means unlimited
	GrowthFactor float64     `json:"growth_factor"`

	// Durability configuration
	SyncMode  SyncMode `json:"sync_mode"`
	SyncBytes int64    `json:"sync_bytes"`

	// Key index configuration
	PersistKeyIndex     bool   `json:"persist_key_index"`
	KeyIndexCompression string `json:"key_index_compression"`
	KeyIndexShards      int    `json:"key_index_shards"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dbPath string) *Config {
	return &Config{
		Version: CurrentManifestVersion,

		Dir:          dbPath,
		Storage:      StoragePersisted,
		InitialSize:  JournalSizeFactor * Megabyte,
		GrowthFactor: 2.0,

		SyncMode:  SyncBatch,
		SyncBytes: 1024 * 1024, // 1MB

		PersistKeyIndex:     true,
		KeyIndexCompression: "zstd",
		KeyIndexShards:      16,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	switch c.Storage {
	case StorageMemory:
	case StoragePersisted:
		if c.Dir == "" {
			return fmt.Errorf("%w: directory not specified for persisted storage", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	}

	if c.InitialSize <= 0 {
		return fmt.Errorf("%w: initial size must be positive", ErrInvalidConfig)
	}

	if c.MaxSize != 0 && c.MaxSize < c.InitialSize {
		return fmt.Errorf("%w: max size must be zero or at least the initial size", ErrInvalidConfig)
	}

	if c.GrowthFactor <= 1.0 {
		return fmt.Errorf("%w: growth factor must be greater than 1.0", ErrInvalidConfig)
	}

	if c.SyncMode < SyncNone || c.SyncMode > SyncImmediate {
		return fmt.Errorf("%w: invalid sync mode %d", ErrInvalidConfig, c.SyncMode)
	}

	if c.SyncMode == SyncBatch && c.SyncBytes <= 0 {
		return fmt.Errorf("%w: sync bytes must be positive in batch mode", ErrInvalidConfig)
	}

	switch c.KeyIndexCompression {
	case "none", "snappy", "zstd":
	default:
		return fmt.Errorf("%w: unknown key index compression %q", ErrInvalidConfig, c.KeyIndexCompression)
	}

	if c.KeyIndexShards <= 0 {
		return fmt.Errorf("%w: key index shards must be positive", ErrInvalidConfig)
	}

	return nil
}

// LoadFromEnv overrides fields from JSTORE_* environment variables. Sizes are in
// megabytes. Malformed values are reported, unset ones are ignored.
func (c *Config) LoadFromEnv() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("JSTORE_DIR"); val != "" {
		c.Dir = val
	}

	if val := os.Getenv("JSTORE_STORAGE"); val != "" {
		kind, err := ParseStorageKind(val)
		if err != nil {
			return err
		}
		c.Storage = kind
	}

	sizes := map[string]*int64{
		"JSTORE_INITIAL_SIZE_MB": &c.InitialSize,
		"JSTORE_MAX_SIZE_MB":     &c.MaxSize,
	}
	for name, dst := range sizes {
		if val := os.Getenv(name); val != "" {
			mb, err := strconv.ParseInt(val, 10, 64)
			if err != nil || mb < 0 {
				return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, name, val)
			}
			*dst = mb * Megabyte
		}
	}

	if val := os.Getenv("JSTORE_SYNC_MODE"); val != "" {
		mode, err := ParseSyncMode(val)
		if err != nil {
			return err
		}
		c.SyncMode = mode
	}

	if val := os.Getenv("JSTORE_KEY_INDEX_COMPRESSION"); val != "" {
		c.KeyIndexCompression = strings.ToLower(val)
	}

	if val := os.Getenv("JSTORE_PERSIST_KEY_INDEX"); val != "" {
		persist, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: JSTORE_PERSIST_KEY_INDEX=%q", ErrInvalidConfig, val)
		}
		c.PersistKeyIndex = persist
	}

	return nil
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:             c.Version,
		Dir:                 c.Dir,
		Storage:             c.Storage,
		InitialSize:         c.InitialSize,
		MaxSize:             c.MaxSize,
		GrowthFactor:        c.GrowthFactor,
		SyncMode:            c.SyncMode,
		SyncBytes:           c.SyncBytes,
		PersistKeyIndex:     c.PersistKeyIndex,
		KeyIndexCompression: c.KeyIndexCompression,
		KeyIndexShards:      c.KeyIndexShards,
	}
}

// LoadConfigFromManifest loads the current configuration from the manifest in dbPath
func LoadConfigFromManifest(dbPath string) (*Config, error) {
	m, err := LoadManifest(dbPath)
	if err != nil {
		return nil, err
	}
	return m.GetConfig(), nil
}

// SaveManifest records the configuration in the manifest of dbPath, creating the
// manifest if needed. Registered stores are preserved.
func (c *Config) SaveManifest(dbPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	m, err := LoadManifest(dbPath)
	switch {
	case errors.Is(err, ErrManifestNotFound):
		if m, err = NewManifest(dbPath, c.Clone()); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		snapshot := c.Clone()
		if err := m.UpdateConfig(func(dst *Config) { dst.copyFrom(snapshot) }); err != nil {
			return err
		}
	}

	return m.Save()
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// copyFrom overwrites every field of c with src; c must not be shared yet
func (c *Config) copyFrom(src *Config) {
	c.Version = src.Version
	c.Dir = src.Dir
	c.Storage = src.Storage
	c.InitialSize = src.InitialSize
	c.MaxSize = src.MaxSize
	c.GrowthFactor = src.GrowthFactor
	c.SyncMode = src.SyncMode
	c.SyncBytes = src.SyncBytes
	c.PersistKeyIndex = src.PersistKeyIndex
	c.KeyIndexCompression = src.KeyIndexCompression
	c.KeyIndexShards = src.KeyIndexShards
}
