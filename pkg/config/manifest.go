package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// StoreEntry registers one named store of a database directory
type StoreEntry struct {
	Name    string      `json:"name"`
	Storage StorageKind `json:"storage"`
	SizeMB  int64       `json:"size_mb"`
	Created int64       `json:"created"`
}

type ManifestEntry struct {
	Timestamp int64                 `json:"timestamp"`
	Version   int                   `json:"version"`
	Config    *Config               `json:"config"`
	Stores    map[string]StoreEntry `json:"stores,omitempty"`
}

// Manifest is the append-only history of a database directory's configuration
// and store catalog. The last entry is current.
type Manifest struct {
	DBPath     string
	Entries    []ManifestEntry
	Current    *ManifestEntry
	LastUpdate time.Time
	mu         sync.RWMutex
}

// NewManifest creates a new manifest for the given database path
func NewManifest(dbPath string, config *Config) (*Manifest, error) {
	if config == nil {
		config = NewDefaultConfig(dbPath)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    config,
	}

	m := &Manifest{
		DBPath:     dbPath,
		Entries:    []ManifestEntry{entry},
		LastUpdate: time.Now(),
	}
	m.Current = &m.Entries[0]

	return m, nil
}

// LoadManifest loads an existing manifest from the database directory
func LoadManifest(dbPath string) (*Manifest, error) {
	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries in manifest", ErrInvalidManifest)
	}

	current := &entries[len(entries)-1]
	if current.Config == nil {
		return nil, fmt.Errorf("%w: current entry has no config", ErrInvalidManifest)
	}
	if err := current.Config.Validate(); err != nil {
		return nil, err
	}

	return &Manifest{
		DBPath:     dbPath,
		Entries:    entries,
		Current:    current,
		LastUpdate: time.Now(),
	}, nil
}

// Save persists the manifest to disk
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Current.Config.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(m.DBPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(m.DBPath, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(m.Entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	m.LastUpdate = time.Now()
	return nil
}

// UpdateConfig appends an entry holding a modified copy of the current
// configuration. The store catalog carries over.
func (m *Manifest) UpdateConfig(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newConfig := m.Current.Config.Clone()
	fn(newConfig)

	if err := newConfig.Validate(); err != nil {
		return err
	}

	m.appendEntry(newConfig, copyStores(m.Current.Stores))
	return nil
}

// AddStore registers a store in the current entry
func (m *Manifest) AddStore(entry StoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.Name == "" {
		return fmt.Errorf("%w: store name cannot be empty", ErrInvalidManifest)
	}
	if entry.Created == 0 {
		entry.Created = time.Now().Unix()
	}

	if m.Current.Stores == nil {
		m.Current.Stores = make(map[string]StoreEntry)
	}
	m.Current.Stores[entry.Name] = entry
	return nil
}

// RemoveStore removes a store from the current entry
func (m *Manifest) RemoveStore(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Current.Stores, name)
}

// GetStore returns the registration of a store
func (m *Manifest) GetStore(name string) (StoreEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.Current.Stores[name]
	return entry, ok
}

// GetStores returns every registered store ordered by name
func (m *Manifest) GetStores() []StoreEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stores := make([]StoreEntry, 0, len(m.Current.Stores))
	for _, entry := range m.Current.Stores {
		stores = append(stores, entry)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].Name < stores[j].Name })
	return stores
}

// GetConfig returns the current configuration
func (m *Manifest) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Current.Config
}

func (m *Manifest) appendEntry(cfg *Config, stores map[string]StoreEntry) {
	m.Entries = append(m.Entries, ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    cfg,
		Stores:    stores,
	})
	m.Current = &m.Entries[len(m.Entries)-1]
}

func copyStores(src map[string]StoreEntry) map[string]StoreEntry {
	if src == nil {
		return nil
	}
	dst := make(map[string]StoreEntry, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
