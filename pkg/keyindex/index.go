// Package keyindex maps store keys to the offsets of their journal records.
package keyindex

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when none is configured
const DefaultShards = 16

// Index is the key to header offset mapping a journal consults on every access
type Index interface {
	// Put maps key to offset, replacing any previous mapping
	Put(key string, offset int64)

	// Get returns the offset for key
	Get(key string) (int64, bool)

	// Delete removes key and reports whether it was present
	Delete(key string) bool

	// Len returns the number of keys
	Len() int

	// Range calls fn for each mapping until fn returns false. The order is unspecified.
	Range(fn func(key string, offset int64) bool)

	// Reset drops every mapping
	Reset()
}

type shard struct {
	mu      sync.RWMutex
	offsets map[string]int64
}

// Sharded is an Index that spreads keys over independently locked maps
type Sharded struct {
	shards []*shard
	mask   uint64
}

// NewSharded creates an index with n shards, rounded up to a power of two
func NewSharded(n int) *Sharded {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}

	s := &Sharded{
		shards: make([]*shard, size),
		mask:   uint64(size - 1),
	}
	for i := range s.shards {
		s.shards[i] = &shard{offsets: make(map[string]int64)}
	}
	return s
}

func (s *Sharded) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Put maps key to offset
func (s *Sharded) Put(key string, offset int64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.offsets[key] = offset
	sh.mu.Unlock()
}

// Get returns the offset for key
func (s *Sharded) Get(key string) (int64, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	offset, ok := sh.offsets[key]
	sh.mu.RUnlock()
	return offset, ok
}

// Delete removes key
func (s *Sharded) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.offsets[key]; !ok {
		return false
	}
	delete(sh.offsets, key)
	return true
}

// Len returns the number of keys
func (s *Sharded) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.offsets)
		sh.mu.RUnlock()
	}
	return n
}

// Range visits every mapping. Each shard is read locked while it is visited, so
// fn must not modify the index.
func (s *Sharded) Range(fn func(key string, offset int64) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, offset := range sh.offsets {
			if !fn(key, offset) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// Reset drops every mapping
func (s *Sharded) Reset() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.offsets = make(map[string]int64)
		sh.mu.Unlock()
	}
}

// Keys returns all keys of idx in ascending order
func Keys(idx Index) []string {
	keys := make([]string, 0, idx.Len())
	idx.Range(func(key string, _ int64) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}
