// Package freelist tracks reclaimable journal space.
//
// Free blocks are indexed by payload capacity (header excluded). Each capacity
// owns a LIFO stack of block offsets, and capacities are kept in ascending order
// so the smallest sufficient block can be found for a split.
package freelist

import (
	"github.com/KevoDB/jstore/pkg/record"
)

// Kind describes how a free block is going to be reused
type Kind int

const (
	// None means no free block fits and the record must be appended at the tail
	None Kind = iota
	// Exact means the block capacity equals the requested payload length
	Exact
	// Split means the block is larger and a leftover free record must be written
	Split
)

// String returns the placement name used in logs and metrics
func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Split:
		return "split"
	default:
		return "append"
	}
}

// Block is the result of a Find
type Block struct {
	Kind   Kind
	Offset int64
	// Leftover is the payload capacity of the free record that follows the new
	// record when Kind is Split
	Leftover uint32
}

// LeftoverOffset returns the header offset of the leftover free record for a
// split of a block that now holds a record with the given payload length
func (b Block) LeftoverOffset(payloadLen uint32) int64 {
	return b.Offset + record.HeaderSize + int64(payloadLen)
}

// BucketInfo summarizes one size bucket
type BucketInfo struct {
	Size   uint32
	Blocks int
}

// Allocator is the free-space index. It is not safe for concurrent use.
type Allocator struct {
	sizes     *sizeList
	blocks    int
	freeBytes uint64
}

// New creates an empty allocator
func New() *Allocator {
	return &Allocator{sizes: newSizeList()}
}

// Find pops a free block able to hold a payload of payloadLen bytes.
//
// An exact-capacity block is preferred. Otherwise the smallest block with room for
// the new record plus a leftover record of at least one payload byte is split.
func (a *Allocator) Find(payloadLen uint32) Block {
	if a.blocks == 0 {
		return Block{Kind: None, Offset: -1}
	}

	if b := a.sizes.get(payloadLen); b != nil {
		offset := a.take(b)
		return Block{Kind: Exact, Offset: offset}
	}

	minSplit := uint64(payloadLen) + record.HeaderSize + 1
	if minSplit > record.MaxPayloadSize {
		return Block{Kind: None, Offset: -1}
	}

	for n := a.sizes.seek(uint32(minSplit)); n != nil; n = n.next[0] {
		b := n.bucket
		if b.empty() {
			// Never expected, but an empty bucket must not survive a scan
			a.sizes.remove(b.size)
			continue
		}

		size := b.size
		offset := a.take(b)
		return Block{
			Kind:     Split,
			Offset:   offset,
			Leftover: size - payloadLen - record.HeaderSize,
		}
	}

	return Block{Kind: None, Offset: -1}
}

// take pops the most recent offset of b and drops b once it is empty
func (a *Allocator) take(b *bucket) int64 {
	offset := b.pop()
	a.blocks--
	a.freeBytes -= uint64(b.size)
	if b.empty() {
		a.sizes.remove(b.size)
	}
	return offset
}

// Release registers a free block whose header starts at offset
func (a *Allocator) Release(offset int64, size uint32) {
	a.sizes.getOrCreate(size).push(offset)
	a.blocks++
	a.freeBytes += uint64(size)
}

// Withdraw removes one specific free block. It returns false if the block was
// not registered.
func (a *Allocator) Withdraw(offset int64, size uint32) bool {
	b := a.sizes.get(size)
	if b == nil {
		return false
	}

	for i := len(b.offsets) - 1; i >= 0; i-- {
		if b.offsets[i] != offset {
			continue
		}
		b.offsets = append(b.offsets[:i], b.offsets[i+1:]...)
		a.blocks--
		a.freeBytes -= uint64(size)
		if b.empty() {
			a.sizes.remove(size)
		}
		return true
	}

	return false
}

// Reset drops every free block
func (a *Allocator) Reset() {
	a.sizes.reset()
	a.blocks = 0
	a.freeBytes = 0
}

// Len returns the number of free blocks
func (a *Allocator) Len() int {
	return a.blocks
}

// FreeBytes returns the sum of the payload capacities of all free blocks
func (a *Allocator) FreeBytes() uint64 {
	return a.freeBytes
}

// Buckets returns the buckets in ascending size order
func (a *Allocator) Buckets() []BucketInfo {
	infos := make([]BucketInfo, 0, a.sizes.length)
	for n := a.sizes.first(); n != nil; n = n.next[0] {
		infos = append(infos, BucketInfo{Size: n.bucket.size, Blocks: len(n.bucket.offsets)})
	}
	return infos
}
