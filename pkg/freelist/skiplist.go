package freelist

import (
	"math/rand"
	"time"
)

const (
	// MaxHeight is the maximum height of the skip list
	MaxHeight = 12

	// BranchingFactor determines the probability of increasing the height
	BranchingFactor = 4
)

// bucket holds every free block of one payload size. Offsets are used as a
// LIFO stack: the most recently released block is reused first.
type bucket struct {
	size    uint32
	offsets []int64
}

func (b *bucket) push(offset int64) {
	b.offsets = append(b.offsets, offset)
}

func (b *bucket) pop() int64 {
	last := len(b.offsets) - 1
	offset := b.offsets[last]
	b.offsets = b.offsets[:last]
	return offset
}

func (b *bucket) empty() bool {
	return len(b.offsets) == 0
}

// node represents a node in the skip list
type node struct {
	bucket *bucket
	next   [MaxHeight]*node
}

// sizeList is a skip list of buckets ordered by ascending size.
// It is not safe for concurrent use; the Allocator owner serializes access.
type sizeList struct {
	head      *node
	maxHeight int
	rnd       *rand.Rand
	length    int
}

func newSizeList() *sizeList {
	return &sizeList{
		head:      &node{},
		maxHeight: 1,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// randomHeight generates a random height for a new node
func (s *sizeList) randomHeight() int {
	height := 1
	for height < MaxHeight && s.rnd.Intn(BranchingFactor) == 0 {
		height++
	}
	return height
}

// findPrev fills prev with the last node before size at every level and returns
// the first node whose size is >= size
func (s *sizeList) findPrev(size uint32, prev *[MaxHeight]*node) *node {
	current := s.head
	for level := s.maxHeight - 1; level >= 0; level-- {
		for next := current.next[level]; next != nil; next = current.next[level] {
			if next.bucket.size >= size {
				break
			}
			current = next
		}
		if prev != nil {
			prev[level] = current
		}
	}
	return current.next[0]
}

// get returns the bucket with exactly the given size
func (s *sizeList) get(size uint32) *bucket {
	n := s.findPrev(size, nil)
	if n != nil && n.bucket.size == size {
		return n.bucket
	}
	return nil
}

// getOrCreate returns the bucket for size, inserting an empty one if needed
func (s *sizeList) getOrCreate(size uint32) *bucket {
	var prev [MaxHeight]*node
	n := s.findPrev(size, &prev)
	if n != nil && n.bucket.size == size {
		return n.bucket
	}

	height := s.randomHeight()
	if height > s.maxHeight {
		for level := s.maxHeight; level < height; level++ {
			prev[level] = s.head
		}
		s.maxHeight = height
	}

	created := &node{bucket: &bucket{size: size}}
	for level := 0; level < height; level++ {
		created.next[level] = prev[level].next[level]
		prev[level].next[level] = created
	}
	s.length++

	return created.bucket
}

// remove unlinks the bucket with the given size
func (s *sizeList) remove(size uint32) bool {
	var prev [MaxHeight]*node
	n := s.findPrev(size, &prev)
	if n == nil || n.bucket.size != size {
		return false
	}

	for level := 0; level < s.maxHeight; level++ {
		if prev[level].next[level] != n {
			break
		}
		prev[level].next[level] = n.next[level]
	}

	for s.maxHeight > 1 && s.head.next[s.maxHeight-1] == nil {
		s.maxHeight--
	}
	s.length--

	return true
}

// seek returns the first node whose size is >= size
func (s *sizeList) seek(size uint32) *node {
	return s.findPrev(size, nil)
}

// first returns the smallest node
func (s *sizeList) first() *node {
	return s.head.next[0]
}

// reset drops every bucket
func (s *sizeList) reset() {
	s.head = &node{}
	s.maxHeight = 1
	s.length = 0
}
