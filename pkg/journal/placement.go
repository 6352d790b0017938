package journal

import (
	"fmt"

	"github.com/KevoDB/jstore/pkg/freelist"
	"github.com/KevoDB/jstore/pkg/record"
)

// placement is where a record of a given payload length is going to be written
type placement struct {
	block  freelist.Block
	offset int64
	// size is the full record size, header included
	size int64
}

func (p placement) tail() bool {
	return p.block.Kind == freelist.None
}

// capacity is the payload capacity of the free block the placement consumed
func (p placement) capacity(payloadLen uint32) uint32 {
	if p.block.Kind == freelist.Split {
		return payloadLen + record.HeaderSize + p.block.Leftover
	}
	return payloadLen
}

// place picks the offset for a record. Free blocks are preferred; otherwise the
// record goes to the tail and the buffer is grown until it fits. A failed growth
// leaves the journal untouched.
func (j *Journal) place(payloadLen uint32) (placement, error) {
	size := record.HeaderSize + int64(payloadLen)

	if b := j.free.Find(payloadLen); b.Kind != freelist.None {
		return placement{block: b, offset: b.Offset, size: size}, nil
	}

	pos := j.end
	for pos+size > j.buf.Capacity() {
		capacity := j.buf.Capacity()
		next, err := j.buf.Grow(capacity, pos)
		if err != nil {
			return placement{}, fmt.Errorf("failed to grow journal for %d byte record: %w", size, err)
		}
		if j.buf.Capacity() <= capacity {
			return placement{}, fmt.Errorf("%w: %d byte record at %d, capacity %d", ErrCapacityExceeded, size, pos, capacity)
		}

		j.collector.TrackGrow()
		j.metrics.RecordGrow(j.ctx, capacity, j.buf.Capacity())
		j.logger.Info("Grew journal from %d to %d bytes", capacity, j.buf.Capacity())
		pos = next
	}

	return placement{block: freelist.Block{Kind: freelist.None, Offset: -1}, offset: pos, size: size}, nil
}

// unplace returns a block taken by place to the free index after a failed write
func (j *Journal) unplace(p placement, payloadLen uint32) {
	if p.tail() {
		return
	}
	j.free.Release(p.offset, p.capacity(payloadLen))
}
