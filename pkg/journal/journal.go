// Package journal implements the journal engine.
//
// A journal is a flat sequence of records in a backing buffer. Removed and
// overwritten records stay in place as inactive slots and are indexed by a
// free-space allocator so later writes can reuse them. Keys are mapped to record
// offsets by a key index kept next to the journal.
package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/KevoDB/jstore/pkg/backend"
	"github.com/KevoDB/jstore/pkg/common/log"
	"github.com/KevoDB/jstore/pkg/config"
	"github.com/KevoDB/jstore/pkg/freelist"
	"github.com/KevoDB/jstore/pkg/keyindex"
	"github.com/KevoDB/jstore/pkg/record"
	"github.com/KevoDB/jstore/pkg/stats"
	"github.com/KevoDB/jstore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Options configure a journal
type Options struct {
	// Name labels logs and metrics
	Name string

	Logger    log.Logger
	Stats     stats.Collector
	Telemetry telemetry.Telemetry

	SyncMode  config.SyncMode
	SyncBytes int64

	// SnapshotPath is where the key index is persisted. Empty disables snapshots.
	SnapshotPath  string
	SnapshotCodec keyindex.Codec
}

// Stats describes the current shape of a journal
type Stats struct {
	Records    int
	End        int64
	Capacity   int64
	FreeBytes  uint64
	FreeBlocks int
	Buckets    []freelist.BucketInfo
}

// Entry describes the live record of a key
type Entry struct {
	Key    string
	Offset int64
	Header record.Header
}

// Journal is the journal engine. All operations are serialized by one mutex.
type Journal struct {
	mu sync.Mutex

	buf  backend.Buffer
	idx  keyindex.Index
	free *freelist.Allocator
	opts Options

	logger    log.Logger
	collector stats.Collector
	tel       telemetry.Telemetry
	metrics   JournalMetrics
	ctx       context.Context

	end      int64
	records  int
	unsynced int64

	// indexComplete is false when the key index could not be restored, in which
	// case active records without a key are kept rather than reclaimed
	indexComplete bool
	closed        bool
}

// Open creates a journal on buf. Records already present in buf are recovered and
// the key index is restored from its snapshot when one is configured. The caller
// keeps ownership of buf if Open fails.
func Open(buf backend.Buffer, idx keyindex.Index, opts Options) (*Journal, error) {
	if buf == nil {
		return nil, errors.New("journal needs a backing buffer")
	}
	if idx == nil {
		idx = keyindex.NewSharded(keyindex.DefaultShards)
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewAtomicCollector()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNoop()
	}

	j := &Journal{
		buf:       buf,
		idx:       idx,
		free:      freelist.New(),
		opts:      opts,
		logger:    opts.Logger.WithField("journal", opts.Name),
		collector: opts.Stats,
		tel:       opts.Telemetry,
		metrics:   NewJournalMetrics(opts.Telemetry, opts.Name),
		ctx:       context.Background(),
		end:       buf.Size(),
	}
	j.indexComplete = j.end == 0

	if opts.SnapshotPath != "" {
		if err := j.loadSnapshot(); err != nil {
			return nil, err
		}
	}

	if j.end > 0 || j.idx.Len() > 0 {
		if _, err := j.recoverLocked(); err != nil {
			return nil, fmt.Errorf("failed to recover journal: %w", err)
		}
	}

	j.trackSize()
	j.logger.Info("Opened journal with %d records in %d bytes (capacity %d)", j.records, j.end, j.buf.Capacity())
	return j, nil
}

func (j *Journal) loadSnapshot() error {
	info, err := keyindex.Load(j.opts.SnapshotPath, j.idx)
	switch {
	case err == nil:
		j.indexComplete = true
		if info.JournalEnd != j.end {
			j.logger.Warn("Key index snapshot was taken at journal length %d, journal is %d bytes", info.JournalEnd, j.end)
		}
		j.logger.Debug("Loaded %d keys from %s snapshot", info.Entries, info.Codec)
	case errors.Is(err, keyindex.ErrNoSnapshot):
		if j.end > 0 {
			j.logger.Warn("No key index snapshot for a journal of %d bytes, unkeyed records are kept", j.end)
		}
	case errors.Is(err, keyindex.ErrCorruptSnapshot):
		j.idx.Reset()
		j.logger.Warn("Ignoring key index snapshot: %v", err)
	default:
		return fmt.Errorf("failed to load key index snapshot: %w", err)
	}
	return nil
}

// Put stores payload under key, replacing any previous record of the key.
// The previous slot becomes free once the new record is written. An error
// wrapping ErrNotSynced means the value was stored but the sync that followed
// failed.
func (j *Journal) Put(key string, t record.Type, payload []byte) error {
	start := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	p, err := j.putLocked(key, t, payload)
	if err != nil {
		j.fail(stats.OpPut, telemetry.OpTypePut, err)
		return err
	}

	j.collector.TrackOperationWithLatency(stats.OpPut, uint64(time.Since(start).Nanoseconds()))
	j.collector.TrackBytes(true, uint64(p.size))
	j.collector.TrackPlacement(stats.PlacementKind(p.block.Kind.String()))
	j.trackSize()
	j.metrics.RecordPut(j.ctx, time.Since(start), p.size, t.String(), p.block.Kind.String())

	return j.syncAfterWrite()
}

func (j *Journal) putLocked(key string, t record.Type, payload []byte) (placement, error) {
	if j.closed {
		return placement{}, ErrClosed
	}
	if err := record.CheckPayload(t, payload); err != nil {
		return placement{}, err
	}
	if uint64(len(payload)) > record.MaxPayloadSize {
		return placement{}, fmt.Errorf("%w: payload of %d bytes is too large", ErrInvalidPayload, len(payload))
	}
	payloadLen := uint32(len(payload))

	// The old slot is released before placing so an overwrite can reuse it
	oldOff, existed := j.idx.Get(key)
	var old record.Header
	reuseOld := false
	if existed {
		h, err := record.ReadHeader(j.buf, oldOff)
		if err != nil {
			return placement{}, fmt.Errorf("failed to read record of key %q: %w", key, err)
		}
		if h.Active {
			old = h
			reuseOld = true
			j.free.Release(oldOff, old.Length)
		}
	}

	rollback := func(p *placement) {
		if p != nil {
			j.unplace(*p, payloadLen)
		}
		if reuseOld {
			j.free.Withdraw(oldOff, old.Length)
		}
	}

	p, err := j.place(payloadLen)
	if err != nil {
		rollback(nil)
		return placement{}, err
	}

	// The leftover header goes first: until the record itself is written, the
	// header at p.offset still describes the whole free block.
	if p.block.Kind == freelist.Split {
		if err := record.WriteInactive(j.buf, p.block.LeftoverOffset(payloadLen), p.block.Leftover); err != nil {
			rollback(&p)
			return placement{}, err
		}
	}
	if _, err := record.Write(j.buf, p.offset, t, payload); err != nil {
		rollback(&p)
		return placement{}, err
	}

	if p.block.Kind == freelist.Split {
		j.free.Release(p.block.LeftoverOffset(payloadLen), p.block.Leftover)
	}
	if p.tail() && p.offset+p.size > j.end {
		j.end = p.offset + p.size
	}

	j.idx.Put(key, p.offset)
	if !existed {
		j.records++
	}

	if reuseOld && oldOff != p.offset {
		if err := record.WriteInactive(j.buf, oldOff, old.Length); err != nil {
			// The stale record stays active on disk; recovery reclaims it
			j.free.Withdraw(oldOff, old.Length)
			j.logger.Warn("Failed to deactivate previous record of %q at %d: %v", key, oldOff, err)
		}
	}

	j.unsynced += p.size
	j.logger.Debug("Put %q (%s, %d bytes) at %d, placement %s", key, t, payloadLen, p.offset, p.block.Kind)
	return p, nil
}

// Get returns the payload stored under key. It fails with ErrNotFound if the key
// is unknown and with ErrTypeMismatch if the stored type is not t.
func (j *Journal) Get(key string, t record.Type) ([]byte, error) {
	start := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	off, ok := j.idx.Get(key)
	if !ok {
		err := fmt.Errorf("%w: key %q", ErrNotFound, key)
		j.fail(stats.OpGet, telemetry.OpTypeGet, err)
		return nil, err
	}

	payload, err := record.Read(j.buf, off, t)
	if err != nil {
		err = fmt.Errorf("failed to read key %q: %w", key, err)
		j.fail(stats.OpGet, telemetry.OpTypeGet, err)
		return nil, err
	}

	j.collector.TrackOperationWithLatency(stats.OpGet, uint64(time.Since(start).Nanoseconds()))
	j.collector.TrackBytes(false, uint64(record.HeaderSize+len(payload)))
	j.metrics.RecordGet(j.ctx, time.Since(start), t.String(), telemetry.StatusSuccess)
	return payload, nil
}

// Lookup returns the offset and header of the live record of key
func (j *Journal) Lookup(key string) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return Entry{}, ErrClosed
	}
	return j.lookupLocked(key)
}

func (j *Journal) lookupLocked(key string) (Entry, error) {
	off, ok := j.idx.Get(key)
	if !ok {
		return Entry{}, fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	h, err := record.ReadHeader(j.buf, off)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read record of key %q: %w", key, err)
	}
	if !h.Active {
		return Entry{}, fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	return Entry{Key: key, Offset: off, Header: h}, nil
}

// Entries returns the live record of every key, sorted by key
func (j *Journal) Entries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	keys := keyindex.Keys(j.idx)
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		e, err := j.lookupLocked(key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Remove deactivates the record of key and frees its slot. It returns false if
// the key is unknown. As with Put, an ErrNotSynced error means the key is gone
// but the change may not be durable.
func (j *Journal) Remove(key string) (bool, error) {
	start := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return false, ErrClosed
	}

	off, ok := j.idx.Get(key)
	if !ok {
		j.metrics.RecordRemove(j.ctx, time.Since(start), false)
		return false, nil
	}

	h, err := record.ReadHeader(j.buf, off)
	if err != nil {
		err = fmt.Errorf("failed to read record of key %q: %w", key, err)
		j.fail(stats.OpRemove, telemetry.OpTypeRemove, err)
		return false, err
	}

	if h.Active {
		if err := record.WriteInactive(j.buf, off, h.Length); err != nil {
			j.fail(stats.OpRemove, telemetry.OpTypeRemove, err)
			return false, err
		}
		j.free.Release(off, h.Length)
		j.unsynced += record.HeaderSize
	}

	j.idx.Delete(key)
	j.records--

	j.collector.TrackOperationWithLatency(stats.OpRemove, uint64(time.Since(start).Nanoseconds()))
	j.metrics.RecordRemove(j.ctx, time.Since(start), true)
	j.logger.Debug("Removed %q at %d, freed %d bytes", key, off, h.Length)

	return true, j.syncAfterWrite()
}

// Scan walks every record from the start of the journal in offset order.
// Returning ErrStopScan from fn ends the walk without an error.
func (j *Journal) Scan(fn func(offset int64, h record.Header) error) error {
	start := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	for off := int64(0); off < j.end; {
		h, err := record.ReadHeader(j.buf, off)
		if err != nil {
			return fmt.Errorf("failed to scan journal at %d: %w", off, err)
		}
		if err := fn(off, h); err != nil {
			if errors.Is(err, ErrStopScan) {
				break
			}
			return err
		}
		off += h.Size()
	}

	j.collector.TrackOperationWithLatency(stats.OpScan, uint64(time.Since(start).Nanoseconds()))
	return nil
}

// Recover rebuilds the free-space index from the records in the journal. It
// truncates a torn trailing record and drops key index entries that do not point
// at an active record. Running it twice gives the same result.
func (j *Journal) Recover() (stats.RecoveryResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return stats.RecoveryResult{}, ErrClosed
	}

	result, err := j.recoverLocked()
	if err != nil {
		j.fail(stats.OpRecover, telemetry.OpTypeRecover, err)
		return result, err
	}
	j.trackSize()
	return result, nil
}

func (j *Journal) recoverLocked() (stats.RecoveryResult, error) {
	start := j.collector.StartRecovery()
	ctx, span := j.tel.StartSpan(j.ctx, "journal.recover",
		attribute.String(telemetry.AttrStore, j.opts.Name),
	)
	defer span.End()

	var result stats.RecoveryResult
	j.free.Reset()

	// offset -> payload length of every active record
	active := make(map[int64]uint32)

	for off := int64(0); off < j.end; {
		h, err := record.ReadHeader(j.buf, off)
		if err == nil && off+h.Size() > j.end {
			err = fmt.Errorf("%w: record at %d overruns journal end %d", ErrCorruptRecord, off, j.end)
		}
		if err != nil {
			if !errors.Is(err, ErrCorruptRecord) && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return result, fmt.Errorf("failed to read record at %d: %w", off, err)
			}
			if err := j.truncateAt(off, err); err != nil {
				return result, err
			}
			result.TruncatedBytes = uint64(j.end - off)
			j.end = off
			break
		}

		result.RecordsScanned++
		if h.Active {
			active[off] = h.Length
		} else {
			j.free.Release(off, h.Length)
			result.InactiveRecords++
		}
		off += h.Size()
	}

	result.DroppedKeys = j.dropInvalidKeys(active)
	if j.indexComplete {
		reclaimed, err := j.reclaimOrphans(active)
		if err != nil {
			return result, err
		}
		result.ReclaimedRecords = reclaimed
	}

	j.records = j.idx.Len()
	result.FreeBytes = j.free.FreeBytes()

	duration := time.Since(start)
	j.collector.FinishRecovery(start, result)
	j.collector.TrackOperationWithLatency(stats.OpRecover, uint64(duration.Nanoseconds()))
	j.metrics.RecordRecovery(ctx, duration, result)
	span.SetAttributes(
		attribute.Int64("records_scanned", int64(result.RecordsScanned)),
		attribute.Int64("free_bytes", int64(result.FreeBytes)),
	)

	j.logger.Info("Recovered %d records (%d inactive, %d free bytes) in %v",
		result.RecordsScanned, result.InactiveRecords, result.FreeBytes, duration)
	return result, nil
}

// truncateAt cuts the journal at a record that cannot be read completely
func (j *Journal) truncateAt(off int64, cause error) error {
	j.logger.Warn("Truncating journal at %d, dropping %d bytes: %v", off, j.end-off, cause)
	if err := j.buf.Truncate(off); err != nil {
		return fmt.Errorf("failed to truncate journal at %d: %w", off, err)
	}
	return nil
}

// dropInvalidKeys removes keys that do not point at an active record header, and
// every key of an offset claimed by more than one key
func (j *Journal) dropInvalidKeys(active map[int64]uint32) uint64 {
	owners := make(map[int64][]string)
	var drop []string

	j.idx.Range(func(key string, off int64) bool {
		if _, ok := active[off]; !ok {
			drop = append(drop, key)
			return true
		}
		owners[off] = append(owners[off], key)
		return true
	})

	for off, keys := range owners {
		if len(keys) > 1 {
			j.logger.Warn("Offset %d is claimed by %d keys, dropping all of them", off, len(keys))
			drop = append(drop, keys...)
		}
	}

	for _, key := range drop {
		j.idx.Delete(key)
		j.logger.Debug("Dropped key %q without a live record", key)
	}
	return uint64(len(drop))
}

// reclaimOrphans deactivates active records no key refers to
func (j *Journal) reclaimOrphans(active map[int64]uint32) (uint64, error) {
	referenced := make(map[int64]struct{}, j.idx.Len())
	j.idx.Range(func(_ string, off int64) bool {
		referenced[off] = struct{}{}
		return true
	})

	var reclaimed uint64
	for off, length := range active {
		if _, ok := referenced[off]; ok {
			continue
		}
		if err := record.WriteInactive(j.buf, off, length); err != nil {
			return reclaimed, fmt.Errorf("failed to reclaim record at %d: %w", off, err)
		}
		j.free.Release(off, length)
		reclaimed++
	}

	if reclaimed > 0 {
		j.logger.Info("Reclaimed %d records without a key", reclaimed)
	}
	return reclaimed, nil
}

// Sync flushes the backing buffer and saves the key index snapshot
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	return j.syncLocked()
}

// maybeSync syncs according to the configured sync mode
func (j *Journal) maybeSync() error {
	needSync := false

	switch j.opts.SyncMode {
	case config.SyncImmediate:
		needSync = true
	case config.SyncBatch:
		needSync = j.unsynced >= j.opts.SyncBytes
	case config.SyncNone:
	}

	if !needSync {
		return nil
	}
	return j.syncLocked()
}

// syncAfterWrite runs maybeSync for a mutation that is already applied
func (j *Journal) syncAfterWrite() error {
	if err := j.maybeSync(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotSynced, err)
	}
	return nil
}

func (j *Journal) syncLocked() error {
	start := time.Now()

	if err := j.buf.Sync(); err != nil {
		j.fail(stats.OpSync, telemetry.OpTypeSync, err)
		return fmt.Errorf("failed to sync journal: %w", err)
	}

	if j.opts.SnapshotPath != "" {
		info, err := keyindex.Save(j.opts.SnapshotPath, j.idx, j.opts.SnapshotCodec, j.end)
		if err != nil {
			j.fail(stats.OpSnapshot, telemetry.OpTypeSync, err)
			return fmt.Errorf("failed to save key index: %w", err)
		}
		j.collector.TrackOperation(stats.OpSnapshot)
		telemetry.RecordBytes(j.ctx, j.tel, "jstore.keyindex.snapshot.bytes", int64(info.CompressedSize),
			attribute.String(telemetry.AttrComponent, telemetry.ComponentKeyIndex),
			attribute.String(telemetry.AttrStore, j.opts.Name),
		)
		j.logger.Debug("Saved %d keys (%d bytes, %s)", info.Entries, info.CompressedSize, info.Codec)
	}

	j.unsynced = 0
	j.collector.TrackOperationWithLatency(stats.OpSync, uint64(time.Since(start).Nanoseconds()))
	j.metrics.RecordSync(j.ctx, time.Since(start), j.opts.SyncMode.String())
	return nil
}

// Close syncs and releases the backing buffer
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	j.closed = true

	syncErr := j.syncLocked()
	closeErr := j.buf.Close()
	j.metrics.Close()

	if syncErr != nil {
		return syncErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close journal buffer: %w", closeErr)
	}
	return nil
}

// Stats returns the record count, journal length and free-space figures
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Stats{
		Records:    j.records,
		End:        j.end,
		FreeBytes:  j.free.FreeBytes(),
		FreeBlocks: j.free.Len(),
		Buckets:    j.free.Buckets(),
	}
	if !j.closed {
		s.Capacity = j.buf.Capacity()
	}
	return s
}

// Collector returns the statistics collector of the journal
func (j *Journal) Collector() stats.Collector {
	return j.collector
}

func (j *Journal) trackSize() {
	j.collector.TrackJournalSize(uint64(j.end), uint64(j.buf.Capacity()))
}

func (j *Journal) fail(op stats.OperationType, opType string, err error) {
	kind := errorType(err)
	j.collector.TrackError(string(op) + "_" + kind)
	j.metrics.RecordError(j.ctx, opType, kind)
	if kind == "io" || kind == "corrupt_record" {
		j.logger.Error("Journal %s failed: %v", op, err)
	}
}
