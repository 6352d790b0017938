package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Journal operation types
const (
	OpPut      OperationType = "put"
	OpGet      OperationType = "get"
	OpRemove   OperationType = "remove"
	OpScan     OperationType = "scan"
	OpRecover  OperationType = "recover"
	OpSync     OperationType = "sync"
	OpSnapshot OperationType = "snapshot"
)

// PlacementKind names the outcome of a placement decision
type PlacementKind string

// Placement kinds
const (
	PlacementExact  PlacementKind = "exact"
	PlacementSplit  PlacementKind = "split"
	PlacementAppend PlacementKind = "append"
)

// RecoveryResult summarizes one journal recovery pass
type RecoveryResult struct {
	RecordsScanned  uint64
	InactiveRecords uint64
	FreeBytes       uint64
	TruncatedBytes  uint64
	DroppedKeys     uint64
	// ReclaimedRecords counts active records no key referred to
	ReclaimedRecords uint64
}

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	// Operation counters using atomic values
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Timing measurements for last operation timestamps
	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex

	// Usage metrics
	journalEnd        atomic.Uint64
	journalCapacity   atomic.Uint64
	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64

	// Error tracking
	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex // Only used when creating new error entries

	// Placement metrics
	exactPlacements  atomic.Uint64
	splitPlacements  atomic.Uint64
	appendPlacements atomic.Uint64
	growCount        atomic.Uint64

	// Recovery statistics
	recoveryStats RecoveryStats

	// Latency tracking
	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex // Only used when creating new latency trackers
}

// RecoveryStats tracks statistics of the last journal recovery
type RecoveryStats struct {
	RecordsScanned   atomic.Uint64
	InactiveRecords  atomic.Uint64
	FreeBytes        atomic.Uint64
	TruncatedBytes   atomic.Uint64
	DroppedKeys      atomic.Uint64
	ReclaimedRecords atomic.Uint64
	RecoveryDuration atomic.Int64 // nanoseconds
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds, zero until the first sample
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	loadOrCreate(&c.countsMu, c.counts, op).Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)

	tracker := loadOrCreate(&c.latenciesMu, c.latencies, op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)
	raiseTo(&tracker.max, latencyNs)
	lowerTo(&tracker.min, latencyNs)
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	loadOrCreate(&c.errorsMu, c.errors, errorType).Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackPlacement increments the counter of the given placement kind
func (c *AtomicCollector) TrackPlacement(kind PlacementKind) {
	switch kind {
	case PlacementExact:
		c.exactPlacements.Add(1)
	case PlacementSplit:
		c.splitPlacements.Add(1)
	default:
		c.appendPlacements.Add(1)
	}
}

// TrackGrow increments the growth counter
func (c *AtomicCollector) TrackGrow() {
	c.growCount.Add(1)
}

// TrackJournalSize records the write cursor and capacity of the journal
func (c *AtomicCollector) TrackJournalSize(end, capacity uint64) {
	c.journalEnd.Store(end)
	c.journalCapacity.Store(capacity)
}

// StartRecovery initializes recovery statistics
func (c *AtomicCollector) StartRecovery() time.Time {
	c.recoveryStats.RecordsScanned.Store(0)
	c.recoveryStats.InactiveRecords.Store(0)
	c.recoveryStats.FreeBytes.Store(0)
	c.recoveryStats.TruncatedBytes.Store(0)
	c.recoveryStats.DroppedKeys.Store(0)
	c.recoveryStats.ReclaimedRecords.Store(0)
	c.recoveryStats.RecoveryDuration.Store(0)

	return time.Now()
}

// FinishRecovery completes recovery statistics
func (c *AtomicCollector) FinishRecovery(startTime time.Time, result RecoveryResult) {
	c.recoveryStats.RecordsScanned.Store(result.RecordsScanned)
	c.recoveryStats.InactiveRecords.Store(result.InactiveRecords)
	c.recoveryStats.FreeBytes.Store(result.FreeBytes)
	c.recoveryStats.TruncatedBytes.Store(result.TruncatedBytes)
	c.recoveryStats.DroppedKeys.Store(result.DroppedKeys)
	c.recoveryStats.ReclaimedRecords.Store(result.ReclaimedRecords)
	c.recoveryStats.RecoveryDuration.Store(time.Since(startTime).Nanoseconds())
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	// Add operation counters
	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	// Add timing information
	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	stats["journal_end"] = c.journalEnd.Load()
	stats["journal_capacity"] = c.journalCapacity.Load()
	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()

	stats["placement_exact"] = c.exactPlacements.Load()
	stats["placement_split"] = c.splitPlacements.Load()
	stats["placement_append"] = c.appendPlacements.Load()
	stats["grow_count"] = c.growCount.Load()

	// Add error statistics
	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	// Add recovery statistics
	recoveryStats := map[string]interface{}{
		"records_scanned":   c.recoveryStats.RecordsScanned.Load(),
		"inactive_records":  c.recoveryStats.InactiveRecords.Load(),
		"free_bytes":        c.recoveryStats.FreeBytes.Load(),
		"truncated_bytes":   c.recoveryStats.TruncatedBytes.Load(),
		"dropped_keys":      c.recoveryStats.DroppedKeys.Load(),
		"reclaimed_records": c.recoveryStats.ReclaimedRecords.Load(),
	}

	recoveryDuration := c.recoveryStats.RecoveryDuration.Load()
	if recoveryDuration > 0 {
		recoveryStats["recovery_duration_ms"] = recoveryDuration / int64(time.Millisecond)
	}
	stats["recovery"] = recoveryStats

	// Add latency statistics
	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}

		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	allStats := c.GetStats()
	filtered := make(map[string]interface{})

	for key, value := range allStats {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}

	return filtered
}

// loadOrCreate returns m[key], allocating it under the write lock on first use
func loadOrCreate[K comparable, V any](mu *sync.RWMutex, m map[K]*V, key K) *V {
	mu.RLock()
	v, ok := m[key]
	mu.RUnlock()
	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()
	if v, ok = m[key]; !ok {
		v = new(V)
		m[key] = v
	}
	return v
}

// raiseTo stores v into u if v is larger
func raiseTo(u *atomic.Uint64, v uint64) {
	for {
		cur := u.Load()
		if v <= cur || u.CompareAndSwap(cur, v) {
			return
		}
	}
}

// lowerTo stores v into u if v is smaller or u is still unset (zero)
func lowerTo(u *atomic.Uint64, v uint64) {
	for {
		cur := u.Load()
		if (cur != 0 && v >= cur) || u.CompareAndSwap(cur, v) {
			return
		}
	}
}
