package stats

import "time"

// Provider defines the interface for components that provide statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	// TrackOperation records a single operation
	TrackOperation(op OperationType)

	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackError increments the counter for the specified error type
	TrackError(errorType string)

	// TrackBytes adds the specified number of bytes to the read or write counter
	TrackBytes(isWrite bool, bytes uint64)

	// TrackPlacement records where a record was written
	TrackPlacement(kind PlacementKind)

	// TrackGrow increments the journal growth counter
	TrackGrow()

	// TrackJournalSize records the current write cursor and capacity
	TrackJournalSize(end, capacity uint64)

	// StartRecovery initializes recovery statistics
	StartRecovery() time.Time

	// FinishRecovery completes recovery statistics
	FinishRecovery(startTime time.Time, result RecoveryResult)
}

// Ensure AtomicCollector implements the Collector interface
var _ Collector = (*AtomicCollector)(nil)
