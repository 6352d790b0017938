// ABOUTME: Journal telemetry metrics interface and implementation for tracking record operations
// ABOUTME: Provides instrumentation for put, get, remove, growth, recovery and sync

package journal

import (
	"context"
	"time"

	"github.com/KevoDB/jstore/pkg/stats"
	"github.com/KevoDB/jstore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// JournalMetrics defines the interface for journal telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type JournalMetrics interface {
	telemetry.ComponentMetrics

	// RecordPut records metrics for a successful put.
	RecordPut(ctx context.Context, duration time.Duration, bytes int64, recordType string, placement string)

	// RecordGet records metrics for a get, successful or not.
	RecordGet(ctx context.Context, duration time.Duration, recordType string, status string)

	// RecordRemove records metrics for a remove.
	RecordRemove(ctx context.Context, duration time.Duration, found bool)

	// RecordGrow records a growth of the backing buffer.
	RecordGrow(ctx context.Context, oldCapacity, newCapacity int64)

	// RecordRecovery records the outcome of a recovery pass.
	RecordRecovery(ctx context.Context, duration time.Duration, result stats.RecoveryResult)

	// RecordSync records a flush of the backing buffer.
	RecordSync(ctx context.Context, duration time.Duration, mode string)

	// RecordError records a failed operation.
	RecordError(ctx context.Context, opType string, errType string)
}

// journalMetrics implements JournalMetrics using the telemetry interface.
type journalMetrics struct {
	tel   telemetry.Telemetry
	store string
}

// NewJournalMetrics creates a journal metrics implementation labelled with the
// store name. If tel is nil, returns a no-op implementation.
func NewJournalMetrics(tel telemetry.Telemetry, store string) JournalMetrics {
	if tel == nil {
		return &noopJournalMetrics{}
	}
	return &journalMetrics{tel: tel, store: store}
}

// NewNoopJournalMetrics creates a no-op journal metrics implementation for testing.
func NewNoopJournalMetrics() JournalMetrics {
	return &noopJournalMetrics{}
}

func (m *journalMetrics) attrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentJournal),
		attribute.String(telemetry.AttrStore, m.store),
	}, extra...)
}

// RecordPut records journal put metrics.
func (m *journalMetrics) RecordPut(ctx context.Context, duration time.Duration, bytes int64, recordType string, placement string) {
	m.tel.RecordHistogram(ctx, "jstore.journal.put.duration", duration.Seconds(),
		m.attrs(
			attribute.String(telemetry.AttrRecordType, recordType),
			attribute.String(telemetry.AttrPlacement, placement),
		)...,
	)

	m.tel.RecordCounter(ctx, "jstore.journal.put.bytes", bytes,
		m.attrs(attribute.String(telemetry.AttrRecordType, recordType))...,
	)

	m.tel.RecordCounter(ctx, "jstore.journal.placements.total", 1,
		m.attrs(attribute.String(telemetry.AttrPlacement, placement))...,
	)

	m.tel.RecordCounter(ctx, "jstore.journal.operations.total", 1,
		m.attrs(
			attribute.String(telemetry.AttrOperationType, telemetry.OpTypePut),
			attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
		)...,
	)
}

// RecordGet records journal get metrics.
func (m *journalMetrics) RecordGet(ctx context.Context, duration time.Duration, recordType string, status string) {
	m.tel.RecordHistogram(ctx, "jstore.journal.get.duration", duration.Seconds(),
		m.attrs(
			attribute.String(telemetry.AttrRecordType, recordType),
			attribute.String(telemetry.AttrStatus, status),
		)...,
	)

	m.tel.RecordCounter(ctx, "jstore.journal.operations.total", 1,
		m.attrs(
			attribute.String(telemetry.AttrOperationType, telemetry.OpTypeGet),
			attribute.String(telemetry.AttrStatus, status),
		)...,
	)
}

// RecordRemove records journal remove metrics.
func (m *journalMetrics) RecordRemove(ctx context.Context, duration time.Duration, found bool) {
	m.tel.RecordHistogram(ctx, "jstore.journal.remove.duration", duration.Seconds(),
		m.attrs(attribute.Bool("found", found))...,
	)

	m.tel.RecordCounter(ctx, "jstore.journal.operations.total", 1,
		m.attrs(
			attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRemove),
			attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
		)...,
	)
}

// RecordGrow records a growth of the backing buffer.
func (m *journalMetrics) RecordGrow(ctx context.Context, oldCapacity, newCapacity int64) {
	m.tel.RecordCounter(ctx, "jstore.journal.grow.count", 1, m.attrs()...)
	m.tel.RecordHistogram(ctx, "jstore.journal.capacity", float64(newCapacity),
		m.attrs(attribute.Int64("old_capacity", oldCapacity))...,
	)
}

// RecordRecovery records recovery metrics.
func (m *journalMetrics) RecordRecovery(ctx context.Context, duration time.Duration, result stats.RecoveryResult) {
	m.tel.RecordHistogram(ctx, "jstore.journal.recovery.duration", duration.Seconds(), m.attrs()...)
	m.tel.RecordCounter(ctx, "jstore.journal.recovery.records", int64(result.RecordsScanned), m.attrs()...)
	m.tel.RecordCounter(ctx, "jstore.journal.recovery.free_bytes", int64(result.FreeBytes), m.attrs()...)

	if result.TruncatedBytes > 0 {
		m.tel.RecordCounter(ctx, "jstore.journal.corruption.count", 1,
			m.attrs(attribute.String(telemetry.AttrReason, "torn_tail"))...,
		)
	}
	if result.DroppedKeys > 0 {
		m.tel.RecordCounter(ctx, "jstore.journal.recovery.dropped_keys", int64(result.DroppedKeys), m.attrs()...)
	}
}

// RecordSync records journal sync metrics.
func (m *journalMetrics) RecordSync(ctx context.Context, duration time.Duration, mode string) {
	m.tel.RecordHistogram(ctx, "jstore.journal.sync.duration", duration.Seconds(),
		m.attrs(attribute.String("sync_mode", mode))...,
	)

	m.tel.RecordCounter(ctx, "jstore.journal.sync.total", 1,
		m.attrs(attribute.String("sync_mode", mode))...,
	)
}

// RecordError records a failed journal operation.
func (m *journalMetrics) RecordError(ctx context.Context, opType string, errType string) {
	m.tel.RecordCounter(ctx, "jstore.journal.operations.total", 1,
		m.attrs(
			attribute.String(telemetry.AttrOperationType, opType),
			attribute.String(telemetry.AttrStatus, telemetry.StatusError),
			attribute.String(telemetry.AttrErrorType, errType),
		)...,
	)
}

// Close releases any resources held by the metrics implementation.
func (m *journalMetrics) Close() error {
	return nil
}

// noopJournalMetrics provides a no-operation implementation.
type noopJournalMetrics struct{}

func (n *noopJournalMetrics) RecordPut(ctx context.Context, duration time.Duration, bytes int64, recordType string, placement string) {
}
func (n *noopJournalMetrics) RecordGet(ctx context.Context, duration time.Duration, recordType string, status string) {
}
func (n *noopJournalMetrics) RecordRemove(ctx context.Context, duration time.Duration, found bool) {}
func (n *noopJournalMetrics) RecordGrow(ctx context.Context, oldCapacity, newCapacity int64)       {}
func (n *noopJournalMetrics) RecordRecovery(ctx context.Context, duration time.Duration, result stats.RecoveryResult) {
}
func (n *noopJournalMetrics) RecordSync(ctx context.Context, duration time.Duration, mode string) {}
func (n *noopJournalMetrics) RecordError(ctx context.Context, opType string, errType string)      {}
func (n *noopJournalMetrics) Close() error                                                        { return nil }
