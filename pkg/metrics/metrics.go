package metrics

import "time"

// StreamMetrics provides observability for a stream's append/persist path.
//
// Implementations can collect metrics about append latency, ring
// occupancy, persisted lag, and allocator pressure. This interface is
// optional - pass nil to disable metrics collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	streamMetrics := metrics.NewStreamMetrics()
//	s, err := stream.Open(path, cfg, streamMetrics)
//
//	// Without metrics (pass nil for zero overhead)
//	s, err := stream.Open(path, cfg, nil)
type StreamMetrics interface {
	// ObserveAppend records a completed append: its payload size and the
	// time spent inside Append, including any ring-full retry spin.
	ObserveAppend(bytes int, duration time.Duration)

	// RecordAppendRetry records one overflow-retry iteration of Append's
	// ring.Acquire spin loop.
	RecordAppendRetry()

	// ObservePersist records a completed Persist call and how far the
	// persisted_timestamp advanced.
	ObservePersist(duration time.Duration, advanced uint64)

	// RecordRingDepth records the number of reservations currently
	// outstanding between the committed and persisted timestamps.
	RecordRingDepth(depth uint64)

	// RecordPersistedLag records committed_timestamp - persisted_timestamp.
	RecordPersistedLag(lag uint64)

	// RecordAllocatorFreeBytes records the allocator's free-list total.
	RecordAllocatorFreeBytes(bytes uint64)

	// RecordRegionCount records the number of live regions.
	RecordRegionCount(count int)

	// RecordRecoveryState records a region's recovery state transition.
	// state is one of "not_recovered", "recovery_in_progress", "recovered".
	RecordRecoveryState(state string)

	// RecordTornWrite records a torn-write detected during recovery.
	RecordTornWrite()
}

// NewStreamMetrics creates a new Prometheus-backed StreamMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStreamMetrics() StreamMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusStreamMetrics()
}

// newPrometheusStreamMetrics is implemented in pkg/metrics/prometheus/stream.go.
// This indirection avoids an import cycle between this package and the
// prometheus subpackage while keeping the public API interface-based.
var newPrometheusStreamMetrics func() StreamMetrics

// RegisterStreamMetricsConstructor registers the Prometheus stream metrics
// constructor. Called by pkg/metrics/prometheus/stream.go's init().
func RegisterStreamMetricsConstructor(constructor func() StreamMetrics) {
	newPrometheusStreamMetrics = constructor
}

// ObserveAppend records a completed append, tolerating a nil m.
func ObserveAppend(m StreamMetrics, bytes int, duration time.Duration) {
	if m != nil {
		m.ObserveAppend(bytes, duration)
	}
}

// RecordAppendRetry records an append retry, tolerating a nil m.
func RecordAppendRetry(m StreamMetrics) {
	if m != nil {
		m.RecordAppendRetry()
	}
}

// ObservePersist records a completed persist, tolerating a nil m.
func ObservePersist(m StreamMetrics, duration time.Duration, advanced uint64) {
	if m != nil {
		m.ObservePersist(duration, advanced)
	}
}

// RecordRingDepth records ring depth, tolerating a nil m.
func RecordRingDepth(m StreamMetrics, depth uint64) {
	if m != nil {
		m.RecordRingDepth(depth)
	}
}

// RecordPersistedLag records persisted lag, tolerating a nil m.
func RecordPersistedLag(m StreamMetrics, lag uint64) {
	if m != nil {
		m.RecordPersistedLag(lag)
	}
}

// RecordAllocatorFreeBytes records allocator free bytes, tolerating a nil m.
func RecordAllocatorFreeBytes(m StreamMetrics, bytes uint64) {
	if m != nil {
		m.RecordAllocatorFreeBytes(bytes)
	}
}

// RecordRegionCount records the live region count, tolerating a nil m.
func RecordRegionCount(m StreamMetrics, count int) {
	if m != nil {
		m.RecordRegionCount(count)
	}
}

// RecordRecoveryState records a recovery state transition, tolerating a nil m.
func RecordRecoveryState(m StreamMetrics, state string) {
	if m != nil {
		m.RecordRecoveryState(state)
	}
}

// RecordTornWrite records a torn write, tolerating a nil m.
func RecordTornWrite(m StreamMetrics) {
	if m != nil {
		m.RecordTornWrite()
	}
}
