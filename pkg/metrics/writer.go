package metrics

import "time"

// WriterMetrics records write path behavior for the per-device writer
// pool.
//
// A nil WriterMetrics is valid and means no instrumentation.
type WriterMetrics interface {
	// ObserveEnqueue records a record accepted into a writer queue.
	ObserveEnqueue()

	// ObserveDrop records a record evicted from a saturated queue.
	ObserveDrop(deviceID string)

	// ObserveBatch records one flushed batch.
	ObserveBatch(records int, bytes int64, duration time.Duration)

	// ObserveFsync records one durability sync.
	ObserveFsync(duration time.Duration)

	// ObserveSealed records a file sealed at a day boundary.
	ObserveSealed()

	// SetDegraded flips the degraded-write gauge for a device.
	SetDegraded(deviceID string, degraded bool)
}

// ObserveEnqueue is a nil-safe helper around WriterMetrics.
func ObserveEnqueue(m WriterMetrics) {
	if m != nil {
		m.ObserveEnqueue()
	}
}

// ObserveDrop is a nil-safe helper around WriterMetrics.
func ObserveDrop(m WriterMetrics, deviceID string) {
	if m != nil {
		m.ObserveDrop(deviceID)
	}
}

// ObserveBatch is a nil-safe helper around WriterMetrics.
func ObserveBatch(m WriterMetrics, records int, bytes int64, duration time.Duration) {
	if m != nil {
		m.ObserveBatch(records, bytes, duration)
	}
}

// ObserveFsync is a nil-safe helper around WriterMetrics.
func ObserveFsync(m WriterMetrics, duration time.Duration) {
	if m != nil {
		m.ObserveFsync(duration)
	}
}

// ObserveSealed is a nil-safe helper around WriterMetrics.
func ObserveSealed(m WriterMetrics) {
	if m != nil {
		m.ObserveSealed()
	}
}

// SetDegraded is a nil-safe helper around WriterMetrics.
func SetDegraded(m WriterMetrics, deviceID string, degraded bool) {
	if m != nil {
		m.SetDegraded(deviceID, degraded)
	}
}
