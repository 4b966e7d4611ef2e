package metrics

import "time"

// PipelineMetrics records outcomes of the custody stages that run after
// ingestion: signing, archival, verification and retention.
//
// A nil PipelineMetrics is valid and means no instrumentation.
type PipelineMetrics interface {
	// ObserveSign records one signing attempt.
	ObserveSign(ok bool, duration time.Duration)

	// ObserveTimestamp records one trusted timestamp attempt.
	ObserveTimestamp(ok bool)

	// ObserveArchive records one archival attempt with the plaintext
	// and compressed sizes.
	ObserveArchive(ok bool, originalBytes, compressedBytes int64, duration time.Duration)

	// ObserveVerification records one signature verification.
	ObserveVerification(ok bool)

	// ObserveRetentionDeleted records archives purged by a retention
	// sweep.
	ObserveRetentionDeleted(count int)
}

// ObserveSign is a nil-safe helper around PipelineMetrics.
func ObserveSign(m PipelineMetrics, ok bool, duration time.Duration) {
	if m != nil {
		m.ObserveSign(ok, duration)
	}
}

// ObserveTimestamp is a nil-safe helper around PipelineMetrics.
func ObserveTimestamp(m PipelineMetrics, ok bool) {
	if m != nil {
		m.ObserveTimestamp(ok)
	}
}

// ObserveArchive is a nil-safe helper around PipelineMetrics.
func ObserveArchive(m PipelineMetrics, ok bool, originalBytes, compressedBytes int64, duration time.Duration) {
	if m != nil {
		m.ObserveArchive(ok, originalBytes, compressedBytes, duration)
	}
}

// ObserveVerification is a nil-safe helper around PipelineMetrics.
func ObserveVerification(m PipelineMetrics, ok bool) {
	if m != nil {
		m.ObserveVerification(ok)
	}
}

// ObserveRetentionDeleted is a nil-safe helper around PipelineMetrics.
func ObserveRetentionDeleted(m PipelineMetrics, count int) {
	if m != nil {
		m.ObserveRetentionDeleted(count)
	}
}
