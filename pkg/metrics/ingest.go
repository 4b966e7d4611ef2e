package metrics

// IngestMetrics records datagram reception outcomes.
//
// A nil IngestMetrics is valid and means no instrumentation.
type IngestMetrics interface {
	// ObserveDatagram records one received datagram of the given size.
	ObserveDatagram(bytes int)

	// ObserveEmpty records a datagram whose payload decoded to an empty
	// message. The record is still persisted.
	ObserveEmpty()
}

// ObserveDatagram is a nil-safe helper around IngestMetrics.
func ObserveDatagram(m IngestMetrics, bytes int) {
	if m != nil {
		m.ObserveDatagram(bytes)
	}
}

// ObserveEmpty is a nil-safe helper around IngestMetrics.
func ObserveEmpty(m IngestMetrics) {
	if m != nil {
		m.ObserveEmpty()
	}
}
