// Package prometheus provides promauto-backed implementations of the
// instrumentation interfaces in pkg/metrics. Every constructor returns
// nil when the shared registry has not been initialized, which callers
// treat as "metrics disabled".
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/logmaster/logmaster/pkg/metrics"
)

type ingestMetrics struct {
	datagrams     prometheus.Counter
	datagramBytes prometheus.Histogram
	empties       prometheus.Counter
}

// NewIngestMetrics creates Prometheus-backed ingest metrics, or nil when
// metrics are disabled.
func NewIngestMetrics() metrics.IngestMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &ingestMetrics{
		datagrams: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "logmaster_ingest_datagrams_total",
			Help: "Total number of syslog datagrams received",
		}),
		datagramBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "logmaster_ingest_datagram_bytes",
			Help: "Distribution of received datagram sizes",
			Buckets: []float64{
				64,    // short device heartbeats
				128,   //
				256,   // typical syslog line
				512,   //
				1024,  // RFC 3164 cap
				4096,  //
				16384, // oversize, near receive buffer
			},
		}),
		empties: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "logmaster_ingest_empty_datagrams_total",
			Help: "Total number of datagrams received with an empty payload",
		}),
	}
}

func (m *ingestMetrics) ObserveDatagram(bytes int) {
	m.datagrams.Inc()
	m.datagramBytes.Observe(float64(bytes))
}

func (m *ingestMetrics) ObserveEmpty() {
	m.empties.Inc()
}
