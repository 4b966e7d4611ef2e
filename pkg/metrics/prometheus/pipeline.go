package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/logmaster/logmaster/pkg/metrics"
)

type pipelineMetrics struct {
	signs           *prometheus.CounterVec
	signDuration    prometheus.Histogram
	timestamps      *prometheus.CounterVec
	archives        *prometheus.CounterVec
	archiveOriginal prometheus.Histogram
	archiveStored   prometheus.Histogram
	archiveDuration prometheus.Histogram
	verifications   *prometheus.CounterVec
	retentionPurged prometheus.Counter
}

// NewPipelineMetrics creates Prometheus-backed custody stage metrics, or
// nil when metrics are disabled.
func NewPipelineMetrics() metrics.PipelineMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	sizeBuckets := []float64{
		4096,      // 4KB
		65536,     // 64KB
		1048576,   // 1MB
		16777216,  // 16MB
		134217728, // 128MB, busy device day
		536870912, // 512MB
	}

	return &pipelineMetrics{
		signs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logmaster_sign_operations_total",
			Help: "Total number of file signing attempts by status",
		}, []string{"status"}),
		signDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "logmaster_sign_duration_milliseconds",
			Help:    "Duration of file signing in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		timestamps: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logmaster_tsa_requests_total",
			Help: "Total number of trusted timestamp requests by status",
		}, []string{"status"}),
		archives: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logmaster_archive_operations_total",
			Help: "Total number of archival attempts by status",
		}, []string{"status"}),
		archiveOriginal: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "logmaster_archive_original_bytes",
			Help:    "Distribution of plaintext sizes of archived files",
			Buckets: sizeBuckets,
		}),
		archiveStored: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "logmaster_archive_stored_bytes",
			Help:    "Distribution of compressed sizes of archived files",
			Buckets: sizeBuckets,
		}),
		archiveDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "logmaster_archive_duration_milliseconds",
			Help:    "Duration of archival in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000},
		}),
		verifications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logmaster_verifications_total",
			Help: "Total number of signature verifications by status",
		}, []string{"status"}),
		retentionPurged: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "logmaster_retention_purged_total",
			Help: "Total number of archives purged by retention sweeps",
		}),
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func (m *pipelineMetrics) ObserveSign(ok bool, duration time.Duration) {
	m.signs.WithLabelValues(statusLabel(ok)).Inc()
	if ok {
		m.signDuration.Observe(float64(duration.Microseconds()) / 1000.0)
	}
}

func (m *pipelineMetrics) ObserveTimestamp(ok bool) {
	m.timestamps.WithLabelValues(statusLabel(ok)).Inc()
}

func (m *pipelineMetrics) ObserveArchive(ok bool, originalBytes, compressedBytes int64, duration time.Duration) {
	m.archives.WithLabelValues(statusLabel(ok)).Inc()
	if ok {
		m.archiveOriginal.Observe(float64(originalBytes))
		m.archiveStored.Observe(float64(compressedBytes))
		m.archiveDuration.Observe(float64(duration.Microseconds()) / 1000.0)
	}
}

func (m *pipelineMetrics) ObserveVerification(ok bool) {
	status := "valid"
	if !ok {
		status = "invalid"
	}
	m.verifications.WithLabelValues(status).Inc()
}

func (m *pipelineMetrics) ObserveRetentionDeleted(count int) {
	m.retentionPurged.Add(float64(count))
}
