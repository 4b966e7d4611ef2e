package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/logmaster/logmaster/pkg/metrics"
)

type writerMetrics struct {
	enqueued      prometheus.Counter
	dropped       *prometheus.CounterVec
	batchRecords  prometheus.Histogram
	batchBytes    prometheus.Histogram
	batchDuration prometheus.Histogram
	fsyncDuration prometheus.Histogram
	sealed        prometheus.Counter
	degraded      *prometheus.GaugeVec
}

// NewWriterMetrics creates Prometheus-backed writer pool metrics, or nil
// when metrics are disabled.
func NewWriterMetrics() metrics.WriterMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &writerMetrics{
		enqueued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "logmaster_writer_enqueued_total",
			Help: "Total number of records accepted into writer queues",
		}),
		dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "logmaster_writer_dropped_total",
			Help: "Total number of records evicted from saturated writer queues by device",
		}, []string{"device"}),
		batchRecords: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "logmaster_writer_batch_records",
			Help:    "Distribution of records per flushed batch",
			Buckets: []float64{1, 4, 16, 64, 128, 256},
		}),
		batchBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "logmaster_writer_batch_bytes",
			Help: "Distribution of bytes per flushed batch",
			Buckets: []float64{
				256,    //
				1024,   //
				4096,   //
				16384,  //
				65536,  // full batch of typical lines
				262144, //
			},
		}),
		batchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "logmaster_writer_batch_duration_milliseconds",
			Help: "Duration of batch flushes in milliseconds",
			Buckets: []float64{
				0.1,  //
				0.5,  //
				1,    //
				5,    //
				10,   //
				50,   // slow disk
				100,  //
				500,  //
				1000, //
			},
		}),
		fsyncDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "logmaster_writer_fsync_duration_milliseconds",
			Help: "Duration of durability syncs in milliseconds",
			Buckets: []float64{
				0.5,  //
				1,    //
				5,    //
				10,   //
				50,   //
				100,  //
				500,  //
				1000, //
			},
		}),
		sealed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "logmaster_writer_sealed_files_total",
			Help: "Total number of daily log files sealed at day boundaries",
		}),
		degraded: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "logmaster_writer_degraded",
			Help: "Set to 1 while a device writer is in degraded mode after repeated write failures",
		}, []string{"device"}),
	}
}

func (m *writerMetrics) ObserveEnqueue() {
	m.enqueued.Inc()
}

func (m *writerMetrics) ObserveDrop(deviceID string) {
	m.dropped.WithLabelValues(deviceID).Inc()
}

func (m *writerMetrics) ObserveBatch(records int, bytes int64, duration time.Duration) {
	m.batchRecords.Observe(float64(records))
	m.batchBytes.Observe(float64(bytes))
	m.batchDuration.Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *writerMetrics) ObserveFsync(duration time.Duration) {
	m.fsyncDuration.Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *writerMetrics) ObserveSealed() {
	m.sealed.Inc()
}

func (m *writerMetrics) SetDegraded(deviceID string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	m.degraded.WithLabelValues(deviceID).Set(v)
}
