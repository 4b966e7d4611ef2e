package writerpool

import (
	"os"
	"path/filepath"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/metrics"
)

// reopenBackoff is the retry schedule after a write or open failure.
// Exhausting it marks the writer degraded.
var reopenBackoff = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	2 * time.Second,
	10 * time.Second,
}

// deviceWriter owns one (device, date) file. It is the only goroutine
// that ever appends to that file.
type deviceWriter struct {
	pool *Pool
	key  writerKey
	path string

	inbox chan Record
	seal  chan struct{} // closed by the roller at the day boundary

	file     *os.File
	lastSync time.Time
	degraded bool
}

func newDeviceWriter(p *Pool, key writerKey) *deviceWriter {
	return &deviceWriter{
		pool:  p,
		key:   key,
		path:  p.filePath(key),
		inbox: make(chan Record, p.cfg.QueueDepth),
		seal:  make(chan struct{}),
	}
}

// enqueue is non-blocking. A full inbox evicts the oldest record so
// ingest is never back-pressured.
func (w *deviceWriter) enqueue(rec Record) {
	select {
	case w.inbox <- rec:
		metrics.ObserveEnqueue(w.pool.metrics)
		return
	default:
	}

	select {
	case <-w.inbox:
		metrics.ObserveDrop(w.pool.metrics, w.key.device)
	default:
	}

	select {
	case w.inbox <- rec:
		metrics.ObserveEnqueue(w.pool.metrics)
	default:
		metrics.ObserveDrop(w.pool.metrics, w.key.device)
	}
}

func (w *deviceWriter) run() {
	defer w.pool.wg.Done()

	batch := make([]Record, 0, w.pool.cfg.BatchSize)

	for {
		select {
		case rec := <-w.inbox:
			batch = append(batch, rec)
		case <-w.seal:
			w.finish(batch, true)
			return
		case <-w.pool.shutdown:
			w.finish(batch, false)
			return
		}

		w.collect(&batch)
		w.flush(batch)
		batch = batch[:0]
	}
}

// collect fills the batch until the size cap or the batch wait elapses.
func (w *deviceWriter) collect(batch *[]Record) {
	deadline := time.NewTimer(w.pool.cfg.BatchWait)
	defer deadline.Stop()

	for len(*batch) < w.pool.cfg.BatchSize {
		select {
		case rec := <-w.inbox:
			*batch = append(*batch, rec)
		case <-deadline.C:
			return
		case <-w.seal:
			return
		case <-w.pool.shutdown:
			return
		}
	}
}

// finish drains the inbox, writes everything out, closes the file and
// optionally publishes the seal event.
func (w *deviceWriter) finish(batch []Record, sealFile bool) {
	for {
		select {
		case rec := <-w.inbox:
			batch = append(batch, rec)
		default:
			w.flush(batch)
			w.closeFile(true)
			if w.degraded {
				metrics.SetDegraded(w.pool.metrics, w.key.device, false)
			}
			if sealFile && !w.degraded {
				w.pool.emitSealed(SealedEvent{
					DeviceID: w.key.device,
					Date:     w.key.date,
					Path:     w.path,
				})
			}
			return
		}
	}
}

// flush appends one batch. A degraded writer counts the batch as drops
// and returns immediately.
func (w *deviceWriter) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}
	if w.degraded {
		for range batch {
			metrics.ObserveDrop(w.pool.metrics, w.key.device)
		}
		return
	}

	buf := make([]byte, 0, len(batch)*96)
	for _, rec := range batch {
		buf = append(buf, formatLine(rec)...)
	}

	start := w.pool.cfg.Clock()
	if err := w.write(buf); err != nil {
		w.enterDegraded(err)
		for range batch {
			metrics.ObserveDrop(w.pool.metrics, w.key.device)
		}
		return
	}
	metrics.ObserveBatch(w.pool.metrics, len(batch), int64(len(buf)), w.pool.cfg.Clock().Sub(start))

	w.maybeSync()
}

// write appends with reopen-and-retry on failure.
func (w *deviceWriter) write(buf []byte) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if w.file == nil {
			if err := w.open(); err != nil {
				lastErr = err
			} else {
				lastErr = nil
			}
		}
		if lastErr == nil {
			if _, err := w.file.Write(buf); err == nil {
				return nil
			} else {
				lastErr = err
				w.closeFile(false)
			}
		}

		if attempt >= len(reopenBackoff) {
			return lastErr
		}

		logger.Warn("Device file write failed, retrying",
			logger.KeyDevice, w.key.device,
			logger.KeyPath, w.path,
			logger.KeyError, lastErr,
			"backoff", reopenBackoff[attempt])

		select {
		case <-time.After(reopenBackoff[attempt]):
		case <-w.pool.shutdown:
			return lastErr
		}
	}
}

func (w *deviceWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}

// maybeSync fsyncs at most once per flush interval.
func (w *deviceWriter) maybeSync() {
	now := w.pool.cfg.Clock()
	if now.Sub(w.lastSync) < w.pool.cfg.FlushInterval {
		return
	}
	start := now
	if err := w.file.Sync(); err != nil {
		logger.Warn("Device file sync failed",
			logger.KeyDevice, w.key.device,
			logger.KeyPath, w.path,
			logger.KeyError, err)
		return
	}
	w.lastSync = now
	metrics.ObserveFsync(w.pool.metrics, w.pool.cfg.Clock().Sub(start))
}

func (w *deviceWriter) closeFile(sync bool) {
	if w.file == nil {
		return
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			logger.Warn("Device file sync on close failed",
				logger.KeyDevice, w.key.device,
				logger.KeyPath, w.path,
				logger.KeyError, err)
		}
	}
	if err := w.file.Close(); err != nil {
		logger.Warn("Device file close failed",
			logger.KeyDevice, w.key.device,
			logger.KeyPath, w.path,
			logger.KeyError, err)
	}
	w.file = nil
}

// enterDegraded marks the writer after the retry schedule is exhausted.
// The writer keeps draining its inbox so ingest never stalls.
func (w *deviceWriter) enterDegraded(err error) {
	w.degraded = true
	w.closeFile(false)
	metrics.SetDegraded(w.pool.metrics, w.key.device, true)
	logger.Error("Device writer degraded, records for this file will be dropped",
		logger.KeyDevice, w.key.device,
		logger.KeyPath, w.path,
		logger.KeyError, err)
}
