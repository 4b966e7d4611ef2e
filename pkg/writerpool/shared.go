package writerpool

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/metrics"
)

// sharedWriter serves the devices that arrive after the dedicated pool is
// saturated. It batches like a device writer but groups each batch by
// file and holds no handles open between flushes, so it scales to any
// number of cold devices at the cost of per-flush opens.
//
// Per-device ordering still holds: every record for a saturated device
// flows through this single goroutine in enqueue order.
type sharedWriter struct {
	pool     *Pool
	inbox    chan Record
	lastSync time.Time
}

func newSharedWriter(p *Pool) *sharedWriter {
	return &sharedWriter{
		pool:  p,
		inbox: make(chan Record, p.cfg.QueueDepth),
	}
}

// enqueue is non-blocking with drop-oldest, like a device writer inbox.
func (s *sharedWriter) enqueue(rec Record) {
	select {
	case s.inbox <- rec:
		metrics.ObserveEnqueue(s.pool.metrics)
		return
	default:
	}

	select {
	case old := <-s.inbox:
		metrics.ObserveDrop(s.pool.metrics, old.DeviceID)
	default:
	}

	select {
	case s.inbox <- rec:
		metrics.ObserveEnqueue(s.pool.metrics)
	default:
		metrics.ObserveDrop(s.pool.metrics, rec.DeviceID)
	}
}

func (s *sharedWriter) run() {
	defer s.pool.wg.Done()

	batch := make([]Record, 0, s.pool.cfg.BatchSize)

	for {
		select {
		case rec := <-s.inbox:
			batch = append(batch, rec)
		case <-s.pool.shutdown:
			s.drain(&batch)
			s.flush(batch)
			return
		}

		deadline := time.NewTimer(s.pool.cfg.BatchWait)
	collect:
		for len(batch) < s.pool.cfg.BatchSize {
			select {
			case rec := <-s.inbox:
				batch = append(batch, rec)
			case <-deadline.C:
				break collect
			case <-s.pool.shutdown:
				break collect
			}
		}
		deadline.Stop()

		s.flush(batch)
		batch = batch[:0]
	}
}

func (s *sharedWriter) drain(batch *[]Record) {
	for {
		select {
		case rec := <-s.inbox:
			*batch = append(*batch, rec)
		default:
			return
		}
	}
}

// flush groups the batch by file and appends each group in record order.
func (s *sharedWriter) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}

	groups := make(map[writerKey][]Record)
	var order []writerKey
	for _, rec := range batch {
		key := writerKey{device: rec.DeviceID, date: dateOf(rec.ReceivedAt)}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].device != order[j].device {
			return order[i].device < order[j].device
		}
		return order[i].date < order[j].date
	})

	now := s.pool.cfg.Clock()
	syncDue := now.Sub(s.lastSync) >= s.pool.cfg.FlushInterval

	for _, key := range order {
		recs := groups[key]
		path := s.pool.filePath(key)

		if !s.pool.sharedAppendAllowed(key) {
			for range recs {
				metrics.ObserveDrop(s.pool.metrics, key.device)
			}
			logger.Warn("Shared writer dropped records for sealed file",
				logger.KeyDevice, key.device,
				logger.KeyPath, path)
			continue
		}

		buf := make([]byte, 0, len(recs)*96)
		for _, rec := range recs {
			buf = append(buf, formatLine(rec)...)
		}

		start := s.pool.cfg.Clock()
		if err := s.appendFile(path, buf, syncDue); err != nil {
			logger.Warn("Shared writer append failed",
				logger.KeyDevice, key.device,
				logger.KeyPath, path,
				logger.KeyError, err)
			for range recs {
				metrics.ObserveDrop(s.pool.metrics, key.device)
			}
			continue
		}
		metrics.ObserveBatch(s.pool.metrics, len(recs), int64(len(buf)), s.pool.cfg.Clock().Sub(start))
	}

	if syncDue {
		s.lastSync = now
	}
}

func (s *sharedWriter) appendFile(path string, buf []byte, sync bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return err
	}
	if sync {
		start := s.pool.cfg.Clock()
		if err := f.Sync(); err != nil {
			return err
		}
		metrics.ObserveFsync(s.pool.metrics, s.pool.cfg.Clock().Sub(start))
	}
	return nil
}
