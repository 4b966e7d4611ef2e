// Package writerpool appends ingested log records to per-device daily
// files.
//
// Each (device, date) key is served by exactly one writer goroutine, so
// records for a device arrive in their files in enqueue order. Appends are
// batched and durability syncs are throttled; a crash may lose the last
// flush interval of unsigned writes, which the custody model tolerates
// because guarantees attach at signing time, not at ingest time.
//
// When the wallclock date passes a writer's date the file is sealed: the
// writer flushes, closes and retires, and a SealedEvent is published for
// the signing stage. Sealed files are never reopened for append.
package writerpool

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/metrics"
)

// Record is one attributed log record bound for a device file.
type Record struct {
	DeviceID   string
	SourceIP   string
	Message    string
	ReceivedAt time.Time
}

// SealedEvent announces that a daily file has been closed at a day
// boundary and is ready for signing.
type SealedEvent struct {
	DeviceID string
	Date     string // YYYY-MM-DD
	Path     string
}

// Config controls the writer pool.
type Config struct {
	// BasePath is the root of the device file tree:
	// <BasePath>/<device>/<YYYY-MM-DD>.log.
	BasePath string

	// QueueDepth bounds each writer inbox. On overflow the oldest
	// unwritten record for that device is dropped.
	QueueDepth int

	// BatchSize caps records per append batch.
	BatchSize int

	// BatchWait caps how long a partial batch waits before flushing.
	BatchWait time.Duration

	// FlushInterval throttles fsync to at most once per interval.
	FlushInterval time.Duration

	// MaxWriters caps dedicated writer goroutines. Further devices
	// share a cooperative writer.
	MaxWriters int

	// SealCheckInterval is how often writers are checked against the
	// current date.
	SealCheckInterval time.Duration

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

// ApplyDefaults fills zero fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8192
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.BatchWait <= 0 {
		c.BatchWait = 10 * time.Millisecond
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.MaxWriters <= 0 {
		c.MaxWriters = 2 * runtime.NumCPU()
	}
	if c.SealCheckInterval <= 0 {
		c.SealCheckInterval = time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Validate checks the configuration for usability.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("writer pool base path is required")
	}
	return nil
}

type writerKey struct {
	device string
	date   string
}

// sharedKeyState tracks a (device, date) file owned by the shared
// writer. sealPending marks the grace cycle between the day boundary
// and the seal event, giving records already buffered in the shared
// inbox time to reach the file.
type sharedKeyState struct {
	path        string
	sealPending bool
}

// Pool dispatches records to per-device writers and manages their
// lifecycle.
type Pool struct {
	cfg     Config
	metrics metrics.WriterMetrics

	mu          sync.Mutex
	writers     map[writerKey]*deviceWriter
	shared      *sharedWriter
	sharedKeys  map[writerKey]*sharedKeyState
	currentDate string // keys with an earlier date are sealed or sealing

	sealed   chan SealedEvent
	shutdown chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopped  bool
}

// New creates a writer pool with the given configuration.
func New(cfg Config, m metrics.WriterMetrics) (*Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Pool{
		cfg:         cfg,
		metrics:     m,
		writers:     make(map[writerKey]*deviceWriter),
		sharedKeys:  make(map[writerKey]*sharedKeyState),
		currentDate: dateOf(cfg.Clock()),
		sealed:      make(chan SealedEvent, 128),
		shutdown:    make(chan struct{}),
	}, nil
}

// Start launches the day-boundary roller. Enqueue may be called after
// Start returns.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.rollLoop()

	logger.Info("Writer pool started",
		"base_path", p.cfg.BasePath,
		"queue_depth", p.cfg.QueueDepth,
		"max_writers", p.cfg.MaxWriters)
}

// Sealed returns the channel of day-boundary seal events. The channel is
// closed after Stop completes.
func (p *Pool) Sealed() <-chan SealedEvent {
	return p.sealed
}

// Enqueue hands a record to its device writer. It never blocks: a full
// queue evicts the oldest unwritten record for that device.
//
// A record dated before the pool's current date is refused and counted
// as a drop: its file is sealed (or sealing) and must not be reopened.
func (p *Pool) Enqueue(rec Record) {
	key := writerKey{device: rec.DeviceID, date: dateOf(rec.ReceivedAt)}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	if key.date < p.currentDate {
		metrics.ObserveDrop(p.metrics, key.device)
		logger.Warn("Record for sealed date refused",
			logger.KeyDevice, key.device,
			logger.KeyDate, key.date)
		return
	}

	if w, ok := p.writers[key]; ok {
		w.enqueue(rec)
		return
	}

	// A key the shared writer has served stays with it: two appenders
	// for one file would break per-device ordering.
	if _, ok := p.sharedKeys[key]; ok {
		p.sharedLocked().enqueue(rec)
		return
	}

	if len(p.writers) >= p.cfg.MaxWriters {
		p.sharedKeys[key] = &sharedKeyState{path: p.filePath(key)}
		p.sharedLocked().enqueue(rec)
		return
	}

	w := newDeviceWriter(p, key)
	p.writers[key] = w
	p.wg.Add(1)
	go w.run()
	w.enqueue(rec)
}

// Stop flushes and closes every writer, then closes the sealed channel.
// Files closed here are not sealed; a restart on the same day reopens
// them for append.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.shutdown)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.sealed)

	logger.Info("Writer pool stopped")
}

// rollLoop retires writers whose date has passed.
func (p *Pool) rollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SealCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.sealExpired()
		}
	}
}

// sealExpired advances the pool date, detaches every writer whose date
// has passed and asks it to seal. Shared-writer files past their date
// are sealed by event only; no handle is held open for them. Their seal
// event waits one extra cycle: Enqueue stops accepting records for the
// old date the moment the pool date advances, and the grace cycle lets
// records already buffered in the shared inbox reach the file first.
func (p *Pool) sealExpired() {
	today := dateOf(p.cfg.Clock())

	p.mu.Lock()
	if today > p.currentDate {
		p.currentDate = today
	}
	var toSeal []*deviceWriter
	for key, w := range p.writers {
		if key.date < today {
			delete(p.writers, key)
			toSeal = append(toSeal, w)
		}
	}
	var sharedSealed []SealedEvent
	for key, st := range p.sharedKeys {
		if key.date >= today {
			continue
		}
		if !st.sealPending {
			st.sealPending = true
			continue
		}
		delete(p.sharedKeys, key)
		sharedSealed = append(sharedSealed, SealedEvent{
			DeviceID: key.device,
			Date:     key.date,
			Path:     st.path,
		})
	}
	p.mu.Unlock()

	for _, w := range toSeal {
		close(w.seal)
	}
	for _, ev := range sharedSealed {
		p.emitSealed(ev)
	}
}

// emitSealed publishes without blocking. A full channel drops the event;
// the periodic signing sweep picks up sealed files that missed their
// event.
func (p *Pool) emitSealed(ev SealedEvent) {
	select {
	case p.sealed <- ev:
		metrics.ObserveSealed(p.metrics)
	default:
		logger.Warn("Seal event channel full, relying on sweep",
			logger.KeyDevice, ev.DeviceID,
			logger.KeyPath, ev.Path)
	}
}

// sharedLocked returns the cooperative writer, creating it on first use.
// Caller holds p.mu.
func (p *Pool) sharedLocked() *sharedWriter {
	if p.shared == nil {
		p.shared = newSharedWriter(p)
		p.wg.Add(1)
		go p.shared.run()
	}
	return p.shared
}

// sharedAppendAllowed reports whether the shared writer may still append
// to the key's file. False means the seal event already went out.
func (p *Pool) sharedAppendAllowed(key writerKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key.date >= p.currentDate {
		return true
	}
	_, ok := p.sharedKeys[key]
	return ok
}

func (p *Pool) filePath(key writerKey) string {
	return filepath.Join(p.cfg.BasePath, key.device, key.date+".log")
}

func dateOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// formatLine renders one record. Embedded line breaks are flattened to
// spaces so the one-record-per-line invariant holds.
func formatLine(rec Record) string {
	msg := rec.Message
	if strings.ContainsAny(msg, "\r\n") {
		msg = strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return ' '
			}
			return r
		}, msg)
	}
	ts := rec.ReceivedAt.UTC().Format("2006-01-02 15:04:05.000000")
	return ts + " | " + rec.SourceIP + " | " + msg + "\n"
}
