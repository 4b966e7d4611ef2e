package writerpool

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for exercising day boundaries.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestPool(t *testing.T, mutate func(*Config)) (*Pool, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := Config{
		BasePath:          dir,
		BatchWait:         5 * time.Millisecond,
		SealCheckInterval: 10 * time.Millisecond,
		// Pinned to the fixture date so records are never refused as
		// past the pool's current date.
		Clock: newFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)).Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := New(cfg, nil)
	require.NoError(t, err)
	p.Start()
	return p, dir
}

func waitForFile(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return string(data)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("file %s never appeared", path)
	return ""
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BasePath: "/tmp/x"}
	cfg.ApplyDefaults()

	assert.Equal(t, 8192, cfg.QueueDepth)
	assert.Equal(t, 256, cfg.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.BatchWait)
	assert.Equal(t, time.Second, cfg.FlushInterval)
	assert.Positive(t, cfg.MaxWriters)
	assert.NotNil(t, cfg.Clock)
}

func TestNewRequiresBasePath(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestFormatLine(t *testing.T) {
	rec := Record{
		SourceIP:   "10.0.0.5",
		Message:    "link down on eth0",
		ReceivedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
	}
	assert.Equal(t, "2026-03-14 09:26:53.589793 | 10.0.0.5 | link down on eth0\n", formatLine(rec))
}

func TestFormatLineFlattensNewlines(t *testing.T) {
	rec := Record{
		SourceIP:   "10.0.0.5",
		Message:    "first\r\nsecond\nthird",
		ReceivedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	line := formatLine(rec)
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.Contains(t, line, "first  second third")
}

func TestEnqueueWritesPerDeviceFiles(t *testing.T) {
	p, dir := newTestPool(t, nil)
	defer p.Stop()

	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	p.Enqueue(Record{DeviceID: "firewall-hq", SourceIP: "10.0.0.5", Message: "one", ReceivedAt: ts})
	p.Enqueue(Record{DeviceID: "firewall-hq", SourceIP: "10.0.0.5", Message: "two", ReceivedAt: ts.Add(time.Second)})
	p.Enqueue(Record{DeviceID: "core-switch", SourceIP: "10.0.0.6", Message: "three", ReceivedAt: ts})

	fw := waitForFile(t, filepath.Join(dir, "firewall-hq", "2026-03-14.log"))
	lines := strings.Split(strings.TrimRight(fw, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "| one")
	assert.Contains(t, lines[1], "| two")

	sw := waitForFile(t, filepath.Join(dir, "core-switch", "2026-03-14.log"))
	assert.Contains(t, sw, "| three")
}

func TestStopFlushesPending(t *testing.T) {
	p, dir := newTestPool(t, func(cfg *Config) {
		cfg.BatchWait = time.Hour // force the flush to come from Stop
	})

	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		p.Enqueue(Record{DeviceID: "firewall-hq", SourceIP: "10.0.0.5", Message: "m", ReceivedAt: ts})
	}
	p.Stop()

	data, err := os.ReadFile(filepath.Join(dir, "firewall-hq", "2026-03-14.log"))
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(string(data), "\n"))
}

func TestDayBoundarySealsAndEmitsEvent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC))
	p, dir := newTestPool(t, func(cfg *Config) {
		cfg.Clock = clock.Now
	})
	defer p.Stop()

	p.Enqueue(Record{DeviceID: "firewall-hq", SourceIP: "10.0.0.5", Message: "last of the day", ReceivedAt: clock.Now()})
	waitForFile(t, filepath.Join(dir, "firewall-hq", "2026-03-14.log"))

	clock.Set(time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC))

	select {
	case ev := <-p.Sealed():
		assert.Equal(t, "firewall-hq", ev.DeviceID)
		assert.Equal(t, "2026-03-14", ev.Date)
		assert.Equal(t, filepath.Join(dir, "firewall-hq", "2026-03-14.log"), ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no seal event at day boundary")
	}
}

func TestSealedChannelClosedAfterStop(t *testing.T) {
	p, _ := newTestPool(t, nil)
	p.Stop()

	_, open := <-p.Sealed()
	assert.False(t, open)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	p, err := New(Config{BasePath: t.TempDir(), QueueDepth: 2}, nil)
	require.NoError(t, err)
	// Pool not started and writer goroutine never launched, so the
	// inbox fills deterministically.
	w := newDeviceWriter(p, writerKey{device: "firewall-hq", date: "2026-03-14"})

	for i, msg := range []string{"a", "b", "c"} {
		w.enqueue(Record{DeviceID: "firewall-hq", Message: msg, ReceivedAt: time.Unix(int64(i), 0)})
	}

	require.Len(t, w.inbox, 2)
	first := <-w.inbox
	second := <-w.inbox
	assert.Equal(t, "b", first.Message)
	assert.Equal(t, "c", second.Message)
}

func TestSharedWriterServesOverflowDevices(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	p, dir := newTestPool(t, func(cfg *Config) {
		cfg.MaxWriters = 1
		cfg.Clock = clock.Now
	})

	ts := clock.Now()
	p.Enqueue(Record{DeviceID: "dev-a", SourceIP: "10.0.0.1", Message: "alpha", ReceivedAt: ts})
	p.Enqueue(Record{DeviceID: "dev-b", SourceIP: "10.0.0.2", Message: "beta", ReceivedAt: ts})
	p.Enqueue(Record{DeviceID: "dev-c", SourceIP: "10.0.0.3", Message: "gamma", ReceivedAt: ts})

	assert.Contains(t, waitForFile(t, filepath.Join(dir, "dev-a", "2026-03-14.log")), "alpha")
	assert.Contains(t, waitForFile(t, filepath.Join(dir, "dev-b", "2026-03-14.log")), "beta")
	assert.Contains(t, waitForFile(t, filepath.Join(dir, "dev-c", "2026-03-14.log")), "gamma")

	// Day boundary seals shared-writer files too.
	clock.Set(time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC))

	sealed := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(sealed) < 3 {
		select {
		case ev := <-p.Sealed():
			sealed[ev.DeviceID] = true
		case <-deadline:
			t.Fatalf("only %d of 3 seal events arrived", len(sealed))
		}
	}
	p.Stop()
}

func TestEnqueueRefusesRecordForSealedDate(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC))
	p, dir := newTestPool(t, func(cfg *Config) {
		cfg.Clock = clock.Now
	})

	p.Enqueue(Record{DeviceID: "firewall-hq", SourceIP: "10.0.0.5", Message: "before midnight", ReceivedAt: clock.Now()})
	path := filepath.Join(dir, "firewall-hq", "2026-03-14.log")
	waitForFile(t, path)

	clock.Set(time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC))
	select {
	case ev := <-p.Sealed():
		require.Equal(t, "2026-03-14", ev.Date)
	case <-time.After(2 * time.Second):
		t.Fatal("no seal event at day boundary")
	}

	// A straggler timestamped just before midnight arrives after the
	// seal event. Once a file is sealed its signature covers the exact
	// bytes on disk, so the record must be refused, not appended.
	p.Enqueue(Record{DeviceID: "firewall-hq", SourceIP: "10.0.0.5", Message: "straggler", ReceivedAt: time.Date(2026, 3, 14, 23, 59, 59, 999000000, time.UTC)})
	p.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.NotContains(t, string(data), "straggler")
}

func TestSharedKeyStaysWithSharedWriter(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	p, dir := newTestPool(t, func(cfg *Config) {
		cfg.MaxWriters = 1
		cfg.Clock = clock.Now
	})

	ts := clock.Now()
	p.Enqueue(Record{DeviceID: "dev-a", SourceIP: "10.0.0.1", Message: "alpha", ReceivedAt: ts})
	p.Enqueue(Record{DeviceID: "dev-b", SourceIP: "10.0.0.2", Message: "beta one", ReceivedAt: ts})
	waitForFile(t, filepath.Join(dir, "dev-b", "2026-03-14.log"))

	// Free pool capacity while the shared writer still owns dev-b's
	// file. The next dev-b record must keep routing to the shared
	// writer: a dedicated writer for the same file would mean two
	// appenders and a possible ordering inversion.
	p.mu.Lock()
	delete(p.writers, writerKey{device: "dev-a", date: "2026-03-14"})
	p.mu.Unlock()

	p.Enqueue(Record{DeviceID: "dev-b", SourceIP: "10.0.0.2", Message: "beta two", ReceivedAt: ts.Add(time.Second)})

	p.mu.Lock()
	_, dedicated := p.writers[writerKey{device: "dev-b", date: "2026-03-14"}]
	p.mu.Unlock()
	assert.False(t, dedicated)

	p.Stop()

	data, err := os.ReadFile(filepath.Join(dir, "dev-b", "2026-03-14.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "beta one")
	assert.Contains(t, lines[1], "beta two")
}

func TestSealedFileNotReopened(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC))
	p, dir := newTestPool(t, func(cfg *Config) {
		cfg.Clock = clock.Now
	})
	defer p.Stop()

	p.Enqueue(Record{DeviceID: "firewall-hq", SourceIP: "10.0.0.5", Message: "day one", ReceivedAt: clock.Now()})
	waitForFile(t, filepath.Join(dir, "firewall-hq", "2026-03-14.log"))

	clock.Set(time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC))
	<-p.Sealed()

	// A record received today lands in today's file.
	p.Enqueue(Record{DeviceID: "firewall-hq", SourceIP: "10.0.0.5", Message: "day two", ReceivedAt: clock.Now()})
	waitForFile(t, filepath.Join(dir, "firewall-hq", "2026-03-15.log"))

	old, err := os.ReadFile(filepath.Join(dir, "firewall-hq", "2026-03-14.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(old), "day two")
}
