// Package retention purges archives that have outlived their retention
// horizon.
//
// Deletion order is file first, row second. A row without a file is
// harmless debris the next sweep clears; a file without a row would be
// invisible to auditors, which the custody model does not allow.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/metrics"
	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/store/models"
)

// Config controls the retention sweeper.
type Config struct {
	// SweepInterval is the period between sweeps (default 24h).
	SweepInterval time.Duration

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

// ApplyDefaults fills zero fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 24 * time.Hour
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Sweeper deletes expired archives.
type Sweeper struct {
	cfg     Config
	store   store.Store
	metrics metrics.PipelineMetrics

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a retention sweeper.
func New(cfg Config, st store.Store, m metrics.PipelineMetrics) (*Sweeper, error) {
	cfg.ApplyDefaults()
	if st == nil {
		return nil, fmt.Errorf("retention sweeper requires a store")
	}
	return &Sweeper{cfg: cfg, store: st, metrics: m}, nil
}

// Start launches the periodic sweep.
func (s *Sweeper) Start(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Retention sweep failed", logger.KeyError, err)
				}
			}
		}
	}()

	logger.Info("Retention sweeper started", "sweep_interval", s.cfg.SweepInterval)
}

// Stop cancels the sweeper and waits for the in-flight sweep.
func (s *Sweeper) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	s.wg.Wait()
	logger.Info("Retention sweeper stopped")
}

// Plan lists the archives a sweep would purge right now. Every entry is
// re-checked against the sweeper's clock: a boundary row returned by the
// store query stays untouched until its full retention day has passed.
func (s *Sweeper) Plan(ctx context.Context) ([]*models.ArchiveEntry, error) {
	now := s.cfg.Clock()
	entries, err := s.store.ListExpiredArchives(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired archives: %w", err)
	}

	expired := entries[:0]
	for _, entry := range entries {
		if entry.Expired(now) {
			expired = append(expired, entry)
		}
	}
	return expired, nil
}

// Sweep purges every expired archive and returns how many were removed.
// A missing file does not block the row deletion; the claim must not
// outlive the artifact.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.Plan(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, entry := range expired {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}

		if err := os.Remove(entry.ArchivePath); err != nil && !os.IsNotExist(err) {
			// Keep the row so the next sweep retries the file.
			logger.Warn("Failed to delete expired archive, keeping row",
				logger.KeyArchivePath, entry.ArchivePath,
				logger.KeyError, err)
			continue
		}

		if err := s.store.DeleteArchive(ctx, entry.ID); err != nil {
			logger.Warn("Failed to delete archive row",
				logger.KeyArchivePath, entry.ArchivePath,
				logger.KeyError, err)
			continue
		}

		purged++
		logger.Info("Expired archive purged",
			logger.KeyDevice, entry.DeviceID,
			logger.KeyArchivePath, entry.ArchivePath,
			"retention_until", entry.RetentionUntil.Format(time.DateOnly))
	}

	metrics.ObserveRetentionDeleted(s.metrics, purged)
	return purged, nil
}
