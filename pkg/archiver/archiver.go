// Package archiver moves signed device files into compressed archives
// under a retention horizon.
//
// The ordering is the load-bearing part: compress to a temp path, rename,
// verify the decompressed bytes against the signed hash, commit the
// provenance row, and only then delete the original and its sidecar. At
// no point is the plaintext gone without a verified archive in place. A
// crash anywhere in the sequence leaves debris that the next sweep
// resolves: an unclaimed .gz is deleted, a claimed original is re-deleted.
package archiver

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/metrics"
	"github.com/logmaster/logmaster/pkg/signer"
	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/store/models"
)

// ErrNotSigned means the candidate file has no committed signature row
// and must not be archived yet.
var ErrNotSigned = errors.New("file is not signed")

// ErrVerifyFailed means the archive's decompressed bytes do not hash to
// the signed file hash. The archive artifact is discarded and the
// original left intact.
var ErrVerifyFailed = errors.New("archive verification failed")

// Config controls the archiver engine.
type Config struct {
	// LogBasePath is the root of the live device file tree.
	LogBasePath string

	// ArchiveBasePath is the root of the archive tree.
	ArchiveBasePath string

	// ArchiveAfterDays is the minimum age before a signed file is
	// archived (default 7).
	ArchiveAfterDays int

	// RetentionDays sets the retention horizon stamped on each archive
	// row (default 730).
	RetentionDays int

	// SweepInterval is the period of the archival sweep (default 1h).
	SweepInterval time.Duration

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

// ApplyDefaults fills zero fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.ArchiveAfterDays <= 0 {
		c.ArchiveAfterDays = 7
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 730
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Candidate is one file an archival sweep would act on.
type Candidate struct {
	Path     string
	DeviceID string
	Date     string
	Size     int64
	Signed   bool
}

// Engine runs periodic archival sweeps.
type Engine struct {
	cfg     Config
	store   store.Store
	metrics metrics.PipelineMetrics

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an archiver engine.
func New(cfg Config, st store.Store, m metrics.PipelineMetrics) (*Engine, error) {
	cfg.ApplyDefaults()
	if cfg.LogBasePath == "" || cfg.ArchiveBasePath == "" {
		return nil, fmt.Errorf("archiver requires log and archive base paths")
	}
	if st == nil {
		return nil, fmt.Errorf("archiver requires a store")
	}
	return &Engine{cfg: cfg, store: st, metrics: m}, nil
}

// Start launches the periodic sweep.
func (e *Engine) Start(ctx context.Context) {
	if e.started {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Archival sweep failed", logger.KeyError, err)
				}
			}
		}
	}()

	logger.Info("Archiver engine started",
		"sweep_interval", e.cfg.SweepInterval,
		"archive_after_days", e.cfg.ArchiveAfterDays)
}

// Stop cancels the engine and waits for the in-flight sweep to finish.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.cancel()
	e.wg.Wait()
	logger.Info("Archiver engine stopped")
}

// Plan lists what a sweep would archive right now without touching
// anything. Unsigned candidates are included, flagged, and skipped by the
// real sweep.
func (e *Engine) Plan(ctx context.Context) ([]Candidate, error) {
	cutoff := e.cutoffDate()

	var out []Candidate
	err := e.eachEligibleFile(cutoff, func(path, deviceID, date string, size int64) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.store.GetArchiveByOriginalPath(ctx, path); err == nil {
			return nil // already claimed
		} else if !errors.Is(err, models.ErrArchiveNotFound) {
			return err
		}

		signed := true
		if _, err := e.store.GetSignatureByPath(ctx, path); err != nil {
			if !errors.Is(err, models.ErrSignatureNotFound) {
				return err
			}
			signed = false
		}
		out = append(out, Candidate{Path: path, DeviceID: deviceID, Date: date, Size: size, Signed: signed})
		return nil
	})
	return out, err
}

// Sweep archives every eligible signed file, then clears debris left by
// earlier crashes.
func (e *Engine) Sweep(ctx context.Context) error {
	cutoff := e.cutoffDate()

	err := e.eachEligibleFile(cutoff, func(path, deviceID, date string, _ int64) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.ArchiveFile(ctx, path, deviceID, date); err != nil {
			if errors.Is(err, ErrNotSigned) {
				return nil // the signer sweep will get to it
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Warn("Archival failed",
				logger.KeyPath, path,
				logger.KeyError, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return e.sweepDebris(ctx)
}

// ArchiveFile archives one signed file. Re-running on an already claimed
// file only retries the original and sidecar deletions.
func (e *Engine) ArchiveFile(ctx context.Context, path, deviceID, date string) error {
	start := e.cfg.Clock()

	if entry, err := e.store.GetArchiveByOriginalPath(ctx, path); err == nil {
		e.deleteOriginal(entry.OriginalPath)
		return nil
	} else if !errors.Is(err, models.ErrArchiveNotFound) {
		return err
	}

	sigRow, err := e.store.GetSignatureByPath(ctx, path)
	if err != nil {
		if errors.Is(err, models.ErrSignatureNotFound) {
			return ErrNotSigned
		}
		return err
	}

	archivePath := filepath.Join(e.cfg.ArchiveBasePath, deviceID, date+".log.gz")
	originalSize, err := e.compress(path, archivePath)
	if err != nil {
		metrics.ObserveArchive(e.metrics, false, 0, 0, 0)
		return fmt.Errorf("failed to compress %q: %w", path, err)
	}

	gotHash, err := hashDecompressed(archivePath)
	if err != nil {
		os.Remove(archivePath)
		metrics.ObserveArchive(e.metrics, false, 0, 0, 0)
		return fmt.Errorf("failed to verify archive %q: %w", archivePath, err)
	}
	if gotHash != sigRow.FileHash {
		os.Remove(archivePath)
		metrics.ObserveArchive(e.metrics, false, 0, 0, 0)
		logger.Error("Archive verification mismatch, original left intact",
			logger.KeyPath, path,
			logger.KeyArchivePath, archivePath,
			logger.KeyHash, gotHash)
		return fmt.Errorf("%w: %q", ErrVerifyFailed, path)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive %q: %w", archivePath, err)
	}

	entry := &models.ArchiveEntry{
		OriginalPath:   path,
		ArchivePath:    archivePath,
		DeviceID:       deviceID,
		Compression:    "gzip",
		OriginalSize:   originalSize,
		CompressedSize: info.Size(),
		ArchiveHash:    gotHash,
		RetentionUntil: e.retentionHorizon(),
	}
	if err := e.store.InsertArchive(ctx, entry); err != nil {
		return fmt.Errorf("failed to commit archive row for %q: %w", path, err)
	}

	// Only after the row commit is the plaintext allowed to go.
	e.deleteOriginal(path)

	metrics.ObserveArchive(e.metrics, true, originalSize, info.Size(), e.cfg.Clock().Sub(start))
	logger.Info("File archived",
		logger.KeyDevice, deviceID,
		logger.KeyPath, path,
		logger.KeyArchivePath, archivePath,
		logger.KeySize, info.Size())
	return nil
}

// sweepDebris deletes unclaimed .gz artifacts and retries deletions for
// claimed originals that survived a crash.
func (e *Engine) sweepDebris(ctx context.Context) error {
	devices, err := os.ReadDir(e.cfg.ArchiveBasePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to scan archive base path: %w", err)
	}
	for _, dev := range devices {
		if !dev.IsDir() {
			continue
		}
		dir := filepath.Join(e.cfg.ArchiveBasePath, dev.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".log.gz") {
				continue
			}
			gzPath := filepath.Join(dir, f.Name())
			if _, err := e.store.GetArchiveByArchivePath(ctx, gzPath); errors.Is(err, models.ErrArchiveNotFound) {
				logger.Warn("Deleting unclaimed archive artifact", logger.KeyArchivePath, gzPath)
				os.Remove(gzPath)
			} else if err != nil {
				return err
			}
		}
	}

	entries, err := e.store.ListArchives(ctx)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fileExists(entry.OriginalPath) {
			logger.Warn("Claimed original still present, retrying deletion",
				logger.KeyPath, entry.OriginalPath)
			e.deleteOriginal(entry.OriginalPath)
		}
	}
	return nil
}

// deleteOriginal removes a claimed file and its sidecar, best effort.
func (e *Engine) deleteOriginal(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to delete archived original", logger.KeyPath, path, logger.KeyError, err)
	}
	sidecar := signer.SidecarPath(path)
	if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to delete sidecar", logger.KeyPath, sidecar, logger.KeyError, err)
	}
}

// compress gzips src to dst via a temp file and rename. Returns the
// plaintext size.
func (e *Engine) compress(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*.gz")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	gz := gzip.NewWriter(tmp)
	written, err := io.Copy(gz, in)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, err
	}
	return written, nil
}

// hashDecompressed returns the hex SHA-256 of an archive's plaintext.
func hashDecompressed(gzPath string) (string, error) {
	f, err := os.Open(gzPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer gz.Close()

	h := sha256.New()
	if _, err := io.Copy(h, gz); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// eachEligibleFile visits every .log file whose date is at or before the
// cutoff.
func (e *Engine) eachEligibleFile(cutoff string, fn func(path, deviceID, date string, size int64) error) error {
	devices, err := os.ReadDir(e.cfg.LogBasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to scan log base path: %w", err)
	}

	for _, dev := range devices {
		if !dev.IsDir() {
			continue
		}
		deviceID := dev.Name()
		dir := filepath.Join(e.cfg.LogBasePath, deviceID)
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, ".log") {
				continue
			}
			date := strings.TrimSuffix(name, ".log")
			if date > cutoff {
				continue
			}
			info, err := f.Info()
			var size int64
			if err == nil {
				size = info.Size()
			}
			if err := fn(filepath.Join(dir, name), deviceID, date, size); err != nil {
				return err
			}
		}
	}
	return nil
}

// cutoffDate is the newest file date old enough to archive.
func (e *Engine) cutoffDate() string {
	return e.cfg.Clock().UTC().AddDate(0, 0, -e.cfg.ArchiveAfterDays).Format(time.DateOnly)
}

// retentionHorizon is the day the archive becomes deletable.
func (e *Engine) retentionHorizon() time.Time {
	now := e.cfg.Clock().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, e.cfg.RetentionDays)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
