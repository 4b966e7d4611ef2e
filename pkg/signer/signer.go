package signer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/metrics"
	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/store/models"
	"github.com/logmaster/logmaster/pkg/writerpool"
)

// ErrCrypto marks a persistent signing failure. The engine stops when it
// sees one; sealed files stay queued for the next start.
var ErrCrypto = errors.New("persistent signing failure")

// hashBackoff is the open-and-hash retry schedule, exponential with five
// attempts total.
var hashBackoff = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
}

// Config controls the signer engine.
type Config struct {
	// LogBasePath is the root of the device file tree the sweep scans.
	LogBasePath string

	// SweepInterval is the period of the catch-up sweep (default 5m).
	SweepInterval time.Duration

	// Compliance is stamped into every sidecar and row.
	Compliance Compliance

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

// ApplyDefaults fills zero fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.Compliance.Standard == "" {
		c.Compliance = Compliance{Standard: "5651", Version: "1.0", RetentionYears: 2}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Engine signs sealed device files. It reacts to seal events and runs a
// periodic sweep that signs anything the events missed, re-commits rows
// for orphan sidecars and retries pending timestamps.
type Engine struct {
	cfg     Config
	store   store.Store
	keys    *KeyManager
	tsa     *TSAClient // nil when timestamps are disabled
	metrics metrics.PipelineMetrics
	sealed  <-chan writerpool.SealedEvent

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a signer engine. tsa may be nil to disable trusted
// timestamps.
func New(cfg Config, st store.Store, keys *KeyManager, tsa *TSAClient, sealed <-chan writerpool.SealedEvent, m metrics.PipelineMetrics) (*Engine, error) {
	cfg.ApplyDefaults()
	if cfg.LogBasePath == "" {
		return nil, fmt.Errorf("signer log base path is required")
	}
	if st == nil || keys == nil {
		return nil, fmt.Errorf("signer requires a store and a key manager")
	}

	return &Engine{
		cfg:     cfg,
		store:   st,
		keys:    keys,
		tsa:     tsa,
		metrics: m,
		sealed:  sealed,
	}, nil
}

// Start launches the event loop and the sweep ticker.
func (e *Engine) Start(ctx context.Context) {
	if e.started {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run(ctx)

	logger.Info("Signer engine started",
		"sweep_interval", e.cfg.SweepInterval,
		"tsa_enabled", e.tsa != nil,
		logger.KeyFingerprint, e.keys.Fingerprint())
}

// Stop cancels the engine and waits for the in-flight item to finish.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.cancel()
	e.wg.Wait()
	logger.Info("Signer engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.sealed:
			if !ok {
				return
			}
			if err := e.SignFile(ctx, ev.Path, ev.DeviceID, ev.Date); err != nil {
				if errors.Is(err, ErrCrypto) {
					logger.Error("Signer stopping on persistent crypto failure", logger.KeyError, err)
					return
				}
				logger.Warn("Signing failed, sweep will retry",
					logger.KeyPath, ev.Path,
					logger.KeyError, err)
			}
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				if errors.Is(err, ErrCrypto) {
					logger.Error("Signer stopping on persistent crypto failure", logger.KeyError, err)
					return
				}
				logger.Warn("Signer sweep failed", logger.KeyError, err)
			}
		}
	}
}

// SignFile seals one file: hash, sign, optional timestamp, sidecar, row.
// It is idempotent: an existing sidecar only gets its row re-committed.
func (e *Engine) SignFile(ctx context.Context, path, deviceID, date string) error {
	start := e.cfg.Clock()

	if deviceID == "" || date == "" {
		deviceID, date = deriveDeviceAndDate(path)
	}

	sidecarPath := SidecarPath(path)
	if fileExists(sidecarPath) {
		return e.recommitRow(ctx, path, sidecarPath)
	}

	digest, size, err := e.hashWithRetry(ctx, path)
	if err != nil {
		metrics.ObserveSign(e.metrics, false, 0)
		return fmt.Errorf("failed to hash %q: %w", path, err)
	}

	sig, err := e.keys.SignDigest(digest)
	if err != nil {
		// One retry; RSA-PSS failures are either transient entropy
		// trouble or a broken key.
		sig, err = e.keys.SignDigest(digest)
		if err != nil {
			metrics.ObserveSign(e.metrics, false, 0)
			return fmt.Errorf("%w: %v", ErrCrypto, err)
		}
	}

	status := models.SignatureStatusValid
	var token *string
	if e.tsa != nil {
		t, tsaErr := e.tsa.Timestamp(ctx, digest)
		if tsaErr != nil {
			metrics.ObserveTimestamp(e.metrics, false)
			logger.Warn("Trusted timestamp unavailable, marking pending",
				logger.KeyPath, path,
				logger.KeyError, tsaErr)
			status = models.SignatureStatusTimestampPending
		} else {
			metrics.ObserveTimestamp(e.metrics, true)
			token = &t
		}
	}

	sc := &Sidecar{
		FilePath:               path,
		FileHash:               hex.EncodeToString(digest),
		Signature:              base64.StdEncoding.EncodeToString(sig),
		SignatureAlgorithm:     AlgorithmRSAPSSSHA256,
		CertificateFingerprint: e.keys.Fingerprint(),
		SignedAt:               e.cfg.Clock().UTC(),
		TSATimestamp:           token,
		FileSize:               size,
		Compliance:             e.cfg.Compliance,
	}

	// Sidecar first, row second. A crash in between leaves a sidecar
	// without a row, which the sweep re-commits.
	if err := WriteSidecar(sidecarPath, sc); err != nil {
		metrics.ObserveSign(e.metrics, false, 0)
		return err
	}

	if err := e.store.UpsertSignature(ctx, rowFromSidecar(sc, deviceID, date, status)); err != nil {
		metrics.ObserveSign(e.metrics, false, 0)
		return fmt.Errorf("failed to commit signature row for %q: %w", path, err)
	}

	metrics.ObserveSign(e.metrics, true, e.cfg.Clock().Sub(start))
	logger.Info("File signed",
		logger.KeyDevice, deviceID,
		logger.KeyPath, path,
		logger.KeyHash, sc.FileHash,
		logger.KeySize, size,
		"status", status)
	return nil
}

// Sweep signs sealed files that missed their event, re-commits rows for
// orphan sidecars and retries pending timestamps.
func (e *Engine) Sweep(ctx context.Context) error {
	today := e.cfg.Clock().UTC().Format(time.DateOnly)

	devices, err := os.ReadDir(e.cfg.LogBasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return e.retryPendingTimestamps(ctx)
		}
		return fmt.Errorf("failed to scan log base path: %w", err)
	}

	for _, dev := range devices {
		if !dev.IsDir() {
			continue
		}
		deviceID := dev.Name()
		deviceDir := filepath.Join(e.cfg.LogBasePath, deviceID)

		files, err := os.ReadDir(deviceDir)
		if err != nil {
			logger.Warn("Failed to scan device directory",
				logger.KeyDevice, deviceID,
				logger.KeyError, err)
			continue
		}

		for _, f := range files {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, ".log") {
				continue
			}
			date := strings.TrimSuffix(name, ".log")
			if date >= today {
				continue // not sealed yet
			}
			path := filepath.Join(deviceDir, name)
			if err := e.SignFile(ctx, path, deviceID, date); err != nil {
				if errors.Is(err, ErrCrypto) {
					return err
				}
				logger.Warn("Sweep signing failed",
					logger.KeyPath, path,
					logger.KeyError, err)
			}
		}
	}

	return e.retryPendingTimestamps(ctx)
}

// retryPendingTimestamps asks the TSA again for every TIMESTAMP_PENDING
// row and updates both the sidecar and the row on success.
func (e *Engine) retryPendingTimestamps(ctx context.Context) error {
	if e.tsa == nil {
		return nil
	}

	pending, err := e.store.ListSignaturesByStatus(ctx, models.SignatureStatusTimestampPending)
	if err != nil {
		return fmt.Errorf("failed to list pending timestamps: %w", err)
	}

	for _, row := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		digest, err := hex.DecodeString(row.FileHash)
		if err != nil {
			logger.Warn("Pending row carries an unparseable hash",
				logger.KeyPath, row.FilePath,
				logger.KeyError, err)
			continue
		}

		token, err := e.tsa.Timestamp(ctx, digest)
		if err != nil {
			metrics.ObserveTimestamp(e.metrics, false)
			continue
		}
		metrics.ObserveTimestamp(e.metrics, true)

		// Sidecar first, then the row, same order as initial signing.
		if sc, readErr := ReadSidecar(SidecarPath(row.FilePath)); readErr == nil {
			sc.TSATimestamp = &token
			if writeErr := WriteSidecar(SidecarPath(row.FilePath), sc); writeErr != nil {
				logger.Warn("Failed to update sidecar with timestamp",
					logger.KeyPath, row.FilePath,
					logger.KeyError, writeErr)
				continue
			}
		}

		if err := e.store.SetSignatureTimestamp(ctx, row.FilePath, token); err != nil {
			logger.Warn("Failed to store late timestamp",
				logger.KeyPath, row.FilePath,
				logger.KeyError, err)
			continue
		}

		logger.Info("Late trusted timestamp obtained", logger.KeyPath, row.FilePath)
	}
	return nil
}

// recommitRow rebuilds the row for an existing sidecar. Upsert keyed on
// (file_path, file_hash) makes this a no-op when the row already exists.
func (e *Engine) recommitRow(ctx context.Context, path, sidecarPath string) error {
	sc, err := ReadSidecar(sidecarPath)
	if err != nil {
		return fmt.Errorf("failed to read sidecar for %q: %w", path, err)
	}

	deviceID, date := deriveDeviceAndDate(path)
	status := models.SignatureStatusValid
	if e.tsa != nil && (sc.TSATimestamp == nil || *sc.TSATimestamp == "") {
		status = models.SignatureStatusTimestampPending
	}

	return e.store.UpsertSignature(ctx, rowFromSidecar(sc, deviceID, date, status))
}

func rowFromSidecar(sc *Sidecar, deviceID, date string, status models.SignatureStatus) *models.Signature {
	return &models.Signature{
		FilePath:               sc.FilePath,
		FileHash:               sc.FileHash,
		DeviceID:               deviceID,
		FileDate:               date,
		SignatureB64:           sc.Signature,
		SignatureAlgorithm:     sc.SignatureAlgorithm,
		CertificateFingerprint: sc.CertificateFingerprint,
		SignedAt:               sc.SignedAt,
		TSATimestampB64:        sc.TSATimestamp,
		FileSize:               sc.FileSize,
		Status:                 status,
		ComplianceStandard:     sc.Compliance.Standard,
		ComplianceVersion:      sc.Compliance.Version,
		RetentionYears:         sc.Compliance.RetentionYears,
	}
}

// deriveDeviceAndDate recovers (device, date) from the canonical layout
// <base>/<device>/<YYYY-MM-DD>.log.
func deriveDeviceAndDate(path string) (string, string) {
	date := strings.TrimSuffix(filepath.Base(path), ".log")
	device := filepath.Base(filepath.Dir(path))
	return device, date
}

// hashWithRetry hashes a file, retrying transient open and read errors
// with exponential backoff.
func (e *Engine) hashWithRetry(ctx context.Context, path string) ([]byte, int64, error) {
	var lastErr error
	for attempt := 0; attempt <= len(hashBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(hashBackoff[attempt-1]):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}
		digest, size, err := HashFile(path)
		if err == nil {
			return digest, size, nil
		}
		lastErr = err
	}
	return nil, 0, lastErr
}
