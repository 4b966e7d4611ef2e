// Package reporter computes compliance scores over a reporting window
// and persists them as immutable report rows.
//
// The score starts at 100 and loses weighted penalties for unsigned or
// invalid files, missing trusted timestamps, absent archival activity and
// failed audited accesses. A window with no activity at all has nothing
// to hold against the operator and scores 100.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/store/models"
)

// Score weights, summing to 100.
const (
	weightSignatureValidity = 40.0
	weightTimestampCoverage = 20.0
	weightArchivalCoverage  = 20.0
	weightAccessAudit       = 20.0
)

// Series is the per-day breakdown embedded in a report.
type Series struct {
	Signatures []models.DailyCount `json:"signatures"`
	Archives   []models.DailyCount `json:"archives"`
}

// Reporter generates compliance reports.
type Reporter struct {
	store store.Store
	clock func() time.Time
}

// New creates a reporter.
func New(st store.Store) (*Reporter, error) {
	if st == nil {
		return nil, fmt.Errorf("reporter requires a store")
	}
	return &Reporter{store: st, clock: time.Now}, nil
}

// Generate aggregates the window [start, end], computes the score,
// persists the report row and returns it.
func (r *Reporter) Generate(ctx context.Context, start, end time.Time) (*models.ComplianceReport, error) {
	sigStats, err := r.store.SignatureStats(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate signatures: %w", err)
	}
	arcStats, err := r.store.ArchiveStats(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate archives: %w", err)
	}
	accStats, err := r.store.AccessStats(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate access trail: %w", err)
	}

	sigSeries, err := r.store.SignatureDailyCounts(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to build signature series: %w", err)
	}
	arcSeries, err := r.store.ArchiveDailyCounts(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to build archive series: %w", err)
	}

	seriesJSON, err := json.Marshal(Series{Signatures: sigSeries, Archives: arcSeries})
	if err != nil {
		return nil, fmt.Errorf("failed to encode series: %w", err)
	}

	report := &models.ComplianceReport{
		PeriodStart:            start,
		PeriodEnd:              end,
		TotalSignatures:        sigStats.Total,
		ValidSignatures:        sigStats.Valid,
		TimestampedSignatures:  sigStats.Timestamped,
		TotalArchives:          arcStats.Total,
		TotalAccessEvents:      accStats.Total,
		SuccessfulAccessEvents: accStats.Successful,
		Score:                  computeScore(sigStats, arcStats, accStats),
		SeriesJSON:             string(seriesJSON),
		GeneratedAt:            r.clock().UTC(),
	}

	if err := r.store.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	// Report generation is itself an audited access.
	if err := r.store.AppendAccess(ctx, &models.AccessEvent{
		Actor:   "reporter",
		Action:  "generate_report",
		Success: true,
	}); err != nil {
		logger.Warn("Failed to append report access row", logger.KeyError, err)
	}

	logger.Info("Compliance report generated",
		"period_start", start.Format(time.DateOnly),
		"period_end", end.Format(time.DateOnly),
		"score", report.Score)
	return report, nil
}

// ExportJSON writes a report as a standalone JSON document via atomic
// rename, suitable for handing to an auditor.
func ExportJSON(report *models.ComplianceReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to export report %q: %w", path, err)
	}
	return nil
}

// computeScore applies the weighted penalty rubric. Zero denominators
// penalize nothing, and a fully empty window scores 100.
func computeScore(sig store.SignatureStats, arc store.ArchiveStats, acc store.AccessStats) float64 {
	if sig.Total == 0 && arc.Total == 0 && acc.Total == 0 {
		return 100.0
	}

	score := 100.0

	if sig.Total > 0 {
		score -= weightSignatureValidity * (1.0 - float64(sig.Valid)/float64(sig.Total))
		score -= weightTimestampCoverage * (1.0 - float64(sig.Timestamped)/float64(sig.Total))
	}
	if arc.Total == 0 {
		score -= weightArchivalCoverage
	}
	if acc.Total > 0 {
		score -= weightAccessAudit * (1.0 - float64(acc.Successful)/float64(acc.Total))
	}

	if score < 0 {
		return 0
	}
	return score
}
