// Package store provides the metadata persistence layer for the custody
// pipeline.
//
// The filesystem holds the log content; this store holds provenance: which
// files were signed and when, which archives exist and until when they must
// be retained, generated compliance reports, and the append-only access
// audit trail.
//
// Two backends are supported:
//   - SQLite (single-node, default)
//   - PostgreSQL
package store

import (
	"context"
	"time"

	"github.com/logmaster/logmaster/pkg/store/models"
)

// SignatureStats aggregates signature rows over a reporting window.
type SignatureStats struct {
	Total       int64
	Valid       int64
	Timestamped int64
	TotalBytes  int64
}

// ArchiveStats aggregates archive rows over a reporting window.
type ArchiveStats struct {
	Total           int64
	OriginalBytes   int64
	CompressedBytes int64
}

// AccessStats aggregates access-audit rows over a reporting window.
type AccessStats struct {
	Total      int64
	Successful int64
}

// Store is the metadata persistence interface used by the pipeline engines.
//
// All operations are single-row; the engines sequence filesystem work and
// row commits themselves (durable artifact first, then the claim), so the
// store never needs cross-row transactions.
//
// Thread safety: implementations must be safe for concurrent use.
type Store interface {
	// ============================================
	// SIGNATURE OPERATIONS
	// ============================================

	// UpsertSignature commits a signature row, idempotent on
	// (file_path, file_hash). A sweep that finds a sidecar without a row
	// calls this to re-commit deterministically.
	UpsertSignature(ctx context.Context, sig *models.Signature) error

	// GetSignatureByPath returns the most recent signature row for a file
	// path. Returns models.ErrSignatureNotFound if none exists.
	GetSignatureByPath(ctx context.Context, filePath string) (*models.Signature, error)

	// ListSignaturesByStatus returns all signature rows with the given
	// status. Used by the signer sweep to retry TIMESTAMP_PENDING rows.
	ListSignaturesByStatus(ctx context.Context, status models.SignatureStatus) ([]*models.Signature, error)

	// SetSignatureTimestamp stores a late-arriving TSA token and flips the
	// row to VALID. Returns models.ErrSignatureNotFound if no row exists.
	SetSignatureTimestamp(ctx context.Context, filePath, tokenB64 string) error

	// SignatureStats aggregates signature rows whose signed_at falls in
	// [start, end].
	SignatureStats(ctx context.Context, start, end time.Time) (SignatureStats, error)

	// SignatureDailyCounts returns the per-day signature counts in
	// [start, end], keyed by signed_at date.
	SignatureDailyCounts(ctx context.Context, start, end time.Time) ([]models.DailyCount, error)

	// ============================================
	// ARCHIVE OPERATIONS
	// ============================================

	// InsertArchive commits an archive provenance row. Re-inserting the
	// same original_path is a no-op so archival reruns stay idempotent.
	InsertArchive(ctx context.Context, entry *models.ArchiveEntry) error

	// GetArchiveByOriginalPath returns the archive row claiming the given
	// original file. Returns models.ErrArchiveNotFound if none exists.
	GetArchiveByOriginalPath(ctx context.Context, originalPath string) (*models.ArchiveEntry, error)

	// GetArchiveByArchivePath returns the archive row for a .gz path.
	// Returns models.ErrArchiveNotFound if none exists. The archiver's
	// orphan sweep uses this to tell debris from claimed archives.
	GetArchiveByArchivePath(ctx context.Context, archivePath string) (*models.ArchiveEntry, error)

	// ListArchives returns all archive rows.
	ListArchives(ctx context.Context) ([]*models.ArchiveEntry, error)

	// ListExpiredArchives returns rows whose retention_until is strictly
	// before asOf's date.
	ListExpiredArchives(ctx context.Context, asOf time.Time) ([]*models.ArchiveEntry, error)

	// DeleteArchive removes an archive row by ID. Deleting a row that is
	// already gone is a no-op.
	DeleteArchive(ctx context.Context, id uint) error

	// ArchiveStats aggregates archive rows created in [start, end].
	ArchiveStats(ctx context.Context, start, end time.Time) (ArchiveStats, error)

	// ArchiveDailyCounts returns per-day archive counts in [start, end].
	ArchiveDailyCounts(ctx context.Context, start, end time.Time) ([]models.DailyCount, error)

	// ============================================
	// REPORT OPERATIONS
	// ============================================

	// SaveReport persists a generated compliance report. Reports are
	// immutable once written.
	SaveReport(ctx context.Context, report *models.ComplianceReport) error

	// GetReport returns a report by ID.
	// Returns models.ErrReportNotFound if it doesn't exist.
	GetReport(ctx context.Context, id uint) (*models.ComplianceReport, error)

	// ListReports returns all reports, newest first.
	ListReports(ctx context.Context) ([]*models.ComplianceReport, error)

	// ============================================
	// ACCESS AUDIT OPERATIONS
	// ============================================

	// AppendAccess appends one row to the access audit trail.
	AppendAccess(ctx context.Context, event *models.AccessEvent) error

	// AccessStats aggregates audit rows whose occurred_at falls in
	// [start, end].
	AccessStats(ctx context.Context, start, end time.Time) (AccessStats, error)

	// Close releases the underlying database connection.
	Close() error
}
