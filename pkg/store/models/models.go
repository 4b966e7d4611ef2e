// Package models defines the metadata rows the custody pipeline persists:
// signature records, archive provenance, compliance reports, and the
// append-only access audit trail.
package models

import (
	"time"
)

// SignatureStatus tracks the lifecycle of a signature row.
type SignatureStatus string

const (
	// SignatureStatusValid means the file was signed and, if a TSA is
	// configured, carries a timestamp token.
	SignatureStatusValid SignatureStatus = "VALID"

	// SignatureStatusTimestampPending means signing succeeded but the TSA
	// request failed; the signer sweep retries the timestamp later.
	SignatureStatusTimestampPending SignatureStatus = "TIMESTAMP_PENDING"
)

// Signature is the metadata row committed after a sealed device file has
// been signed. The authoritative signature bytes live in the .sig sidecar
// next to the file; this row exists so auditors and the reporter can query
// custody state without touching the filesystem.
//
// Rows are upserted keyed on (file_path, file_hash) so a sweep that finds
// a sidecar without a row can re-commit deterministically.
type Signature struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	FilePath               string          `gorm:"uniqueIndex:idx_sig_path_hash;not null;size:512" json:"file_path"`
	FileHash               string          `gorm:"uniqueIndex:idx_sig_path_hash;not null;size:64" json:"file_hash"`
	DeviceID               string          `gorm:"index;not null;size:255" json:"device_id"`
	FileDate               string          `gorm:"index;size:10" json:"file_date"` // YYYY-MM-DD
	SignatureB64           string          `gorm:"not null" json:"signature"`
	SignatureAlgorithm     string          `gorm:"not null;size:64" json:"signature_algorithm"`
	CertificateFingerprint string          `gorm:"not null;size:64" json:"certificate_fingerprint"`
	SignedAt               time.Time       `gorm:"index;not null" json:"signed_at"`
	TSATimestampB64        *string         `json:"tsa_timestamp,omitempty"`
	FileSize               int64           `gorm:"not null" json:"file_size"`
	Status                 SignatureStatus `gorm:"index;not null;size:32" json:"status"`

	// Compliance profile persisted with every signature record.
	ComplianceStandard string `gorm:"size:64" json:"compliance_standard"`
	ComplianceVersion  string `gorm:"size:16" json:"compliance_version"`
	RetentionYears     int    `json:"retention_years"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Signature.
func (Signature) TableName() string {
	return "signatures"
}

// Timestamped reports whether the signature carries a TSA token.
func (s *Signature) Timestamped() bool {
	return s.TSATimestampB64 != nil && *s.TSATimestampB64 != ""
}

// ArchiveEntry records the provenance of a compressed archive. A row exists
// only after the archive has been written and verified against the signed
// file hash; the original device file is deleted only after the row commits.
type ArchiveEntry struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OriginalPath   string    `gorm:"uniqueIndex;not null;size:512" json:"original_path"`
	ArchivePath    string    `gorm:"uniqueIndex;not null;size:512" json:"archive_path"`
	DeviceID       string    `gorm:"index;not null;size:255" json:"device_id"`
	Compression    string    `gorm:"not null;size:16;default:gzip" json:"compression"`
	OriginalSize   int64     `gorm:"not null" json:"original_size"`
	CompressedSize int64     `gorm:"not null" json:"compressed_size"`
	ArchiveHash    string    `gorm:"not null;size:64" json:"archive_hash"` // SHA-256 of the plaintext, not the gzip bytes
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	RetentionUntil time.Time `gorm:"index;not null" json:"retention_until"`
}

// TableName returns the table name for ArchiveEntry.
func (ArchiveEntry) TableName() string {
	return "archives"
}

// Expired reports whether the archive has passed its retention horizon.
func (a *ArchiveEntry) Expired(now time.Time) bool {
	return a.RetentionUntil.Before(truncateToDay(now))
}

// ComplianceReport is an immutable aggregate over a reporting window.
// SeriesJSON carries the per-day breakdown as a JSON document so the row
// stays queryable without a second table.
type ComplianceReport struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PeriodStart time.Time `gorm:"index;not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"index;not null" json:"period_end"`

	TotalSignatures        int64 `json:"total_signatures"`
	ValidSignatures        int64 `json:"valid_signatures"`
	TimestampedSignatures  int64 `json:"timestamped_signatures"`
	TotalArchives          int64 `json:"total_archives"`
	TotalAccessEvents      int64 `json:"total_access_events"`
	SuccessfulAccessEvents int64 `json:"successful_access_events"`

	Score       float64   `gorm:"not null" json:"score"`
	SeriesJSON  string    `json:"series,omitempty"`
	GeneratedAt time.Time `gorm:"autoCreateTime" json:"generated_at"`
}

// TableName returns the table name for ComplianceReport.
func (ComplianceReport) TableName() string {
	return "reports"
}

// AccessEvent is one row in the append-only audit trail. Every compliance
// read (verification, report generation, archive inspection) appends one.
type AccessEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Actor      string    `gorm:"index;size:255" json:"actor"`
	Action     string    `gorm:"index;not null;size:64" json:"action"`
	Path       string    `gorm:"size:512" json:"path,omitempty"`
	Success    bool      `gorm:"not null" json:"success"`
	Detail     string    `gorm:"size:512" json:"detail,omitempty"`
	OccurredAt time.Time `gorm:"autoCreateTime;index" json:"occurred_at"`
}

// TableName returns the table name for AccessEvent.
func (AccessEvent) TableName() string {
	return "access_log"
}

// DailyCount is one bucket of a per-day series.
type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&Signature{},
		&ArchiveEntry{},
		&ComplianceReport{},
		&AccessEvent{},
	}
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
