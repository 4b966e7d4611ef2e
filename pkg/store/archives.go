package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/logmaster/logmaster/pkg/store/models"
)

// ============================================
// ARCHIVE OPERATIONS
// ============================================

func (s *GORMStore) InsertArchive(ctx context.Context, entry *models.ArchiveEntry) error {
	// original_path is unique: replaying the archival of a file that is
	// already claimed must not create a second row or move the retention
	// horizon.
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "original_path"}},
			DoNothing: true,
		}).
		Create(entry).Error
}

func (s *GORMStore) GetArchiveByOriginalPath(ctx context.Context, originalPath string) (*models.ArchiveEntry, error) {
	return s.getArchiveByField(ctx, "original_path", originalPath)
}

func (s *GORMStore) GetArchiveByArchivePath(ctx context.Context, archivePath string) (*models.ArchiveEntry, error) {
	return s.getArchiveByField(ctx, "archive_path", archivePath)
}

func (s *GORMStore) getArchiveByField(ctx context.Context, field, value string) (*models.ArchiveEntry, error) {
	var entry models.ArchiveEntry
	err := s.db.WithContext(ctx).
		Where(field+" = ?", value).
		First(&entry).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrArchiveNotFound)
	}
	return &entry, nil
}

func (s *GORMStore) ListArchives(ctx context.Context) ([]*models.ArchiveEntry, error) {
	var entries []*models.ArchiveEntry
	err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *GORMStore) ListExpiredArchives(ctx context.Context, asOf time.Time) ([]*models.ArchiveEntry, error) {
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())

	var entries []*models.ArchiveEntry
	err := s.db.WithContext(ctx).
		Where("retention_until < ?", day).
		Order("retention_until ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *GORMStore) DeleteArchive(ctx context.Context, id uint) error {
	// Deleting an already-deleted row is a no-op: the retention sweep
	// retries row deletion after a crash between file and row removal.
	return s.db.WithContext(ctx).
		Delete(&models.ArchiveEntry{}, id).Error
}

func (s *GORMStore) ArchiveStats(ctx context.Context, start, end time.Time) (ArchiveStats, error) {
	var stats ArchiveStats

	inWindow := func() *gorm.DB {
		return s.db.WithContext(ctx).
			Model(&models.ArchiveEntry{}).
			Where("created_at >= ? AND created_at <= ?", start, end)
	}

	if err := inWindow().Count(&stats.Total).Error; err != nil {
		return stats, err
	}

	var sums struct {
		OriginalBytes   *int64
		CompressedBytes *int64
	}
	err := inWindow().
		Select("SUM(original_size) AS original_bytes, SUM(compressed_size) AS compressed_bytes").
		Scan(&sums).Error
	if err != nil {
		return stats, err
	}
	if sums.OriginalBytes != nil {
		stats.OriginalBytes = *sums.OriginalBytes
	}
	if sums.CompressedBytes != nil {
		stats.CompressedBytes = *sums.CompressedBytes
	}

	return stats, nil
}

func (s *GORMStore) ArchiveDailyCounts(ctx context.Context, start, end time.Time) ([]models.DailyCount, error) {
	var timestamps []time.Time
	err := s.db.WithContext(ctx).
		Model(&models.ArchiveEntry{}).
		Where("created_at >= ? AND created_at <= ?", start, end).
		Pluck("created_at", &timestamps).Error
	if err != nil {
		return nil, err
	}
	return bucketByDay(timestamps), nil
}
