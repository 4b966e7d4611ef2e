package store

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/logmaster/logmaster/pkg/store/models"
)

// ============================================
// SIGNATURE OPERATIONS
// ============================================

func (s *GORMStore) UpsertSignature(ctx context.Context, sig *models.Signature) error {
	// Keyed on (file_path, file_hash): re-committing the same signature is
	// a no-op, which is what makes the sidecar-first commit order safe to
	// replay after a crash.
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_path"}, {Name: "file_hash"}},
			DoNothing: true,
		}).
		Create(sig).Error
}

func (s *GORMStore) GetSignatureByPath(ctx context.Context, filePath string) (*models.Signature, error) {
	var sig models.Signature
	err := s.db.WithContext(ctx).
		Where("file_path = ?", filePath).
		Order("created_at DESC").
		First(&sig).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrSignatureNotFound)
	}
	return &sig, nil
}

func (s *GORMStore) ListSignaturesByStatus(ctx context.Context, status models.SignatureStatus) ([]*models.Signature, error) {
	var sigs []*models.Signature
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("signed_at ASC").
		Find(&sigs).Error
	if err != nil {
		return nil, err
	}
	return sigs, nil
}

func (s *GORMStore) SetSignatureTimestamp(ctx context.Context, filePath, tokenB64 string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Signature{}).
		Where("file_path = ?", filePath).
		Updates(map[string]any{
			"tsa_timestamp_b64": tokenB64,
			"status":            models.SignatureStatusValid,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSignatureNotFound
	}
	return nil
}

func (s *GORMStore) SignatureStats(ctx context.Context, start, end time.Time) (SignatureStats, error) {
	var stats SignatureStats

	inWindow := func() *gorm.DB {
		return s.db.WithContext(ctx).
			Model(&models.Signature{}).
			Where("signed_at >= ? AND signed_at <= ?", start, end)
	}

	if err := inWindow().Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := inWindow().
		Where("status = ?", models.SignatureStatusValid).
		Count(&stats.Valid).Error; err != nil {
		return stats, err
	}
	if err := inWindow().
		Where("tsa_timestamp_b64 IS NOT NULL AND tsa_timestamp_b64 <> ''").
		Count(&stats.Timestamped).Error; err != nil {
		return stats, err
	}

	var totalBytes *int64
	if err := inWindow().
		Select("SUM(file_size)").
		Scan(&totalBytes).Error; err != nil {
		return stats, err
	}
	if totalBytes != nil {
		stats.TotalBytes = *totalBytes
	}

	return stats, nil
}

func (s *GORMStore) SignatureDailyCounts(ctx context.Context, start, end time.Time) ([]models.DailyCount, error) {
	var timestamps []time.Time
	err := s.db.WithContext(ctx).
		Model(&models.Signature{}).
		Where("signed_at >= ? AND signed_at <= ?", start, end).
		Pluck("signed_at", &timestamps).Error
	if err != nil {
		return nil, err
	}
	return bucketByDay(timestamps), nil
}

// bucketByDay folds timestamps into per-day counts. Bucketing in Go keeps
// the query portable across SQLite and PostgreSQL date functions.
func bucketByDay(timestamps []time.Time) []models.DailyCount {
	buckets := make(map[string]int64)
	for _, ts := range timestamps {
		buckets[ts.UTC().Format("2006-01-02")]++
	}

	counts := make([]models.DailyCount, 0, len(buckets))
	for date, n := range buckets {
		counts = append(counts, models.DailyCount{Date: date, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Date < counts[j].Date })
	return counts
}
