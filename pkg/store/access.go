package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/logmaster/logmaster/pkg/store/models"
)

// ============================================
// ACCESS AUDIT OPERATIONS
// ============================================

func (s *GORMStore) AppendAccess(ctx context.Context, event *models.AccessEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *GORMStore) AccessStats(ctx context.Context, start, end time.Time) (AccessStats, error) {
	var stats AccessStats

	inWindow := func() *gorm.DB {
		return s.db.WithContext(ctx).
			Model(&models.AccessEvent{}).
			Where("occurred_at >= ? AND occurred_at <= ?", start, end)
	}

	if err := inWindow().Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := inWindow().Where("success = ?", true).Count(&stats.Successful).Error; err != nil {
		return stats, err
	}

	return stats, nil
}
