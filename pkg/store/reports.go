package store

import (
	"context"

	"github.com/logmaster/logmaster/pkg/store/models"
)

// ============================================
// REPORT OPERATIONS
// ============================================

func (s *GORMStore) SaveReport(ctx context.Context, report *models.ComplianceReport) error {
	return s.db.WithContext(ctx).Create(report).Error
}

func (s *GORMStore) GetReport(ctx context.Context, id uint) (*models.ComplianceReport, error) {
	var report models.ComplianceReport
	err := s.db.WithContext(ctx).First(&report, id).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrReportNotFound)
	}
	return &report, nil
}

func (s *GORMStore) ListReports(ctx context.Context) ([]*models.ComplianceReport, error) {
	var reports []*models.ComplianceReport
	err := s.db.WithContext(ctx).
		Order("generated_at DESC").
		Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}
