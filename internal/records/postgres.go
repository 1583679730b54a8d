package records

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"threatlens/internal/apperrors"
	"threatlens/internal/models"
)

// PostgresAlertStore persists alerts through gorm.
type PostgresAlertStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPostgresAlertStore(db *gorm.DB, logger *zap.Logger) *PostgresAlertStore {
	return &PostgresAlertStore{db: db, logger: logger.Named("alert_store")}
}

func (s *PostgresAlertStore) Create(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	stored, err := prepareAlert(alert)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(stored).Error; err != nil {
		s.logger.Error("Failed to create alert", zap.String("alert_id", stored.ID), zap.Error(err))
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "failed to create alert")
	}
	return stored, nil
}

func (s *PostgresAlertStore) Find(ctx context.Context, filter AlertFilter, q Query) (*Page[models.Alert], error) {
	if err := q.validate(alertSortColumns); err != nil {
		return nil, err
	}
	if err := filter.validate(); err != nil {
		return nil, err
	}

	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		s.logger.Error("Failed to count alerts", zap.Error(err))
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "failed to count alerts")
	}

	var alerts []models.Alert
	if int64(q.Offset()) < total {
		err := s.filtered(ctx, filter).
			Order(orderClause(alertSortColumns, q)).
			Order("id").
			Offset(q.Offset()).
			Limit(q.Limit).
			Find(&alerts).Error
		if err != nil {
			s.logger.Error("Failed to list alerts", zap.Error(err))
			return nil, apperrors.Wrap(apperrors.KindPersistence, err, "failed to list alerts")
		}
	}
	return newPage(alerts, q, total), nil
}

func (s *PostgresAlertStore) filtered(ctx context.Context, filter AlertFilter) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&models.Alert{})
	if filter.Platform != "" {
		tx = tx.Where("platform = ?", filter.Platform)
	}
	if filter.AlertLevel != "" {
		tx = tx.Where("alert_level = ?", filter.AlertLevel)
	}
	return applyDateRange(tx, filter.Created)
}

func (s *PostgresAlertStore) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}

	var alert models.Alert
	err = s.db.WithContext(ctx).Where("id = ?", id).Take(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("alert %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "failed to get alert")
	}
	return &alert, nil
}

func (s *PostgresAlertStore) AttachReference(ctx context.Context, id string, ref models.LedgerReference) (*models.Alert, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}

	update := models.Alert{BlockchainReference: &ref, UpdatedAt: now()}
	result := s.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("id = ?", id).
		Select("BlockchainReference", "UpdatedAt").
		Updates(&update)
	if result.Error != nil {
		s.logger.Error("Failed to attach ledger reference",
			zap.String("alert_id", id),
			zap.String("reference_id", ref.ReferenceID),
			zap.Error(result.Error))
		return nil, apperrors.Wrap(apperrors.KindPersistence, result.Error, "failed to attach ledger reference")
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NotFound("alert %s not found", id)
	}
	return s.GetByID(ctx, id)
}

// PostgresReportStore persists reports through gorm.
type PostgresReportStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPostgresReportStore(db *gorm.DB, logger *zap.Logger) *PostgresReportStore {
	return &PostgresReportStore{db: db, logger: logger.Named("report_store")}
}

func (s *PostgresReportStore) Create(ctx context.Context, report *models.Report) (*models.Report, error) {
	stored, err := prepareReport(report)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(stored).Error; err != nil {
		s.logger.Error("Failed to create report", zap.String("report_id", stored.ID), zap.Error(err))
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "failed to create report")
	}
	return stored, nil
}

func (s *PostgresReportStore) Find(ctx context.Context, filter ReportFilter, q Query) (*Page[models.Report], error) {
	if err := q.validate(reportSortColumns); err != nil {
		return nil, err
	}
	if err := filter.validate(); err != nil {
		return nil, err
	}

	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		s.logger.Error("Failed to count reports", zap.Error(err))
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "failed to count reports")
	}

	var reports []models.Report
	if int64(q.Offset()) < total {
		err := s.filtered(ctx, filter).
			Order(orderClause(reportSortColumns, q)).
			Order("id").
			Offset(q.Offset()).
			Limit(q.Limit).
			Find(&reports).Error
		if err != nil {
			s.logger.Error("Failed to list reports", zap.Error(err))
			return nil, apperrors.Wrap(apperrors.KindPersistence, err, "failed to list reports")
		}
	}
	return newPage(reports, q, total), nil
}

func (s *PostgresReportStore) filtered(ctx context.Context, filter ReportFilter) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&models.Report{})
	if filter.Platform != "" {
		tx = tx.Where("platform = ?", filter.Platform)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}
	return applyDateRange(tx, filter.Created)
}

func (s *PostgresReportStore) GetByID(ctx context.Context, id string) (*models.Report, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}

	var report models.Report
	err = s.db.WithContext(ctx).Where("id = ?", id).Take(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("report %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "failed to get report")
	}
	return &report, nil
}

func applyDateRange(tx *gorm.DB, r DateRange) *gorm.DB {
	if r.Start != nil {
		tx = tx.Where("created_at >= ?", *r.Start)
	}
	if r.End != nil {
		tx = tx.Where("created_at <= ?", *r.End)
	}
	return tx
}

// orderClause only ever interpolates whitelisted column names.
func orderClause(columns map[string]string, q Query) string {
	dir := "DESC"
	if q.SortOrder == SortAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s", columns[q.SortBy], dir)
}
