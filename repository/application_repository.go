package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Kakehashi/models"
	"gorm.io/gorm"
)

// ApplicationRepositoryImpl implements ApplicationRepository
type ApplicationRepositoryImpl struct {
	*BaseRepository[models.Application, models.ApplicationFilter]
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &ApplicationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Application, models.ApplicationFilter](db),
	}
}

// ByTrackingCode is an exact, case-sensitive match on the unique tracking code index
func (r *ApplicationRepositoryImpl) ByTrackingCode(ctx context.Context, code string) (*models.Application, error) {
	var app models.Application
	err := r.getDB(ctx).Where("tracking_code = ?", code).First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find application by tracking code: %w", err)
	}
	return &app, nil
}

func (r *ApplicationRepositoryImpl) ListDueForAutoApproval(ctx context.Context, now time.Time, limit int) ([]*models.Application, error) {
	pending := models.ApplicationStatusPending
	return r.ByFilter(ctx, models.ApplicationFilter{Status: &pending, AutoApproveDue: &now}, "auto_approve_at ASC", limit, 0)
}

func (r *ApplicationRepositoryImpl) Approve(ctx context.Context, id uint, code, link string, approvedAt time.Time) (ok bool, err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	res := db.Model(&models.Application{}).
		Where("id = ? AND status = ?", id, models.ApplicationStatusPending).
		Updates(map[string]any{
			"status":        models.ApplicationStatusApproved,
			"tracking_code": code,
			"tracking_link": link,
			"approved_at":   approvedAt,
			"updated_at":    approvedAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to approve application %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *ApplicationRepositoryImpl) ByFilter(ctx context.Context, filter models.ApplicationFilter, orderBy string, limit, offset int) ([]*models.Application, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Application{}), filter)
	var apps []*models.Application
	if err := paginate(query, orderBy, limit, offset).Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}

func (r *ApplicationRepositoryImpl) Count(ctx context.Context, filter models.ApplicationFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Application{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ApplicationRepositoryImpl) Exists(ctx context.Context, filter models.ApplicationFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *ApplicationRepositoryImpl) applyFilter(query *gorm.DB, filter models.ApplicationFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.OfferID != nil {
		query = query.Where("offer_id = ?", *filter.OfferID)
	}
	if filter.CreatorID != nil {
		query = query.Where("creator_id = ?", *filter.CreatorID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.AutoApproveDue != nil {
		query = query.Where("auto_approve_at IS NOT NULL AND auto_approve_at <= ?", *filter.AutoApproveDue)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *filter.CreatedBefore)
	}
	return query
}
