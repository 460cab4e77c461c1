package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/utils"
	"gorm.io/gorm"
)

// AnalyticsRepositoryImpl implements AnalyticsRepository
type AnalyticsRepositoryImpl struct {
	*BaseRepository[models.Analytics, models.AnalyticsFilter]
}

func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &AnalyticsRepositoryImpl{BaseRepository: NewBaseRepository[models.Analytics, models.AnalyticsFilter](db)}
}

func (r *AnalyticsRepositoryImpl) ByApplicationAndDate(ctx context.Context, applicationID uint, date time.Time) (*models.Analytics, error) {
	var row models.Analytics
	err := r.getDB(ctx).Where("application_id = ? AND date = ?", applicationID, date).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find analytics row: %w", err)
	}
	return &row, nil
}

// Save inserts a new daily row. A concurrent insert for the same day surfaces as gorm.ErrDuplicatedKey.
func (r *AnalyticsRepositoryImpl) Save(ctx context.Context, row *models.Analytics) error {
	if err := r.getDB(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to save analytics row: %w", err)
	}
	return nil
}

// UpdateClickCounters overwrites clicks and unique_clicks only
func (r *AnalyticsRepositoryImpl) UpdateClickCounters(ctx context.Context, id uint, clicks, uniqueClicks int64) error {
	err := r.getDB(ctx).Model(&models.Analytics{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"clicks":        clicks,
			"unique_clicks": uniqueClicks,
			"updated_at":    utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update analytics counters: %w", err)
	}
	return nil
}

func (r *AnalyticsRepositoryImpl) ListByApplication(ctx context.Context, applicationID uint, from, to time.Time) ([]*models.Analytics, error) {
	return r.ByFilter(ctx, models.AnalyticsFilter{
		ApplicationID: &applicationID,
		DateFrom:      &from,
		DateTo:        &to,
	}, "date ASC", 0, 0)
}

func (r *AnalyticsRepositoryImpl) ByFilter(ctx context.Context, filter models.AnalyticsFilter, orderBy string, limit, offset int) ([]*models.Analytics, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Analytics{}), filter)
	var rows []*models.Analytics
	if err := paginate(query, orderBy, limit, offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list analytics: %w", err)
	}
	return rows, nil
}

func (r *AnalyticsRepositoryImpl) Count(ctx context.Context, filter models.AnalyticsFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Analytics{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *AnalyticsRepositoryImpl) Exists(ctx context.Context, filter models.AnalyticsFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *AnalyticsRepositoryImpl) applyFilter(query *gorm.DB, filter models.AnalyticsFilter) *gorm.DB {
	if filter.ApplicationID != nil {
		query = query.Where("application_id = ?", *filter.ApplicationID)
	}
	if filter.CreatorID != nil {
		query = query.Where("creator_id = ?", *filter.CreatorID)
	}
	if filter.OfferID != nil {
		query = query.Where("offer_id = ?", *filter.OfferID)
	}
	if filter.DateFrom != nil {
		query = query.Where("date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("date <= ?", *filter.DateTo)
	}
	return query
}
