package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Kakehashi/models"
	"gorm.io/gorm"
)

// ClickEventRepositoryImpl implements ClickEventRepository
type ClickEventRepositoryImpl struct {
	*BaseRepository[models.ClickEvent, models.ClickEventFilter]
}

func NewClickEventRepository(db *gorm.DB) ClickEventRepository {
	return &ClickEventRepositoryImpl{BaseRepository: NewBaseRepository[models.ClickEvent, models.ClickEventFilter](db)}
}

// Save appends a click event. It writes outside of any explicit transaction.
func (r *ClickEventRepositoryImpl) Save(ctx context.Context, event *models.ClickEvent) error {
	if err := r.getDB(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to save click event: %w", err)
	}
	return nil
}

func (r *ClickEventRepositoryImpl) CountInRange(ctx context.Context, applicationID uint, from, to time.Time) (int64, error) {
	var count int64
	err := r.getDB(ctx).Model(&models.ClickEvent{}).
		Where("application_id = ? AND clicked_at >= ? AND clicked_at < ?", applicationID, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	return count, nil
}

func (r *ClickEventRepositoryImpl) CountDistinctIPs(ctx context.Context, applicationID uint, from, to time.Time) (int64, error) {
	var count int64
	err := r.getDB(ctx).Model(&models.ClickEvent{}).
		Where("application_id = ? AND clicked_at >= ? AND clicked_at < ?", applicationID, from, to).
		Distinct("ip_address").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct ips: %w", err)
	}
	return count, nil
}

func (r *ClickEventRepositoryImpl) ListApplicationIDsInRange(ctx context.Context, from, to time.Time) ([]uint, error) {
	var ids []uint
	err := r.getDB(ctx).Model(&models.ClickEvent{}).
		Where("clicked_at >= ? AND clicked_at < ?", from, to).
		Distinct().
		Pluck("application_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list clicked applications: %w", err)
	}
	return ids, nil
}

func (r *ClickEventRepositoryImpl) ByFilter(ctx context.Context, filter models.ClickEventFilter, orderBy string, limit, offset int) ([]*models.ClickEvent, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.ClickEvent{}), filter)
	var rows []*models.ClickEvent
	if err := paginate(query, orderBy, limit, offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ClickEventRepositoryImpl) Count(ctx context.Context, filter models.ClickEventFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.ClickEvent{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ClickEventRepositoryImpl) Exists(ctx context.Context, filter models.ClickEventFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *ClickEventRepositoryImpl) applyFilter(query *gorm.DB, filter models.ClickEventFilter) *gorm.DB {
	if filter.ApplicationID != nil {
		query = query.Where("application_id = ?", *filter.ApplicationID)
	}
	if filter.OfferID != nil {
		query = query.Where("offer_id = ?", *filter.OfferID)
	}
	if filter.CreatorID != nil {
		query = query.Where("creator_id = ?", *filter.CreatorID)
	}
	if filter.ClickedAfter != nil {
		query = query.Where("clicked_at >= ?", *filter.ClickedAfter)
	}
	if filter.ClickedBefore != nil {
		query = query.Where("clicked_at < ?", *filter.ClickedBefore)
	}
	return query
}
