package repository

import (
	"context"

	"github.com/amirphl/Kakehashi/models"
	"gorm.io/gorm"
)

// OfferRepositoryImpl implements OfferRepository
type OfferRepositoryImpl struct {
	*BaseRepository[models.Offer, models.OfferFilter]
}

// NewOfferRepository creates a new offer repository
func NewOfferRepository(db *gorm.DB) OfferRepository {
	return &OfferRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Offer, models.OfferFilter](db),
	}
}

func (r *OfferRepositoryImpl) ByFilter(ctx context.Context, filter models.OfferFilter, orderBy string, limit, offset int) ([]*models.Offer, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Offer{}), filter)
	var offers []*models.Offer
	if err := paginate(query, orderBy, limit, offset).Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

func (r *OfferRepositoryImpl) Count(ctx context.Context, filter models.OfferFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Offer{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *OfferRepositoryImpl) Exists(ctx context.Context, filter models.OfferFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *OfferRepositoryImpl) applyFilter(query *gorm.DB, filter models.OfferFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.CompanyID != nil {
		query = query.Where("company_id = ?", *filter.CompanyID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	return query
}
