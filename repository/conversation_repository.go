package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Kakehashi/models"
	"gorm.io/gorm"
)

// ConversationRepositoryImpl implements ConversationRepository
type ConversationRepositoryImpl struct {
	*BaseRepository[models.Conversation, models.ConversationFilter]
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &ConversationRepositoryImpl{BaseRepository: NewBaseRepository[models.Conversation, models.ConversationFilter](db)}
}

func (r *ConversationRepositoryImpl) ByApplicationID(ctx context.Context, applicationID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.getDB(ctx).Where("application_id = ?", applicationID).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find conversation by application: %w", err)
	}
	return &conv, nil
}

func (r *ConversationRepositoryImpl) TouchLastMessage(ctx context.Context, id uint, recipientIsCreator bool, at time.Time) error {
	counter := "company_unread_count"
	if recipientIsCreator {
		counter = "creator_unread_count"
	}
	err := r.getDB(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_message_at": at,
			counter:           gorm.Expr(counter+" + ?", 1),
			"updated_at":      at,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to touch conversation %d: %w", id, err)
	}
	return nil
}

func (r *ConversationRepositoryImpl) ResetUnread(ctx context.Context, id uint, readerIsCreator bool) error {
	counter := "company_unread_count"
	if readerIsCreator {
		counter = "creator_unread_count"
	}
	err := r.getDB(ctx).Model(&models.Conversation{}).Where("id = ?", id).Update(counter, 0).Error
	if err != nil {
		return fmt.Errorf("failed to reset unread count on conversation %d: %w", id, err)
	}
	return nil
}

func (r *ConversationRepositoryImpl) ByFilter(ctx context.Context, filter models.ConversationFilter, orderBy string, limit, offset int) ([]*models.Conversation, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Conversation{}), filter)
	var rows []*models.Conversation
	if err := paginate(query, orderBy, limit, offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ConversationRepositoryImpl) Count(ctx context.Context, filter models.ConversationFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Conversation{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ConversationRepositoryImpl) Exists(ctx context.Context, filter models.ConversationFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *ConversationRepositoryImpl) applyFilter(query *gorm.DB, filter models.ConversationFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.ApplicationID != nil {
		query = query.Where("application_id = ?", *filter.ApplicationID)
	}
	if filter.CreatorID != nil {
		query = query.Where("creator_id = ?", *filter.CreatorID)
	}
	if filter.CompanyID != nil {
		query = query.Where("company_id = ?", *filter.CompanyID)
	}
	return query
}
