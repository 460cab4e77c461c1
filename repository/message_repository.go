package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/amirphl/Kakehashi/models"
	"gorm.io/gorm"
)

// MessageRepositoryImpl implements MessageRepository
type MessageRepositoryImpl struct {
	*BaseRepository[models.Message, models.MessageFilter]
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &MessageRepositoryImpl{BaseRepository: NewBaseRepository[models.Message, models.MessageFilter](db)}
}

func (r *MessageRepositoryImpl) ListByConversation(ctx context.Context, conversationID uint, beforeID uint, limit int) ([]*models.Message, error) {
	filter := models.MessageFilter{ConversationID: &conversationID}
	if beforeID > 0 {
		filter.BeforeID = &beforeID
	}
	rows, err := r.ByFilter(ctx, filter, "id DESC", limit, 0)
	if err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	return rows, nil
}

func (r *MessageRepositoryImpl) MarkRead(ctx context.Context, conversationID, readerID uint) (int64, error) {
	res := r.getDB(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, readerID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *MessageRepositoryImpl) ByFilter(ctx context.Context, filter models.MessageFilter, orderBy string, limit, offset int) ([]*models.Message, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Message{}), filter)
	var rows []*models.Message
	if err := paginate(query, orderBy, limit, offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rows, nil
}

func (r *MessageRepositoryImpl) Count(ctx context.Context, filter models.MessageFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Message{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *MessageRepositoryImpl) Exists(ctx context.Context, filter models.MessageFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *MessageRepositoryImpl) applyFilter(query *gorm.DB, filter models.MessageFilter) *gorm.DB {
	if filter.ConversationID != nil {
		query = query.Where("conversation_id = ?", *filter.ConversationID)
	}
	if filter.SenderID != nil {
		query = query.Where("sender_id = ?", *filter.SenderID)
	}
	if filter.IsRead != nil {
		query = query.Where("is_read = ?", *filter.IsRead)
	}
	if filter.BeforeID != nil {
		query = query.Where("id < ?", *filter.BeforeID)
	}
	return query
}
