// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/Kakehashi/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// OfferRepository defines operations for offers
type OfferRepository interface {
	Repository[models.Offer, models.OfferFilter]
}

// ApplicationRepository defines operations for applications
type ApplicationRepository interface {
	Repository[models.Application, models.ApplicationFilter]
	ByTrackingCode(ctx context.Context, code string) (*models.Application, error)
	ListDueForAutoApproval(ctx context.Context, now time.Time, limit int) ([]*models.Application, error)
	// Approve moves a pending application to approved with the given code.
	// It returns false when the application was not pending anymore.
	Approve(ctx context.Context, id uint, code, link string, approvedAt time.Time) (bool, error)
}

// ClickEventRepository defines operations for click events
type ClickEventRepository interface {
	Repository[models.ClickEvent, models.ClickEventFilter]
	CountInRange(ctx context.Context, applicationID uint, from, to time.Time) (int64, error)
	CountDistinctIPs(ctx context.Context, applicationID uint, from, to time.Time) (int64, error)
	ListApplicationIDsInRange(ctx context.Context, from, to time.Time) ([]uint, error)
}

// AnalyticsRepository defines operations for daily analytics rows
type AnalyticsRepository interface {
	Repository[models.Analytics, models.AnalyticsFilter]
	ByApplicationAndDate(ctx context.Context, applicationID uint, date time.Time) (*models.Analytics, error)
	UpdateClickCounters(ctx context.Context, id uint, clicks, uniqueClicks int64) error
	ListByApplication(ctx context.Context, applicationID uint, from, to time.Time) ([]*models.Analytics, error)
}

// ConversationRepository defines operations for conversations
type ConversationRepository interface {
	Repository[models.Conversation, models.ConversationFilter]
	ByApplicationID(ctx context.Context, applicationID uint) (*models.Conversation, error)
	// TouchLastMessage sets last_message_at and bumps the recipient side's unread counter
	TouchLastMessage(ctx context.Context, id uint, recipientIsCreator bool, at time.Time) error
	ResetUnread(ctx context.Context, id uint, readerIsCreator bool) error
}

// MessageRepository defines operations for messages
type MessageRepository interface {
	Repository[models.Message, models.MessageFilter]
	// ListByConversation returns up to limit messages older than beforeID (0 = newest), ascending by id
	ListByConversation(ctx context.Context, conversationID uint, beforeID uint, limit int) ([]*models.Message, error)
	// MarkRead flips unread messages not sent by readerID and returns how many changed
	MarkRead(ctx context.Context, conversationID, readerID uint) (int64, error)
}
