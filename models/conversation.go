package models

import (
	"time"

	"github.com/amirphl/Kakehashi/utils"
	"gorm.io/gorm"
)

// Conversation is the single message thread of an application between its creator and the offer's company.
// It is created once and never deleted.
type Conversation struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ApplicationID      uint       `gorm:"not null;uniqueIndex:uk_conversations_application_id" json:"application_id"`
	OfferID            uint       `gorm:"not null;index:idx_conversations_offer_id" json:"offer_id"`
	CreatorID          uint       `gorm:"not null;index:idx_conversations_creator_id" json:"creator_id"`
	CompanyID          uint       `gorm:"not null;index:idx_conversations_company_id" json:"company_id"`
	LastMessageAt      *time.Time `gorm:"index:idx_conversations_last_message_at" json:"last_message_at,omitempty"`
	CreatorUnreadCount int        `gorm:"not null;default:0" json:"creator_unread_count"`
	CompanyUnreadCount int        `gorm:"not null;default:0" json:"company_unread_count"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return nil
}

// Participants returns the two user ids of the conversation
func (c *Conversation) Participants() []uint {
	return []uint{c.CreatorID, c.CompanyID}
}

// HasParticipant reports whether userID is the creator or the company
func (c *Conversation) HasParticipant(userID uint) bool {
	return userID == c.CreatorID || userID == c.CompanyID
}

// ConversationFilter represents filter criteria for conversation queries
type ConversationFilter struct {
	ID            *uint
	ApplicationID *uint
	CreatorID     *uint
	CompanyID     *uint
}
