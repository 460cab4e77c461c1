package models

import (
	"time"

	"github.com/amirphl/Kakehashi/utils"
	"gorm.io/gorm"
)

// Message belongs to one conversation. Only IsRead ever changes after insert, and only false to true.
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint      `gorm:"not null;index:idx_messages_conversation_id_id,priority:1" json:"conversation_id"`
	SenderID       uint      `gorm:"not null;index:idx_messages_sender_id" json:"sender_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IsRead         bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// MessageFilter represents filter criteria for message queries
type MessageFilter struct {
	ConversationID *uint
	SenderID       *uint
	IsRead         *bool
	BeforeID       *uint
}
