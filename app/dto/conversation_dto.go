package dto

import "time"

// ConversationDTO is the REST view of a conversation
type ConversationDTO struct {
	ID            uint       `json:"id"`
	ApplicationID uint       `json:"application_id"`
	OfferID       uint       `json:"offer_id"`
	CreatorID     uint       `json:"creator_id"`
	CompanyID     uint       `json:"company_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MessageDTO is the REST view of a message
type MessageDTO struct {
	ID             uint      `json:"id"`
	ConversationID uint      `json:"conversation_id"`
	SenderID       uint      `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListMessagesRequest carries history paging parameters
type ListMessagesRequest struct {
	BeforeID uint `query:"before_id" validate:"omitempty,min=1"`
	Limit    int  `query:"limit" validate:"omitempty,min=1,max=200"`
}

// MessageListResponse is a page of history in ascending id order
type MessageListResponse struct {
	ConversationID uint         `json:"conversation_id"`
	Messages       []MessageDTO `json:"messages"`
	HasMore        bool         `json:"has_more"`
}
