// Package realtime implements the websocket messaging layer: one live connection per user,
// frame routing to conversation participants and typing presence.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/go-playground/validator/v10"
)

// Client to server frame types
const (
	TypeChatMessage = "chat_message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
	TypeMarkRead    = "mark_read"
)

// Server to client frame types
const (
	TypeNewMessage     = "new_message"
	TypeUserTyping     = "user_typing"
	TypeUserStopTyping = "user_stop_typing"
	TypeMessagesRead   = "messages_read"
)

var ErrMalformedFrame = errors.New("malformed frame")

// InboundFrame is a frame sent by a client. Which fields are required depends on Type.
type InboundFrame struct {
	Type           string `json:"type" validate:"required,oneof=chat_message typing_start typing_stop mark_read"`
	ConversationID uint   `json:"conversationId" validate:"required"`
	SenderID       uint   `json:"senderId,omitempty" validate:"required_if=Type chat_message"`
	UserID         uint   `json:"userId,omitempty" validate:"required_if=Type mark_read"`
	Content        string `json:"content,omitempty" validate:"required_if=Type chat_message"`
}

// OutboundFrame is a frame pushed by the server
type OutboundFrame struct {
	Type           string          `json:"type"`
	ConversationID uint            `json:"conversationId,omitempty"`
	UserID         uint            `json:"userId,omitempty"`
	Message        *dto.MessageDTO `json:"message,omitempty"`
}

// FrameDecoder parses and validates inbound frames
type FrameDecoder struct {
	validate *validator.Validate
}

func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{validate: validator.New()}
}

// Decode returns an error wrapping ErrMalformedFrame when data is not a usable frame
func (d *FrameDecoder) Decode(data []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := d.validate.Struct(&f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}
