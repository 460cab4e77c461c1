package businessflow

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/repository"
	"github.com/amirphl/Kakehashi/utils"
	"gorm.io/gorm"
)

const (
	MaxMessageLength    = 4000
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// ConversationFlow owns conversations and messages between an application's creator and the offer's company.
// Every operation checks that the acting user is one of the two participants.
type ConversationFlow interface {
	Start(ctx context.Context, userID, applicationID uint) (*dto.ConversationDTO, error)
	Get(ctx context.Context, userID, conversationID uint) (*models.Conversation, error)
	SendMessage(ctx context.Context, senderID, conversationID uint, content string) (*models.Message, *models.Conversation, error)
	MarkRead(ctx context.Context, readerID, conversationID uint) (*models.Conversation, int64, error)
	History(ctx context.Context, userID, conversationID uint, req dto.ListMessagesRequest) (*dto.MessageListResponse, error)
}

type ConversationFlowImpl struct {
	convRepo  repository.ConversationRepository
	msgRepo   repository.MessageRepository
	appRepo   repository.ApplicationRepository
	offerRepo repository.OfferRepository
	db        *gorm.DB
}

// NewConversationFlow creates the flow. db is used for transactions and may be nil in tests.
func NewConversationFlow(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	appRepo repository.ApplicationRepository,
	offerRepo repository.OfferRepository,
	db *gorm.DB,
) ConversationFlow {
	return &ConversationFlowImpl{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		appRepo:   appRepo,
		offerRepo: offerRepo,
		db:        db,
	}
}

// Start returns the application's conversation, creating it on first use
func (f *ConversationFlowImpl) Start(ctx context.Context, userID, applicationID uint) (*dto.ConversationDTO, error) {
	app, err := f.appRepo.ByID(ctx, applicationID)
	if err != nil {
		return nil, NewBusinessError("APPLICATION_LOOKUP_FAILED", "Failed to lookup application", err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}
	offer, err := f.offerRepo.ByID(ctx, app.OfferID)
	if err != nil {
		return nil, NewBusinessError("OFFER_LOOKUP_FAILED", "Failed to lookup offer", err)
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	if userID != app.CreatorID && userID != offer.CompanyID {
		return nil, ErrApplicationAccessDenied
	}

	conv, err := f.convRepo.ByApplicationID(ctx, app.ID)
	if err != nil {
		return nil, NewBusinessError("CONVERSATION_LOOKUP_FAILED", "Failed to lookup conversation", err)
	}
	if conv != nil {
		return toConversationDTO(conv, userID), nil
	}

	conv = &models.Conversation{
		ApplicationID: app.ID,
		OfferID:       offer.ID,
		CreatorID:     app.CreatorID,
		CompanyID:     offer.CompanyID,
	}
	if err := f.convRepo.Save(ctx, conv); err != nil {
		if !repository.IsDuplicateKey(err) {
			return nil, NewBusinessError("CONVERSATION_CREATE_FAILED", "Failed to create conversation", err)
		}
		conv, err = f.convRepo.ByApplicationID(ctx, app.ID)
		if err != nil || conv == nil {
			return nil, NewBusinessError("CONVERSATION_LOOKUP_FAILED", "Failed to lookup conversation after concurrent create", err)
		}
	}
	return toConversationDTO(conv, userID), nil
}

func (f *ConversationFlowImpl) Get(ctx context.Context, userID, conversationID uint) (*models.Conversation, error) {
	conv, err := f.convRepo.ByID(ctx, conversationID)
	if err != nil {
		return nil, NewBusinessError("CONVERSATION_LOOKUP_FAILED", "Failed to lookup conversation", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrConversationAccessDenied
	}
	return conv, nil
}

// SendMessage persists a message and bumps the recipient's unread counter in one transaction
func (f *ConversationFlowImpl) SendMessage(ctx context.Context, senderID, conversationID uint, content string) (*models.Message, *models.Conversation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, nil, ErrMessageTooLong
	}

	conv, err := f.Get(ctx, senderID, conversationID)
	if err != nil {
		return nil, nil, err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      utils.UTCNow(),
	}
	err = f.withTx(ctx, func(txCtx context.Context) error {
		if err := f.msgRepo.Save(txCtx, msg); err != nil {
			return err
		}
		return f.convRepo.TouchLastMessage(txCtx, conv.ID, senderID != conv.CreatorID, msg.CreatedAt)
	})
	if err != nil {
		return nil, nil, NewBusinessError("MESSAGE_SAVE_FAILED", "Failed to save message", err)
	}

	conv.LastMessageAt = &msg.CreatedAt
	if senderID == conv.CreatorID {
		conv.CompanyUnreadCount++
	} else {
		conv.CreatorUnreadCount++
	}
	return msg, conv, nil
}

// MarkRead flips every unread message sent by the other participant
func (f *ConversationFlowImpl) MarkRead(ctx context.Context, readerID, conversationID uint) (*models.Conversation, int64, error) {
	conv, err := f.Get(ctx, readerID, conversationID)
	if err != nil {
		return nil, 0, err
	}

	var flipped int64
	err = f.withTx(ctx, func(txCtx context.Context) error {
		n, err := f.msgRepo.MarkRead(txCtx, conv.ID, readerID)
		if err != nil {
			return err
		}
		flipped = n
		return f.convRepo.ResetUnread(txCtx, conv.ID, readerID == conv.CreatorID)
	})
	if err != nil {
		return nil, 0, NewBusinessError("MARK_READ_FAILED", "Failed to mark messages read", err)
	}

	if readerID == conv.CreatorID {
		conv.CreatorUnreadCount = 0
	} else {
		conv.CompanyUnreadCount = 0
	}
	return conv, flipped, nil
}

// History pages backwards from req.BeforeID and returns messages oldest first
func (f *ConversationFlowImpl) History(ctx context.Context, userID, conversationID uint, req dto.ListMessagesRequest) (*dto.MessageListResponse, error) {
	conv, err := f.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	// one extra row tells whether an older page exists
	rows, err := f.msgRepo.ListByConversation(ctx, conv.ID, req.BeforeID, limit+1)
	if err != nil {
		return nil, NewBusinessError("MESSAGE_LIST_FAILED", "Failed to list messages", err)
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[1:]
	}

	out := make([]dto.MessageDTO, 0, len(rows))
	for _, m := range rows {
		out = append(out, ToMessageDTO(m))
	}
	return &dto.MessageListResponse{
		ConversationID: conv.ID,
		Messages:       out,
		HasMore:        hasMore,
	}, nil
}

func (f *ConversationFlowImpl) withTx(ctx context.Context, fn func(context.Context) error) error {
	if f.db == nil {
		return fn(ctx)
	}
	return repository.WithTransaction(ctx, f.db, fn)
}

// ToMessageDTO converts a message model to its REST view
func ToMessageDTO(m *models.Message) dto.MessageDTO {
	return dto.MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}

func toConversationDTO(c *models.Conversation, viewerID uint) *dto.ConversationDTO {
	unread := c.CompanyUnreadCount
	if viewerID == c.CreatorID {
		unread = c.CreatorUnreadCount
	}
	return &dto.ConversationDTO{
		ID:            c.ID,
		ApplicationID: c.ApplicationID,
		OfferID:       c.OfferID,
		CreatorID:     c.CreatorID,
		CompanyID:     c.CompanyID,
		LastMessageAt: c.LastMessageAt,
		UnreadCount:   unread,
		CreatedAt:     c.CreatedAt,
	}
}
