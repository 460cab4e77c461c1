package handlers

import (
	"log"

	"github.com/amirphl/Kakehashi/app/dto"
	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ConversationHandlerInterface defines the contract for conversation handlers
type ConversationHandlerInterface interface {
	Start(c fiber.Ctx) error
	History(c fiber.Ctx) error
}

type ConversationHandler struct {
	flow      businessflow.ConversationFlow
	validator *validator.Validate
}

func NewConversationHandler(flow businessflow.ConversationFlow) ConversationHandlerInterface {
	return &ConversationHandler{flow: flow, validator: validator.New()}
}

// Start returns the application's conversation, creating it on first use
// @Summary Start Conversation
// @Tags Conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Application ID"
// @Success 200 {object} dto.APIResponse{data=dto.ConversationDTO} "Conversation"
// @Failure 400 {object} dto.APIResponse "Invalid application id"
// @Failure 403 {object} dto.APIResponse "Not a participant"
// @Failure 404 {object} dto.APIResponse "Application not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/applications/{id}/conversation [post]
func (h *ConversationHandler) Start(c fiber.Ctx) error {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	applicationID, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid application id", "INVALID_APPLICATION_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/applications/:id/conversation", defaultRequestTimeout)
	defer cancel()

	conv, err := h.flow.Start(ctx, userID, applicationID)
	if err != nil {
		log.Println("Start conversation failed", err)
		return businessErrorResponse(c, err, "Failed to start conversation", "CONVERSATION_START_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Conversation ready", conv)
}

// History pages a conversation's messages, oldest first
// @Summary Conversation History
// @Tags Conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param before_id query int false "Return messages older than this id"
// @Param limit query int false "Page size (max 200)"
// @Success 200 {object} dto.APIResponse{data=dto.MessageListResponse} "Messages"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Not a participant"
// @Failure 404 {object} dto.APIResponse "Conversation not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/conversations/{id}/messages [get]
func (h *ConversationHandler) History(c fiber.Ctx) error {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid conversation id", "INVALID_CONVERSATION_ID", nil)
	}

	var req dto.ListMessagesRequest
	if err := c.Bind().Query(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/conversations/:id/messages", defaultRequestTimeout)
	defer cancel()

	page, err := h.flow.History(ctx, userID, conversationID, req)
	if err != nil {
		log.Println("Conversation history failed", err)
		return businessErrorResponse(c, err, "Failed to load messages", "MESSAGE_LIST_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Messages retrieved", page)
}
