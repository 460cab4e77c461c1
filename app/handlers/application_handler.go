package handlers

import (
	"log"

	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/gofiber/fiber/v3"
)

// ApplicationHandlerInterface defines the contract for application handlers
type ApplicationHandlerInterface interface {
	Approve(c fiber.Ctx) error
}

type ApplicationHandler struct {
	approvalFlow businessflow.ApplicationApprovalFlow
}

func NewApplicationHandler(approvalFlow businessflow.ApplicationApprovalFlow) ApplicationHandlerInterface {
	return &ApplicationHandler{approvalFlow: approvalFlow}
}

// Approve issues the tracking code of a pending application
// @Summary Approve Application
// @Description The offer's company approves a creator's application, issuing its tracking code and link
// @Tags Applications
// @Produce json
// @Security BearerAuth
// @Param id path int true "Application ID"
// @Success 200 {object} dto.APIResponse{data=dto.ApproveApplicationResponse} "Application approved"
// @Failure 400 {object} dto.APIResponse "Invalid application id"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 403 {object} dto.APIResponse "Not the offer's company"
// @Failure 404 {object} dto.APIResponse "Application not found"
// @Failure 409 {object} dto.APIResponse "Application not pending"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/applications/{id}/approve [post]
func (h *ApplicationHandler) Approve(c fiber.Ctx) error {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	applicationID, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid application id", "INVALID_APPLICATION_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/applications/:id/approve", defaultRequestTimeout)
	defer cancel()

	result, err := h.approvalFlow.Approve(ctx, userID, applicationID)
	if err != nil {
		log.Println("Application approval failed", err)
		return businessErrorResponse(c, err, "Application approval failed", "APPROVAL_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Application approved", result)
}
