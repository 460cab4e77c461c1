// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/Kakehashi/app/dto"
	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
)

const defaultRequestTimeout = 10 * time.Second

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "datetime":
		return err.Field() + " must be formatted as " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, getValidationErrorMessage(fe))
	}
	return out
}

// ErrorResponse writes the standard failure envelope
func ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

// SuccessResponse writes the standard success envelope
func SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// businessErrorResponse maps flow errors to HTTP statuses. Unknown errors are 500.
func businessErrorResponse(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	switch {
	case businessflow.IsApplicationNotFound(err):
		return ErrorResponse(c, fiber.StatusNotFound, "Application not found", "APPLICATION_NOT_FOUND", nil)
	case businessflow.IsOfferNotFound(err):
		return ErrorResponse(c, fiber.StatusNotFound, "Offer not found", "OFFER_NOT_FOUND", nil)
	case businessflow.IsConversationNotFound(err):
		return ErrorResponse(c, fiber.StatusNotFound, "Conversation not found", "CONVERSATION_NOT_FOUND", nil)
	case businessflow.IsApplicationAccessDenied(err):
		return ErrorResponse(c, fiber.StatusForbidden, "Access to application denied", "APPLICATION_ACCESS_DENIED", nil)
	case businessflow.IsConversationAccessDenied(err):
		return ErrorResponse(c, fiber.StatusForbidden, "Access to conversation denied", "CONVERSATION_ACCESS_DENIED", nil)
	case businessflow.IsApplicationNotPending(err):
		return ErrorResponse(c, fiber.StatusConflict, "Application is no longer pending", "APPLICATION_NOT_PENDING", nil)
	case businessflow.IsApprovalInProgress(err):
		return ErrorResponse(c, fiber.StatusConflict, "Approval already in progress", "APPROVAL_IN_PROGRESS", nil)
	case businessflow.IsInvalidDate(err):
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid date", "INVALID_DATE", err.Error())
	case businessflow.IsStartDateAfterEndDate(err):
		return ErrorResponse(c, fiber.StatusBadRequest, "Start date is after end date", "INVALID_DATE_RANGE", nil)
	case businessflow.IsDateRangeTooLarge(err):
		return ErrorResponse(c, fiber.StatusBadRequest, "Date range is too large", "DATE_RANGE_TOO_LARGE", nil)
	}
	return ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// authenticatedUserID reads the user id stored by AuthMiddleware
func authenticatedUserID(c fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("user_id").(uint)
	return id, ok && id != 0
}

func parseIDParam(c fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(id), nil
}

// createRequestContext detaches the flow context from fasthttp's request lifetime
func createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestid.FromContext(c))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get(fiber.HeaderUserAgent))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	if userID, ok := authenticatedUserID(c); ok {
		ctx = context.WithValue(ctx, utils.UserIDKey, userID)
	}
	return ctx, cancel
}
