package handlers

import (
	"log"

	"github.com/amirphl/Kakehashi/app/dto"
	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AnalyticsHandlerInterface defines the contract for analytics handlers
type AnalyticsHandlerInterface interface {
	Daily(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

type AnalyticsHandler struct {
	flow      businessflow.AnalyticsFlow
	validator *validator.Validate
}

func NewAnalyticsHandler(flow businessflow.AnalyticsFlow) AnalyticsHandlerInterface {
	return &AnalyticsHandler{flow: flow, validator: validator.New()}
}

type analyticsQuery struct {
	userID        uint
	applicationID uint
	req           dto.AnalyticsRangeRequest
}

// parse writes the error response itself and reports whether the handler may continue
func (h *AnalyticsHandler) parse(c fiber.Ctx) (analyticsQuery, bool) {
	var q analyticsQuery
	userID, ok := authenticatedUserID(c)
	if !ok {
		_ = ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
		return q, false
	}
	applicationID, err := parseIDParam(c, "id")
	if err != nil {
		_ = ErrorResponse(c, fiber.StatusBadRequest, "Invalid application id", "INVALID_APPLICATION_ID", nil)
		return q, false
	}
	if err := c.Bind().Query(&q.req); err != nil {
		_ = ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
		return q, false
	}
	if err := h.validator.Struct(&q.req); err != nil {
		_ = ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
		return q, false
	}
	q.userID, q.applicationID = userID, applicationID
	return q, true
}

// Daily returns the daily click rollup of an application
// @Summary Application Analytics
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param id path int true "Application ID"
// @Param from query string true "First day, YYYY-MM-DD"
// @Param to query string true "Last day, YYYY-MM-DD"
// @Success 200 {object} dto.APIResponse{data=dto.AnalyticsReportResponse} "Daily analytics"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Access denied"
// @Failure 404 {object} dto.APIResponse "Application not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/applications/{id}/analytics [get]
func (h *AnalyticsHandler) Daily(c fiber.Ctx) error {
	q, ok := h.parse(c)
	if !ok {
		return nil
	}

	ctx, cancel := createRequestContext(c, "/api/v1/applications/:id/analytics", defaultRequestTimeout)
	defer cancel()

	report, err := h.flow.Daily(ctx, q.userID, q.applicationID, q.req)
	if err != nil {
		log.Println("Analytics report failed", err)
		return businessErrorResponse(c, err, "Failed to load analytics", "ANALYTICS_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Analytics retrieved", report)
}

// Export returns the daily rollup as an Excel workbook
// @Summary Export Application Analytics
// @Tags Analytics
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param id path int true "Application ID"
// @Param from query string true "First day, YYYY-MM-DD"
// @Param to query string true "Last day, YYYY-MM-DD"
// @Success 200 {file} file "Excel workbook"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Access denied"
// @Failure 404 {object} dto.APIResponse "Application not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/applications/{id}/analytics/export [get]
func (h *AnalyticsHandler) Export(c fiber.Ctx) error {
	q, ok := h.parse(c)
	if !ok {
		return nil
	}

	ctx, cancel := createRequestContext(c, "/api/v1/applications/:id/analytics/export", defaultRequestTimeout)
	defer cancel()

	filename, data, err := h.flow.ExportExcel(ctx, q.userID, q.applicationID, q.req)
	if err != nil {
		log.Println("Analytics export failed", err)
		return businessErrorResponse(c, err, "Failed to export analytics", "ANALYTICS_EXPORT_FAILED")
	}
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, "attachment; filename="+filename)
	return c.Send(data)
}
