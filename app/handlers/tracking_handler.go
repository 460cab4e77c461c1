package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/amirphl/Kakehashi/app/services"
	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
)

const resolveTimeout = 5 * time.Second

// TrackingHandlerInterface defines the contract for the public tracking redirect
type TrackingHandlerInterface interface {
	Track(c fiber.Ctx) error
}

type TrackingHandler struct {
	flow     businessflow.TrackingFlow
	recorder businessflow.ClickRecorder
	runner   services.TaskRunner
}

func NewTrackingHandler(flow businessflow.TrackingFlow, recorder businessflow.ClickRecorder, runner services.TaskRunner) TrackingHandlerInterface {
	return &TrackingHandler{flow: flow, recorder: recorder, runner: runner}
}

// Track resolves a tracking code and redirects to the offer's product page.
// The click is recorded after the response is decided; recording failures never change it.
// @Summary Follow Tracking Link
// @Tags Tracking
// @Produce plain
// @Param code path string true "Tracking code"
// @Success 302 {string} string "Redirect to product URL"
// @Failure 404 {string} string "Unknown tracking code"
// @Failure 500 {string} string "Internal error"
// @Router /track/{code} [get]
func (h *TrackingHandler) Track(c fiber.Ctx) error {
	code := strings.Clone(c.Params("code"))

	ctx, cancel := createRequestContext(c, "/track/:code", resolveTimeout)
	defer cancel()

	target, err := h.flow.Resolve(ctx, code)
	if err != nil {
		if businessflow.IsTrackingCodeNotFound(err) {
			return c.Status(fiber.StatusNotFound).SendString("not found")
		}
		log.Printf("tracking: resolve %q failed (request %s): %v", code, requestid.FromContext(c), err)
		return c.Status(fiber.StatusInternalServerError).SendString("internal error")
	}

	ip := businessflow.ExtractClientIP(
		c.Get(fiber.HeaderXForwardedFor),
		c.RequestCtx().RemoteAddr().String(),
		c.IP(),
	)

	// fasthttp reuses request buffers once the handler returns
	in := businessflow.ClickInput{
		ApplicationID: target.ApplicationID,
		IPAddress:     strings.Clone(ip),
		UserAgent:     strings.Clone(c.Get(fiber.HeaderUserAgent)),
		Referer:       strings.Clone(utils.FirstNonEmpty(c.Get(fiber.HeaderReferer), c.Get("Referrer"))),
		RequestID:     strings.Clone(requestid.FromContext(c)),
		ClickedAt:     utils.UTCNow(),
	}
	h.runner.Go("record_click", func(ctx context.Context) error {
		return h.recorder.Record(ctx, in)
	})

	return c.Redirect().Status(fiber.StatusFound).To(target.ProductURL)
}
