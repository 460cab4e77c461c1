package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Kakehashi/app/dto"
	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/amirphl/Kakehashi/models"
	testutil "github.com/amirphl/Kakehashi/testing"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inlineRunner runs tasks synchronously so tests can observe their effects
type inlineRunner struct {
	mu    sync.Mutex
	names []string
}

func (r *inlineRunner) Go(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	_ = fn(context.Background())
	return true
}

func (r *inlineRunner) Shutdown(context.Context) error { return nil }

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, businessflow.ClickInput) error {
	f.calls++
	return errors.New("database unavailable")
}

func asUser(userID uint) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals("user_id", userID)
		return c.Next()
	}
}

func decodeResponse(t *testing.T, resp *http.Response) dto.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out dto.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestTrackingHandler(t *testing.T) {
	mem := testutil.NewMemoryRepositories()
	fx := testutil.NewTestFixtures(mem.Repositories())
	offer, err := fx.CreateTestOffer(1, "https://shop.example/item?ref=kk")
	require.NoError(t, err)
	app, err := fx.CreateApprovedApplication(offer, 2, "Track00001")
	require.NoError(t, err)

	flow := businessflow.NewTrackingFlow(mem.Applications, mem.Offers, nil)
	recorder := businessflow.NewClickRecorder(mem.Applications, mem.Clicks, nil,
		businessflow.NewAggregateUpdater(mem.Clicks, mem.Analytics, time.UTC))

	newApp := func(rec businessflow.ClickRecorder, runner *inlineRunner) *fiber.App {
		a := fiber.New()
		a.Get("/track/:code", NewTrackingHandler(flow, rec, runner).Track)
		return a
	}

	t.Run("redirects and records the click", func(t *testing.T) {
		runner := &inlineRunner{}
		req := httptest.NewRequest(http.MethodGet, "/track/Track00001", nil)
		req.Header.Set("X-Forwarded-For", "::ffff:203.0.113.5, 10.0.0.1")
		req.Header.Set("User-Agent", "Mozilla/5.0 (Android 14; Mobile) Firefox/128.0")
		req.Header.Set("Referrer", "https://feed.example")

		resp, err := newApp(recorder, runner).Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://shop.example/item?ref=kk", resp.Header.Get("Location"))
		assert.Equal(t, []string{"record_click"}, runner.names)

		events, err := mem.Clicks.ByFilter(context.Background(), models.ClickEventFilter{ApplicationID: &app.ID}, "", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "203.0.113.5", events[0].IPAddress)
		assert.Equal(t, "https://feed.example", events[0].Referer)
		assert.Equal(t, models.DeviceTypeMobile, events[0].DeviceType)
		assert.Equal(t, "Firefox", events[0].Browser)
	})

	t.Run("redirect survives a failed attribution write", func(t *testing.T) {
		rec := &failingRecorder{}
		resp, err := newApp(rec, &inlineRunner{}).Test(httptest.NewRequest(http.MethodGet, "/track/Track00001", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, 1, rec.calls)
	})

	t.Run("unknown code is 404 without a click", func(t *testing.T) {
		before := mem.Clicks.Len()
		runner := &inlineRunner{}
		resp, err := newApp(recorder, runner).Test(httptest.NewRequest(http.MethodGet, "/track/nope", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Empty(t, runner.names)
		assert.Equal(t, before, mem.Clicks.Len())
	})

	t.Run("missing offer is 500", func(t *testing.T) {
		gone, err := fx.CreateTestOffer(3, "https://gone.example")
		require.NoError(t, err)
		_, err = fx.CreateApprovedApplication(gone, 4, "Orphan0002")
		require.NoError(t, err)
		mem.Offers.Delete(gone.ID)

		resp, err := newApp(recorder, &inlineRunner{}).Test(httptest.NewRequest(http.MethodGet, "/track/Orphan0002", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "internal error", string(body))
	})
}

func TestApplicationAndConversationHandlers(t *testing.T) {
	const companyID, creatorID = uint(10), uint(20)
	mem := testutil.NewMemoryRepositories()
	fx := testutil.NewTestFixtures(mem.Repositories())
	offer, err := fx.CreateTestOffer(companyID, "https://shop.example")
	require.NoError(t, err)
	app, err := fx.CreatePendingApplication(offer, creatorID, nil)
	require.NoError(t, err)

	approval := NewApplicationHandler(businessflow.NewApplicationApprovalFlow(mem.Applications, mem.Offers, nil, "", "https://go.example"))
	conversations := NewConversationHandler(businessflow.NewConversationFlow(mem.Conversations, mem.Messages, mem.Applications, mem.Offers, nil))

	newApp := func(userID uint) *fiber.App {
		a := fiber.New()
		a.Use(asUser(userID))
		a.Post("/api/v1/applications/:id/approve", approval.Approve)
		a.Post("/api/v1/applications/:id/conversation", conversations.Start)
		a.Get("/api/v1/conversations/:id/messages", conversations.History)
		return a
	}

	t.Run("creator cannot approve", func(t *testing.T) {
		resp, err := newApp(creatorID).Test(httptest.NewRequest(http.MethodPost, "/api/v1/applications/1/approve", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
		assert.False(t, decodeResponse(t, resp).Success)
	})

	t.Run("company approves", func(t *testing.T) {
		resp, err := newApp(companyID).Test(httptest.NewRequest(http.MethodPost, "/api/v1/applications/1/approve", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		body := decodeResponse(t, resp)
		data, ok := body.Data.(map[string]any)
		require.True(t, ok)
		assert.Len(t, data["tracking_code"], 10)
	})

	t.Run("invalid id is 400", func(t *testing.T) {
		resp, err := newApp(companyID).Test(httptest.NewRequest(http.MethodPost, "/api/v1/applications/abc/approve", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("conversation start and history", func(t *testing.T) {
		resp, err := newApp(creatorID).Test(httptest.NewRequest(http.MethodPost, "/api/v1/applications/1/conversation", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		_ = decodeResponse(t, resp)

		conv, err := mem.Conversations.ByApplicationID(context.Background(), app.ID)
		require.NoError(t, err)
		require.NotNil(t, conv)

		resp, err = newApp(companyID).Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/1/messages?limit=20", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		resp, err = newApp(999).Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/1/messages", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

		resp, err = newApp(creatorID).Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/1/messages?limit=500", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestAnalyticsHandler(t *testing.T) {
	mem := testutil.NewMemoryRepositories()
	fx := testutil.NewTestFixtures(mem.Repositories())
	offer, err := fx.CreateTestOffer(1, "https://shop.example")
	require.NoError(t, err)
	_, err = fx.CreateApprovedApplication(offer, 2, "Report0001")
	require.NoError(t, err)

	h := NewAnalyticsHandler(businessflow.NewAnalyticsFlow(mem.Analytics, mem.Clicks, mem.Applications, mem.Offers, time.UTC))
	a := fiber.New()
	a.Use(asUser(2))
	a.Get("/api/v1/applications/:id/analytics", h.Daily)
	a.Get("/api/v1/applications/:id/analytics/export", h.Export)

	t.Run("daily report", func(t *testing.T) {
		resp, err := a.Test(httptest.NewRequest(http.MethodGet, "/api/v1/applications/1/analytics?from=2026-01-01&to=2026-01-31", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.True(t, decodeResponse(t, resp).Success)
	})

	t.Run("missing range is rejected", func(t *testing.T) {
		resp, err := a.Test(httptest.NewRequest(http.MethodGet, "/api/v1/applications/1/analytics?from=2026-01-01", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("reversed range is rejected", func(t *testing.T) {
		resp, err := a.Test(httptest.NewRequest(http.MethodGet, "/api/v1/applications/1/analytics?from=2026-02-01&to=2026-01-01", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_DATE_RANGE", decodeResponse(t, resp).Error.(map[string]any)["code"])
	})

	t.Run("export is an xlsx attachment", func(t *testing.T) {
		resp, err := a.Test(httptest.NewRequest(http.MethodGet, "/api/v1/applications/1/analytics/export?from=2026-01-01&to=2026-01-31", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "analytics_1_2026-01-01_2026-01-31.xlsx")
	})
}
