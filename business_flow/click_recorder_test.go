package businessflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/Kakehashi/app/services"
	"github.com/amirphl/Kakehashi/models"
	testutil "github.com/amirphl/Kakehashi/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticGeoLocator struct {
	loc services.GeoLocation
	err error
}

func (g staticGeoLocator) Lookup(context.Context, string) (services.GeoLocation, error) {
	return g.loc, g.err
}

type failingAggregates struct{ err error }

func (f failingAggregates) Apply(context.Context, *models.ClickEvent) error { return f.err }

func TestClickRecorderRecord(t *testing.T) {
	ctx := context.Background()
	clickedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	setup := func(t *testing.T) (*testutil.MemoryRepositories, *models.Application) {
		mem := testutil.NewMemoryRepositories()
		fx := testutil.NewTestFixtures(mem.Repositories())
		offer, err := fx.CreateTestOffer(1, "https://shop.example")
		require.NoError(t, err)
		app, err := fx.CreateApprovedApplication(offer, 2, "Rec0rder01")
		require.NoError(t, err)
		return mem, app
	}

	t.Run("persists an enriched event and updates the rollup", func(t *testing.T) {
		mem, app := setup(t)
		agg := NewAggregateUpdater(mem.Clicks, mem.Analytics, time.UTC)
		geo := staticGeoLocator{loc: services.GeoLocation{Country: "JP", City: "Osaka"}}
		rec := NewClickRecorder(mem.Applications, mem.Clicks, geo, agg)

		err := rec.Record(ctx, ClickInput{
			ApplicationID: app.ID,
			IPAddress:     "::ffff:198.51.100.20",
			UserAgent:     "Mozilla/5.0 (iPhone) Mobile Safari/604.1",
			Referer:       "https://blog.example/post",
			RequestID:     "req-1",
			ClickedAt:     clickedAt,
		})
		require.NoError(t, err)

		events, err := mem.Clicks.ByFilter(ctx, models.ClickEventFilter{ApplicationID: &app.ID}, "", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		ev := events[0]
		assert.Equal(t, app.OfferID, ev.OfferID)
		assert.Equal(t, app.CreatorID, ev.CreatorID)
		assert.Equal(t, "198.51.100.20", ev.IPAddress)
		assert.Equal(t, "https://blog.example/post", ev.Referer)
		assert.Equal(t, "JP", ev.Country)
		assert.Equal(t, "Osaka", ev.City)
		assert.Equal(t, models.DeviceTypeMobile, ev.DeviceType)
		assert.Equal(t, "Safari", ev.Browser)
		assert.True(t, clickedAt.Equal(ev.ClickedAt))

		row, err := mem.Analytics.ByApplicationAndDate(ctx, app.ID, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(1), row.Clicks)
		assert.Equal(t, int64(1), row.UniqueClicks)
	})

	t.Run("geo failure records Unknown location", func(t *testing.T) {
		mem, app := setup(t)
		rec := NewClickRecorder(mem.Applications, mem.Clicks, nil, NewAggregateUpdater(mem.Clicks, mem.Analytics, nil))

		require.NoError(t, rec.Record(ctx, ClickInput{ApplicationID: app.ID, IPAddress: "203.0.113.1", ClickedAt: clickedAt}))

		events, err := mem.Clicks.ByFilter(ctx, models.ClickEventFilter{}, "", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "Unknown", events[0].Country)
		assert.Equal(t, "Unknown", events[0].City)
		assert.Equal(t, "unknown", events[0].UserAgent)
		assert.Equal(t, "direct", events[0].Referer)
	})

	t.Run("vanished application is reported", func(t *testing.T) {
		mem, _ := setup(t)
		rec := NewClickRecorder(mem.Applications, mem.Clicks, nil, NewAggregateUpdater(mem.Clicks, mem.Analytics, nil))

		err := rec.Record(ctx, ClickInput{ApplicationID: 999, IPAddress: "203.0.113.1"})
		require.Error(t, err)
		assert.True(t, IsApplicationNotFound(err))
		assert.Zero(t, mem.Clicks.Len())
	})

	t.Run("event survives an aggregate failure", func(t *testing.T) {
		mem, app := setup(t)
		rec := NewClickRecorder(mem.Applications, mem.Clicks, nil, failingAggregates{err: errors.New("analytics down")})

		err := rec.Record(ctx, ClickInput{ApplicationID: app.ID, IPAddress: "203.0.113.1", ClickedAt: clickedAt})
		require.Error(t, err)
		assert.Equal(t, 1, mem.Clicks.Len())
	})

	t.Run("event save failure skips the rollup", func(t *testing.T) {
		mem, app := setup(t)
		mem.Clicks.SaveErr = errors.New("disk full")
		rec := NewClickRecorder(mem.Applications, mem.Clicks, nil, NewAggregateUpdater(mem.Clicks, mem.Analytics, nil))

		err := rec.Record(ctx, ClickInput{ApplicationID: app.ID, IPAddress: "203.0.113.1", ClickedAt: clickedAt})
		require.Error(t, err)
		assert.Zero(t, mem.Analytics.Len())
	})
}
