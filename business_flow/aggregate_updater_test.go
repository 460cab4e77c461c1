package businessflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Kakehashi/models"
	testutil "github.com/amirphl/Kakehashi/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateUpdaterApply(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testutil.MemoryRepositories, *testutil.TestFixtures, *models.Application) {
		mem := testutil.NewMemoryRepositories()
		fx := testutil.NewTestFixtures(mem.Repositories())
		offer, err := fx.CreateTestOffer(1, "https://shop.example")
		require.NoError(t, err)
		app, err := fx.CreateApprovedApplication(offer, 2, "Aggr000001")
		require.NoError(t, err)
		return mem, fx, app
	}

	// record mimics ClickRecorder: persist then apply
	record := func(t *testing.T, fx *testutil.TestFixtures, agg AggregateUpdater, app *models.Application, ip string, at time.Time) {
		ev, err := fx.CreateTestClick(app, ip, at)
		require.NoError(t, err)
		require.NoError(t, agg.Apply(ctx, ev))
	}

	t.Run("sequential clicks are counted exactly", func(t *testing.T) {
		mem, fx, app := setup(t)
		agg := NewAggregateUpdater(mem.Clicks, mem.Analytics, time.UTC)
		base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

		for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1", "10.0.0.3", "10.0.0.2"} {
			record(t, fx, agg, app, ip, base.Add(time.Duration(i)*time.Minute))
		}

		row, err := mem.Analytics.ByApplicationAndDate(ctx, app.ID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(5), row.Clicks)
		assert.Equal(t, int64(3), row.UniqueClicks)
		assert.Equal(t, app.OfferID, row.OfferID)
		assert.Equal(t, app.CreatorID, row.CreatorID)
	})

	t.Run("mapped IPv4 and plain IPv4 are one unique visitor", func(t *testing.T) {
		mem, _, app := setup(t)
		agg := NewAggregateUpdater(mem.Clicks, mem.Analytics, time.UTC)
		rec := NewClickRecorder(mem.Applications, mem.Clicks, nil, agg)
		at := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)

		for i, ip := range []string{"::ffff:203.0.113.5", "203.0.113.5"} {
			require.NoError(t, rec.Record(ctx, ClickInput{
				ApplicationID: app.ID,
				IPAddress:     ip,
				UserAgent:     "Mozilla/5.0 Chrome/126.0",
				ClickedAt:     at.Add(time.Duration(i) * time.Second),
			}))
		}

		row, err := mem.Analytics.ByApplicationAndDate(ctx, app.ID, time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(2), row.Clicks)
		assert.Equal(t, int64(1), row.UniqueClicks)
	})

	t.Run("days are bucketed separately", func(t *testing.T) {
		mem, fx, app := setup(t)
		agg := NewAggregateUpdater(mem.Clicks, mem.Analytics, time.UTC)

		record(t, fx, agg, app, "10.0.0.1", time.Date(2026, 5, 1, 23, 59, 59, 0, time.UTC))
		record(t, fx, agg, app, "10.0.0.1", time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC))

		assert.Equal(t, 2, mem.Analytics.Len())
		for _, day := range []int{1, 2} {
			row, err := mem.Analytics.ByApplicationAndDate(ctx, app.ID, time.Date(2026, 5, day, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)
			require.NotNil(t, row)
			assert.Equal(t, int64(1), row.Clicks)
			assert.Equal(t, int64(1), row.UniqueClicks)
		}
	})

	t.Run("reference timezone decides the bucket", func(t *testing.T) {
		mem, fx, app := setup(t)
		tokyo := time.FixedZone("JST", 9*60*60)
		agg := NewAggregateUpdater(mem.Clicks, mem.Analytics, tokyo)

		// 2026-05-01 20:00 UTC is 2026-05-02 05:00 in Tokyo
		record(t, fx, agg, app, "10.0.0.1", time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC))

		row, err := mem.Analytics.ByApplicationAndDate(ctx, app.ID, time.Date(2026, 5, 2, 0, 0, 0, 0, tokyo))
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(1), row.Clicks)
	})

	t.Run("conversions and earnings are left alone", func(t *testing.T) {
		mem, fx, app := setup(t)
		day := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
		require.NoError(t, mem.Analytics.Save(ctx, &models.Analytics{
			ApplicationID: app.ID,
			OfferID:       app.OfferID,
			CreatorID:     app.CreatorID,
			Date:          day,
			Clicks:        4,
			UniqueClicks:  2,
			Conversions:   3,
			Earnings:      decimal.RequireFromString("12.50"),
		}))
		agg := NewAggregateUpdater(mem.Clicks, mem.Analytics, time.UTC)

		record(t, fx, agg, app, "10.0.0.9", day.Add(time.Hour))

		row, err := mem.Analytics.ByApplicationAndDate(ctx, app.ID, day)
		require.NoError(t, err)
		assert.Equal(t, int64(5), row.Clicks)
		// unique is recomputed from events, of which there is one
		assert.Equal(t, int64(1), row.UniqueClicks)
		assert.Equal(t, int64(3), row.Conversions)
		assert.True(t, row.Earnings.Equal(decimal.RequireFromString("12.50")))
	})

	t.Run("concurrent first clicks share one row", func(t *testing.T) {
		mem, fx, app := setup(t)
		agg := NewAggregateUpdater(mem.Clicks, mem.Analytics, time.UTC)
		at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
		const n = 20

		events := make([]*models.ClickEvent, n)
		for i := range events {
			ev, err := fx.CreateTestClick(app, "10.1.1.1", at.Add(time.Duration(i)*time.Second))
			require.NoError(t, err)
			events[i] = ev
		}

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for _, ev := range events {
			wg.Add(1)
			go func(ev *models.ClickEvent) {
				defer wg.Done()
				errs <- agg.Apply(ctx, ev)
			}(ev)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		assert.Equal(t, 1, mem.Analytics.Len())
		row, err := mem.Analytics.ByApplicationAndDate(ctx, app.ID, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(1), row.UniqueClicks)
		assert.GreaterOrEqual(t, row.Clicks, int64(1))
		assert.LessOrEqual(t, row.Clicks, int64(n))
	})

	t.Run("reconcile repairs lost increments", func(t *testing.T) {
		mem, fx, app := setup(t)
		day := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 6; i++ {
			_, err := fx.CreateTestClick(app, fmt.Sprintf("10.2.0.%d", i%4), day.Add(time.Duration(i)*time.Hour))
			require.NoError(t, err)
		}
		require.NoError(t, mem.Analytics.Save(ctx, &models.Analytics{
			ApplicationID: app.ID, OfferID: app.OfferID, CreatorID: app.CreatorID, Date: day, Clicks: 2, UniqueClicks: 2,
		}))

		flow := NewAnalyticsFlow(mem.Analytics, mem.Clicks, mem.Applications, mem.Offers, time.UTC)
		repaired, err := flow.ReconcileDay(ctx, day.Add(13*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, repaired)

		row, err := mem.Analytics.ByApplicationAndDate(ctx, app.ID, day)
		require.NoError(t, err)
		assert.Equal(t, int64(6), row.Clicks)
		assert.Equal(t, int64(4), row.UniqueClicks)
	})
}
