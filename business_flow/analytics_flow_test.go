package businessflow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/models"
	testutil "github.com/amirphl/Kakehashi/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestAnalyticsFlow(t *testing.T) {
	ctx := context.Background()
	const companyID, creatorID, strangerID = uint(1), uint(2), uint(3)

	mem := testutil.NewMemoryRepositories()
	fx := testutil.NewTestFixtures(mem.Repositories())
	offer, err := fx.CreateTestOffer(companyID, "https://shop.example")
	require.NoError(t, err)
	app, err := fx.CreateApprovedApplication(offer, creatorID, "Analyt1cs0")
	require.NoError(t, err)

	day := func(d int) time.Time { return time.Date(2026, 7, d, 0, 0, 0, 0, time.UTC) }
	for _, row := range []*models.Analytics{
		{ApplicationID: app.ID, OfferID: offer.ID, CreatorID: creatorID, Date: day(3), Clicks: 7, UniqueClicks: 5, Conversions: 1, Earnings: decimal.RequireFromString("5.00")},
		{ApplicationID: app.ID, OfferID: offer.ID, CreatorID: creatorID, Date: day(1), Clicks: 3, UniqueClicks: 2, Earnings: decimal.Zero},
		{ApplicationID: app.ID, OfferID: offer.ID, CreatorID: creatorID, Date: day(9), Clicks: 100, UniqueClicks: 50, Earnings: decimal.Zero},
	} {
		require.NoError(t, mem.Analytics.Save(ctx, row))
	}

	flow := NewAnalyticsFlow(mem.Analytics, mem.Clicks, mem.Applications, mem.Offers, time.UTC)
	rng := dto.AnalyticsRangeRequest{From: "2026-07-01", To: "2026-07-05"}

	t.Run("daily series with totals", func(t *testing.T) {
		report, err := flow.Daily(ctx, creatorID, app.ID, rng)
		require.NoError(t, err)
		require.Len(t, report.Days, 2)
		assert.Equal(t, "2026-07-01", report.Days[0].Date)
		assert.Equal(t, "2026-07-03", report.Days[1].Date)
		assert.Equal(t, int64(10), report.Totals.Clicks)
		assert.Equal(t, int64(7), report.Totals.UniqueClicks)
		assert.Equal(t, int64(1), report.Totals.Conversions)
		assert.True(t, report.Totals.Earnings.Equal(decimal.RequireFromString("5")))
	})

	t.Run("offer company may read, strangers may not", func(t *testing.T) {
		_, err := flow.Daily(ctx, companyID, app.ID, rng)
		assert.NoError(t, err)
		_, err = flow.Daily(ctx, strangerID, app.ID, rng)
		assert.True(t, IsApplicationAccessDenied(err))
	})

	t.Run("range validation", func(t *testing.T) {
		_, err := flow.Daily(ctx, creatorID, app.ID, dto.AnalyticsRangeRequest{From: "07/01/2026", To: "2026-07-05"})
		assert.True(t, IsInvalidDate(err))
		_, err = flow.Daily(ctx, creatorID, app.ID, dto.AnalyticsRangeRequest{From: "2026-07-05", To: "2026-07-01"})
		assert.True(t, IsStartDateAfterEndDate(err))
		_, err = flow.Daily(ctx, creatorID, app.ID, dto.AnalyticsRangeRequest{From: "2024-01-01", To: "2026-07-01"})
		assert.True(t, IsDateRangeTooLarge(err))
	})

	t.Run("excel export", func(t *testing.T) {
		name, content, err := flow.ExportExcel(ctx, creatorID, app.ID, rng)
		require.NoError(t, err)
		assert.Contains(t, name, "2026-07-01_2026-07-05.xlsx")

		xl, err := excelize.OpenReader(bytes.NewReader(content))
		require.NoError(t, err)
		defer xl.Close()

		rows, err := xl.GetRows("daily")
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, []string{"date", "clicks", "unique_clicks", "conversions", "earnings"}, rows[0])
		assert.Equal(t, "2026-07-01", rows[1][0])
		assert.Equal(t, "total", rows[3][0])
		assert.Equal(t, "10", rows[3][1])
		assert.Equal(t, "5.00", rows[3][4])
	})
}

func TestAnalyticsFlowReconcileDay(t *testing.T) {
	ctx := context.Background()
	mem := testutil.NewMemoryRepositories()
	fx := testutil.NewTestFixtures(mem.Repositories())
	offer, err := fx.CreateTestOffer(1, "https://shop.example")
	require.NoError(t, err)
	appA, err := fx.CreateApprovedApplication(offer, 2, "ReconcileA")
	require.NoError(t, err)
	appB, err := fx.CreateApprovedApplication(offer, 3, "ReconcileB")
	require.NoError(t, err)

	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	for _, ip := range []string{"1.1.1.1", "1.1.1.2", "1.1.1.1"} {
		_, err := fx.CreateTestClick(appA, ip, day.Add(2*time.Hour))
		require.NoError(t, err)
	}
	_, err = fx.CreateTestClick(appB, "2.2.2.2", day.Add(5*time.Hour))
	require.NoError(t, err)
	// next day, outside the window
	_, err = fx.CreateTestClick(appB, "2.2.2.3", day.AddDate(0, 0, 1))
	require.NoError(t, err)

	// appA has an accurate row, appB has none
	require.NoError(t, mem.Analytics.Save(ctx, &models.Analytics{
		ApplicationID: appA.ID, OfferID: offer.ID, CreatorID: 2, Date: day, Clicks: 3, UniqueClicks: 2,
	}))

	flow := NewAnalyticsFlow(mem.Analytics, mem.Clicks, mem.Applications, mem.Offers, time.UTC)
	repaired, err := flow.ReconcileDay(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	rowB, err := mem.Analytics.ByApplicationAndDate(ctx, appB.ID, day)
	require.NoError(t, err)
	require.NotNil(t, rowB)
	assert.Equal(t, int64(1), rowB.Clicks)
	assert.Equal(t, int64(1), rowB.UniqueClicks)
	assert.Equal(t, uint(3), rowB.CreatorID)
}
