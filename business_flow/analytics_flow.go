package businessflow

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/repository"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	dateLayout         = "2006-01-02"
	maxReportDays      = 366
	analyticsSheetName = "daily"
)

// AnalyticsFlow reports the daily rollups and keeps them consistent with click events
type AnalyticsFlow interface {
	Daily(ctx context.Context, userID, applicationID uint, req dto.AnalyticsRangeRequest) (*dto.AnalyticsReportResponse, error)
	ExportExcel(ctx context.Context, userID, applicationID uint, req dto.AnalyticsRangeRequest) (string, []byte, error)
	// ReconcileDay recomputes clicks and unique_clicks of every application clicked during the day containing day
	ReconcileDay(ctx context.Context, day time.Time) (int, error)
}

type AnalyticsFlowImpl struct {
	analyticsRepo repository.AnalyticsRepository
	clickRepo     repository.ClickEventRepository
	appRepo       repository.ApplicationRepository
	offerRepo     repository.OfferRepository
	loc           *time.Location
}

func NewAnalyticsFlow(
	analyticsRepo repository.AnalyticsRepository,
	clickRepo repository.ClickEventRepository,
	appRepo repository.ApplicationRepository,
	offerRepo repository.OfferRepository,
	loc *time.Location,
) AnalyticsFlow {
	if loc == nil {
		loc = time.UTC
	}
	return &AnalyticsFlowImpl{
		analyticsRepo: analyticsRepo,
		clickRepo:     clickRepo,
		appRepo:       appRepo,
		offerRepo:     offerRepo,
		loc:           loc,
	}
}

func (f *AnalyticsFlowImpl) Daily(ctx context.Context, userID, applicationID uint, req dto.AnalyticsRangeRequest) (*dto.AnalyticsReportResponse, error) {
	from, to, err := f.parseRange(req)
	if err != nil {
		return nil, err
	}
	if err := f.checkAccess(ctx, userID, applicationID); err != nil {
		return nil, err
	}

	rows, err := f.analyticsRepo.ListByApplication(ctx, applicationID, from, to)
	if err != nil {
		return nil, NewBusinessError("ANALYTICS_LIST_FAILED", "Failed to list analytics", err)
	}

	resp := &dto.AnalyticsReportResponse{
		ApplicationID: applicationID,
		From:          from.Format(dateLayout),
		To:            to.Format(dateLayout),
		Days:          make([]dto.AnalyticsDayDTO, 0, len(rows)),
		Totals:        dto.AnalyticsDayDTO{Earnings: decimal.Zero},
	}
	for _, r := range rows {
		resp.Days = append(resp.Days, dto.AnalyticsDayDTO{
			Date:         r.Date.In(f.loc).Format(dateLayout),
			Clicks:       r.Clicks,
			UniqueClicks: r.UniqueClicks,
			Conversions:  r.Conversions,
			Earnings:     r.Earnings,
		})
		resp.Totals.Clicks += r.Clicks
		resp.Totals.UniqueClicks += r.UniqueClicks
		resp.Totals.Conversions += r.Conversions
		resp.Totals.Earnings = resp.Totals.Earnings.Add(r.Earnings)
	}
	return resp, nil
}

func (f *AnalyticsFlowImpl) ExportExcel(ctx context.Context, userID, applicationID uint, req dto.AnalyticsRangeRequest) (string, []byte, error) {
	report, err := f.Daily(ctx, userID, applicationID, req)
	if err != nil {
		return "", nil, err
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	xl.SetSheetName(xl.GetSheetName(0), analyticsSheetName)
	header := []string{"date", "clicks", "unique_clicks", "conversions", "earnings"}
	_ = xl.SetSheetRow(analyticsSheetName, "A1", &header)

	for i, d := range report.Days {
		record := []any{d.Date, d.Clicks, d.UniqueClicks, d.Conversions, d.Earnings.StringFixed(2)}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(analyticsSheetName, cellRef, &record)
	}
	totals := []any{"total", report.Totals.Clicks, report.Totals.UniqueClicks, report.Totals.Conversions, report.Totals.Earnings.StringFixed(2)}
	cellRef, _ := excelize.CoordinatesToCellName(1, len(report.Days)+2)
	_ = xl.SetSheetRow(analyticsSheetName, cellRef, &totals)

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("analytics_%s_%s_%s.xlsx", strconv.FormatUint(uint64(applicationID), 10), report.From, report.To)
	return filename, buf.Bytes(), nil
}

func (f *AnalyticsFlowImpl) ReconcileDay(ctx context.Context, day time.Time) (int, error) {
	start, end := utils.DayRange(day, f.loc)

	ids, err := f.clickRepo.ListApplicationIDsInRange(ctx, start, end)
	if err != nil {
		return 0, NewBusinessError("RECONCILE_LIST_FAILED", "Failed to list clicked applications", err)
	}

	repaired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		changed, err := f.reconcileApplication(ctx, id, start, end)
		if err != nil {
			log.Printf("reconcile failed for application %d on %s: %v", id, start.Format(dateLayout), err)
			continue
		}
		if changed {
			repaired++
		}
	}
	return repaired, nil
}

func (f *AnalyticsFlowImpl) reconcileApplication(ctx context.Context, applicationID uint, start, end time.Time) (bool, error) {
	clicks, err := f.clickRepo.CountInRange(ctx, applicationID, start, end)
	if err != nil {
		return false, err
	}
	unique, err := f.clickRepo.CountDistinctIPs(ctx, applicationID, start, end)
	if err != nil {
		return false, err
	}

	row, err := f.analyticsRepo.ByApplicationAndDate(ctx, applicationID, start)
	if err != nil {
		return false, err
	}
	if row != nil {
		if row.Clicks == clicks && row.UniqueClicks == unique {
			return false, nil
		}
		return true, f.analyticsRepo.UpdateClickCounters(ctx, row.ID, clicks, unique)
	}

	app, err := f.appRepo.ByID(ctx, applicationID)
	if err != nil {
		return false, err
	}
	if app == nil {
		return false, ErrApplicationNotFound
	}
	return true, f.analyticsRepo.Save(ctx, &models.Analytics{
		ApplicationID: app.ID,
		OfferID:       app.OfferID,
		CreatorID:     app.CreatorID,
		Date:          start,
		Clicks:        clicks,
		UniqueClicks:  unique,
		Earnings:      decimal.Zero,
	})
}

func (f *AnalyticsFlowImpl) parseRange(req dto.AnalyticsRangeRequest) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(dateLayout, req.From, f.loc)
	if err != nil {
		return time.Time{}, time.Time{}, NewBusinessErrorf("INVALID_DATE", "Invalid from date %q", ErrInvalidDate, req.From)
	}
	to, err := time.ParseInLocation(dateLayout, req.To, f.loc)
	if err != nil {
		return time.Time{}, time.Time{}, NewBusinessErrorf("INVALID_DATE", "Invalid to date %q", ErrInvalidDate, req.To)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, ErrStartDateAfterEndDate
	}
	if to.Sub(from) > maxReportDays*24*time.Hour {
		return time.Time{}, time.Time{}, ErrDateRangeTooLarge
	}
	return from, to, nil
}

// checkAccess allows the application's creator and the offer's company
func (f *AnalyticsFlowImpl) checkAccess(ctx context.Context, userID, applicationID uint) error {
	app, err := f.appRepo.ByID(ctx, applicationID)
	if err != nil {
		return NewBusinessError("APPLICATION_LOOKUP_FAILED", "Failed to lookup application", err)
	}
	if app == nil {
		return ErrApplicationNotFound
	}
	if app.CreatorID == userID {
		return nil
	}
	offer, err := f.offerRepo.ByID(ctx, app.OfferID)
	if err != nil {
		return NewBusinessError("OFFER_LOOKUP_FAILED", "Failed to lookup offer", err)
	}
	if offer == nil || offer.CompanyID != userID {
		return ErrApplicationAccessDenied
	}
	return nil
}
