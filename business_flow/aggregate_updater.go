package businessflow

import (
	"context"
	"time"

	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/repository"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/shopspring/decimal"
)

// AggregateUpdater folds one click event into its application's daily analytics row.
//
// unique_clicks is always a fresh distinct-IP count over the day's events.
// clicks is read-then-incremented without a lock, so concurrent clicks on the
// same row may under-count; the reconcile job recomputes it from the events.
// conversions and earnings are never touched.
type AggregateUpdater interface {
	Apply(ctx context.Context, event *models.ClickEvent) error
}

type AggregateUpdaterImpl struct {
	clickRepo     repository.ClickEventRepository
	analyticsRepo repository.AnalyticsRepository
	loc           *time.Location
}

// NewAggregateUpdater creates an updater bucketing days in loc (UTC when nil)
func NewAggregateUpdater(clickRepo repository.ClickEventRepository, analyticsRepo repository.AnalyticsRepository, loc *time.Location) AggregateUpdater {
	if loc == nil {
		loc = time.UTC
	}
	return &AggregateUpdaterImpl{clickRepo: clickRepo, analyticsRepo: analyticsRepo, loc: loc}
}

func (u *AggregateUpdaterImpl) Apply(ctx context.Context, event *models.ClickEvent) error {
	day, next := utils.DayRange(event.ClickedAt, u.loc)

	unique, err := u.clickRepo.CountDistinctIPs(ctx, event.ApplicationID, day, next)
	if err != nil {
		return NewBusinessError("UNIQUE_CLICKS_COUNT_FAILED", "Failed to count unique clicks", err)
	}

	row, err := u.analyticsRepo.ByApplicationAndDate(ctx, event.ApplicationID, day)
	if err != nil {
		return NewBusinessError("ANALYTICS_LOOKUP_FAILED", "Failed to lookup analytics row", err)
	}

	if row == nil {
		row = &models.Analytics{
			ApplicationID: event.ApplicationID,
			OfferID:       event.OfferID,
			CreatorID:     event.CreatorID,
			Date:          day,
			Clicks:        1,
			UniqueClicks:  unique,
			Earnings:      decimal.Zero,
		}
		err = u.analyticsRepo.Save(ctx, row)
		if err == nil {
			return nil
		}
		if !repository.IsDuplicateKey(err) {
			return NewBusinessError("ANALYTICS_CREATE_FAILED", "Failed to create analytics row", err)
		}
		// Another click created the row first
		row, err = u.analyticsRepo.ByApplicationAndDate(ctx, event.ApplicationID, day)
		if err != nil {
			return NewBusinessError("ANALYTICS_LOOKUP_FAILED", "Failed to lookup analytics row", err)
		}
		if row == nil {
			return NewBusinessError("ANALYTICS_LOOKUP_FAILED", "Analytics row missing after duplicate insert", nil)
		}
	}

	if err := u.analyticsRepo.UpdateClickCounters(ctx, row.ID, row.Clicks+1, unique); err != nil {
		return NewBusinessError("ANALYTICS_UPDATE_FAILED", "Failed to update analytics counters", err)
	}
	return nil
}
