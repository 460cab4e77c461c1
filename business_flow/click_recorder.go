package businessflow

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Kakehashi/app/services"
	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/repository"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var clickEventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "click_events_recorded_total",
	Help: "Click events persisted, by device type",
}, []string{"device_type"})

// ClickInput is the raw context captured by the redirect endpoint
type ClickInput struct {
	ApplicationID uint
	IPAddress     string
	UserAgent     string
	Referer       string
	RequestID     string
	ClickedAt     time.Time
}

// ClickRecorder enriches and persists one click, then updates the daily rollup
type ClickRecorder interface {
	Record(ctx context.Context, in ClickInput) error
}

type ClickRecorderImpl struct {
	appRepo    repository.ApplicationRepository
	clickRepo  repository.ClickEventRepository
	geo        services.GeoLocator
	aggregates AggregateUpdater
}

func NewClickRecorder(
	appRepo repository.ApplicationRepository,
	clickRepo repository.ClickEventRepository,
	geo services.GeoLocator,
	aggregates AggregateUpdater,
) ClickRecorder {
	if geo == nil {
		geo = services.NoopGeoLocator{}
	}
	return &ClickRecorderImpl{
		appRepo:    appRepo,
		clickRepo:  clickRepo,
		geo:        geo,
		aggregates: aggregates,
	}
}

func (r *ClickRecorderImpl) Record(ctx context.Context, in ClickInput) error {
	app, err := r.appRepo.ByID(ctx, in.ApplicationID)
	if err != nil {
		return NewBusinessError("CLICK_APPLICATION_LOOKUP_FAILED", "Failed to lookup application for click", err)
	}
	if app == nil {
		return NewBusinessErrorf("CLICK_APPLICATION_MISSING", "Application %d vanished before click was recorded", ErrApplicationNotFound, in.ApplicationID)
	}

	meta := NewClientMetadata(in.IPAddress, in.UserAgent, in.Referer)
	meta.SetRequestID(in.RequestID)

	loc, err := r.geo.Lookup(ctx, meta.IPAddress)
	if err != nil {
		loc = services.GeoLocation{}
	}
	meta.SetLocation(loc.Country, loc.City)

	clickedAt := in.ClickedAt
	if clickedAt.IsZero() {
		clickedAt = utils.UTCNow()
	}

	event := &models.ClickEvent{
		ApplicationID: app.ID,
		OfferID:       app.OfferID,
		CreatorID:     app.CreatorID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Referer:       meta.Referer,
		Country:       meta.Location.Country,
		City:          meta.Location.City,
		DeviceType:    meta.DeviceType,
		Browser:       meta.Browser,
		ClickedAt:     clickedAt,
	}
	if err := r.clickRepo.Save(ctx, event); err != nil {
		return NewBusinessError("CLICK_SAVE_FAILED", "Failed to save click event", err)
	}
	clickEventsRecorded.WithLabelValues(event.DeviceType).Inc()

	if err := r.aggregates.Apply(ctx, event); err != nil {
		// event is persisted; ReconcileDay repairs the rollup
		log.Printf("aggregate update failed for application %d (request %s): %v", app.ID, meta.RequestID, err)
		return err
	}
	return nil
}
