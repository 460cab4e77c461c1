package businessflow

import (
	"context"
	"log"

	"github.com/amirphl/Kakehashi/app/services"
	"github.com/amirphl/Kakehashi/repository"
	"github.com/amirphl/Kakehashi/utils"
)

// TrackingFlow resolves a tracking code to the offer destination.
// Public flow, no authentication required. Attribution is recorded separately by ClickRecorder.
type TrackingFlow interface {
	Resolve(ctx context.Context, code string) (*services.TrackingTarget, error)
}

type TrackingFlowImpl struct {
	appRepo   repository.ApplicationRepository
	offerRepo repository.OfferRepository
	cache     services.TrackingCache
}

// NewTrackingFlow creates a tracking flow. cache may be nil.
func NewTrackingFlow(appRepo repository.ApplicationRepository, offerRepo repository.OfferRepository, cache services.TrackingCache) TrackingFlow {
	return &TrackingFlowImpl{appRepo: appRepo, offerRepo: offerRepo, cache: cache}
}

func (f *TrackingFlowImpl) Resolve(ctx context.Context, code string) (*services.TrackingTarget, error) {
	if code == "" || len(code) > utils.MaxTrackingCodeLength {
		return nil, ErrTrackingCodeNotFound
	}

	binding, err := f.binding(ctx, code)
	if err != nil {
		return nil, err
	}

	offer, err := f.offerRepo.ByID(ctx, binding.OfferID)
	if err != nil {
		return nil, NewBusinessError("OFFER_LOOKUP_FAILED", "Failed to lookup offer", err)
	}
	if offer == nil || offer.ProductURL == "" {
		return nil, NewBusinessErrorf("OFFER_MISSING", "Offer %d missing for application %d", ErrOfferMissing, binding.OfferID, binding.ApplicationID)
	}

	return &services.TrackingTarget{
		ApplicationID: binding.ApplicationID,
		OfferID:       offer.ID,
		CreatorID:     binding.CreatorID,
		ProductURL:    offer.ProductURL,
	}, nil
}

// binding reads the code's application through the cache. Offers are not cached.
func (f *TrackingFlowImpl) binding(ctx context.Context, code string) (*services.TrackingBinding, error) {
	if f.cache != nil {
		b, err := f.cache.Get(ctx, code)
		if err != nil {
			log.Printf("tracking cache read failed for code %q: %v", code, err)
		} else if b != nil {
			return b, nil
		}
	}

	app, err := f.appRepo.ByTrackingCode(ctx, code)
	if err != nil {
		return nil, NewBusinessError("TRACKING_LOOKUP_FAILED", "Failed to lookup tracking code", err)
	}
	if app == nil {
		return nil, ErrTrackingCodeNotFound
	}

	b := &services.TrackingBinding{ApplicationID: app.ID, OfferID: app.OfferID, CreatorID: app.CreatorID}
	if f.cache != nil {
		if err := f.cache.Set(ctx, code, *b); err != nil {
			log.Printf("tracking cache write failed for code %q: %v", code, err)
		}
	}
	return b, nil
}
