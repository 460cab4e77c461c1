package businessflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/repository"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/redis/go-redis/v9"
)

const (
	trackingCodeAttempts = 5
	autoApprovalBatch    = 100
	approvalLockTTL      = 10 * time.Second
)

// ApplicationApprovalFlow issues tracking codes.
// Manual approval by the offer's company and the auto-approval job share the same mutation.
type ApplicationApprovalFlow interface {
	Approve(ctx context.Context, companyUserID, applicationID uint) (*dto.ApproveApplicationResponse, error)
	ApproveDue(ctx context.Context, now time.Time) (int, error)
}

type ApplicationApprovalFlowImpl struct {
	appRepo       repository.ApplicationRepository
	offerRepo     repository.OfferRepository
	rc            *redis.Client
	lockPrefix    string
	publicBaseURL string
}

// NewApplicationApprovalFlow creates the approval flow. rc may be nil, which disables the approval lock.
func NewApplicationApprovalFlow(
	appRepo repository.ApplicationRepository,
	offerRepo repository.OfferRepository,
	rc *redis.Client,
	lockPrefix string,
	publicBaseURL string,
) ApplicationApprovalFlow {
	return &ApplicationApprovalFlowImpl{
		appRepo:       appRepo,
		offerRepo:     offerRepo,
		rc:            rc,
		lockPrefix:    lockPrefix,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (f *ApplicationApprovalFlowImpl) Approve(ctx context.Context, companyUserID, applicationID uint) (*dto.ApproveApplicationResponse, error) {
	app, err := f.appRepo.ByID(ctx, applicationID)
	if err != nil {
		return nil, NewBusinessError("APPLICATION_LOOKUP_FAILED", "Failed to lookup application", err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}

	offer, err := f.offerRepo.ByID(ctx, app.OfferID)
	if err != nil {
		return nil, NewBusinessError("OFFER_LOOKUP_FAILED", "Failed to lookup offer", err)
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	if offer.CompanyID != companyUserID {
		return nil, ErrApplicationAccessDenied
	}

	return f.approve(ctx, app)
}

// ApproveDue approves every pending application whose auto-approval time has passed.
// Individual failures are logged and do not stop the batch.
func (f *ApplicationApprovalFlowImpl) ApproveDue(ctx context.Context, now time.Time) (int, error) {
	due, err := f.appRepo.ListDueForAutoApproval(ctx, now, autoApprovalBatch)
	if err != nil {
		return 0, NewBusinessError("AUTO_APPROVAL_LIST_FAILED", "Failed to list applications due for auto-approval", err)
	}

	approved := 0
	for _, app := range due {
		if ctx.Err() != nil {
			return approved, ctx.Err()
		}
		if _, err := f.approve(ctx, app); err != nil {
			log.Printf("auto-approval failed for application %d: %v", app.ID, err)
			continue
		}
		approved++
	}
	return approved, nil
}

func (f *ApplicationApprovalFlowImpl) approve(ctx context.Context, app *models.Application) (*dto.ApproveApplicationResponse, error) {
	if app.IsApproved() {
		return toApproveResponse(app), nil
	}
	if app.Status != models.ApplicationStatusPending {
		return nil, ErrApplicationNotPending
	}

	if f.rc != nil {
		lockKey := fmt.Sprintf("%sapprove:%d", f.lockPrefix, app.ID)
		ok, err := f.rc.SetNX(ctx, lockKey, "1", approvalLockTTL).Result()
		if err != nil {
			return nil, NewBusinessError("APPROVAL_LOCK_FAILED", "Failed to acquire approval lock", err)
		}
		if !ok {
			return nil, ErrApprovalInProgress
		}
		defer func() {
			_ = f.rc.Del(context.Background(), lockKey).Err()
		}()
	}

	now := utils.UTCNow()
	for attempt := 0; attempt < trackingCodeAttempts; attempt++ {
		code, err := utils.RandomCode(utils.TrackingCodeLength)
		if err != nil {
			return nil, NewBusinessError("TRACKING_CODE_GENERATION_FAILED", "Failed to generate tracking code", err)
		}
		link := f.publicBaseURL + "/track/" + code

		ok, err := f.appRepo.Approve(ctx, app.ID, code, link, now)
		if err != nil {
			if repository.IsDuplicateKey(err) {
				continue
			}
			return nil, NewBusinessError("APPLICATION_APPROVE_FAILED", "Failed to approve application", err)
		}
		if !ok {
			return f.alreadyDecided(ctx, app.ID)
		}

		app.Status = models.ApplicationStatusApproved
		app.TrackingCode = &code
		app.TrackingLink = &link
		app.ApprovedAt = &now
		return toApproveResponse(app), nil
	}

	return nil, NewBusinessErrorf("TRACKING_CODE_COLLISION", "No unique tracking code after %d attempts", nil, trackingCodeAttempts)
}

// alreadyDecided handles an application that left pending between read and update
func (f *ApplicationApprovalFlowImpl) alreadyDecided(ctx context.Context, id uint) (*dto.ApproveApplicationResponse, error) {
	current, err := f.appRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("APPLICATION_LOOKUP_FAILED", "Failed to lookup application", err)
	}
	if current != nil && current.IsApproved() {
		return toApproveResponse(current), nil
	}
	return nil, ErrApplicationNotPending
}

func toApproveResponse(app *models.Application) *dto.ApproveApplicationResponse {
	resp := &dto.ApproveApplicationResponse{ApplicationID: app.ID}
	if app.TrackingCode != nil {
		resp.TrackingCode = *app.TrackingCode
	}
	if app.TrackingLink != nil {
		resp.TrackingLink = *app.TrackingLink
	}
	if app.ApprovedAt != nil {
		resp.ApprovedAt = *app.ApprovedAt
	}
	return resp
}
