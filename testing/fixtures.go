package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/repository"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repositories bundles every repository a flow may need
type Repositories struct {
	Offers        repository.OfferRepository
	Applications  repository.ApplicationRepository
	Clicks        repository.ClickEventRepository
	Analytics     repository.AnalyticsRepository
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
}

// NewDBRepositories wires the gorm repositories to db
func NewDBRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Offers:        repository.NewOfferRepository(db),
		Applications:  repository.NewApplicationRepository(db),
		Clicks:        repository.NewClickEventRepository(db),
		Analytics:     repository.NewAnalyticsRepository(db),
		Conversations: repository.NewConversationRepository(db),
		Messages:      repository.NewMessageRepository(db),
	}
}

// MemoryRepositories keeps the concrete in-memory repositories so tests can inject failures
type MemoryRepositories struct {
	Offers        *MemoryOfferRepository
	Applications  *MemoryApplicationRepository
	Clicks        *MemoryClickEventRepository
	Analytics     *MemoryAnalyticsRepository
	Conversations *MemoryConversationRepository
	Messages      *MemoryMessageRepository
}

func NewMemoryRepositories() *MemoryRepositories {
	return &MemoryRepositories{
		Offers:        NewMemoryOfferRepository(),
		Applications:  NewMemoryApplicationRepository(),
		Clicks:        NewMemoryClickEventRepository(),
		Analytics:     NewMemoryAnalyticsRepository(),
		Conversations: NewMemoryConversationRepository(),
		Messages:      NewMemoryMessageRepository(),
	}
}

// Repositories returns the interface view of m
func (m *MemoryRepositories) Repositories() Repositories {
	return Repositories{
		Offers:        m.Offers,
		Applications:  m.Applications,
		Clicks:        m.Clicks,
		Analytics:     m.Analytics,
		Conversations: m.Conversations,
		Messages:      m.Messages,
	}
}

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	Repos Repositories
	ctx   context.Context
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(repos Repositories) *TestFixtures {
	return &TestFixtures{Repos: repos, ctx: CreateTestContext()}
}

// CreateTestOffer creates an active offer owned by companyID
func (tf *TestFixtures) CreateTestOffer(companyID uint, productURL string) (*models.Offer, error) {
	offer := &models.Offer{
		CompanyID:        companyID,
		Title:            "Offer " + uuid.NewString()[:8],
		ProductURL:       productURL,
		CommissionAmount: decimal.NewFromInt(5),
		Status:           models.OfferStatusActive,
	}
	if err := tf.Repos.Offers.Save(tf.ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to create test offer: %w", err)
	}
	return offer, nil
}

// CreatePendingApplication creates a pending application, optionally due for auto-approval at autoApproveAt
func (tf *TestFixtures) CreatePendingApplication(offer *models.Offer, creatorID uint, autoApproveAt *time.Time) (*models.Application, error) {
	app := &models.Application{
		OfferID:       offer.ID,
		CreatorID:     creatorID,
		Status:        models.ApplicationStatusPending,
		AutoApproveAt: autoApproveAt,
	}
	if err := tf.Repos.Applications.Save(tf.ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create test application: %w", err)
	}
	return app, nil
}

// CreateApprovedApplication creates an application that already carries tracking code
func (tf *TestFixtures) CreateApprovedApplication(offer *models.Offer, creatorID uint, code string) (*models.Application, error) {
	app := &models.Application{
		OfferID:      offer.ID,
		CreatorID:    creatorID,
		Status:       models.ApplicationStatusApproved,
		TrackingCode: utils.ToPtr(code),
		TrackingLink: utils.ToPtr("https://kakehashi.test/track/" + code),
		ApprovedAt:   utils.UTCNowPtr(),
	}
	if err := tf.Repos.Applications.Save(tf.ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create approved application: %w", err)
	}
	return app, nil
}

// CreateTestClick stores a raw click event for app
func (tf *TestFixtures) CreateTestClick(app *models.Application, ip string, at time.Time) (*models.ClickEvent, error) {
	event := &models.ClickEvent{
		ApplicationID: app.ID,
		OfferID:       app.OfferID,
		CreatorID:     app.CreatorID,
		IPAddress:     ip,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) Chrome/126.0",
		Referer:       utils.DirectReferer,
		Country:       utils.UnknownGeo,
		City:          utils.UnknownGeo,
		DeviceType:    models.DeviceTypeDesktop,
		Browser:       "Chrome",
		ClickedAt:     at,
	}
	if err := tf.Repos.Clicks.Save(tf.ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create test click: %w", err)
	}
	return event, nil
}

// CreateTestConversation starts a conversation for app between its creator and the offer's company
func (tf *TestFixtures) CreateTestConversation(app *models.Application, offer *models.Offer) (*models.Conversation, error) {
	conv := &models.Conversation{
		ApplicationID: app.ID,
		OfferID:       offer.ID,
		CreatorID:     app.CreatorID,
		CompanyID:     offer.CompanyID,
	}
	if err := tf.Repos.Conversations.Save(tf.ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create test conversation: %w", err)
	}
	return conv, nil
}
