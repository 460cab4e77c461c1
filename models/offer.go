package models

import (
	"time"

	"github.com/amirphl/Kakehashi/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Offer statuses
const (
	OfferStatusDraft  = "draft"
	OfferStatusActive = "active"
	OfferStatusPaused = "paused"
	OfferStatusClosed = "closed"
)

// Offer is a company's affiliate offer that creators apply to promote.
// ProductURL is the redirect destination of every tracking code issued under it.
// AutoApproveAfter, when set, schedules approval of new applications that long after submission.
type Offer struct {
	ID               uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID        uint            `gorm:"not null;index:idx_offers_company_id" json:"company_id"`
	Title            string          `gorm:"type:varchar(255);not null" json:"title"`
	ProductURL       string          `gorm:"type:text;not null" json:"product_url"`
	CommissionAmount decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"commission_amount"`
	Status           string          `gorm:"size:20;not null;default:'active';index:idx_offers_status" json:"status"`
	AutoApproveAfter *time.Duration  `json:"auto_approve_after,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Offer) TableName() string { return "offers" }

func (o *Offer) BeforeCreate(tx *gorm.DB) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = utils.UTCNow()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	return nil
}

// OfferFilter represents filter criteria for offer queries
type OfferFilter struct {
	ID        *uint
	CompanyID *uint
	Status    *string
}
