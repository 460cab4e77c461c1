package models

import (
	"time"

	"github.com/amirphl/Kakehashi/utils"
	"gorm.io/gorm"
)

// Application statuses
const (
	ApplicationStatusPending  = "pending"
	ApplicationStatusApproved = "approved"
	ApplicationStatusRejected = "rejected"
)

// Application is a creator's request to promote an offer.
// TrackingCode is issued once on approval and never changes afterwards.
type Application struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	OfferID       uint       `gorm:"not null;index:idx_applications_offer_id" json:"offer_id"`
	CreatorID     uint       `gorm:"not null;index:idx_applications_creator_id" json:"creator_id"`
	Status        string     `gorm:"size:20;not null;default:'pending';index:idx_applications_status" json:"status"`
	TrackingCode  *string    `gorm:"size:64;uniqueIndex:uk_applications_tracking_code" json:"tracking_code,omitempty"`
	TrackingLink  *string    `gorm:"type:text" json:"tracking_link,omitempty"`
	AutoApproveAt *time.Time `gorm:"index:idx_applications_auto_approve_at" json:"auto_approve_at,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Offer *Offer `gorm:"foreignKey:OfferID;references:ID" json:"offer,omitempty"`
}

func (Application) TableName() string { return "applications" }

func (a *Application) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	return nil
}

// IsApproved reports whether a tracking code has been issued
func (a *Application) IsApproved() bool {
	return a.Status == ApplicationStatusApproved && a.TrackingCode != nil
}

// ApplicationFilter represents filter criteria for application queries
type ApplicationFilter struct {
	ID             *uint
	OfferID        *uint
	CreatorID      *uint
	Status         *string
	AutoApproveDue *time.Time
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}
