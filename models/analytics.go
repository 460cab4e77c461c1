package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Analytics is the per-application daily rollup of click events.
// Date is midnight of the day bucket in the reference timezone.
// Conversions and Earnings belong to the conversion pipeline and are never written by click tracking.
type Analytics struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	ApplicationID uint            `gorm:"not null;uniqueIndex:uk_analytics_application_date,priority:1" json:"application_id"`
	OfferID       uint            `gorm:"not null;index:idx_analytics_offer_id" json:"offer_id"`
	CreatorID     uint            `gorm:"not null;index:idx_analytics_creator_id" json:"creator_id"`
	Date          time.Time       `gorm:"not null;uniqueIndex:uk_analytics_application_date,priority:2" json:"date"`
	Clicks        int64           `gorm:"not null;default:0" json:"clicks"`
	UniqueClicks  int64           `gorm:"not null;default:0" json:"unique_clicks"`
	Conversions   int64           `gorm:"not null;default:0" json:"conversions"`
	Earnings      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"earnings"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Analytics) TableName() string { return "analytics" }

// AnalyticsFilter represents filter criteria for analytics queries
type AnalyticsFilter struct {
	ApplicationID *uint
	CreatorID     *uint
	OfferID       *uint
	DateFrom      *time.Time
	DateTo        *time.Time
}
