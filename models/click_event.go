package models

import "time"

// Device types recorded on click events
const (
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
	DeviceTypeDesktop = "desktop"
)

// ClickEvent is one visit of a tracking link.
// Rows are append-only; OfferID and CreatorID are copied from the application at record time.
type ClickEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ApplicationID uint      `gorm:"not null;index:idx_click_events_application_clicked_at,priority:1" json:"application_id"`
	OfferID       uint      `gorm:"not null;index:idx_click_events_offer_id" json:"offer_id"`
	CreatorID     uint      `gorm:"not null;index:idx_click_events_creator_id" json:"creator_id"`
	IPAddress     string    `gorm:"size:64;not null" json:"ip_address"`
	UserAgent     string    `gorm:"type:text;not null" json:"user_agent"`
	Referer       string    `gorm:"type:text;not null" json:"referer"`
	Country       string    `gorm:"size:64;not null;default:'Unknown'" json:"country"`
	City          string    `gorm:"size:128;not null;default:'Unknown'" json:"city"`
	DeviceType    string    `gorm:"size:16;not null" json:"device_type"`
	Browser       string    `gorm:"size:32;not null" json:"browser"`
	ClickedAt     time.Time `gorm:"not null;index:idx_click_events_application_clicked_at,priority:2" json:"clicked_at"`
}

// TableName returns the table name for ClickEvent
func (ClickEvent) TableName() string { return "click_events" }

// ClickEventFilter provides filter fields for repository queries
type ClickEventFilter struct {
	ApplicationID *uint
	OfferID       *uint
	CreatorID     *uint
	ClickedAfter  *time.Time
	ClickedBefore *time.Time
}
