package dto

import "time"

// ApproveApplicationResponse is returned when an application receives its tracking code
type ApproveApplicationResponse struct {
	ApplicationID uint      `json:"application_id"`
	TrackingCode  string    `json:"tracking_code"`
	TrackingLink  string    `json:"tracking_link"`
	ApprovedAt    time.Time `json:"approved_at"`
}
