package utils

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Attribution constants
const (
	// UnknownValue is stored when a client attribute cannot be determined
	UnknownValue = "unknown"

	// DirectReferer is stored when a click carries no referer header
	DirectReferer = "direct"

	// UnknownGeo is stored for country and city when geo lookup fails
	UnknownGeo = "Unknown"

	// MaxTrackingCodeLength bounds lookups on the public redirect endpoint
	MaxTrackingCodeLength = 64

	// TrackingCodeLength is the length of generated tracking codes
	TrackingCodeLength = 10
)
