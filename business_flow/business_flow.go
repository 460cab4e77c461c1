// Package businessflow contains the business logic for the application.
package businessflow

import (
	"net"
	"strings"

	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/utils"
)

const ipv4MappedPrefix = "::ffff:"

// ClientMetadata holds the click-time context of a visitor
type ClientMetadata struct {
	IPAddress  string        `json:"ip_address"`
	UserAgent  string        `json:"user_agent"`
	Referer    string        `json:"referer"`
	RequestID  string        `json:"request_id,omitempty"`
	DeviceType string        `json:"device_type"`
	Browser    string        `json:"browser"`
	Location   *LocationInfo `json:"location,omitempty"`
}

// LocationInfo holds geographical location information
type LocationInfo struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// NewClientMetadata normalizes raw request values and classifies the user agent
func NewClientMetadata(ipAddress, userAgent, referer string) *ClientMetadata {
	if userAgent == "" {
		userAgent = utils.UnknownValue
	}
	if referer == "" {
		referer = utils.DirectReferer
	}
	return &ClientMetadata{
		IPAddress:  NormalizeIP(ipAddress),
		UserAgent:  userAgent,
		Referer:    referer,
		DeviceType: ClassifyDevice(userAgent),
		Browser:    ClassifyBrowser(userAgent),
	}
}

// SetLocation sets location information, falling back to Unknown for missing parts
func (cm *ClientMetadata) SetLocation(country, city string) {
	cm.Location = &LocationInfo{
		Country: utils.FirstNonEmpty(country, utils.UnknownGeo),
		City:    utils.FirstNonEmpty(city, utils.UnknownGeo),
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// ExtractClientIP picks the visitor address: the first X-Forwarded-For entry,
// then the socket peer, then the framework-derived IP, then "unknown".
// The result has any IPv4-mapped IPv6 prefix removed.
func ExtractClientIP(forwardedFor, socketAddr, frameworkIP string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return NormalizeIP(first)
		}
	}
	if socketAddr != "" {
		host := socketAddr
		if h, _, err := net.SplitHostPort(socketAddr); err == nil {
			host = h
		}
		if host != "" {
			return NormalizeIP(host)
		}
	}
	if frameworkIP != "" {
		return NormalizeIP(frameworkIP)
	}
	return utils.UnknownValue
}

// NormalizeIP strips the ::ffff: prefix so IPv4 clients are counted once
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if len(ip) > len(ipv4MappedPrefix) && strings.EqualFold(ip[:len(ipv4MappedPrefix)], ipv4MappedPrefix) {
		return ip[len(ipv4MappedPrefix):]
	}
	if ip == "" {
		return utils.UnknownValue
	}
	return ip
}

// ClassifyDevice maps a user agent to mobile, tablet or desktop
func ClassifyDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mobile"):
		return models.DeviceTypeMobile
	case strings.Contains(ua, "tablet"):
		return models.DeviceTypeTablet
	default:
		return models.DeviceTypeDesktop
	}
}

// ClassifyBrowser returns the first of Chrome, Firefox, Safari found in the user agent, or Other.
// Chrome is checked before Safari since Chrome user agents also mention Safari.
func ClassifyBrowser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "safari"):
		return "Safari"
	default:
		return "Other"
	}
}
