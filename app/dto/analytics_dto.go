package dto

import "github.com/shopspring/decimal"

// AnalyticsRangeRequest selects an inclusive range of day buckets, formatted 2006-01-02
type AnalyticsRangeRequest struct {
	From string `query:"from" validate:"required,datetime=2006-01-02"`
	To   string `query:"to" validate:"required,datetime=2006-01-02"`
}

// AnalyticsDayDTO is one day bucket
type AnalyticsDayDTO struct {
	Date         string          `json:"date"`
	Clicks       int64           `json:"clicks"`
	UniqueClicks int64           `json:"unique_clicks"`
	Conversions  int64           `json:"conversions"`
	Earnings     decimal.Decimal `json:"earnings"`
}

// AnalyticsReportResponse is the daily series of one application plus totals
type AnalyticsReportResponse struct {
	ApplicationID uint              `json:"application_id"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Days          []AnalyticsDayDTO `json:"days"`
	Totals        AnalyticsDayDTO   `json:"totals"`
}
