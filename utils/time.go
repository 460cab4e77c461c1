// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// UTCNowPtr returns a pointer to the current time in UTC
func UTCNowPtr() *time.Time {
	now := UTCNow()
	return &now
}

// DayBucket truncates t to midnight of its calendar date in loc.
// A nil loc means UTC.
func DayBucket(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// DayRange returns [start, end) of the day bucket containing t.
// The end is computed with AddDate so DST transitions keep day boundaries intact.
func DayRange(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := DayBucket(t, loc)
	return start, start.AddDate(0, 0, 1)
}
