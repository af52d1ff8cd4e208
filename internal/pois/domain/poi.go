// Package pois tracks places of interest, the air quality alerts that touch
// them, and the exposure reports written once an episode settles.
package pois

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// TierAlerts holds one alert-id array per population tier.
type TierAlerts struct {
	General   []int64
	Sensitive []int64
}

// For returns the array for the given tier.
func (t TierAlerts) For(sensitive bool) []int64 {
	if sensitive {
		return t.Sensitive
	}
	return t.General
}

// POI is a place of interest with its per-tier alert bookkeeping. An alert id
// lives in ActiveAlerts while the underlying sensor alert is open, then moves
// to CachedAlerts until the episode's report is written.
type POI struct {
	ID           int64
	Name         string
	Active       bool
	ActiveAlerts TierAlerts
	CachedAlerts TierAlerts
}

// Report is the immutable record of one alert episode at one POI.
type Report struct {
	ReportID        string
	POIID           int64
	POIName         string
	StartTime       time.Time
	DurationMinutes int64
	Sensitive       bool
	AlertIDs        []int64
}

// EndTime derives the episode end from start and duration.
func (r Report) EndTime() time.Time {
	return r.StartTime.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

var reportIDPattern = regexp.MustCompile(`^\d{5}-\d{6}$`)

// FormatReportID renders the date-scoped report identifier NNNNN-MMDDYY.
// seq is the zero-based position of the report within its day.
func FormatReportID(seq int64, date time.Time) string {
	return fmt.Sprintf("%05d-%s", seq, date.UTC().Format("010206"))
}

// ValidateReportID checks the identifier shape.
func ValidateReportID(id string) error {
	if !reportIDPattern.MatchString(id) {
		return errors.New("pois: malformed report id")
	}
	return nil
}
