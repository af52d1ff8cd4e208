// Package notify delivers alert start and end messages to POI subscribers,
// debounced by each subscriber's contact window and a minimum interval
// between messages.
package notify

import (
	"time"
)

// Subscriber is one person watching a POI on one tier. APIID identifies the
// subscriber's contact record in the external contact-method service; the
// engine never stores raw contact details.
type Subscriber struct {
	ID            int64
	POIID         int64
	Sensitive     bool
	ContactMethod string
	APIID         string
	DaysToContact []int
	StartMinute   int
	EndMinute     int
	Alerted       bool
	LastContact   time.Time
	Active        bool
}

// InContactWindow reports whether now falls on one of the subscriber's
// contact days inside their daily window. Times are evaluated in loc, the
// deployment's local timezone.
func (s Subscriber) InContactWindow(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	day := int(local.Weekday())
	dayOK := false
	for _, d := range s.DaysToContact {
		if d == day {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= s.StartMinute && minute < s.EndMinute
}

// ContactAllowed reports whether enough time has passed since the last
// message.
func (s Subscriber) ContactAllowed(now time.Time, minInterval time.Duration) bool {
	if s.LastContact.IsZero() {
		return true
	}
	return !s.LastContact.Add(minInterval).After(now)
}

// Candidate is a subscriber joined with the name of their POI, as selected
// for a messaging pass.
type Candidate struct {
	Subscriber
	POIName string
}
