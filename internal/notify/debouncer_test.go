package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pois "spikealerts/internal/pois/domain"
)

type stubStore struct {
	unalerted []Candidate
	alerted   []Candidate
	marked    map[bool][]int64
	swept     []bool
}

func (s *stubStore) ListUnalertedForAlertedPOIs(ctx context.Context, sensitive bool) ([]Candidate, error) {
	// Mirrors the query: subscribers already marked alerted drop out of
	// the candidate set.
	var still []Candidate
	for _, c := range s.unalerted {
		contacted := false
		for _, id := range s.marked[true] {
			if id == c.ID {
				contacted = true
				break
			}
		}
		if !contacted {
			still = append(still, c)
		}
	}
	return still, nil
}

func (s *stubStore) ListAlertedForPOIs(ctx context.Context, sensitive bool, poiIDs []int64) ([]Candidate, error) {
	return s.alerted, nil
}

func (s *stubStore) MarkContacted(ctx context.Context, subscriberIDs []int64, alerted bool, at time.Time) error {
	if s.marked == nil {
		s.marked = make(map[bool][]int64)
	}
	s.marked[alerted] = append(s.marked[alerted], subscriberIDs...)
	return nil
}

func (s *stubStore) UnalertSettled(ctx context.Context, sensitive bool) (int64, error) {
	s.swept = append(s.swept, sensitive)
	return 1, nil
}

type stubChannel struct {
	sent    []string
	failFor string
}

func (c *stubChannel) Send(ctx context.Context, contactMethod, apiID, content string) error {
	if apiID == c.failFor {
		return errors.New("delivery refused")
	}
	c.sent = append(c.sent, content)
	return nil
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// Tuesday noon UTC.
var tuesdayNoon = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

func candidate(id int64, poiID int64) Candidate {
	return Candidate{
		Subscriber: Subscriber{
			ID:            id,
			POIID:         poiID,
			ContactMethod: "sms",
			APIID:         "api-" + string(rune('a'+id)),
			DaysToContact: []int{0, 1, 2, 3, 4, 5, 6},
			StartMinute:   8 * 60,
			EndMinute:     21 * 60,
			Active:        true,
		},
		POIName: "Example School",
	}
}

func TestStartPassMessagesEligibleSubscribers(t *testing.T) {
	inWindow := candidate(1, 10)
	outsideWindow := candidate(2, 10)
	outsideWindow.DaysToContact = []int{0, 6}
	tooRecent := candidate(3, 10)
	tooRecent.LastContact = tuesdayNoon.Add(-5 * time.Minute)

	store := &stubStore{unalerted: []Candidate{inWindow, outsideWindow, tooRecent}}
	channel := &stubChannel{}
	d, err := NewDebouncer(store, channel, time.Hour, WithClock(fixedClock{at: tuesdayNoon}))
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}

	if err := d.StartPass(context.Background(), false, tuesdayNoon); err != nil {
		t.Fatalf("StartPass: %v", err)
	}
	if len(channel.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(channel.sent))
	}
	if !strings.Contains(channel.sent[0], "Example School") {
		t.Fatalf("message should name the poi, got %q", channel.sent[0])
	}
	if got := store.marked[true]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("only the messaged subscriber should be marked alerted, got %v", got)
	}
}

func TestStartPassDeliveryFailureLeavesSubscriberUnalerted(t *testing.T) {
	failing := candidate(1, 10)
	store := &stubStore{unalerted: []Candidate{failing}}
	channel := &stubChannel{failFor: failing.APIID}
	d, err := NewDebouncer(store, channel, time.Hour, WithClock(fixedClock{at: tuesdayNoon}))
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}

	if err := d.StartPass(context.Background(), false, tuesdayNoon); err != nil {
		t.Fatalf("StartPass: %v", err)
	}
	if len(store.marked[true]) != 0 {
		t.Fatalf("failed delivery must not mark the subscriber, got %v", store.marked[true])
	}
}

func TestStartPassRetriesSubscriberBlockedEarlier(t *testing.T) {
	nightOwl := candidate(1, 10)
	nightOwl.StartMinute = 14 * 60
	nightOwl.EndMinute = 21 * 60

	store := &stubStore{unalerted: []Candidate{nightOwl}}
	channel := &stubChannel{}
	d, err := NewDebouncer(store, channel, time.Hour)
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}

	// The POI alerts at noon, before the subscriber's window opens.
	if err := d.StartPass(context.Background(), false, tuesdayNoon); err != nil {
		t.Fatalf("StartPass: %v", err)
	}
	if len(channel.sent) != 0 {
		t.Fatalf("no message expected outside the window, got %d", len(channel.sent))
	}

	// Three cycles later the POI is still alerted and the window is open.
	if err := d.StartPass(context.Background(), false, tuesdayNoon.Add(3*time.Hour)); err != nil {
		t.Fatalf("StartPass: %v", err)
	}
	if len(channel.sent) != 1 {
		t.Fatalf("expected the retried subscriber to be messaged, got %d", len(channel.sent))
	}
	if got := store.marked[true]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("retried subscriber should be marked alerted, got %v", got)
	}
}

func TestEndPassIncludesReportID(t *testing.T) {
	alerted := candidate(1, 10)
	alerted.Alerted = true
	store := &stubStore{alerted: []Candidate{alerted}}
	channel := &stubChannel{}
	d, err := NewDebouncer(store, channel, time.Hour,
		WithClock(fixedClock{at: tuesdayNoon}),
		WithReportURL("https://example.org/reports"))
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}

	reports := []pois.Report{{ReportID: "00002-060325", POIID: 10, DurationMinutes: 95}}
	if err := d.EndPass(context.Background(), false, reports, tuesdayNoon); err != nil {
		t.Fatalf("EndPass: %v", err)
	}
	if len(channel.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(channel.sent))
	}
	msg := channel.sent[0]
	if !strings.Contains(msg, "00002-060325") || !strings.Contains(msg, "95 minutes") {
		t.Fatalf("end message missing report details: %q", msg)
	}
	if got := store.marked[false]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("messaged subscriber should be unalerted, got %v", got)
	}
}

func TestSweepCoversBothTiers(t *testing.T) {
	store := &stubStore{}
	d, err := NewDebouncer(store, &stubChannel{}, time.Hour)
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}
	if err := d.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.swept) != 2 || store.swept[0] == store.swept[1] {
		t.Fatalf("expected one sweep per tier, got %v", store.swept)
	}
}

func TestContactWindowRespectsTimezone(t *testing.T) {
	sub := candidate(1, 10).Subscriber
	sub.StartMinute = 8 * 60
	sub.EndMinute = 10 * 60

	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// 14:00 UTC on a June day is 09:00 in Chicago.
	at := time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)
	if !sub.InContactWindow(at, chicago) {
		t.Fatal("expected 09:00 local to be inside the 08:00-10:00 window")
	}
	if sub.InContactWindow(at, time.UTC) {
		t.Fatal("expected 14:00 UTC to be outside the window")
	}
}
