package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	alertapp "spikealerts/internal/alerts/application"
	alerts "spikealerts/internal/alerts/domain"
	"spikealerts/internal/health"
	pois "spikealerts/internal/pois/domain"
	sensors "spikealerts/internal/sensors/domain"
	"spikealerts/internal/spikes"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubPoller struct {
	observations []sensors.Observation
	err          error
	calls        int
}

func (p *stubPoller) Poll(_ context.Context, _ sensors.MonitorConfig, _ time.Time) ([]sensors.Observation, error) {
	p.calls++
	return p.observations, p.err
}

type stubLedger struct {
	alerted map[bool]spikes.IDSet
	results map[bool]*alertapp.LedgerResult

	applied []spikes.Classification
}

func (l *stubLedger) ActiveSensorIDs(_ context.Context, sensitive bool, _ []int64) (spikes.IDSet, error) {
	if set, ok := l.alerted[sensitive]; ok {
		return set, nil
	}
	return spikes.IDSet{}, nil
}

func (l *stubLedger) Apply(_ context.Context, cls spikes.Classification, _ []sensors.Observation, _ time.Time) (*alertapp.LedgerResult, error) {
	l.applied = append(l.applied, cls)
	if result, ok := l.results[cls.Sensitive]; ok {
		return result, nil
	}
	return &alertapp.LedgerResult{}, nil
}

type propagateCall struct {
	sensitive bool
	opened    []int64
	closed    []int64
	radius    float64
}

type stubAggregator struct {
	newlyAlerted map[bool][]int64
	reports      map[bool][]pois.Report

	propagated []propagateCall
	scans      []bool
}

func (a *stubAggregator) Propagate(_ context.Context, sensitive bool, opened, closed []int64, radiusMeters float64) ([]int64, error) {
	a.propagated = append(a.propagated, propagateCall{sensitive: sensitive, opened: opened, closed: closed, radius: radiusMeters})
	return a.newlyAlerted[sensitive], nil
}

func (a *stubAggregator) GenerateDueReports(_ context.Context, sensitive bool, _ time.Time) ([]pois.Report, error) {
	a.scans = append(a.scans, sensitive)
	return a.reports[sensitive], nil
}

type stubDebouncer struct {
	startPasses []bool
	endReports  map[bool][]pois.Report
	sweeps      int
}

func (d *stubDebouncer) StartPass(_ context.Context, sensitive bool, _ time.Time) error {
	d.startPasses = append(d.startPasses, sensitive)
	return nil
}

func (d *stubDebouncer) EndPass(_ context.Context, sensitive bool, reports []pois.Report, _ time.Time) error {
	if d.endReports == nil {
		d.endReports = make(map[bool][]pois.Report)
	}
	d.endReports[sensitive] = reports
	return nil
}

func (d *stubDebouncer) Sweep(context.Context) error {
	d.sweeps++
	return nil
}

type stubStateTracker struct {
	touched []string
	err     error
}

func (t *stubStateTracker) Touch(_ context.Context, monitorType string, _ time.Time) error {
	if t.err != nil {
		return t.err
	}
	t.touched = append(t.touched, monitorType)
	return nil
}

var enginePM25 = health.Thresholds{0, 12.1, 35.5, 55.5, 150.5, 250.5, 1000}

func engineConfig(t *testing.T) sensors.MonitorConfig {
	t.Helper()
	return sensors.MonitorConfig{
		MonitorType:     "pm25",
		Provider:        "purpleair",
		Pollutant:       "pm2.5",
		Metric:          "ug/m3",
		Thresholds:      enginePM25,
		RadiusMeters:    1000,
		UpdateFrequency: 10 * time.Minute,
		APIField:        "pm2.5_10minute",
		StaleAfter:      time.Hour,
	}
}

func observation(sensorID int64, reading float64) sensors.Observation {
	return sensors.Observation{
		SensorID:   sensorID,
		Reading:    reading,
		Descriptor: health.Classify(reading, enginePM25),
	}
}

func TestRunProcessesBothTiers(t *testing.T) {
	runtime := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	poller := &stubPoller{observations: []sensors.Observation{
		observation(1, 160.0), // unhealthy, spikes both tiers
		observation(2, 40.0),  // sensitive-only spike
		observation(3, 5.0),   // healthy
	}}
	ledger := &stubLedger{
		alerted: map[bool]spikes.IDSet{
			false: {},
			true:  {3: {}}, // was alerted, now ended
		},
		results: map[bool]*alertapp.LedgerResult{
			false: {Opened: []alerts.ActiveAlert{{ID: 10, SensorID: 1}}},
			true: {
				Opened: []alerts.ActiveAlert{{ID: 11, SensorID: 1}, {ID: 12, SensorID: 2}},
				Closed: []alerts.ArchivedAlert{{ID: 9, SensorID: 3}},
			},
		},
	}
	aggregator := &stubAggregator{
		newlyAlerted: map[bool][]int64{false: {100}, true: {100, 101}},
		reports: map[bool][]pois.Report{
			true: {{ReportID: "00000-060325", POIID: 102, Sensitive: true}},
		},
	}
	debouncer := &stubDebouncer{}
	tracker := &stubStateTracker{}

	engine, err := NewEngine(poller, ledger, aggregator, debouncer, tracker,
		WithClock(fixedClock{now: runtime}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	engine.Run(context.Background(), []sensors.MonitorConfig{engineConfig(t)}, runtime)

	if len(ledger.applied) != 2 {
		t.Fatalf("applied %d classifications, want 2", len(ledger.applied))
	}
	if ledger.applied[0].Sensitive || !ledger.applied[1].Sensitive {
		t.Fatalf("tier order wrong: %v then %v", ledger.applied[0].Sensitive, ledger.applied[1].Sensitive)
	}
	if len(aggregator.propagated) != 2 {
		t.Fatalf("propagated %d times, want 2", len(aggregator.propagated))
	}
	second := aggregator.propagated[1]
	if !second.sensitive || len(second.opened) != 2 || len(second.closed) != 1 || second.closed[0] != 9 {
		t.Fatalf("sensitive propagation = %+v", second)
	}
	if second.radius != 1000 {
		t.Fatalf("propagation radius = %v, want the configured 1000", second.radius)
	}
	if len(debouncer.startPasses) != 2 || debouncer.startPasses[0] || !debouncer.startPasses[1] {
		t.Fatalf("start passes = %v, want one per tier in order", debouncer.startPasses)
	}
	if got := debouncer.endReports[true]; len(got) != 1 || got[0].ReportID != "00000-060325" {
		t.Fatalf("sensitive end pass reports = %v", got)
	}
	if debouncer.sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", debouncer.sweeps)
	}
	if len(tracker.touched) != 1 || tracker.touched[0] != "pm25" {
		t.Fatalf("touched = %v", tracker.touched)
	}
}

func TestRunFailingTypeDoesNotBlockOthers(t *testing.T) {
	runtime := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	failing := engineConfig(t)
	failing.MonitorType = "ozone"
	healthy := engineConfig(t)

	calls := 0
	poller := pollerFunc(func(_ context.Context, cfg sensors.MonitorConfig, _ time.Time) ([]sensors.Observation, error) {
		calls++
		if cfg.MonitorType == "ozone" {
			return nil, errors.New("provider down")
		}
		return []sensors.Observation{observation(1, 5.0)}, nil
	})
	ledger := &stubLedger{}
	aggregator := &stubAggregator{}
	debouncer := &stubDebouncer{}
	tracker := &stubStateTracker{}

	engine, err := NewEngine(poller, ledger, aggregator, debouncer, tracker,
		WithClock(fixedClock{now: runtime}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	engine.Run(context.Background(), []sensors.MonitorConfig{failing, healthy}, runtime)

	if calls != 2 {
		t.Fatalf("poll calls = %d, want 2", calls)
	}
	if len(tracker.touched) != 1 || tracker.touched[0] != "pm25" {
		t.Fatalf("touched = %v, want only pm25", tracker.touched)
	}
}

func TestRunEmptyPollStillTouchesState(t *testing.T) {
	runtime := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	poller := &stubPoller{}
	ledger := &stubLedger{}
	aggregator := &stubAggregator{}
	debouncer := &stubDebouncer{}
	tracker := &stubStateTracker{}

	engine, err := NewEngine(poller, ledger, aggregator, debouncer, tracker,
		WithClock(fixedClock{now: runtime}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	engine.Run(context.Background(), []sensors.MonitorConfig{engineConfig(t)}, runtime)

	if len(ledger.applied) != 0 {
		t.Fatalf("applied %d classifications on empty poll", len(ledger.applied))
	}
	if len(tracker.touched) != 1 {
		t.Fatalf("touched = %v, want one entry", tracker.touched)
	}
}

type pollerFunc func(ctx context.Context, cfg sensors.MonitorConfig, runtime time.Time) ([]sensors.Observation, error)

func (f pollerFunc) Poll(ctx context.Context, cfg sensors.MonitorConfig, runtime time.Time) ([]sensors.Observation, error) {
	return f(ctx, cfg, runtime)
}
