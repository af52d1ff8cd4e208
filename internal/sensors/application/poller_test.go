package application

import (
	"context"
	"math"
	"testing"
	"time"

	"spikealerts/internal/health"
	sensors "spikealerts/internal/sensors/domain"
	"spikealerts/internal/sensors/infrastructure/purpleair"
)

type stubDirectory struct {
	enabled []sensors.Sensor
	polls   []int64
}

func (d *stubDirectory) ListEnabled(ctx context.Context, monitorType string) ([]sensors.Sensor, error) {
	return d.enabled, nil
}

func (d *stubDirectory) RecordPoll(ctx context.Context, sensorID int64, lastSeen time.Time, channelFlags int, elevated bool, runtime time.Time) error {
	d.polls = append(d.polls, sensorID)
	return nil
}

type stubProvider struct {
	rows []purpleair.Row
	ids  []string
}

func (p *stubProvider) FetchByIndex(ctx context.Context, providerIDs []string, readingField string) ([]purpleair.Row, error) {
	p.ids = providerIDs
	return p.rows, nil
}

func testConfig() sensors.MonitorConfig {
	return sensors.MonitorConfig{
		MonitorType:     "purpleair-pm25",
		Provider:        "purpleair",
		Pollutant:       "PM2.5",
		Metric:          "ug/m3",
		Thresholds:      health.Thresholds{0, 12.1, 35.5, 55.5, 150.5, 250.5, 1000},
		RadiusMeters:    1000,
		UpdateFrequency: 10 * time.Minute,
		APIField:        "pm2.5_10minute",
		StaleAfter:      time.Hour,
	}
}

func TestPollClassifiesAndFlags(t *testing.T) {
	runtime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	directory := &stubDirectory{enabled: []sensors.Sensor{
		{ID: 1, MonitorType: "purpleair-pm25", ProviderID: "100", Name: "a"},
		{ID: 2, MonitorType: "purpleair-pm25", ProviderID: "200", Name: "b"},
		{ID: 3, MonitorType: "purpleair-pm25", ProviderID: "300", Name: "c"},
	}}
	provider := &stubProvider{rows: []purpleair.Row{
		{ProviderID: "100", Reading: 60.0, HasReading: true, LastSeen: runtime},
		{ProviderID: "200", Reading: 5.0, HasReading: true, ChannelFlags: 2, LastSeen: runtime},
		{ProviderID: "300", HasReading: false, LastSeen: runtime},
	}}

	poller, err := NewPoller(directory, provider)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}

	obs, err := poller.Poll(context.Background(), testConfig(), runtime)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(obs))
	}

	if obs[0].Descriptor != health.Unhealthy || obs[0].Flagged {
		t.Fatalf("expected unflagged unhealthy observation, got %+v", obs[0])
	}
	if !obs[1].Flagged {
		t.Fatalf("provider channel flag should flag the observation, got %+v", obs[1])
	}
	if !math.IsNaN(obs[2].Reading) || obs[2].Descriptor != health.ErrorHigh || !obs[2].Flagged {
		t.Fatalf("missing reading should become a flagged error observation, got %+v", obs[2])
	}
	if len(directory.polls) != 3 {
		t.Fatalf("expected every answered sensor recorded, got %v", directory.polls)
	}
	if len(provider.ids) != 3 {
		t.Fatalf("expected all enabled sensors queried, got %v", provider.ids)
	}
}

func TestPollStaleSensorIsFlagged(t *testing.T) {
	runtime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	directory := &stubDirectory{enabled: []sensors.Sensor{
		{ID: 1, MonitorType: "purpleair-pm25", ProviderID: "100", Name: "a"},
	}}
	provider := &stubProvider{rows: []purpleair.Row{
		{ProviderID: "100", Reading: 60.0, HasReading: true, LastSeen: runtime.Add(-2 * time.Hour)},
	}}

	poller, err := NewPoller(directory, provider)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	obs, err := poller.Poll(context.Background(), testConfig(), runtime)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(obs) != 1 || !obs[0].Flagged {
		t.Fatalf("stale sensor should be flagged, got %+v", obs)
	}
}

func TestPollUnknownProviderIDSkipped(t *testing.T) {
	directory := &stubDirectory{enabled: []sensors.Sensor{
		{ID: 1, MonitorType: "purpleair-pm25", ProviderID: "100", Name: "a"},
	}}
	provider := &stubProvider{rows: []purpleair.Row{
		{ProviderID: "999", Reading: 10, HasReading: true},
	}}

	poller, err := NewPoller(directory, provider)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	obs, err := poller.Poll(context.Background(), testConfig(), time.Now())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(obs) != 0 {
		t.Fatalf("unknown provider row should be dropped, got %+v", obs)
	}
}
