package application

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"spikealerts/internal/health"
	"spikealerts/internal/observability/metrics"
	sensors "spikealerts/internal/sensors/domain"
	"spikealerts/internal/sensors/infrastructure/purpleair"
)

// Provider fetches current readings from the upstream sensor API.
type Provider interface {
	FetchByIndex(ctx context.Context, providerIDs []string, readingField string) ([]purpleair.Row, error)
}

// SensorDirectory is the registry view the poller needs.
type SensorDirectory interface {
	ListEnabled(ctx context.Context, monitorType string) ([]sensors.Sensor, error)
	RecordPoll(ctx context.Context, sensorID int64, lastSeen time.Time, channelFlags int, elevated bool, runtime time.Time) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Poller turns provider readings into classified observations for one
// monitor type per call.
type Poller struct {
	directory SensorDirectory
	provider  Provider
	clock     Clock
	logger    *zap.Logger
}

// PollerOption customizes the poller.
type PollerOption func(*Poller)

// WithClock assigns a clock.
func WithClock(clock Clock) PollerOption {
	return func(p *Poller) {
		p.clock = clock
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// NewPoller constructs a poller.
func NewPoller(directory SensorDirectory, provider Provider, opts ...PollerOption) (*Poller, error) {
	if directory == nil {
		return nil, errors.New("sensors: nil directory")
	}
	if provider == nil {
		return nil, errors.New("sensors: nil provider")
	}
	poller := &Poller{
		directory: directory,
		provider:  provider,
		clock:     systemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(poller)
	}
	return poller, nil
}

// Poll fetches readings for every enabled sensor of the monitor type
// and classifies them against the configured thresholds. Sensors the
// provider did not answer for are omitted, not flagged.
func (p *Poller) Poll(ctx context.Context, cfg sensors.MonitorConfig, runtime time.Time) ([]sensors.Observation, error) {
	if p == nil {
		return nil, errors.New("sensors: nil poller")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runtime.IsZero() {
		runtime = p.clock.Now().UTC()
	}

	enabled, err := p.directory.ListEnabled(ctx, cfg.MonitorType)
	if err != nil {
		return nil, err
	}
	if len(enabled) == 0 {
		return nil, nil
	}

	byProviderID := make(map[string]sensors.Sensor, len(enabled))
	providerIDs := make([]string, 0, len(enabled))
	for _, sensor := range enabled {
		byProviderID[sensor.ProviderID] = sensor
		providerIDs = append(providerIDs, sensor.ProviderID)
	}

	started := p.clock.Now()
	rows, err := p.provider.FetchByIndex(ctx, providerIDs, cfg.APIField)
	if err != nil {
		metrics.ObservePoll(cfg.MonitorType, metrics.ResultError, p.clock.Now().Sub(started))
		return nil, err
	}
	metrics.ObservePoll(cfg.MonitorType, metrics.ResultSuccess, p.clock.Now().Sub(started))

	observations := make([]sensors.Observation, 0, len(rows))
	for _, row := range rows {
		sensor, ok := byProviderID[row.ProviderID]
		if !ok {
			p.logger.Warn("provider returned unknown sensor",
				zap.String("monitor_type", cfg.MonitorType),
				zap.String("provider_id", row.ProviderID))
			continue
		}

		// A returned row without a usable reading classifies as error-high,
		// so the flag path closes any alert the sensor holds.
		reading := row.Reading
		if !row.HasReading {
			reading = math.NaN()
		}
		descriptor := health.Classify(reading, cfg.Thresholds)
		flagged := p.isFlagged(row, descriptor, cfg, runtime)
		elevated := descriptor.SpikesFor(true)

		if err := p.directory.RecordPoll(ctx, sensor.ID, lastSeenOr(row.LastSeen, runtime), row.ChannelFlags, elevated, runtime); err != nil {
			return nil, err
		}

		observations = append(observations, sensors.Observation{
			SensorID:        sensor.ID,
			Reading:         reading,
			Descriptor:      descriptor,
			Flagged:         flagged,
			PolledAt:        runtime,
			UpdateFrequency: cfg.UpdateFrequency,
			RadiusMeters:    cfg.RadiusMeters,
			Pollutant:       cfg.Pollutant,
			Metric:          cfg.Metric,
		})
	}
	return observations, nil
}

func (p *Poller) isFlagged(row purpleair.Row, descriptor health.Descriptor, cfg sensors.MonitorConfig, runtime time.Time) bool {
	if row.ChannelFlags != 0 {
		return true
	}
	if descriptor.IsError() {
		return true
	}
	if cfg.StaleAfter > 0 && !row.LastSeen.IsZero() && row.LastSeen.Before(runtime.Add(-cfg.StaleAfter)) {
		return true
	}
	return false
}

func lastSeenOr(lastSeen, fallback time.Time) time.Time {
	if lastSeen.IsZero() {
		return fallback
	}
	return lastSeen
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
