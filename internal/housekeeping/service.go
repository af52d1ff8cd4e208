// Package housekeeping runs the daily maintenance pass: disable sensors the
// provider has not reported in too long and onboard new sensors found inside
// the configured bounding box.
package housekeeping

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	sensors "spikealerts/internal/sensors/domain"
	"spikealerts/internal/sensors/infrastructure/purpleair"
)

// Bounds is the geographic box scanned for new sensors, given as the
// north-west and south-east corners.
type Bounds struct {
	NWLng float64 `yaml:"nw_lng"`
	NWLat float64 `yaml:"nw_lat"`
	SELng float64 `yaml:"se_lng"`
	SELat float64 `yaml:"se_lat"`
}

// Directory is the sensor maintenance surface of the store.
type Directory interface {
	FlagStale(ctx context.Context, monitorType string, cutoff time.Time) (int64, error)
	Onboard(ctx context.Context, batch []sensors.Sensor) (int64, error)
}

// Discoverer lists provider sensors inside a bounding box.
type Discoverer interface {
	ListInBounds(ctx context.Context, nwLng, nwLat, seLng, seLat float64, nameFilter string) ([]purpleair.Row, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service is the daily maintenance runner.
type Service struct {
	directory  Directory
	discoverer Discoverer
	bounds     Bounds
	nameFilter string
	clock      Clock
	logger     *zap.Logger
}

// Option customizes the service.
type Option func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNameFilter restricts onboarding to sensors whose name contains the
// given substring, matching the provider-side convention for the deployment.
func WithNameFilter(filter string) Option {
	return func(s *Service) {
		s.nameFilter = filter
	}
}

// NewService constructs the maintenance runner.
func NewService(directory Directory, discoverer Discoverer, bounds Bounds, opts ...Option) (*Service, error) {
	if directory == nil {
		return nil, errors.New("housekeeping: nil directory")
	}
	if discoverer == nil {
		return nil, errors.New("housekeeping: nil discoverer")
	}
	svc := &Service{
		directory:  directory,
		discoverer: discoverer,
		bounds:     bounds,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Run executes one maintenance pass over the given monitor types. Each step
// is independent; a failing step is logged and the pass continues.
func (s *Service) Run(ctx context.Context, configs []sensors.MonitorConfig) error {
	if s == nil {
		return errors.New("housekeeping: service not initialized")
	}
	now := s.clock.Now().UTC()

	var firstErr error
	for _, cfg := range configs {
		if cfg.StaleAfter <= 0 {
			continue
		}
		flagged, err := s.directory.FlagStale(ctx, cfg.MonitorType, now.Add(-cfg.StaleAfter))
		if err != nil {
			s.logger.Error("flagging stale sensors failed",
				zap.String("monitor_type", cfg.MonitorType),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if flagged > 0 {
			s.logger.Info("disabled stale sensors",
				zap.String("monitor_type", cfg.MonitorType),
				zap.Int64("count", flagged))
		}
	}

	// One listing covers the whole pass; each monitor type onboards from
	// the same discovered rows.
	rows, err := s.discoverer.ListInBounds(ctx,
		s.bounds.NWLng, s.bounds.NWLat, s.bounds.SELng, s.bounds.SELat, s.nameFilter)
	if err != nil {
		s.logger.Error("sensor discovery failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	for _, cfg := range configs {
		if err := s.onboard(ctx, cfg, rows, now); err != nil {
			s.logger.Error("onboarding sensors failed",
				zap.String("monitor_type", cfg.MonitorType),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) onboard(ctx context.Context, cfg sensors.MonitorConfig, rows []purpleair.Row, now time.Time) error {
	if len(rows) == 0 {
		return nil
	}

	batch := make([]sensors.Sensor, 0, len(rows))
	for _, row := range rows {
		if row.ProviderID == "" {
			continue
		}
		batch = append(batch, sensors.Sensor{
			MonitorType:  cfg.MonitorType,
			ProviderID:   row.ProviderID,
			Name:         row.Name,
			Longitude:    row.Longitude,
			Latitude:     row.Latitude,
			LastSeen:     row.LastSeen,
			ChannelState: sensors.ChannelStateEnabled,
			CreatedAt:    now,
		})
	}
	if len(batch) == 0 {
		return nil
	}

	inserted, err := s.directory.Onboard(ctx, batch)
	if err != nil {
		return err
	}
	if inserted > 0 {
		s.logger.Info("onboarded new sensors",
			zap.String("monitor_type", cfg.MonitorType),
			zap.Int64("count", inserted))
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
