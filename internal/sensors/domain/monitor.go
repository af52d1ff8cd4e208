package sensors

import (
	"errors"
	"fmt"
	"time"

	"spikealerts/internal/health"
)

// MonitorConfig is the static per-monitor-type configuration: which provider
// serves it, what it measures, how its readings map onto the health scale and
// how far a single sensor's reading is considered representative.
type MonitorConfig struct {
	MonitorType     string
	Provider        string
	Pollutant       string
	Metric          string
	Thresholds      health.Thresholds
	RadiusMeters    float64
	UpdateFrequency time.Duration
	APIField        string
	StaleAfter      time.Duration
}

// Validate checks the configuration; failures are fatal at startup.
func (c MonitorConfig) Validate() error {
	if c.MonitorType == "" {
		return errors.New("monitor config: empty monitor type")
	}
	if c.Provider == "" {
		return fmt.Errorf("monitor config %s: empty provider", c.MonitorType)
	}
	if c.Pollutant == "" {
		return fmt.Errorf("monitor config %s: empty pollutant", c.MonitorType)
	}
	if c.RadiusMeters <= 0 {
		return fmt.Errorf("monitor config %s: non-positive radius", c.MonitorType)
	}
	if c.UpdateFrequency <= 0 {
		return fmt.Errorf("monitor config %s: non-positive update frequency", c.MonitorType)
	}
	if c.APIField == "" {
		return fmt.Errorf("monitor config %s: empty api field", c.MonitorType)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("monitor config %s: %w", c.MonitorType, err)
	}
	return nil
}

// MonitorState tracks when a monitor type was last polled; the scheduler
// sleeps until the earliest LastUpdate+UpdateFrequency across all types.
type MonitorState struct {
	MonitorType string
	LastUpdate  time.Time
}

// NextDue returns when this monitor type should next be polled.
func (s MonitorState) NextDue(cfg MonitorConfig) time.Time {
	return s.LastUpdate.Add(cfg.UpdateFrequency)
}
