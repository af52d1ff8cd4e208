package sensors

import (
	"errors"
	"time"

	"spikealerts/internal/health"
)

// Channel states mirror the provider's notion of a usable sensor.
const (
	ChannelStateDisabled = 0
	ChannelStateEnabled  = 1
)

// Channel flags record why a sensor's data is not trusted.
const (
	FlagNone          = 0
	FlagProvider      = 1
	FlagOutOfRange    = 2
	FlagNotSeenLately = 3
)

// Sensor is a monitored environmental sensor as registered in our database.
// The alert engine only ever touches LastElevated, the channel fields and the
// derived status; everything else is owned by ingestion and housekeeping.
type Sensor struct {
	ID           int64
	MonitorType  string
	ProviderID   string
	Name         string
	Longitude    float64
	Latitude     float64
	LastSeen     time.Time
	LastElevated time.Time
	ChannelState int
	ChannelFlags int
	CreatedAt    time.Time
}

// Flagged reports whether the sensor is excluded from spike math.
func (s Sensor) Flagged() bool {
	return s.ChannelFlags != FlagNone || s.ChannelState != ChannelStateEnabled
}

// Validate checks registration invariants.
func (s Sensor) Validate() error {
	if s.ID <= 0 {
		return errors.New("sensor: non-positive id")
	}
	if s.MonitorType == "" {
		return errors.New("sensor: empty monitor type")
	}
	if s.ProviderID == "" {
		return errors.New("sensor: empty provider id")
	}
	return nil
}

// Observation is one sensor's reading for the current cycle, already mapped
// onto the health scale. Sensors the provider omitted this cycle have no
// Observation and must not be reclassified.
type Observation struct {
	SensorID        int64
	Reading         float64
	Descriptor      health.Descriptor
	Flagged         bool
	PolledAt        time.Time
	UpdateFrequency time.Duration
	RadiusMeters    float64
	Pollutant       string
	Metric          string
}
