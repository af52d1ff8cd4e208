package health

import (
	"errors"
	"fmt"
	"math"
)

// Descriptor is a categorical health label for a sensor reading.
type Descriptor int

// Descriptors are ordered from lowest to highest severity. The two error
// values bracket the configured threshold range: readings below the first
// threshold or at/above the last one are sensor faults, not air quality.
const (
	ErrorLow Descriptor = iota
	Good
	Moderate
	UnhealthySensitive
	Unhealthy
	VeryUnhealthy
	Hazardous
	ErrorHigh
)

var descriptorNames = map[Descriptor]string{
	ErrorLow:           "error-low",
	Good:               "good",
	Moderate:           "moderate",
	UnhealthySensitive: "unhealthy-sensitive",
	Unhealthy:          "unhealthy",
	VeryUnhealthy:      "very-unhealthy",
	Hazardous:          "hazardous",
	ErrorHigh:          "error-high",
}

// String returns the stable label used in logs and the status cache.
func (d Descriptor) String() string {
	if name, ok := descriptorNames[d]; ok {
		return name
	}
	return fmt.Sprintf("descriptor(%d)", int(d))
}

// IsError reports whether the descriptor marks an out-of-range reading.
func (d Descriptor) IsError() bool {
	return d == ErrorLow || d == ErrorHigh
}

// Thresholds is an ordered set of bin boundaries. T boundaries define T-1
// interior bins; readings below the first boundary map to ErrorLow and
// readings at or above the last to ErrorHigh. Binning is half-open and
// left-inclusive.
type Thresholds []float64

// MaxBoundaries is the number of boundaries that yields the full descriptor
// scale (good through hazardous plus the high error bound).
const MaxBoundaries = 7

// Validate checks that the boundaries are usable. A violation is a
// configuration error and should be fatal at startup.
func (t Thresholds) Validate() error {
	if len(t) < 2 {
		return errors.New("health: need at least two threshold boundaries")
	}
	if len(t) > MaxBoundaries {
		return fmt.Errorf("health: at most %d threshold boundaries, got %d", MaxBoundaries, len(t))
	}
	for i, boundary := range t {
		if math.IsNaN(boundary) || math.IsInf(boundary, 0) {
			return fmt.Errorf("health: boundary %d is not finite", i)
		}
		if i > 0 && boundary <= t[i-1] {
			return fmt.Errorf("health: boundaries must be strictly increasing, got %v <= %v at %d", boundary, t[i-1], i)
		}
	}
	return nil
}

// Classify maps a raw reading onto the descriptor scale. It is total: every
// finite float maps to a bin, and NaN maps to ErrorHigh so that a broken
// reading is routed to data-quality handling rather than silently dropped.
func Classify(reading float64, thresholds Thresholds) Descriptor {
	if math.IsNaN(reading) {
		return ErrorHigh
	}
	if reading < thresholds[0] {
		return ErrorLow
	}
	for i := 1; i < len(thresholds); i++ {
		if reading < thresholds[i] {
			return Good + Descriptor(i-1)
		}
	}
	// At or above the last boundary is out of range regardless of how many
	// interior bins the scale defines.
	return ErrorHigh
}

// SpikesFor reports whether the descriptor counts as a spike for the given
// population tier. The sensitive tier's spike set is a strict superset of the
// general tier's: "unhealthy for sensitive groups" spikes only for them.
func (d Descriptor) SpikesFor(sensitive bool) bool {
	if d.IsError() {
		return false
	}
	if sensitive {
		return d >= UnhealthySensitive
	}
	return d >= Unhealthy
}
