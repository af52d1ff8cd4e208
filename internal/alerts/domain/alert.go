package alerts

import (
	"time"
)

// ActiveAlert is an open exceedance event tracked with running statistics.
// At most one exists per (sensor, tier) at any time; ids are allocated by the
// database sequence and are monotonic.
type ActiveAlert struct {
	ID         int64
	SensorID   int64
	Sensitive  bool
	StartTime  time.Time
	LastUpdate time.Time
	AvgReading float64
	MaxReading float64
}

// NewActiveAlert opens an alert at runtime. The start is backdated by one
// update interval: the triggering reading is an average over the interval
// that preceded the poll, not an instantaneous value.
func NewActiveAlert(sensorID int64, sensitive bool, reading float64, updateFrequency time.Duration, runtime time.Time) ActiveAlert {
	return ActiveAlert{
		SensorID:   sensorID,
		Sensitive:  sensitive,
		StartTime:  runtime.Add(-updateFrequency).UTC(),
		LastUpdate: runtime.UTC(),
		AvgReading: reading,
		MaxReading: reading,
	}
}

// Extend folds one more reading into the running statistics.
//
// With t = minutes from start to the previous update and delta = minutes from
// the previous update to runtime, the time-weighted mean is
//
//	avg' = (t*avg + delta*reading) / (t + delta)
//
// t+delta == 0 degenerates to the first update after creation and takes the
// new reading outright. No reading history is kept, only the running scalars.
func (a ActiveAlert) Extend(reading float64, runtime time.Time) ActiveAlert {
	t := a.LastUpdate.Sub(a.StartTime).Minutes()
	delta := runtime.Sub(a.LastUpdate).Minutes()
	if t < 0 {
		t = 0
	}
	if delta < 0 {
		delta = 0
	}
	if t+delta == 0 {
		a.AvgReading = reading
	} else {
		a.AvgReading = (t*a.AvgReading + delta*reading) / (t + delta)
	}
	if reading > a.MaxReading {
		a.MaxReading = reading
	}
	a.LastUpdate = runtime.UTC()
	return a
}

// ArchivedAlert is the immutable record of a closed alert.
type ArchivedAlert struct {
	ID              int64
	SensorID        int64
	Sensitive       bool
	StartTime       time.Time
	DurationMinutes int64
	AvgReading      float64
	MaxReading      float64
}

// Archive closes the alert, freezing its elapsed duration in whole minutes.
func (a ActiveAlert) Archive() ArchivedAlert {
	duration := int64(a.LastUpdate.Sub(a.StartTime).Minutes())
	if duration < 0 {
		duration = 0
	}
	return ArchivedAlert{
		ID:              a.ID,
		SensorID:        a.SensorID,
		Sensitive:       a.Sensitive,
		StartTime:       a.StartTime.UTC(),
		DurationMinutes: duration,
		AvgReading:      a.AvgReading,
		MaxReading:      a.MaxReading,
	}
}

// EndTime is when the alert's exposure window closed.
func (a ArchivedAlert) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}
