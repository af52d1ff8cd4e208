package spikes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"spikealerts/internal/health"
	sensors "spikealerts/internal/sensors/domain"
)

func obs(id int64, d health.Descriptor, flagged bool) sensors.Observation {
	return sensors.Observation{
		SensorID:   id,
		Descriptor: d,
		Flagged:    flagged,
		PolledAt:   time.Now(),
	}
}

func TestClassifyPartition(t *testing.T) {
	polled := []sensors.Observation{
		obs(1, health.Unhealthy, false),          // alerted -> ongoing
		obs(2, health.VeryUnhealthy, false),      // not alerted -> new
		obs(3, health.Good, false),               // alerted, recovered -> ended
		obs(4, health.Moderate, false),           // ordinary
		obs(5, health.Hazardous, true),           // flagged despite reading
		obs(6, health.UnhealthySensitive, false), // spikes only for sensitive tier
	}
	alerted := NewIDSet(1, 3)

	general := Classify(false, polled, alerted)
	assert.Equal(t, []int64{2}, general.New.Sorted())
	assert.Equal(t, []int64{1}, general.Ongoing.Sorted())
	assert.Equal(t, []int64{3}, general.Ended.Sorted())
	assert.Equal(t, []int64{5}, general.Flagged.Sorted())
	assert.Equal(t, []int64{4, 6}, general.Ordinary.Sorted())

	sensitive := Classify(true, polled, alerted)
	assert.Equal(t, []int64{2, 6}, sensitive.New.Sorted())
}

func TestClassifyFlaggedSensorClosesItsAlert(t *testing.T) {
	polled := []sensors.Observation{obs(7, health.Hazardous, true)}
	c := Classify(false, polled, NewIDSet(7))

	assert.True(t, c.Flagged.Contains(7), "flag must be surfaced")
	assert.True(t, c.Ended.Contains(7), "a flag closes an alert, it never holds one open")
	assert.Empty(t, c.New)
	assert.Empty(t, c.Ongoing)
}

func TestClassifyErrorDescriptorIsFlagged(t *testing.T) {
	polled := []sensors.Observation{obs(8, health.ErrorHigh, false)}
	c := Classify(false, polled, NewIDSet())

	assert.True(t, c.Flagged.Contains(8))
	assert.Empty(t, c.New)
}

func TestClassifyUnpolledSensorUntouched(t *testing.T) {
	// Sensor 9 has an active alert but the provider omitted it this cycle:
	// it must not open, extend, or close anything.
	polled := []sensors.Observation{obs(10, health.Good, false)}
	c := Classify(false, polled, NewIDSet(9))

	assert.False(t, c.Ended.Contains(9))
	assert.False(t, c.Ongoing.Contains(9))
	assert.Equal(t, []int64{10}, c.Ordinary.Sorted())
}

func TestClassifyEmptyCycle(t *testing.T) {
	c := Classify(true, nil, NewIDSet(1, 2))
	assert.Empty(t, c.New)
	assert.Empty(t, c.Ongoing)
	assert.Empty(t, c.Ended)
	assert.Empty(t, c.Flagged)
	assert.Empty(t, c.Ordinary)
}
