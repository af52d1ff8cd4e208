package alerts

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestNewActiveAlertBackdatesStart(t *testing.T) {
	alert := NewActiveAlert(42, false, 80, 10*time.Minute, t0)
	if got, want := alert.StartTime, t0.Add(-10*time.Minute); !got.Equal(want) {
		t.Fatalf("start time = %v, want %v", got, want)
	}
	if !alert.LastUpdate.Equal(t0) {
		t.Fatalf("last update = %v, want %v", alert.LastUpdate, t0)
	}
	if alert.AvgReading != 80 || alert.MaxReading != 80 {
		t.Fatalf("avg/max = %v/%v, want 80/80", alert.AvgReading, alert.MaxReading)
	}
}

func TestExtendTimeWeightedMean(t *testing.T) {
	// avg=50 over the first 10 minutes, then 70 for 10 minutes -> 60.
	alert := ActiveAlert{
		StartTime:  t0,
		LastUpdate: t0.Add(10 * time.Minute),
		AvgReading: 50,
		MaxReading: 50,
	}
	alert = alert.Extend(70, t0.Add(20*time.Minute))
	if alert.AvgReading != 60 {
		t.Fatalf("avg = %v, want 60", alert.AvgReading)
	}
	if alert.MaxReading != 70 {
		t.Fatalf("max = %v, want 70", alert.MaxReading)
	}
	if !alert.LastUpdate.Equal(t0.Add(20 * time.Minute)) {
		t.Fatalf("last update not advanced")
	}
}

func TestExtendAssociative(t *testing.T) {
	// Two sequential updates must equal one update with the combined window.
	base := ActiveAlert{StartTime: t0, LastUpdate: t0.Add(30 * time.Minute), AvgReading: 40, MaxReading: 40}

	sequential := base.Extend(60, t0.Add(40*time.Minute)).Extend(60, t0.Add(50*time.Minute))
	combined := base.Extend(60, t0.Add(50*time.Minute))

	if math.Abs(sequential.AvgReading-combined.AvgReading) > 1e-9 {
		t.Fatalf("sequential avg %v != combined avg %v", sequential.AvgReading, combined.AvgReading)
	}
}

func TestExtendZeroElapsedTakesReading(t *testing.T) {
	alert := ActiveAlert{StartTime: t0, LastUpdate: t0, AvgReading: 50, MaxReading: 50}
	alert = alert.Extend(90, t0)
	if alert.AvgReading != 90 {
		t.Fatalf("avg = %v, want 90 when no time has elapsed", alert.AvgReading)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	alert := ActiveAlert{
		ID:         7,
		SensorID:   42,
		Sensitive:  true,
		StartTime:  t0,
		LastUpdate: t0.Add(95*time.Minute + 30*time.Second),
		AvgReading: 61.5,
		MaxReading: 88,
	}
	archived := alert.Archive()
	if archived.ID != 7 || archived.SensorID != 42 || !archived.Sensitive {
		t.Fatalf("identity fields not preserved: %+v", archived)
	}
	if !archived.StartTime.Equal(t0) {
		t.Fatalf("start time not preserved")
	}
	if archived.DurationMinutes != 95 {
		t.Fatalf("duration = %d, want floor of 95.5", archived.DurationMinutes)
	}
	if archived.MaxReading != 88 {
		t.Fatalf("max reading not preserved")
	}
	if got, want := archived.EndTime(), t0.Add(95*time.Minute); !got.Equal(want) {
		t.Fatalf("end time = %v, want %v", got, want)
	}
}
