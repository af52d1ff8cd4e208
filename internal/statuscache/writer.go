// Package statuscache mirrors the latest cycle results into Redis so that
// dashboards and the public API can read current sensor and POI status
// without touching Postgres. The cache is best-effort: a write failure is
// logged and counted, never propagated to the cycle.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	pois "spikealerts/internal/pois/domain"
	sensors "spikealerts/internal/sensors/domain"
)

const keyPrefix = "spikealerts"

// ErrCacheMiss marks a key that is not present or expired.
var ErrCacheMiss = errors.New("statuscache: cache miss")

// POILister reads the POIs currently holding alerts for one tier.
type POILister interface {
	ListWithAlerts(ctx context.Context, sensitive bool) ([]pois.POI, error)
}

// SensorStatus is the cached per-sensor snapshot.
type SensorStatus struct {
	SensorID   int64     `json:"sensor_id"`
	Reading    float64   `json:"reading"`
	Descriptor string    `json:"descriptor"`
	Flagged    bool      `json:"flagged"`
	PolledAt   time.Time `json:"polled_at"`
}

// POIStatus is the cached per-POI alert snapshot.
type POIStatus struct {
	POIID           int64   `json:"poi_id"`
	Name            string  `json:"name"`
	ActiveGeneral   []int64 `json:"active_general"`
	ActiveSensitive []int64 `json:"active_sensitive"`
	CachedGeneral   []int64 `json:"cached_general"`
	CachedSensitive []int64 `json:"cached_sensitive"`
}

// Writer publishes cycle snapshots to Redis.
type Writer struct {
	client *redis.Client
	pois   POILister
	ttl    time.Duration
	logger *zap.Logger
}

// WriterOption customizes the writer.
type WriterOption func(*Writer)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithPOILister assigns the POI source; without one only sensor keys are
// written.
func WithPOILister(lister POILister) WriterOption {
	return func(w *Writer) {
		w.pois = lister
	}
}

// NewWriter constructs a writer. ttl should cover a few update intervals so
// that stale keys age out when the service stops.
func NewWriter(client *redis.Client, ttl time.Duration, opts ...WriterOption) (*Writer, error) {
	if client == nil {
		return nil, errors.New("statuscache: nil redis client")
	}
	if ttl <= 0 {
		return nil, errors.New("statuscache: non-positive ttl")
	}
	writer := &Writer{
		client: client,
		ttl:    ttl,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(writer)
	}
	return writer, nil
}

// SensorKey returns the Redis key for one sensor's status.
func SensorKey(sensorID int64) string {
	return fmt.Sprintf("%s:sensor:%d:status", keyPrefix, sensorID)
}

// POIKey returns the Redis key for one POI's alert snapshot.
func POIKey(poiID int64) string {
	return fmt.Sprintf("%s:poi:%d:alerts", keyPrefix, poiID)
}

// PublishObservations writes the sensor snapshots from one cycle, then
// refreshes the POI snapshots when a lister is configured. The first error
// is returned after attempting every key.
func (w *Writer) PublishObservations(ctx context.Context, observations []sensors.Observation) error {
	if w == nil || w.client == nil {
		return errors.New("statuscache: writer not initialized")
	}

	pipe := w.client.Pipeline()
	for _, obs := range observations {
		status := SensorStatus{
			SensorID:   obs.SensorID,
			Reading:    obs.Reading,
			Descriptor: obs.Descriptor.String(),
			Flagged:    obs.Flagged,
			PolledAt:   obs.PolledAt.UTC(),
		}
		payload, err := json.Marshal(status)
		if err != nil {
			return err
		}
		pipe.Set(ctx, SensorKey(obs.SensorID), payload, w.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if w.pois == nil {
		return nil
	}
	return w.publishPOIs(ctx)
}

func (w *Writer) publishPOIs(ctx context.Context) error {
	general, err := w.pois.ListWithAlerts(ctx, false)
	if err != nil {
		return err
	}
	sensitive, err := w.pois.ListWithAlerts(ctx, true)
	if err != nil {
		return err
	}

	byID := make(map[int64]*POIStatus, len(general)+len(sensitive))
	for _, poi := range general {
		byID[poi.ID] = &POIStatus{
			POIID:         poi.ID,
			Name:          poi.Name,
			ActiveGeneral: poi.ActiveAlerts.For(false),
			CachedGeneral: poi.CachedAlerts.For(false),
		}
	}
	for _, poi := range sensitive {
		status, ok := byID[poi.ID]
		if !ok {
			status = &POIStatus{POIID: poi.ID, Name: poi.Name}
			byID[poi.ID] = status
		}
		status.ActiveSensitive = poi.ActiveAlerts.For(true)
		status.CachedSensitive = poi.CachedAlerts.For(true)
	}

	pipe := w.client.Pipeline()
	for _, status := range byID {
		payload, err := json.Marshal(status)
		if err != nil {
			return err
		}
		pipe.Set(ctx, POIKey(status.POIID), payload, w.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ReadSensor fetches one cached sensor status.
func (w *Writer) ReadSensor(ctx context.Context, sensorID int64) (*SensorStatus, error) {
	if w == nil || w.client == nil {
		return nil, errors.New("statuscache: writer not initialized")
	}
	raw, err := w.client.Get(ctx, SensorKey(sensorID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var status SensorStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ReadPOI fetches one cached POI snapshot.
func (w *Writer) ReadPOI(ctx context.Context, poiID int64) (*POIStatus, error) {
	if w == nil || w.client == nil {
		return nil, errors.New("statuscache: writer not initialized")
	}
	raw, err := w.client.Get(ctx, POIKey(poiID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var status POIStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, err
	}
	return &status, nil
}
