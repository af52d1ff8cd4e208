package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sensors "spikealerts/internal/sensors/domain"
)

// SensorRepository persists the sensor registry.
type SensorRepository struct {
	db *sql.DB
}

// NewSensorRepository constructs a repository.
func NewSensorRepository(db *sql.DB) (*SensorRepository, error) {
	if db == nil {
		return nil, errors.New("sensors: nil db")
	}
	return &SensorRepository{db: db}, nil
}

type sensorScanner interface {
	Scan(dest ...any) error
}

// ListEnabled returns enabled sensors of a monitor type.
func (r *SensorRepository) ListEnabled(ctx context.Context, monitorType string) ([]sensors.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensors: repository not initialized")
	}
	if monitorType == "" {
		return nil, errors.New("sensors: monitor type required")
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT sensor_id, monitor_type, provider_id, name,
               ST_X(geometry::geometry) AS longitude,
               ST_Y(geometry::geometry) AS latitude,
               last_seen, last_elevated, channel_state, channel_flags, created_at
        FROM sensors
        WHERE monitor_type = $1 AND channel_state = $2
        ORDER BY sensor_id`,
		monitorType, sensors.ChannelStateEnabled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []sensors.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sensor)
	}
	return result, rows.Err()
}

// RecordPoll updates provider-reported state after a poll cycle.
func (r *SensorRepository) RecordPoll(ctx context.Context, sensorID int64, lastSeen time.Time, channelFlags int, elevated bool, runtime time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("sensors: repository not initialized")
	}
	query := `
        UPDATE sensors
        SET last_seen = $2, channel_flags = $3
        WHERE sensor_id = $1`
	args := []any{sensorID, lastSeen.UTC(), channelFlags}
	if elevated {
		query = `
        UPDATE sensors
        SET last_seen = $2, channel_flags = $3, last_elevated = $4
        WHERE sensor_id = $1`
		args = append(args, runtime.UTC())
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// FlagStale marks enabled sensors not seen since the cutoff with the
// not-seen-lately flag and returns how many were touched.
func (r *SensorRepository) FlagStale(ctx context.Context, monitorType string, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("sensors: repository not initialized")
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE sensors
        SET channel_flags = $3, channel_state = $4
        WHERE monitor_type = $1 AND channel_state = $5 AND last_seen < $2`,
		monitorType, cutoff.UTC(),
		sensors.FlagNotSeenLately, sensors.ChannelStateDisabled, sensors.ChannelStateEnabled)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Onboard inserts newly discovered sensors, skipping provider ids
// already present.
func (r *SensorRepository) Onboard(ctx context.Context, batch []sensors.Sensor) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("sensors: repository not initialized")
	}
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var inserted int64
	for _, sensor := range batch {
		if sensor.MonitorType == "" || sensor.ProviderID == "" {
			return 0, errors.New("sensors: onboard entry missing monitor type or provider id")
		}
		res, err := tx.ExecContext(ctx, `
            INSERT INTO sensors (monitor_type, provider_id, name, geometry,
                                 last_seen, last_elevated, channel_state, channel_flags, created_at)
            VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326),
                    $6, $7, $8, $9, $10)
            ON CONFLICT (monitor_type, provider_id) DO NOTHING`,
			sensor.MonitorType, sensor.ProviderID, sensor.Name,
			sensor.Longitude, sensor.Latitude,
			sensor.LastSeen.UTC(), sensor.LastElevated.UTC(),
			sensors.ChannelStateEnabled, sensors.FlagNone, sensor.CreatedAt.UTC())
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func scanSensor(scanner sensorScanner) (sensors.Sensor, error) {
	var (
		sensor       sensors.Sensor
		lastSeen     sql.NullTime
		lastElevated sql.NullTime
	)
	err := scanner.Scan(
		&sensor.ID,
		&sensor.MonitorType,
		&sensor.ProviderID,
		&sensor.Name,
		&sensor.Longitude,
		&sensor.Latitude,
		&lastSeen,
		&lastElevated,
		&sensor.ChannelState,
		&sensor.ChannelFlags,
		&sensor.CreatedAt,
	)
	if err != nil {
		return sensors.Sensor{}, err
	}
	if lastSeen.Valid {
		sensor.LastSeen = lastSeen.Time.UTC()
	}
	if lastElevated.Valid {
		sensor.LastElevated = lastElevated.Time.UTC()
	}
	sensor.CreatedAt = sensor.CreatedAt.UTC()
	return sensor, nil
}
