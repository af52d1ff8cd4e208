package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sensors "spikealerts/internal/sensors/domain"
)

// MonitorStateRepository tracks per-monitor-type cycle bookkeeping.
type MonitorStateRepository struct {
	db *sql.DB
}

// NewMonitorStateRepository constructs a repository.
func NewMonitorStateRepository(db *sql.DB) (*MonitorStateRepository, error) {
	if db == nil {
		return nil, errors.New("sensors: nil db")
	}
	return &MonitorStateRepository{db: db}, nil
}

// List returns the last update time of every known monitor type.
func (r *MonitorStateRepository) List(ctx context.Context) ([]sensors.MonitorState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensors: repository not initialized")
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT monitor_type, last_update
        FROM monitor_states
        ORDER BY monitor_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []sensors.MonitorState
	for rows.Next() {
		var (
			state      sensors.MonitorState
			lastUpdate sql.NullTime
		)
		if err := rows.Scan(&state.MonitorType, &lastUpdate); err != nil {
			return nil, err
		}
		if lastUpdate.Valid {
			state.LastUpdate = lastUpdate.Time.UTC()
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Touch records the completion time of a monitor type's cycle.
func (r *MonitorStateRepository) Touch(ctx context.Context, monitorType string, lastUpdate time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("sensors: repository not initialized")
	}
	if monitorType == "" {
		return errors.New("sensors: monitor type required")
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO monitor_states (monitor_type, last_update)
        VALUES ($1, $2)
        ON CONFLICT (monitor_type) DO UPDATE SET last_update = EXCLUDED.last_update`,
		monitorType, lastUpdate.UTC())
	return err
}
