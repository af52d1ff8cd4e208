package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	alerts "spikealerts/internal/alerts/domain"
)

const uniqueViolation = "23505"

// AlertRepository persists the active-alert table and its archive. Closing an
// alert moves it between the two inside one transaction so no cycle can see a
// half-closed alert.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new active alert and fills in its sequence-assigned id.
// A (sensor, tier) that already holds an alert yields ErrDuplicateAlert.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.ActiveAlert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.SensorID <= 0 {
		return errors.New("alert repo: missing sensor id")
	}
	err := r.db.QueryRowContext(ctx, `
INSERT INTO active_alerts (sensor_id, sensitive, start_time, last_update, avg_reading, max_reading)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING alert_id`,
		alert.SensorID,
		alert.Sensitive,
		alert.StartTime,
		alert.LastUpdate,
		alert.AvgReading,
		alert.MaxReading,
	).Scan(&alert.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return alerts.ErrDuplicateAlert
		}
		return err
	}
	return nil
}

// ActiveSensorIDs returns the subset of sensorIDs holding an active alert in
// the tier. Restricting to the polled ids keeps unpolled sensors out of the
// cycle's classification entirely.
func (r *AlertRepository) ActiveSensorIDs(ctx context.Context, sensitive bool, sensorIDs []int64) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if len(sensorIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT sensor_id
FROM active_alerts
WHERE sensitive = $1 AND sensor_id = ANY($2)`, sensitive, sensorIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetActive fetches the active alert for a (sensor, tier), nil when absent.
func (r *AlertRepository) GetActive(ctx context.Context, sensorID int64, sensitive bool) (*alerts.ActiveAlert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT alert_id, sensor_id, sensitive, start_time, last_update, avg_reading, max_reading
FROM active_alerts
WHERE sensor_id = $1 AND sensitive = $2`, sensorID, sensitive)
	return scanActive(row)
}

// Extend applies one reading to the alert's running statistics as a single
// row-locked read-modify-write. Extending a nonexistent alert returns
// ErrNotFound so the caller can surface the classifier disagreement.
func (r *AlertRepository) Extend(ctx context.Context, sensorID int64, sensitive bool, reading float64, runtime time.Time) (*alerts.ActiveAlert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx, `
SELECT alert_id, sensor_id, sensitive, start_time, last_update, avg_reading, max_reading
FROM active_alerts
WHERE sensor_id = $1 AND sensitive = $2
FOR UPDATE`, sensorID, sensitive)
	alert, err := scanActive(row)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if alert == nil {
		_ = tx.Rollback()
		return nil, alerts.ErrNotFound
	}
	updated := alert.Extend(reading, runtime)
	if _, err := tx.ExecContext(ctx, `
UPDATE active_alerts
SET avg_reading = $1, max_reading = $2, last_update = $3
WHERE alert_id = $4`, updated.AvgReading, updated.MaxReading, updated.LastUpdate, updated.ID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Close archives the alert and removes it from the active set in one
// transaction, returning the archived copy. Closing a (sensor, tier) with no
// active alert is a no-op returning nil.
func (r *AlertRepository) Close(ctx context.Context, sensorID int64, sensitive bool) (*alerts.ArchivedAlert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx, `
SELECT alert_id, sensor_id, sensitive, start_time, last_update, avg_reading, max_reading
FROM active_alerts
WHERE sensor_id = $1 AND sensitive = $2
FOR UPDATE`, sensorID, sensitive)
	alert, err := scanActive(row)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if alert == nil {
		_ = tx.Rollback()
		return nil, nil
	}
	archived := alert.Archive()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO archived_alerts (alert_id, sensor_id, sensitive, start_time, duration_minutes, avg_reading, max_reading)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		archived.ID,
		archived.SensorID,
		archived.Sensitive,
		archived.StartTime,
		archived.DurationMinutes,
		archived.AvgReading,
		archived.MaxReading,
	); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM active_alerts
WHERE alert_id = $1`, archived.ID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &archived, nil
}

// ListArchivedByIDs fetches archived alerts for report assembly.
func (r *AlertRepository) ListArchivedByIDs(ctx context.Context, ids []int64) ([]alerts.ArchivedAlert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT alert_id, sensor_id, sensitive, start_time, duration_minutes, avg_reading, max_reading
FROM archived_alerts
WHERE alert_id = ANY($1)
ORDER BY alert_id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.ArchivedAlert
	for rows.Next() {
		var archived alerts.ArchivedAlert
		if err := rows.Scan(
			&archived.ID,
			&archived.SensorID,
			&archived.Sensitive,
			&archived.StartTime,
			&archived.DurationMinutes,
			&archived.AvgReading,
			&archived.MaxReading,
		); err != nil {
			return nil, err
		}
		archived.StartTime = archived.StartTime.UTC()
		result = append(result, archived)
	}
	return result, rows.Err()
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanActive(row alertScanner) (*alerts.ActiveAlert, error) {
	var alert alerts.ActiveAlert
	if err := row.Scan(
		&alert.ID,
		&alert.SensorID,
		&alert.Sensitive,
		&alert.StartTime,
		&alert.LastUpdate,
		&alert.AvgReading,
		&alert.MaxReading,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.StartTime = alert.StartTime.UTC()
	alert.LastUpdate = alert.LastUpdate.UTC()
	return &alert, nil
}
