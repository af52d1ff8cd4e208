package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	pois "spikealerts/internal/pois/domain"
)

// pgMap decodes Postgres arrays through database/sql.
var pgMap = pgtype.NewMap()

// POIRepository maintains the per-tier alert arrays on places of interest
// and writes their exposure reports. The tier picks which pair of array
// columns an operation touches.
type POIRepository struct {
	db   *sql.DB
	epsg int
}

// NewPOIRepository constructs a repository. epsg selects the projected
// coordinate system used for metric distance comparisons.
func NewPOIRepository(db *sql.DB, epsg int) (*POIRepository, error) {
	if db == nil {
		return nil, errors.New("pois: nil db")
	}
	if epsg <= 0 {
		return nil, errors.New("pois: invalid epsg code")
	}
	return &POIRepository{db: db, epsg: epsg}, nil
}

func arrayFields(sensitive bool) (active, cached string) {
	if sensitive {
		return "active_alerts_sensitive", "cached_alerts_sensitive"
	}
	return "active_alerts", "cached_alerts"
}

// AttachNewAlerts appends the alerts newly opened for the given sensors to
// every active POI within radiusMeters of the sensor, and returns the ids of
// POIs that had no alert in this tier before (active and cache both empty),
// for notification. The radius is the monitor type's propagation distance
// from its configuration.
func (r *POIRepository) AttachNewAlerts(ctx context.Context, sensitive bool, sensorIDs []int64, radiusMeters float64) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pois: repository not initialized")
	}
	if len(sensorIDs) == 0 {
		return nil, nil
	}
	if radiusMeters <= 0 {
		return nil, errors.New("pois: non-positive propagation radius")
	}
	activeField, cacheField := arrayFields(sensitive)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	newlyAlertedQuery := fmt.Sprintf(`
WITH unalerted_pois AS (
    SELECT poi_id, geometry
    FROM pois
    WHERE active = TRUE
      AND cardinality(%s) = 0
      AND cardinality(%s) = 0
), alerted_sensors AS (
    SELECT s.geometry
    FROM active_alerts a
    JOIN sensors s ON s.sensor_id = a.sensor_id
    WHERE a.sensitive = $1 AND a.sensor_id = ANY($2)
)
SELECT p.poi_id
FROM unalerted_pois p
JOIN alerted_sensors s ON ST_DWithin(
    ST_Transform(p.geometry, $3),
    ST_Transform(s.geometry, $3),
    $4)
GROUP BY p.poi_id
ORDER BY p.poi_id`, activeField, cacheField)

	rows, err := tx.QueryContext(ctx, newlyAlertedQuery, sensitive, sensorIDs, r.epsg, radiusMeters)
	if err != nil {
		return nil, err
	}
	var newlyAlerted []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		newlyAlerted = append(newlyAlerted, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	attachQuery := fmt.Sprintf(`
WITH alerts_to_attach AS (
    SELECT a.alert_id, s.geometry
    FROM active_alerts a
    JOIN sensors s ON s.sensor_id = a.sensor_id
    WHERE a.sensitive = $1 AND a.sensor_id = ANY($2)
), pois_w_alert_ids AS (
    SELECT p.poi_id, ARRAY_AGG(a.alert_id) AS new_alerts
    FROM alerts_to_attach a, pois p
    WHERE p.active = TRUE
      AND ST_DWithin(
          ST_Transform(p.geometry, $3),
          ST_Transform(a.geometry, $3),
          $4)
    GROUP BY p.poi_id
)
UPDATE pois p
SET %s = ARRAY_CAT(p.%s, a.new_alerts)
FROM pois_w_alert_ids a
WHERE p.poi_id = a.poi_id`, activeField, activeField)

	if _, err := tx.ExecContext(ctx, attachQuery, sensitive, sensorIDs, r.epsg, radiusMeters); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return newlyAlerted, nil
}

// CacheEndedAlerts moves each closed alert id from the active array to the
// cache on every POI holding it.
func (r *POIRepository) CacheEndedAlerts(ctx context.Context, sensitive bool, alertIDs []int64) error {
	if r == nil || r.db == nil {
		return errors.New("pois: repository not initialized")
	}
	if len(alertIDs) == 0 {
		return nil
	}
	activeField, cacheField := arrayFields(sensitive)
	query := fmt.Sprintf(`
UPDATE pois
SET %s = ARRAY_REMOVE(%s, $1),
    %s = ARRAY_APPEND(%s, $1)
WHERE $1 = ANY(%s)`, activeField, activeField, cacheField, cacheField, activeField)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, alertID := range alertIDs {
		if _, err := tx.ExecContext(ctx, query, alertID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FindDue returns the POIs whose episode has settled: no active alerts in the
// tier, a non-empty cache, and the newest cached alert ended at least
// reportLag before runtime.
func (r *POIRepository) FindDue(ctx context.Context, sensitive bool, runtime time.Time, reportLag time.Duration) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pois: repository not initialized")
	}
	activeField, cacheField := arrayFields(sensitive)
	query := fmt.Sprintf(`
WITH settled_pois AS (
    SELECT poi_id, %s AS cached
    FROM pois
    WHERE active = TRUE
      AND cardinality(%s) = 0
      AND cardinality(%s) > 0
), pois_w_endtimes AS (
    SELECT p.poi_id,
           MAX(a.start_time + INTERVAL '1 minute' * a.duration_minutes) AS end_time
    FROM archived_alerts a
    RIGHT JOIN settled_pois p ON a.alert_id = ANY(p.cached)
    GROUP BY p.poi_id
)
SELECT poi_id
FROM pois_w_endtimes
WHERE end_time + $1 * INTERVAL '1 minute' <= $2
ORDER BY poi_id`, cacheField, activeField, cacheField)

	rows, err := r.db.QueryContext(ctx, query, reportLag.Minutes(), runtime.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		due = append(due, id)
	}
	return due, rows.Err()
}

// CreateReport writes the immutable report for one settled POI and clears its
// cache, all in one transaction. The report id embeds the next value of the
// day's counter, incremented atomically in the same transaction.
func (r *POIRepository) CreateReport(ctx context.Context, poiID int64, sensitive bool, runtime time.Time) (*pois.Report, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pois: repository not initialized")
	}
	runtime = runtime.UTC()
	_, cacheField := arrayFields(sensitive)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		name     string
		alertIDs []int64
	)
	lockQuery := fmt.Sprintf(`
SELECT name, %s
FROM pois
WHERE poi_id = $1
FOR UPDATE`, cacheField)
	if err := tx.QueryRowContext(ctx, lockQuery, poiID).Scan(&name, pgMap.SQLScanner(&alertIDs)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pois.ErrNotFound
		}
		return nil, err
	}
	if len(alertIDs) == 0 {
		return nil, fmt.Errorf("pois: poi %d has no cached alerts in tier", poiID)
	}

	var startTime time.Time
	if err := tx.QueryRowContext(ctx, `
SELECT MIN(start_time)
FROM archived_alerts
WHERE alert_id = ANY($1)`, alertIDs).Scan(&startTime); err != nil {
		return nil, err
	}
	startTime = startTime.UTC()

	var counter int64
	if err := tx.QueryRowContext(ctx, `
INSERT INTO daily_log (date, reports_for_day)
VALUES ($1, 1)
ON CONFLICT (date) DO UPDATE SET reports_for_day = daily_log.reports_for_day + 1
RETURNING reports_for_day`, runtime.Format("2006-01-02")).Scan(&counter); err != nil {
		return nil, err
	}

	report := pois.Report{
		ReportID:        pois.FormatReportID(counter-1, runtime),
		POIID:           poiID,
		POIName:         name,
		StartTime:       startTime,
		DurationMinutes: int64(runtime.Sub(startTime).Minutes()),
		Sensitive:       sensitive,
		AlertIDs:        alertIDs,
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO reports (report_id, poi_id, poi_name, start_time, duration_minutes, sensitive, alert_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ReportID,
		report.POIID,
		report.POIName,
		report.StartTime,
		report.DurationMinutes,
		report.Sensitive,
		report.AlertIDs,
	); err != nil {
		return nil, err
	}

	clearQuery := fmt.Sprintf(`
UPDATE pois
SET %s = '{}'
WHERE poi_id = $1`, cacheField)
	if _, err := tx.ExecContext(ctx, clearQuery, poiID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListWithAlerts returns the POIs currently holding alerts in either array of
// the tier, for the status cache snapshot.
func (r *POIRepository) ListWithAlerts(ctx context.Context, sensitive bool) ([]pois.POI, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pois: repository not initialized")
	}
	activeField, cacheField := arrayFields(sensitive)
	query := fmt.Sprintf(`
SELECT poi_id, name, active, %s, %s
FROM pois
WHERE cardinality(%s) > 0 OR cardinality(%s) > 0
ORDER BY poi_id`, activeField, cacheField, activeField, cacheField)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pois.POI
	for rows.Next() {
		var (
			poi    pois.POI
			active []int64
			cached []int64
		)
		if err := rows.Scan(&poi.ID, &poi.Name, &poi.Active, pgMap.SQLScanner(&active), pgMap.SQLScanner(&cached)); err != nil {
			return nil, err
		}
		if sensitive {
			poi.ActiveAlerts.Sensitive = active
			poi.CachedAlerts.Sensitive = cached
		} else {
			poi.ActiveAlerts.General = active
			poi.CachedAlerts.General = cached
		}
		result = append(result, poi)
	}
	return result, rows.Err()
}
