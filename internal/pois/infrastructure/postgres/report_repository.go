package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	pois "spikealerts/internal/pois/domain"
)

// ReportRepository is the read side of the reports archive.
type ReportRepository struct {
	db *sql.DB
}

// NewReportRepository constructs a repository.
func NewReportRepository(db *sql.DB) (*ReportRepository, error) {
	if db == nil {
		return nil, errors.New("pois: nil db")
	}
	return &ReportRepository{db: db}, nil
}

type reportScanner interface {
	Scan(dest ...any) error
}

// GetByID fetches one report, ErrNotFound when absent.
func (r *ReportRepository) GetByID(ctx context.Context, reportID string) (*pois.Report, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pois: repository not initialized")
	}
	if err := pois.ValidateReportID(reportID); err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
SELECT report_id, poi_id, poi_name, start_time, duration_minutes, sensitive, alert_ids
FROM reports
WHERE report_id = $1`, reportID)
	report, err := scanReport(row)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, pois.ErrNotFound
	}
	return report, nil
}

// List returns reports newest first within the time range. A zero "from" or
// "to" leaves that side unbounded.
func (r *ReportRepository) List(ctx context.Context, from, to time.Time, limit int) ([]pois.Report, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pois: repository not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT report_id, poi_id, poi_name, start_time, duration_minutes, sensitive, alert_ids
FROM reports
WHERE start_time >= $1 AND start_time <= $2
ORDER BY start_time DESC, report_id DESC
LIMIT $3`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pois.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		if report != nil {
			result = append(result, *report)
		}
	}
	return result, rows.Err()
}

func scanReport(scanner reportScanner) (*pois.Report, error) {
	var report pois.Report
	if err := scanner.Scan(
		&report.ReportID,
		&report.POIID,
		&report.POIName,
		&report.StartTime,
		&report.DurationMinutes,
		&report.Sensitive,
		pgMap.SQLScanner(&report.AlertIDs),
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	report.StartTime = report.StartTime.UTC()
	return &report, nil
}
