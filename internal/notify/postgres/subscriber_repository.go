package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"spikealerts/internal/notify"
)

var pgMap = pgtype.NewMap()

// SubscriberRepository persists POI subscribers.
type SubscriberRepository struct {
	db *sql.DB
}

// NewSubscriberRepository constructs a repository.
func NewSubscriberRepository(db *sql.DB) (*SubscriberRepository, error) {
	if db == nil {
		return nil, errors.New("notify: nil db")
	}
	return &SubscriberRepository{db: db}, nil
}

const candidateColumns = `
    u.subscriber_id, u.poi_id, u.sensitive, u.contact_method, u.api_id,
    u.days_to_contact, u.start_minute, u.end_minute,
    u.alerted, u.last_contact, u.active, p.name`

// ListUnalertedForAlertedPOIs returns the active, unalerted subscribers of
// every POI currently holding an active alert in the tier. Selecting on the
// POI's array rather than a newly-alerted list keeps retrying subscribers
// whose contact window or interval blocked them in an earlier cycle.
// Window and interval checks are left to the caller.
func (r *SubscriberRepository) ListUnalertedForAlertedPOIs(ctx context.Context, sensitive bool) ([]notify.Candidate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notify: repository not initialized")
	}
	activeField := "active_alerts"
	if sensitive {
		activeField = "active_alerts_sensitive"
	}
	query := fmt.Sprintf(`
SELECT`+candidateColumns+`
FROM subscribers u
JOIN pois p ON p.poi_id = u.poi_id
WHERE u.active = TRUE
  AND u.alerted = FALSE
  AND u.sensitive = $1
  AND p.active = TRUE
  AND cardinality(p.%s) > 0
ORDER BY u.subscriber_id`, activeField)
	rows, err := r.db.QueryContext(ctx, query, sensitive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// ListAlertedForPOIs returns the active, alerted subscribers of the given
// POIs on the tier, for the end-of-alert pass.
func (r *SubscriberRepository) ListAlertedForPOIs(ctx context.Context, sensitive bool, poiIDs []int64) ([]notify.Candidate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notify: repository not initialized")
	}
	if len(poiIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+candidateColumns+`
FROM subscribers u
JOIN pois p ON p.poi_id = u.poi_id
WHERE u.active = TRUE
  AND u.alerted = TRUE
  AND u.sensitive = $1
  AND u.poi_id = ANY($2)
ORDER BY u.subscriber_id`, sensitive, poiIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// MarkContacted records the outcome of a delivered message.
func (r *SubscriberRepository) MarkContacted(ctx context.Context, subscriberIDs []int64, alerted bool, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("notify: repository not initialized")
	}
	if len(subscriberIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE subscribers
SET alerted = $1, last_contact = $2
WHERE subscriber_id = ANY($3)`, alerted, at.UTC(), subscriberIDs)
	return err
}

// UnalertSettled clears the alerted flag on subscribers whose POI no longer
// holds alerts in their tier, active or cached. This catches subscribers
// whose report was written outside their contact hours.
func (r *SubscriberRepository) UnalertSettled(ctx context.Context, sensitive bool) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("notify: repository not initialized")
	}
	activeField, cacheField := "active_alerts", "cached_alerts"
	if sensitive {
		activeField, cacheField = "active_alerts_sensitive", "cached_alerts_sensitive"
	}
	res, err := r.db.ExecContext(ctx, `
WITH settled_pois AS (
    SELECT poi_id
    FROM pois
    WHERE cardinality(`+activeField+`) = 0
      AND cardinality(`+cacheField+`) = 0
)
UPDATE subscribers u
SET alerted = FALSE
FROM settled_pois p
WHERE u.poi_id = p.poi_id
  AND u.active = TRUE
  AND u.alerted = TRUE
  AND u.sensitive = $1`, sensitive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Unsubscribe deactivates every subscription reachable through the given
// gateway identity. Gateways key STOP requests on the contact address, so
// all tiers and POIs for that address go inactive together.
func (r *SubscriberRepository) Unsubscribe(ctx context.Context, contactMethod, apiID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("notify: repository not initialized")
	}
	if contactMethod == "" || apiID == "" {
		return 0, errors.New("notify: empty contact identity")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE subscribers
SET active = FALSE
WHERE contact_method = $1
  AND api_id = $2
  AND active = TRUE`, contactMethod, apiID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type candidateRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandidates(rows candidateRows) ([]notify.Candidate, error) {
	var result []notify.Candidate
	for rows.Next() {
		var (
			c           notify.Candidate
			days        []int32
			lastContact sql.NullTime
		)
		if err := rows.Scan(
			&c.ID,
			&c.POIID,
			&c.Sensitive,
			&c.ContactMethod,
			&c.APIID,
			pgMap.SQLScanner(&days),
			&c.StartMinute,
			&c.EndMinute,
			&c.Alerted,
			&lastContact,
			&c.Active,
			&c.POIName,
		); err != nil {
			return nil, err
		}
		c.DaysToContact = make([]int, len(days))
		for i, d := range days {
			c.DaysToContact[i] = int(d)
		}
		if lastContact.Valid {
			c.LastContact = lastContact.Time.UTC()
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
