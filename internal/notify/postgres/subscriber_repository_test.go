package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughConverter lets slice arguments reach the mock unchanged, the
// way the pgx driver accepts them.
type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) {
	return driver.Value(v), nil
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.ValueConverterOption(passthroughConverter{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func candidateRowSet() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"subscriber_id", "poi_id", "sensitive", "contact_method", "api_id",
		"days_to_contact", "start_minute", "end_minute",
		"alerted", "last_contact", "active", "name",
	})
}

func TestListUnalertedForAlertedPOIsScansCandidates(t *testing.T) {
	db, mock := setupMockDB(t)
	repo, err := NewSubscriberRepository(db)
	require.NoError(t, err)

	contacted := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	rows := candidateRowSet().
		AddRow(int64(1), int64(100), true, "sms", "CA1", "{0,1,2,3,4,5,6}", 480, 1260, false, nil, true, "Riverside School").
		AddRow(int64(2), int64(101), true, "email", "CA2", "{1,3,5}", 540, 1020, false, contacted, true, "City Library")

	mock.ExpectQuery(`cardinality\(p.active_alerts_sensitive\) > 0`).
		WithArgs(true).
		WillReturnRows(rows)

	listed, err := repo.ListUnalertedForAlertedPOIs(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	assert.Equal(t, int64(1), listed[0].ID)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, listed[0].DaysToContact)
	assert.True(t, listed[0].LastContact.IsZero())
	assert.Equal(t, "Riverside School", listed[0].POIName)

	assert.Equal(t, "CA2", listed[1].APIID)
	assert.Equal(t, []int{1, 3, 5}, listed[1].DaysToContact)
	assert.Equal(t, contacted, listed[1].LastContact)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnalertedForAlertedPOIsGeneralTierColumn(t *testing.T) {
	db, mock := setupMockDB(t)
	repo, err := NewSubscriberRepository(db)
	require.NoError(t, err)

	mock.ExpectQuery(`cardinality\(p.active_alerts\) > 0`).
		WithArgs(false).
		WillReturnRows(candidateRowSet())

	listed, err := repo.ListUnalertedForAlertedPOIs(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, listed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAlertedForPOIsFiltersOnAlerted(t *testing.T) {
	db, mock := setupMockDB(t)
	repo, err := NewSubscriberRepository(db)
	require.NoError(t, err)

	rows := candidateRowSet().
		AddRow(int64(3), int64(100), false, "sms", "CA3", "{6}", 0, 1440, true, nil, true, "Riverside School")

	mock.ExpectQuery(`alerted = TRUE`).
		WithArgs(false, []int64{100}).
		WillReturnRows(rows)

	listed, err := repo.ListAlertedForPOIs(context.Background(), false, []int64{100})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Alerted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkContacted(t *testing.T) {
	db, mock := setupMockDB(t)
	repo, err := NewSubscriberRepository(db)
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE subscribers`).
		WithArgs(true, at, []int64{1, 2}).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.MarkContacted(context.Background(), []int64{1, 2}, true, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkContactedNoopOnEmpty(t *testing.T) {
	db, mock := setupMockDB(t)
	repo, err := NewSubscriberRepository(db)
	require.NoError(t, err)

	require.NoError(t, repo.MarkContacted(context.Background(), nil, true, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnalertSettled(t *testing.T) {
	db, mock := setupMockDB(t)
	repo, err := NewSubscriberRepository(db)
	require.NoError(t, err)

	mock.ExpectExec(`WITH settled_pois`).
		WithArgs(true).
		WillReturnResult(sqlmock.NewResult(0, 3))

	cleared, err := repo.UnalertSettled(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsubscribe(t *testing.T) {
	db, mock := setupMockDB(t)
	repo, err := NewSubscriberRepository(db)
	require.NoError(t, err)

	mock.ExpectExec(`SET active = FALSE`).
		WithArgs("+16125550100", "CA1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	deactivated, err := repo.Unsubscribe(context.Background(), "+16125550100", "CA1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deactivated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsubscribeRejectsEmptyIdentity(t *testing.T) {
	db, _ := setupMockDB(t)
	repo, err := NewSubscriberRepository(db)
	require.NoError(t, err)

	_, err = repo.Unsubscribe(context.Background(), "", "CA1")
	assert.Error(t, err)
}
