package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRows(n int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(n)
}

func TestCountersLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	today := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cameras")).WillReturnRows(countRows(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cameras WHERE desired_state = ?")).
		WithArgs("running").WillReturnRows(countRows(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM detections")).WillReturnRows(countRows(120))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM detections WHERE timestamp >= ?")).
		WithArgs(today).WillReturnRows(countRows(15))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM alerts")).WillReturnRows(countRows(9))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM alerts WHERE acknowledged = ?")).
		WithArgs(false).WillReturnRows(countRows(4))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM watchlist")).WillReturnRows(countRows(1))

	counts, err := NewCounters(db, DriverSQLite).Load(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, Counts{
		TotalCameras:         3,
		RunningCameras:       2,
		TotalDetections:      120,
		DetectionsToday:      15,
		TotalAlerts:          9,
		UnacknowledgedAlerts: 4,
		WatchlistCount:       1,
	}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountersPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM alerts WHERE acknowledged = $1")).
		WithArgs(false).WillReturnRows(countRows(7))

	n, err := NewCounters(db, DriverPostgres).CountUnacknowledgedAlerts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountersQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("no such table: cameras")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cameras")).WillReturnError(boom)

	_, err = NewCounters(db, DriverSQLite).Load(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "failed to count cameras")
}

func TestDialectorRejectsUnknownDriver(t *testing.T) {
	_, err := dialector("oracle", "dsn")
	assert.Error(t, err)

	for _, driver := range []string{"", "sqlite", "sqlite3", "postgres", "postgresql", "mysql"} {
		_, err := dialector(driver, "dsn")
		assert.NoError(t, err, driver)
	}
}
