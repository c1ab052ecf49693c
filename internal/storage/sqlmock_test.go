package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLStore{db: sqlx.NewDb(db, "sqlite"), dialect: dialectSQLite}, mock
}

func TestSQLStoreWrapsDriverErrors(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	mock.ExpectQuery("INSERT INTO seismic_events").WillReturnError(boom)
	_, err := s.InsertEvent(ctx, newEvent("dev-1", models.EventTypeEarthquake, 25, base))
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.ErrorIs(t, err, boom)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(boom)
	_, err = s.CountEvents(ctx, EventFilter{})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	mock.ExpectExec("INSERT INTO notification_cooldowns").WillReturnError(boom)
	_, ok, err := s.AcquireCooldown(ctx, models.EventTypeEarthquake, base, 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetEventNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM seismic_events WHERE id = ?").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetEvent(context.Background(), 7)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreInvalidEventSkipsDatabase(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.InsertEvent(context.Background(), newEvent("dev-1", "tremor", 25, base))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreQueryEventsBuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM seismic_events WHERE event_type = \? AND timestamp_ms < \? AND total_acceleration >= \? AND total_acceleration <= \? ORDER BY timestamp_ms DESC, id DESC LIMIT 20`).
		WithArgs("earthquake", base.UnixMilli(), 20.0, 30.0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "device_id", "timestamp_ms", "acceleration_x", "acceleration_y", "acceleration_z",
			"total_acceleration", "event_type", "magnitude", "processed", "notification_sent", "created_at_ms",
		}).AddRow(3, "dev-1", base.Add(-time.Hour).UnixMilli(), 25.0, 0.0, 0.0, 25.0, "earthquake", 25.0, 1, 0, base.UnixMilli()))

	got, err := s.QueryEvents(context.Background(), EventFilter{
		Type:            OfType(models.EventTypeEarthquake),
		Until:           base,
		MinAcceleration: Float(20),
		MaxAcceleration: Float(30),
		Limit:           20,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)
	assert.True(t, got[0].Processed)
	assert.False(t, got[0].NotificationSent)
	assert.NoError(t, mock.ExpectationsWereMet())
}
