package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newEvent(device string, eventType models.EventType, total float64, ts time.Time) *models.SeismicEvent {
	return &models.SeismicEvent{
		DeviceID:          device,
		Timestamp:         ts,
		Acceleration:      models.Vector{X: total},
		TotalAcceleration: total,
		EventType:         eventType,
		Magnitude:         total,
		CreatedAt:         ts,
	}
}

// backends returns a constructor per Store implementation under test.
func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLStore("sqlite", filepath.Join(t.TempDir(), "quake.db"), 0)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestInsertAndGetEvent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		in := newEvent("dev-1", models.EventTypeEarthquake, 25, base)

		id, err := s.InsertEvent(ctx, in)
		require.NoError(t, err)
		assert.Positive(t, id)

		got, err := s.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "dev-1", got.DeviceID)
		assert.True(t, got.Timestamp.Equal(base))
		assert.Equal(t, models.EventTypeEarthquake, got.EventType)
		assert.InDelta(t, 25.0, got.TotalAcceleration, 1e-9)
		assert.False(t, got.Processed)
		assert.False(t, got.NotificationSent)

		_, err = s.GetEvent(ctx, id+100)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestInsertEventRejectsInvalid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		bad := newEvent("", models.EventTypeVibration, 6, base)
		_, err := s.InsertEvent(context.Background(), bad)
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		n, err := s.CountEvents(context.Background(), EventFilter{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestQueryEvents(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, ev := range []*models.SeismicEvent{
			newEvent("dev-1", models.EventTypeEarthquake, 20, base.Add(-3*time.Hour)),
			newEvent("dev-1", models.EventTypeVibration, 6, base.Add(-2*time.Hour)),
			newEvent("dev-2", models.EventTypeEarthquake, 24, base.Add(-1*time.Hour)),
			newEvent("dev-2", models.EventTypeEarthquake, 30, base),
		} {
			_, err := s.InsertEvent(ctx, ev)
			require.NoError(t, err, "event %d", i)
		}

		tests := []struct {
			name   string
			filter EventFilter
			want   []float64
		}{
			{"all newest first", EventFilter{}, []float64{30, 24, 6, 20}},
			{"by type", EventFilter{Type: OfType(models.EventTypeEarthquake)}, []float64{30, 24, 20}},
			{"by device", EventFilter{DeviceID: "dev-1"}, []float64{6, 20}},
			{"until is exclusive", EventFilter{Until: base}, []float64{24, 6, 20}},
			{"since is inclusive", EventFilter{Since: base.Add(-time.Hour)}, []float64{30, 24}},
			{"acceleration band", EventFilter{MinAcceleration: Float(20), MaxAcceleration: Float(24)}, []float64{24, 20}},
			{"limit and offset", EventFilter{Limit: 2, Offset: 1}, []float64{24, 6}},
			{"offset only", EventFilter{Offset: 3}, []float64{20}},
			{"empty", EventFilter{DeviceID: "nobody"}, []float64{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.QueryEvents(ctx, tt.filter)
				require.NoError(t, err)
				require.NotNil(t, got)
				totals := make([]float64, len(got))
				for i, e := range got {
					totals[i] = e.TotalAcceleration
				}
				assert.Equal(t, tt.want, totals)
			})
		}

		n, err := s.CountEvents(ctx, EventFilter{Type: OfType(models.EventTypeEarthquake), Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestMarkFlagsAreIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.InsertEvent(ctx, newEvent("dev-1", models.EventTypeEarthquake, 18, base))
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			require.NoError(t, s.MarkProcessed(ctx, id))
			require.NoError(t, s.MarkNotificationSent(ctx, id))
		}

		got, err := s.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Processed)
		assert.True(t, got.NotificationSent)

		assert.ErrorIs(t, s.MarkProcessed(ctx, id+1), models.ErrNotFound)
		assert.ErrorIs(t, s.MarkNotificationSent(ctx, id+1), models.ErrNotFound)
	})
}

func TestAnalysisSequence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.InsertEvent(ctx, newEvent("dev-1", models.EventTypeEarthquake, 25, base))
		require.NoError(t, err)

		_, err = s.CurrentAnalysis(ctx, id)
		assert.ErrorIs(t, err, models.ErrNotFound)

		for i, p := range []float64{55, 70} {
			a := &models.AftershockAnalysis{
				MainEventID:           id,
				ProbabilityPercentage: p,
				Factors:               []string{"factor"},
				ComputedAt:            base.Add(time.Duration(i) * time.Minute),
				ExpiresAt:             base.Add(72 * time.Hour),
			}
			_, err := s.InsertAnalysis(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, i+1, a.Sequence)
		}

		current, err := s.CurrentAnalysis(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, current.Sequence)
		assert.InDelta(t, 70.0, current.ProbabilityPercentage, 1e-9)
		assert.Equal(t, []string{"factor"}, current.Factors)
		assert.True(t, current.ExpiresAt.Equal(base.Add(72*time.Hour)))

		all, err := s.ListAnalyses(ctx, id)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, 2, all[0].Sequence)
		assert.Equal(t, 1, all[1].Sequence)

		none, err := s.ListAnalyses(ctx, id+1)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestNotificationLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		eventID, err := s.InsertEvent(ctx, newEvent("dev-1", models.EventTypeEarthquake, 25, base))
		require.NoError(t, err)

		sent := &models.NotificationRecord{EventID: eventID, Channel: models.ChannelWhatsApp, Recipient: "+100", Message: "alert", CreatedAt: base}
		failed := &models.NotificationRecord{EventID: eventID, Channel: models.ChannelTelegram, Recipient: "42", Message: "alert", CreatedAt: base.Add(time.Second)}
		for _, r := range []*models.NotificationRecord{sent, failed} {
			_, err := s.InsertNotification(ctx, r)
			require.NoError(t, err)
			assert.Equal(t, models.StatusPending, r.Status)
		}

		require.NoError(t, s.CompleteNotification(ctx, sent.ID, DeliveryResult{Status: models.StatusSent, SentAt: base, MessageID: "wamid-1"}))
		require.NoError(t, s.CompleteNotification(ctx, failed.ID, DeliveryResult{Status: models.StatusFailed, Error: "chat not found"}))

		err = s.CompleteNotification(ctx, sent.ID, DeliveryResult{Status: models.StatusFailed, Error: "late"})
		assert.Error(t, err, "terminal records must not transition again")
		assert.ErrorIs(t, s.CompleteNotification(ctx, 999, DeliveryResult{Status: models.StatusFailed}), models.ErrNotFound)
		assert.ErrorIs(t, s.CompleteNotification(ctx, sent.ID, DeliveryResult{Status: models.StatusPending}), models.ErrInvalidInput)

		all, err := s.QueryNotifications(ctx, NotificationFilter{EventID: eventID})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, failed.ID, all[0].ID)
		assert.Equal(t, models.StatusFailed, all[0].Status)
		assert.Equal(t, "chat not found", all[0].Error)
		assert.Nil(t, all[0].SentAt)
		assert.Equal(t, models.StatusSent, all[1].Status)
		require.NotNil(t, all[1].SentAt)
		assert.True(t, all[1].SentAt.Equal(base))
		assert.Equal(t, "wamid-1", all[1].MessageID)

		onlySent, err := s.QueryNotifications(ctx, NotificationFilter{Status: models.StatusSent})
		require.NoError(t, err)
		assert.Len(t, onlySent, 1)

		stats, err := s.NotificationStats(ctx, base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []NotificationStat{
			{Day: "2025-03-01", Channel: models.ChannelTelegram, Status: models.StatusFailed, Count: 1},
			{Day: "2025-03-01", Channel: models.ChannelWhatsApp, Status: models.StatusSent, Count: 1},
		}, stats)
	})
}

func TestSettings(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		got, err := s.Settings(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, s.PutSetting(ctx, models.SettingEarthquakeThreshold, "12.5"))
		require.NoError(t, s.PutSetting(ctx, models.SettingEarthquakeThreshold, "13"))
		require.NoError(t, s.PutSetting(ctx, models.SettingCooldownMinutes, "5"))

		got, err = s.Settings(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			models.SettingEarthquakeThreshold: "13",
			models.SettingCooldownMinutes:     "5",
		}, got)
	})
}

func TestAcquireCooldown(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		window := 15 * time.Minute
		quake := models.EventTypeEarthquake

		token, ok, err := s.AcquireCooldown(ctx, quake, base, window)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, token)

		_, ok, err = s.AcquireCooldown(ctx, quake, base.Add(time.Minute), window)
		require.NoError(t, err)
		assert.False(t, ok, "live reservation blocks a second claim")

		_, ok, err = s.AcquireCooldown(ctx, models.EventTypeVibration, base.Add(time.Minute), window)
		require.NoError(t, err)
		assert.True(t, ok, "cooldown is scoped per event type")

		require.NoError(t, s.ReleaseCooldown(ctx, quake, "someone-else"))
		_, ok, err = s.AcquireCooldown(ctx, quake, base.Add(2*time.Minute), window)
		require.NoError(t, err)
		assert.False(t, ok, "release with a foreign token is ignored")

		require.NoError(t, s.ReleaseCooldown(ctx, quake, token))
		_, ok, err = s.AcquireCooldown(ctx, quake, base.Add(3*time.Minute), window)
		require.NoError(t, err)
		require.True(t, ok, "released reservation frees the slot")

		_, ok, err = s.AcquireCooldown(ctx, quake, base.Add(3*time.Minute+window), window)
		require.NoError(t, err)
		assert.True(t, ok, "expired reservation frees the slot")
	})
}

func TestAcquireCooldownHonorsSentNotifications(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		window := 15 * time.Minute

		eventID, err := s.InsertEvent(ctx, newEvent("dev-1", models.EventTypeEarthquake, 25, base))
		require.NoError(t, err)
		rec := &models.NotificationRecord{EventID: eventID, Channel: models.ChannelWhatsApp, Recipient: "+100", Message: "alert", CreatedAt: base}
		_, err = s.InsertNotification(ctx, rec)
		require.NoError(t, err)
		require.NoError(t, s.CompleteNotification(ctx, rec.ID, DeliveryResult{Status: models.StatusSent, SentAt: base}))

		_, ok, err := s.AcquireCooldown(ctx, models.EventTypeEarthquake, base.Add(10*time.Minute), window)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.AcquireCooldown(ctx, models.EventTypeEarthquake, base.Add(16*time.Minute), window)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestAcquireCooldownIsExclusive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.AcquireCooldown(ctx, models.EventTypeEarthquake, base, 15*time.Minute)
				if err != nil {
					t.Errorf("AcquireCooldown() error = %v", err)
					return
				}
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

func TestNewSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLStore("oracle", "dsn", 0)
	assert.Error(t, err)
}

func TestSQLStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quake.db")
	ctx := context.Background()

	s, err := NewSQLStore("sqlite", path, 0)
	require.NoError(t, err)
	id, err := s.InsertEvent(ctx, newEvent("dev-1", models.EventTypeVibration, 7, base))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLStore("sqlite", path, 0)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeVibration, got.EventType)
}
