package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quakesentinel/internal/models"
	"github.com/rewired-gh/quakesentinel/internal/storage"
)

func newRedisGate(t *testing.T) (*RedisGate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisGate(client, "test:"), mr
}

func TestRedisGate(t *testing.T) {
	ctx := context.Background()
	gate, mr := newRedisGate(t)
	window := 15 * time.Minute

	token, ok, err := gate.Acquire(ctx, models.EventTypeEarthquake, t0, window)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:cooldown:earthquake"))
	assert.Equal(t, window, mr.TTL("test:cooldown:earthquake"))

	_, ok, err = gate.Acquire(ctx, models.EventTypeEarthquake, t0, window)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = gate.Acquire(ctx, models.EventTypeVibration, t0, window)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, gate.Release(ctx, models.EventTypeEarthquake, "not-the-owner"))
	assert.True(t, mr.Exists("test:cooldown:earthquake"))

	require.NoError(t, gate.Release(ctx, models.EventTypeEarthquake, token))
	assert.False(t, mr.Exists("test:cooldown:earthquake"))
}

func TestRedisGateExpires(t *testing.T) {
	ctx := context.Background()
	gate, mr := newRedisGate(t)

	_, ok, err := gate.Acquire(ctx, models.EventTypeEarthquake, t0, 15*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(16 * time.Minute)
	_, ok, err = gate.Acquire(ctx, models.EventTypeEarthquake, t0, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisGateUnavailable(t *testing.T) {
	gate, mr := newRedisGate(t)
	mr.Close()

	_, ok, err := gate.Acquire(context.Background(), models.EventTypeEarthquake, t0, time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestDispatchWithRedisGate(t *testing.T) {
	ctx := context.Background()
	gate, _ := newRedisGate(t)
	store := storage.NewMemoryStore()
	wa := &fakeTransport{channel: models.ChannelWhatsApp}
	d := NewDispatcher(store, gate, []Transport{wa}, WithClock(func() time.Time { return t0 }))
	settings := settingsWith(phones(1)...)

	out, err := d.Dispatch(ctx, storeEvent(t, store, models.EventTypeEarthquake, t0), 55, settings)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sent)

	out, err = d.Dispatch(ctx, storeEvent(t, store, models.EventTypeEarthquake, t0), 55, settings)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

// slowTransport advances the Redis clock while sending, like a delivery
// that needed retries.
type slowTransport struct {
	fakeTransport
	mr    *miniredis.Miniredis
	delay time.Duration
}

func (s *slowTransport) Send(ctx context.Context, recipient, message string) (string, error) {
	s.mr.FastForward(s.delay)
	return s.fakeTransport.Send(ctx, recipient, message)
}

func TestDispatchWithRedisGateCooldownStartsAtDelivery(t *testing.T) {
	ctx := context.Background()
	gate, mr := newRedisGate(t)
	store := storage.NewMemoryStore()
	wa := &slowTransport{fakeTransport: fakeTransport{channel: models.ChannelWhatsApp}, mr: mr, delay: 10 * time.Minute}
	d := NewDispatcher(store, gate, []Transport{wa}, WithClock(func() time.Time { return t0 }))
	settings := settingsWith(phones(1)...)

	out, err := d.Dispatch(ctx, storeEvent(t, store, models.EventTypeEarthquake, t0), 55, settings)
	require.NoError(t, err)
	require.Equal(t, 1, out.Sent)
	assert.Equal(t, settings.NotificationCooldown, mr.TTL("test:cooldown:earthquake"))

	mr.FastForward(settings.NotificationCooldown - time.Minute)
	out, err = d.Dispatch(ctx, storeEvent(t, store, models.EventTypeEarthquake, t0), 55, settings)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

func TestRedisGateExtendIgnoresForeignToken(t *testing.T) {
	ctx := context.Background()
	gate, mr := newRedisGate(t)

	_, ok, err := gate.Acquire(ctx, models.EventTypeEarthquake, t0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, gate.Extend(ctx, models.EventTypeEarthquake, "not-the-owner", time.Hour))
	assert.Equal(t, time.Minute, mr.TTL("test:cooldown:earthquake"))
}
