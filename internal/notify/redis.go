package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only while the key still holds the caller's token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisGate keeps reservations in Redis so several processes sharing one
// store observe a single cooldown per event type. A key lives for the
// cooldown window after the last successful delivery of a dispatch.
type RedisGate struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisGate creates a Gate using client. Keys are named prefix+"cooldown:"+type.
func NewRedisGate(client redis.UniversalClient, prefix string) *RedisGate {
	return &RedisGate{client: client, prefix: prefix}
}

func (g *RedisGate) key(eventType models.EventType) string {
	return g.prefix + "cooldown:" + string(eventType)
}

// Acquire claims the slot with SET NX and a TTL equal to the window.
func (g *RedisGate) Acquire(ctx context.Context, eventType models.EventType, _ time.Time, window time.Duration) (string, bool, error) {
	if window <= 0 {
		return uuid.New().String(), true, nil
	}

	token := uuid.New().String()
	ok, err := g.client.SetNX(ctx, g.key(eventType), token, window).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquiring %s cooldown: %w: %w", eventType, models.ErrStoreUnavailable, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the key if token still owns it.
func (g *RedisGate) Release(ctx context.Context, eventType models.EventType, token string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key(eventType)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing %s cooldown: %w: %w", eventType, models.ErrStoreUnavailable, err)
	}
	return nil
}

// Extend moves the expiry of the slot held by token to ttl from now.
func (g *RedisGate) Extend(ctx context.Context, eventType models.EventType, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := extendScript.Run(ctx, g.client, []string{g.key(eventType)}, token, ttl.Milliseconds()).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("extending %s cooldown: %w: %w", eventType, models.ErrStoreUnavailable, err)
	}
	return nil
}
