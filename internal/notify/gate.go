package notify

import (
	"context"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// Gate serializes dispatches per event type. Acquire succeeds for at most one
// caller per type and cooldown window; the winner releases the slot again
// when nothing was delivered.
type Gate interface {
	Acquire(ctx context.Context, eventType models.EventType, now time.Time, window time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, eventType models.EventType, token string) error
}

// Extender is implemented by gates whose claims expire on their own. Extend
// restarts the expiry of a claim still held by token so it lasts ttl from now.
type Extender interface {
	Extend(ctx context.Context, eventType models.EventType, token string, ttl time.Duration) error
}

// CooldownStore is a store that can hold cooldown reservations.
type CooldownStore interface {
	AcquireCooldown(ctx context.Context, eventType models.EventType, now time.Time, window time.Duration) (string, bool, error)
	ReleaseCooldown(ctx context.Context, eventType models.EventType, token string) error
}

// StoreGate keeps reservations in the event store, next to the sent records
// the cooldown is defined by.
type StoreGate struct {
	store CooldownStore
}

// NewStoreGate creates a Gate backed by store.
func NewStoreGate(store CooldownStore) *StoreGate {
	return &StoreGate{store: store}
}

// Acquire claims the slot for eventType.
func (g *StoreGate) Acquire(ctx context.Context, eventType models.EventType, now time.Time, window time.Duration) (string, bool, error) {
	return g.store.AcquireCooldown(ctx, eventType, now, window)
}

// Release frees a slot claimed with token.
func (g *StoreGate) Release(ctx context.Context, eventType models.EventType, token string) error {
	return g.store.ReleaseCooldown(ctx, eventType, token)
}
