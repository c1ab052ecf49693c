// Package storage provides the append-only event log used by the pipeline.
// It persists classified events, their aftershock analyses, notification
// delivery records, administrative settings, and per-type cooldown reservations.
//
// Two implementations are provided: SQLStore (SQLite or PostgreSQL through sqlx)
// and MemoryStore (thread-safe in-memory maps, used for tests and ephemeral runs).
// All failures of the underlying database are wrapped with models.ErrStoreUnavailable;
// missing rows are reported as models.ErrNotFound.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// Store is the persistence contract consumed by the pipeline stages.
type Store interface {
	InsertEvent(ctx context.Context, event *models.SeismicEvent) (int64, error)
	GetEvent(ctx context.Context, id int64) (*models.SeismicEvent, error)
	QueryEvents(ctx context.Context, filter EventFilter) ([]models.SeismicEvent, error)
	CountEvents(ctx context.Context, filter EventFilter) (int, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkNotificationSent(ctx context.Context, id int64) error

	InsertAnalysis(ctx context.Context, analysis *models.AftershockAnalysis) (int64, error)
	CurrentAnalysis(ctx context.Context, eventID int64) (*models.AftershockAnalysis, error)
	ListAnalyses(ctx context.Context, eventID int64) ([]models.AftershockAnalysis, error)

	InsertNotification(ctx context.Context, record *models.NotificationRecord) (int64, error)
	CompleteNotification(ctx context.Context, id int64, result DeliveryResult) error
	QueryNotifications(ctx context.Context, filter NotificationFilter) ([]models.NotificationRecord, error)
	NotificationStats(ctx context.Context, since time.Time) ([]NotificationStat, error)

	Settings(ctx context.Context) (map[string]string, error)
	PutSetting(ctx context.Context, key, value string) error

	AcquireCooldown(ctx context.Context, eventType models.EventType, now time.Time, window time.Duration) (string, bool, error)
	ReleaseCooldown(ctx context.Context, eventType models.EventType, token string) error

	Close() error
}

// EventFilter selects events. Zero values disable a criterion.
// Since is inclusive, Until is exclusive.
type EventFilter struct {
	Type            *models.EventType
	DeviceID        string
	Since           time.Time
	Until           time.Time
	MinAcceleration *float64
	MaxAcceleration *float64
	Limit           int
	Offset          int
}

// OfType returns a pointer suitable for EventFilter.Type.
func OfType(t models.EventType) *models.EventType {
	return &t
}

// Float returns a pointer suitable for acceleration bounds.
func Float(f float64) *float64 {
	return &f
}

func (f EventFilter) matches(e *models.SeismicEvent) bool {
	if f.Type != nil && e.EventType != *f.Type {
		return false
	}
	if f.DeviceID != "" && e.DeviceID != f.DeviceID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	if f.MinAcceleration != nil && e.TotalAcceleration < *f.MinAcceleration {
		return false
	}
	if f.MaxAcceleration != nil && e.TotalAcceleration > *f.MaxAcceleration {
		return false
	}
	return true
}

// NotificationFilter selects notification records, newest first.
type NotificationFilter struct {
	EventID int64
	Status  models.NotificationStatus
	Channel models.Channel
	Since   time.Time
	Limit   int
	Offset  int
}

func (f NotificationFilter) matches(n *models.NotificationRecord) bool {
	if f.EventID != 0 && n.EventID != f.EventID {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Channel != "" && n.Channel != f.Channel {
		return false
	}
	if !f.Since.IsZero() && n.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// DeliveryResult is the terminal transition applied to a pending notification.
type DeliveryResult struct {
	Status    models.NotificationStatus
	SentAt    time.Time
	Error     string
	MessageID string
}

// Validate checks that the result is a legal terminal transition.
func (r DeliveryResult) Validate() error {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("%w: delivery result must be sent or failed, got %q", models.ErrInvalidInput, r.Status)
	}
	if r.Status == models.StatusSent && r.SentAt.IsZero() {
		return fmt.Errorf("%w: sent delivery requires sent at", models.ErrInvalidInput)
	}
	return nil
}

// NotificationStat is the number of records per channel, status and day.
type NotificationStat struct {
	Day     string                    `json:"date" db:"day"`
	Channel models.Channel            `json:"channel" db:"channel"`
	Status  models.NotificationStatus `json:"status" db:"status"`
	Count   int                       `json:"count" db:"count"`
}

// unavailable wraps a driver error with the store taxonomy.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
}

// toMillis converts a time into UTC unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis converts UTC unix milliseconds into a time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
