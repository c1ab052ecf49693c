package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/quakesentinel/internal/models"
)

// reservation is an in-flight cooldown claim for one event type.
type reservation struct {
	token string
	at    time.Time
}

// MemoryStore provides thread-safe in-memory storage.
// Every mutation happens under one mutex, so cooldown acquisition is atomic
// with respect to notification writes.
type MemoryStore struct {
	events        []models.SeismicEvent
	analyses      []models.AftershockAnalysis
	notifications []models.NotificationRecord
	settings      map[string]string
	reservations  map[models.EventType]reservation
	mu            sync.RWMutex

	nextEventID        int64
	nextAnalysisID     int64
	nextNotificationID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings:     make(map[string]string),
		reservations: make(map[models.EventType]reservation),
	}
}

// InsertEvent appends an event and assigns its ID.
func (s *MemoryStore) InsertEvent(_ context.Context, event *models.SeismicEvent) (int64, error) {
	if err := event.Validate(); err != nil {
		return 0, fmt.Errorf("%w: invalid event: %w", models.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	stored := *event
	stored.ID = s.nextEventID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, stored)
	return stored.ID, nil
}

// GetEvent retrieves an event by ID.
func (s *MemoryStore) GetEvent(_ context.Context, id int64) (*models.SeismicEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.eventIndex(id)
	if idx < 0 {
		return nil, fmt.Errorf("event %d: %w", id, models.ErrNotFound)
	}
	event := s.events[idx]
	return &event, nil
}

// eventIndex returns the slice index of an event; ids are dense and ordered.
func (s *MemoryStore) eventIndex(id int64) int {
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].ID >= id })
	if i < len(s.events) && s.events[i].ID == id {
		return i
	}
	return -1
}

// QueryEvents returns matching events ordered by timestamp descending.
func (s *MemoryStore) QueryEvents(_ context.Context, filter EventFilter) ([]models.SeismicEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []models.SeismicEvent
	for i := range s.events {
		if filter.matches(&s.events[i]) {
			filtered = append(filtered, s.events[i])
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Timestamp.Equal(filtered[j].Timestamp) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	return paginate(filtered, filter.Offset, filter.Limit), nil
}

// CountEvents counts matching events, ignoring limit and offset.
func (s *MemoryStore) CountEvents(_ context.Context, filter EventFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := range s.events {
		if filter.matches(&s.events[i]) {
			count++
		}
	}
	return count, nil
}

// MarkProcessed sets the processed flag. Setting it twice is a no-op.
func (s *MemoryStore) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.eventIndex(id)
	if idx < 0 {
		return fmt.Errorf("event %d: %w", id, models.ErrNotFound)
	}
	s.events[idx].Processed = true
	return nil
}

// MarkNotificationSent sets the notification flag. Setting it twice is a no-op.
func (s *MemoryStore) MarkNotificationSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.eventIndex(id)
	if idx < 0 {
		return fmt.Errorf("event %d: %w", id, models.ErrNotFound)
	}
	s.events[idx].NotificationSent = true
	return nil
}

// InsertAnalysis appends an analysis with the next sequence for its event.
func (s *MemoryStore) InsertAnalysis(_ context.Context, analysis *models.AftershockAnalysis) (int64, error) {
	if err := analysis.Validate(); err != nil {
		return 0, fmt.Errorf("%w: invalid analysis: %w", models.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eventIndex(analysis.MainEventID) < 0 {
		return 0, fmt.Errorf("event %d: %w", analysis.MainEventID, models.ErrNotFound)
	}

	seq := 0
	for _, a := range s.analyses {
		if a.MainEventID == analysis.MainEventID && a.Sequence > seq {
			seq = a.Sequence
		}
	}

	s.nextAnalysisID++
	stored := *analysis
	stored.ID = s.nextAnalysisID
	stored.Sequence = seq + 1
	stored.Factors = append([]string(nil), analysis.Factors...)
	s.analyses = append(s.analyses, stored)

	analysis.ID = stored.ID
	analysis.Sequence = stored.Sequence
	return stored.ID, nil
}

// CurrentAnalysis returns the analysis with the highest sequence for an event.
func (s *MemoryStore) CurrentAnalysis(_ context.Context, eventID int64) (*models.AftershockAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *models.AftershockAnalysis
	for i := range s.analyses {
		a := &s.analyses[i]
		if a.MainEventID == eventID && (current == nil || a.Sequence > current.Sequence) {
			current = a
		}
	}
	if current == nil {
		return nil, fmt.Errorf("analysis for event %d: %w", eventID, models.ErrNotFound)
	}
	out := *current
	return &out, nil
}

// ListAnalyses returns all analyses for an event, newest sequence first.
func (s *MemoryStore) ListAnalyses(_ context.Context, eventID int64) ([]models.AftershockAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.AftershockAnalysis{}
	for _, a := range s.analyses {
		if a.MainEventID == eventID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	return out, nil
}

// InsertNotification appends a pending notification record.
func (s *MemoryStore) InsertNotification(_ context.Context, record *models.NotificationRecord) (int64, error) {
	if record.Status == "" {
		record.Status = models.StatusPending
	}
	if err := record.Validate(); err != nil {
		return 0, fmt.Errorf("%w: invalid notification: %w", models.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eventIndex(record.EventID) < 0 {
		return 0, fmt.Errorf("event %d: %w", record.EventID, models.ErrNotFound)
	}

	s.nextNotificationID++
	stored := *record
	stored.ID = s.nextNotificationID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, stored)

	record.ID = stored.ID
	record.CreatedAt = stored.CreatedAt
	return stored.ID, nil
}

// CompleteNotification moves a pending record to its terminal status.
func (s *MemoryStore) CompleteNotification(_ context.Context, id int64, result DeliveryResult) error {
	if err := result.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		n := &s.notifications[i]
		if n.ID != id {
			continue
		}
		if n.Status != models.StatusPending {
			return fmt.Errorf("notification %d already %s", id, n.Status)
		}
		n.Status = result.Status
		n.MessageID = result.MessageID
		if result.Status == models.StatusSent {
			sentAt := result.SentAt.UTC()
			n.SentAt = &sentAt
		} else {
			n.Error = result.Error
		}
		return nil
	}
	return fmt.Errorf("notification %d: %w", id, models.ErrNotFound)
}

// QueryNotifications returns matching records, newest first.
func (s *MemoryStore) QueryNotifications(_ context.Context, filter NotificationFilter) ([]models.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.NotificationRecord
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if filter.matches(&s.notifications[i]) {
			out = append(out, s.notifications[i])
		}
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

// NotificationStats counts records per day, channel and status since a time.
func (s *MemoryStore) NotificationStats(_ context.Context, since time.Time) ([]NotificationStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		day     string
		channel models.Channel
		status  models.NotificationStatus
	}
	counts := make(map[key]int)
	for _, n := range s.notifications {
		if n.CreatedAt.Before(since) {
			continue
		}
		counts[key{n.CreatedAt.UTC().Format(time.DateOnly), n.Channel, n.Status}]++
	}

	out := make([]NotificationStat, 0, len(counts))
	for k, c := range counts {
		out = append(out, NotificationStat{Day: k.day, Channel: k.channel, Status: k.status, Count: c})
	}
	sortStats(out)
	return out, nil
}

// Settings returns a copy of all administrative settings.
func (s *MemoryStore) Settings(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

// PutSetting inserts or replaces a setting.
func (s *MemoryStore) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

// AcquireCooldown claims the cooldown slot for an event type. It fails when a
// sent notification of that type or a live reservation falls inside the window.
func (s *MemoryStore) AcquireCooldown(_ context.Context, eventType models.EventType, now time.Time, window time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	if r, ok := s.reservations[eventType]; ok && r.at.After(cutoff) {
		return "", false, nil
	}
	for _, n := range s.notifications {
		if n.Status != models.StatusSent || n.SentAt == nil || !n.SentAt.After(cutoff) {
			continue
		}
		idx := s.eventIndex(n.EventID)
		if idx >= 0 && s.events[idx].EventType == eventType {
			return "", false, nil
		}
	}

	token := uuid.New().String()
	s.reservations[eventType] = reservation{token: token, at: now}
	return token, true, nil
}

// ReleaseCooldown drops a reservation if the token still owns it.
func (s *MemoryStore) ReleaseCooldown(_ context.Context, eventType models.EventType, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.reservations[eventType]; ok && r.token == token {
		delete(s.reservations, eventType)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	if items == nil {
		return []T{}
	}
	return items
}

func sortStats(stats []NotificationStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Day != stats[j].Day {
			return stats[i].Day > stats[j].Day
		}
		if stats[i].Channel != stats[j].Channel {
			return stats[i].Channel < stats[j].Channel
		}
		return stats[i].Status < stats[j].Status
	})
}
