package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
}

// NewSQLStore opens (or creates) the database and applies pending migrations.
// driver is "sqlite" or "postgres"; dsn is a file path for SQLite or a
// connection string for PostgreSQL.
func NewSQLStore(driver, dsn string, maxOpenConns int) (*SQLStore, error) {
	var d dialect
	switch driver {
	case "sqlite", "":
		d = dialectSQLite
	case "postgres":
		d = dialectPostgres
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sqlx.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", d.name, err)
	}

	if d == dialectSQLite {
		// SQLite allows a single writer; one connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
		pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
		if dsn != ":memory:" {
			pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
		}
		for _, p := range pragmas {
			if _, err := db.Exec(p); err != nil {
				db.Close()
				return nil, fmt.Errorf("applying %q: %w", p, err)
			}
		}
	} else if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// runMigrations reads the current schema version and applies outstanding
// migrations, each in its own transaction.
func (s *SQLStore) runMigrations() error {
	if _, err := s.db.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, stmt := range s.dialect.statements(m) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type eventRow struct {
	ID                int64   `db:"id"`
	DeviceID          string  `db:"device_id"`
	TimestampMs       int64   `db:"timestamp_ms"`
	X                 float64 `db:"acceleration_x"`
	Y                 float64 `db:"acceleration_y"`
	Z                 float64 `db:"acceleration_z"`
	TotalAcceleration float64 `db:"total_acceleration"`
	EventType         string  `db:"event_type"`
	Magnitude         float64 `db:"magnitude"`
	Processed         int     `db:"processed"`
	NotificationSent  int     `db:"notification_sent"`
	CreatedAtMs       int64   `db:"created_at_ms"`
}

func (r eventRow) model() models.SeismicEvent {
	return models.SeismicEvent{
		ID:                r.ID,
		DeviceID:          r.DeviceID,
		Timestamp:         fromMillis(r.TimestampMs),
		Acceleration:      models.Vector{X: r.X, Y: r.Y, Z: r.Z},
		TotalAcceleration: r.TotalAcceleration,
		EventType:         models.EventType(r.EventType),
		Magnitude:         r.Magnitude,
		Processed:         r.Processed != 0,
		NotificationSent:  r.NotificationSent != 0,
		CreatedAt:         fromMillis(r.CreatedAtMs),
	}
}

const eventColumns = `id, device_id, timestamp_ms, acceleration_x, acceleration_y, acceleration_z,
	total_acceleration, event_type, magnitude, processed, notification_sent, created_at_ms`

// InsertEvent appends an event and returns its assigned ID.
func (s *SQLStore) InsertEvent(ctx context.Context, event *models.SeismicEvent) (int64, error) {
	if err := event.Validate(); err != nil {
		return 0, fmt.Errorf("%w: invalid event: %w", models.ErrInvalidInput, err)
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO seismic_events (
			device_id, timestamp_ms, acceleration_x, acceleration_y, acceleration_z,
			total_acceleration, event_type, magnitude, processed, notification_sent, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		event.DeviceID, toMillis(event.Timestamp),
		event.Acceleration.X, event.Acceleration.Y, event.Acceleration.Z,
		event.TotalAcceleration, string(event.EventType), event.Magnitude,
		boolToInt(event.Processed), boolToInt(event.NotificationSent), toMillis(createdAt),
	).Scan(&id)
	if err != nil {
		return 0, unavailable("inserting event", err)
	}
	return id, nil
}

// GetEvent retrieves a single event by ID.
func (s *SQLStore) GetEvent(ctx context.Context, id int64) (*models.SeismicEvent, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+eventColumns+" FROM seismic_events WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("getting event %d", id), err)
	}
	event := row.model()
	return &event, nil
}

// whereEvents builds the WHERE clause for an event filter.
func whereEvents(f EventFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if f.Type != nil {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(*f.Type))
	}
	if f.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "timestamp_ms >= ?")
		args = append(args, toMillis(f.Since))
	}
	if !f.Until.IsZero() {
		conditions = append(conditions, "timestamp_ms < ?")
		args = append(args, toMillis(f.Until))
	}
	if f.MinAcceleration != nil {
		conditions = append(conditions, "total_acceleration >= ?")
		args = append(args, *f.MinAcceleration)
	}
	if f.MaxAcceleration != nil {
		conditions = append(conditions, "total_acceleration <= ?")
		args = append(args, *f.MaxAcceleration)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// pageClause renders LIMIT/OFFSET for the dialect.
func (s *SQLStore) pageClause(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT %s OFFSET %d", s.dialect.noLimit, offset)
	default:
		return ""
	}
}

// QueryEvents returns matching events ordered by timestamp descending.
func (s *SQLStore) QueryEvents(ctx context.Context, filter EventFilter) ([]models.SeismicEvent, error) {
	where, args := whereEvents(filter)
	query := "SELECT " + eventColumns + " FROM seismic_events" + where +
		" ORDER BY timestamp_ms DESC, id DESC" + s.pageClause(filter.Limit, filter.Offset)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, unavailable("querying events", err)
	}

	events := make([]models.SeismicEvent, len(rows))
	for i, r := range rows {
		events[i] = r.model()
	}
	return events, nil
}

// CountEvents counts matching events, ignoring limit and offset.
func (s *SQLStore) CountEvents(ctx context.Context, filter EventFilter) (int, error) {
	where, args := whereEvents(filter)
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind("SELECT COUNT(*) FROM seismic_events"+where), args...); err != nil {
		return 0, unavailable("counting events", err)
	}
	return count, nil
}

// MarkProcessed sets the processed flag. Setting it twice is a no-op.
func (s *SQLStore) MarkProcessed(ctx context.Context, id int64) error {
	return s.setFlag(ctx, id, "processed")
}

// MarkNotificationSent sets the notification flag. Setting it twice is a no-op.
func (s *SQLStore) MarkNotificationSent(ctx context.Context, id int64) error {
	return s.setFlag(ctx, id, "notification_sent")
}

func (s *SQLStore) setFlag(ctx context.Context, id int64, column string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE seismic_events SET "+column+" = 1 WHERE id = ?"), id)
	if err != nil {
		return unavailable(fmt.Sprintf("setting %s on event %d", column, id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d: %w", id, models.ErrNotFound)
	}
	return nil
}

type analysisRow struct {
	ID                    int64   `db:"id"`
	MainEventID           int64   `db:"main_event_id"`
	Sequence              int     `db:"sequence"`
	ProbabilityPercentage float64 `db:"probability_percentage"`
	Factors               string  `db:"factors"`
	ComputedAtMs          int64   `db:"computed_at_ms"`
	ExpiresAtMs           int64   `db:"expires_at_ms"`
}

func (r analysisRow) model() (models.AftershockAnalysis, error) {
	a := models.AftershockAnalysis{
		ID:                    r.ID,
		MainEventID:           r.MainEventID,
		Sequence:              r.Sequence,
		ProbabilityPercentage: r.ProbabilityPercentage,
		ComputedAt:            fromMillis(r.ComputedAtMs),
		ExpiresAt:             fromMillis(r.ExpiresAtMs),
	}
	if r.Factors != "" {
		if err := json.Unmarshal([]byte(r.Factors), &a.Factors); err != nil {
			return a, fmt.Errorf("unmarshaling factors of analysis %d: %w", r.ID, err)
		}
	}
	return a, nil
}

const analysisColumns = "id, main_event_id, sequence, probability_percentage, factors, computed_at_ms, expires_at_ms"

// InsertAnalysis appends an analysis with the next sequence for its event.
// The sequence is computed inside the INSERT so concurrent re-analyses cannot
// silently share a sequence; the unique constraint rejects the loser.
func (s *SQLStore) InsertAnalysis(ctx context.Context, analysis *models.AftershockAnalysis) (int64, error) {
	if err := analysis.Validate(); err != nil {
		return 0, fmt.Errorf("%w: invalid analysis: %w", models.ErrInvalidInput, err)
	}
	factors, err := json.Marshal(analysis.Factors)
	if err != nil {
		return 0, fmt.Errorf("marshaling factors: %w", err)
	}

	var out struct {
		ID       int64 `db:"id"`
		Sequence int   `db:"sequence"`
	}
	err = s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO aftershock_analyses (
			main_event_id, sequence, probability_percentage, factors, computed_at_ms, expires_at_ms
		)
		SELECT CAST(? AS BIGINT), COALESCE(MAX(sequence), 0) + 1, CAST(? AS DOUBLE PRECISION),
			CAST(? AS TEXT), CAST(? AS BIGINT), CAST(? AS BIGINT)
		FROM aftershock_analyses WHERE main_event_id = ?
		RETURNING id, sequence`),
		analysis.MainEventID, analysis.ProbabilityPercentage, string(factors),
		toMillis(analysis.ComputedAt), toMillis(analysis.ExpiresAt), analysis.MainEventID,
	).StructScan(&out)
	if err != nil {
		return 0, unavailable("inserting analysis", err)
	}

	analysis.ID = out.ID
	analysis.Sequence = out.Sequence
	return out.ID, nil
}

// CurrentAnalysis returns the analysis with the highest sequence for an event.
func (s *SQLStore) CurrentAnalysis(ctx context.Context, eventID int64) (*models.AftershockAnalysis, error) {
	var row analysisRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		"SELECT "+analysisColumns+" FROM aftershock_analyses WHERE main_event_id = ? ORDER BY sequence DESC LIMIT 1"),
		eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis for event %d: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("getting analysis for event %d", eventID), err)
	}
	a, err := row.model()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAnalyses returns all analyses for an event, newest sequence first.
func (s *SQLStore) ListAnalyses(ctx context.Context, eventID int64) ([]models.AftershockAnalysis, error) {
	var rows []analysisRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT "+analysisColumns+" FROM aftershock_analyses WHERE main_event_id = ? ORDER BY sequence DESC"),
		eventID)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("listing analyses for event %d", eventID), err)
	}

	out := make([]models.AftershockAnalysis, 0, len(rows))
	for _, r := range rows {
		a, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type notificationRow struct {
	ID          int64          `db:"id"`
	EventID     int64          `db:"event_id"`
	Channel     string         `db:"channel"`
	Recipient   string         `db:"recipient"`
	Message     string         `db:"message"`
	Status      string         `db:"status"`
	SentAtMs    sql.NullInt64  `db:"sent_at_ms"`
	Error       sql.NullString `db:"error_message"`
	MessageID   sql.NullString `db:"message_id"`
	CreatedAtMs int64          `db:"created_at_ms"`
}

func (r notificationRow) model() models.NotificationRecord {
	n := models.NotificationRecord{
		ID:        r.ID,
		EventID:   r.EventID,
		Channel:   models.Channel(r.Channel),
		Recipient: r.Recipient,
		Message:   r.Message,
		Status:    models.NotificationStatus(r.Status),
		Error:     r.Error.String,
		MessageID: r.MessageID.String,
		CreatedAt: fromMillis(r.CreatedAtMs),
	}
	if r.SentAtMs.Valid {
		sentAt := fromMillis(r.SentAtMs.Int64)
		n.SentAt = &sentAt
	}
	return n
}

const notificationColumns = `id, event_id, channel, recipient, message, status,
	sent_at_ms, error_message, message_id, created_at_ms`

// InsertNotification appends a pending notification record.
func (s *SQLStore) InsertNotification(ctx context.Context, record *models.NotificationRecord) (int64, error) {
	if record.Status == "" {
		record.Status = models.StatusPending
	}
	if err := record.Validate(); err != nil {
		return 0, fmt.Errorf("%w: invalid notification: %w", models.ErrInvalidInput, err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var sentAt sql.NullInt64
	if record.SentAt != nil {
		sentAt = sql.NullInt64{Int64: toMillis(*record.SentAt), Valid: true}
	}

	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO notifications (
			event_id, channel, recipient, message, status, sent_at_ms, error_message, message_id, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		record.EventID, string(record.Channel), record.Recipient, record.Message, string(record.Status),
		sentAt, nullString(record.Error), nullString(record.MessageID), toMillis(record.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, unavailable("inserting notification", err)
	}
	record.ID = id
	return id, nil
}

// CompleteNotification moves a pending record to its terminal status.
func (s *SQLStore) CompleteNotification(ctx context.Context, id int64, result DeliveryResult) error {
	if err := result.Validate(); err != nil {
		return err
	}

	var sentAt sql.NullInt64
	errMsg := sql.NullString{}
	if result.Status == models.StatusSent {
		sentAt = sql.NullInt64{Int64: toMillis(result.SentAt), Valid: true}
	} else {
		errMsg = nullString(result.Error)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE notifications SET status = ?, sent_at_ms = ?, error_message = ?, message_id = ?
		WHERE id = ? AND status = 'pending'`),
		string(result.Status), sentAt, errMsg, nullString(result.MessageID), id)
	if err != nil {
		return unavailable(fmt.Sprintf("completing notification %d", id), err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var status string
	err = s.db.GetContext(ctx, &status, s.db.Rebind("SELECT status FROM notifications WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("notification %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return unavailable(fmt.Sprintf("reading notification %d", id), err)
	}
	return fmt.Errorf("notification %d already %s", id, status)
}

// QueryNotifications returns matching records, newest first.
func (s *SQLStore) QueryNotifications(ctx context.Context, filter NotificationFilter) ([]models.NotificationRecord, error) {
	var conditions []string
	var args []interface{}
	if filter.EventID != 0 {
		conditions = append(conditions, "event_id = ?")
		args = append(args, filter.EventID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Channel != "" {
		conditions = append(conditions, "channel = ?")
		args = append(args, string(filter.Channel))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at_ms >= ?")
		args = append(args, toMillis(filter.Since))
	}

	query := "SELECT " + notificationColumns + " FROM notifications"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at_ms DESC, id DESC" + s.pageClause(filter.Limit, filter.Offset)

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, unavailable("querying notifications", err)
	}

	out := make([]models.NotificationRecord, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// NotificationStats counts records per day, channel and status since a time.
func (s *SQLStore) NotificationStats(ctx context.Context, since time.Time) ([]NotificationStat, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s AS day, channel, status, COUNT(*) AS count
		FROM notifications
		WHERE created_at_ms >= ?
		GROUP BY %[1]s, channel, status`, s.dialect.dayExpr)

	var stats []NotificationStat
	if err := s.db.SelectContext(ctx, &stats, s.db.Rebind(query), toMillis(since)); err != nil {
		return nil, unavailable("computing notification stats", err)
	}
	sortStats(stats)
	if stats == nil {
		stats = []NotificationStat{}
	}
	return stats, nil
}

// Settings returns all administrative settings.
func (s *SQLStore) Settings(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Key   string `db:"config_key"`
		Value string `db:"config_value"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT config_key, config_value FROM system_config"); err != nil {
		return nil, unavailable("reading settings", err)
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// PutSetting inserts or replaces a setting.
func (s *SQLStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO system_config (config_key, config_value, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT (config_key) DO UPDATE SET
			config_value = excluded.config_value,
			updated_at_ms = excluded.updated_at_ms`),
		key, value, toMillis(time.Now()))
	if err != nil {
		return unavailable(fmt.Sprintf("writing setting %s", key), err)
	}
	return nil
}

// AcquireCooldown claims the cooldown slot for an event type with a single
// conditional write. The row is written only when no sent notification of the
// type and no live reservation fall inside the window.
func (s *SQLStore) AcquireCooldown(ctx context.Context, eventType models.EventType, now time.Time, window time.Duration) (string, bool, error) {
	token := uuid.New().String()
	cutoff := toMillis(now.Add(-window))

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO notification_cooldowns (event_type, reserved_at_ms, token)
		SELECT CAST(? AS TEXT), CAST(? AS BIGINT), CAST(? AS TEXT)
		WHERE NOT EXISTS (
			SELECT 1 FROM notifications n
			JOIN seismic_events e ON e.id = n.event_id
			WHERE e.event_type = ? AND n.status = 'sent' AND n.sent_at_ms > ?
		)
		ON CONFLICT (event_type) DO UPDATE SET
			reserved_at_ms = excluded.reserved_at_ms,
			token = excluded.token
		WHERE notification_cooldowns.reserved_at_ms <= ?`),
		string(eventType), toMillis(now), token,
		string(eventType), cutoff,
		cutoff,
	)
	if err != nil {
		return "", false, unavailable(fmt.Sprintf("acquiring %s cooldown", eventType), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, unavailable(fmt.Sprintf("acquiring %s cooldown", eventType), err)
	}
	if n == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseCooldown drops a reservation if the token still owns it.
func (s *SQLStore) ReleaseCooldown(ctx context.Context, eventType models.EventType, token string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM notification_cooldowns WHERE event_type = ? AND token = ?"),
		string(eventType), token)
	if err != nil {
		return unavailable(fmt.Sprintf("releasing %s cooldown", eventType), err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// boolToInt converts a boolean to 0 or 1 for storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
