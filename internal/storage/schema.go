package storage

import "strings"

// dialect captures the few statements that differ between SQLite and PostgreSQL.
type dialect struct {
	name       string
	driver     string
	primaryKey string
	noLimit    string
	dayExpr    string
}

var (
	dialectSQLite = dialect{
		name:       "sqlite",
		driver:     "sqlite",
		primaryKey: "INTEGER PRIMARY KEY AUTOINCREMENT",
		noLimit:    "-1",
		dayExpr:    "strftime('%Y-%m-%d', created_at_ms / 1000, 'unixepoch')",
	}
	dialectPostgres = dialect{
		name:       "postgres",
		driver:     "pgx",
		primaryKey: "BIGSERIAL PRIMARY KEY",
		noLimit:    "ALL",
		dayExpr:    "to_char(to_timestamp(created_at_ms / 1000) AT TIME ZONE 'UTC', 'YYYY-MM-DD')",
	}
)

// migration is one forward-only schema step.
type migration struct {
	version int
	sql     string
}

// migrations are applied in order; {{PK}} expands to the dialect's
// auto-incrementing primary key definition.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS seismic_events (
	id                 {{PK}},
	device_id          TEXT NOT NULL,
	timestamp_ms       BIGINT NOT NULL,
	acceleration_x     DOUBLE PRECISION NOT NULL,
	acceleration_y     DOUBLE PRECISION NOT NULL,
	acceleration_z     DOUBLE PRECISION NOT NULL,
	total_acceleration DOUBLE PRECISION NOT NULL,
	event_type         TEXT NOT NULL CHECK (event_type IN ('vibration', 'earthquake')),
	magnitude          DOUBLE PRECISION NOT NULL,
	processed          INTEGER NOT NULL DEFAULT 0,
	notification_sent  INTEGER NOT NULL DEFAULT 0,
	created_at_ms      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_seismic_events_type_ts ON seismic_events (event_type, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_seismic_events_device ON seismic_events (device_id);

CREATE TABLE IF NOT EXISTS aftershock_analyses (
	id                     {{PK}},
	main_event_id          BIGINT NOT NULL REFERENCES seismic_events (id),
	sequence               INTEGER NOT NULL,
	probability_percentage DOUBLE PRECISION NOT NULL,
	factors                TEXT NOT NULL,
	computed_at_ms         BIGINT NOT NULL,
	expires_at_ms          BIGINT NOT NULL,
	UNIQUE (main_event_id, sequence)
);

CREATE TABLE IF NOT EXISTS notifications (
	id            {{PK}},
	event_id      BIGINT NOT NULL REFERENCES seismic_events (id),
	channel       TEXT NOT NULL CHECK (channel IN ('whatsapp', 'telegram')),
	recipient     TEXT NOT NULL,
	message       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'failed')),
	sent_at_ms    BIGINT,
	error_message TEXT,
	message_id    TEXT,
	created_at_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_status_sent ON notifications (status, sent_at_ms);
CREATE INDEX IF NOT EXISTS idx_notifications_event ON notifications (event_id);

CREATE TABLE IF NOT EXISTS system_config (
	config_key    TEXT PRIMARY KEY,
	config_value  TEXT NOT NULL,
	updated_at_ms BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_cooldowns (
	event_type     TEXT PRIMARY KEY,
	reserved_at_ms BIGINT NOT NULL,
	token          TEXT NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// statements splits a migration into individual statements so that drivers
// without multi-statement support can execute them.
func (d dialect) statements(m migration) []string {
	body := strings.ReplaceAll(m.sql, "{{PK}}", d.primaryKey)
	var out []string
	for _, stmt := range strings.Split(body, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
