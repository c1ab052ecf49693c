package config

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  jwt_secret: "secret"

storage:
  driver: sqlite
  dsn: "./data/test.db"

detection:
  earthquake_threshold: 12.5

notifications:
  cooldown_minutes: 10
  emergency_contacts:
    - name: "Ops"
      phone: "+15550100"
    - name: "Duty"
      telegram_chat_id: "-100123"

telegram:
  enabled: true
  bot_token: "test_token"
  ops_chat_id: "test_chat_id"

logging:
  level: "debug"
  format: "text"
`)

	// Test Load
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify values
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Detection.EarthquakeThreshold != 12.5 {
		t.Errorf("Unexpected earthquake threshold: %f", cfg.Detection.EarthquakeThreshold)
	}
	if cfg.Detection.VibrationThreshold != 5.0 {
		t.Errorf("Expected default vibration threshold 5.0, got %f", cfg.Detection.VibrationThreshold)
	}
	if len(cfg.Notifications.EmergencyContacts) != 2 {
		t.Fatalf("Expected 2 contacts, got %d", len(cfg.Notifications.EmergencyContacts))
	}
	if cfg.Notifications.EmergencyContacts[1].TelegramChatID != "-100123" {
		t.Errorf("Unexpected telegram chat id: %s", cfg.Notifications.EmergencyContacts[1].TelegramChatID)
	}
	if cfg.WhatsApp.Timeout != 10*time.Second {
		t.Errorf("Expected default whatsapp timeout 10s, got %v", cfg.WhatsApp.Timeout)
	}

	// Test Validate
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	s := cfg.Settings()
	if s.NotificationCooldown != 10*time.Minute {
		t.Errorf("Settings().NotificationCooldown = %v, want 10m", s.NotificationCooldown)
	}
	if s.AftershockWindow != 72*time.Hour {
		t.Errorf("Settings().AftershockWindow = %v, want 72h", s.AftershockWindow)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: sqlite\n")
	t.Setenv("QUAKESENTINEL_STORAGE_DRIVER", "memory")
	t.Setenv("QUAKESENTINEL_DETECTION_VIBRATION_THRESHOLD", "3.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Detection.VibrationThreshold != 3.5 {
		t.Errorf("Detection.VibrationThreshold = %f, want 3.5", cfg.Detection.VibrationThreshold)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Driver: "memory"},
		Detection: DetectionConfig{
			EarthquakeThreshold:   15,
			VibrationThreshold:    5,
			AftershockWindowHours: 72,
		},
		Notifications: NotificationsConfig{
			CooldownMinutes: 15,
			MaxParallel:     4,
			CooldownBackend: "store",
		},
		WhatsApp: WhatsAppConfig{Timeout: 10 * time.Second},
		Pipeline: PipelineConfig{Workers: 2, QueueSize: 16, SettingsRefresh: 30 * time.Second},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing telegram token when enabled",
			mutate:  func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, MaxRetries: 3} },
			wantErr: true,
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "mysql" },
			wantErr: true,
		},
		{
			name:    "sqlite without dsn",
			mutate:  func(c *Config) { c.Storage.Driver = "sqlite" },
			wantErr: true,
		},
		{
			name:    "vibration threshold above earthquake threshold",
			mutate:  func(c *Config) { c.Detection.VibrationThreshold = 20 },
			wantErr: true,
		},
		{
			name:    "NaN earthquake threshold",
			mutate:  func(c *Config) { c.Detection.EarthquakeThreshold = math.NaN() },
			wantErr: true,
		},
		{
			name:    "infinite earthquake threshold",
			mutate:  func(c *Config) { c.Detection.EarthquakeThreshold = math.Inf(1) },
			wantErr: true,
		},
		{
			name:    "aftershock window too short",
			mutate:  func(c *Config) { c.Detection.AftershockWindowHours = 0 },
			wantErr: true,
		},
		{
			name: "invalid contact",
			mutate: func(c *Config) {
				c.Notifications.EmergencyContacts = []models.Contact{{Name: "nobody"}}
			},
			wantErr: true,
		},
		{
			name:    "redis backend without addr",
			mutate:  func(c *Config) { c.Notifications.CooldownBackend = "redis" },
			wantErr: true,
		},
		{
			name:    "mqtt without broker",
			mutate:  func(c *Config) { c.MQTT = MQTTConfig{Enabled: true, Topic: "t"} },
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Pipeline.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
