package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	WhatsApp      WhatsAppConfig      `mapstructure:"whatsapp"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MQTT          MQTTConfig          `mapstructure:"mqtt"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// DetectionConfig holds the default classification and analysis settings.
// Administrative overrides stored in the database take precedence.
type DetectionConfig struct {
	EarthquakeThreshold   float64 `mapstructure:"earthquake_threshold"`
	VibrationThreshold    float64 `mapstructure:"vibration_threshold"`
	AftershockWindowHours int     `mapstructure:"aftershock_window_hours"`
}

// NotificationsConfig holds notification dispatch configuration
type NotificationsConfig struct {
	CooldownMinutes   int              `mapstructure:"cooldown_minutes"`
	EmergencyContacts []models.Contact `mapstructure:"emergency_contacts"`
	NotifyVibrations  bool             `mapstructure:"notify_vibrations"`
	MaxParallel       int              `mapstructure:"max_parallel"`
	CooldownBackend   string           `mapstructure:"cooldown_backend"`
}

// WhatsAppConfig holds WhatsApp gateway configuration. With no api_url or
// token, deliveries are simulated.
type WhatsAppConfig struct {
	APIURL     string        `mapstructure:"api_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	OpsChatID      string        `mapstructure:"ops_chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// RedisConfig holds the shared cooldown gate configuration
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MQTTConfig holds the sensor ingestion subscriber configuration
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

// PipelineConfig holds background processing configuration
type PipelineConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	SettingsRefresh time.Duration `mapstructure:"settings_refresh"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. QUAKESENTINEL_STORAGE_DSN
	v.SetEnvPrefix("QUAKESENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/quakesentinel.db")
	v.SetDefault("storage.max_open_conns", 10)

	// Detection defaults
	v.SetDefault("detection.earthquake_threshold", models.DefaultEarthquakeThreshold)
	v.SetDefault("detection.vibration_threshold", models.DefaultVibrationThreshold)
	v.SetDefault("detection.aftershock_window_hours", models.DefaultAftershockWindowHours)

	// Notification defaults
	v.SetDefault("notifications.cooldown_minutes", models.DefaultCooldownMinutes)
	v.SetDefault("notifications.notify_vibrations", false)
	v.SetDefault("notifications.max_parallel", 4)
	v.SetDefault("notifications.cooldown_backend", "store")

	// WhatsApp defaults
	v.SetDefault("whatsapp.timeout", "10s")
	v.SetDefault("whatsapp.max_retries", 2)

	// Telegram defaults
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "quakesentinel:")

	// MQTT defaults
	v.SetDefault("mqtt.client_id", "quakesentinel")
	v.SetDefault("mqtt.topic", "quakesentinel/+/accel")
	v.SetDefault("mqtt.qos", 1)

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.settings_refresh", "30s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres, memory")
	}

	// Validate Detection config
	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}

	// Validate Notifications config
	if c.Notifications.CooldownMinutes < 0 {
		return fmt.Errorf("notifications.cooldown_minutes must not be negative")
	}
	if c.Notifications.MaxParallel < 1 {
		return fmt.Errorf("notifications.max_parallel must be at least 1")
	}
	switch c.Notifications.CooldownBackend {
	case "store":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when notifications.cooldown_backend is redis")
		}
	default:
		return fmt.Errorf("notifications.cooldown_backend must be one of: store, redis")
	}

	// Validate WhatsApp config
	if c.WhatsApp.Timeout <= 0 {
		return fmt.Errorf("whatsapp.timeout must be positive")
	}
	if c.WhatsApp.MaxRetries < 0 {
		return fmt.Errorf("whatsapp.max_retries must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate MQTT config
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	// Validate Pipeline config
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline.queue_size must be at least 1")
	}
	if c.Pipeline.SettingsRefresh < time.Second {
		return fmt.Errorf("pipeline.settings_refresh must be at least 1 second")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Settings returns the configured defaults as a settings snapshot.
func (c *Config) Settings() models.Settings {
	return models.Settings{
		EarthquakeThreshold:  c.Detection.EarthquakeThreshold,
		VibrationThreshold:   c.Detection.VibrationThreshold,
		AftershockWindow:     time.Duration(c.Detection.AftershockWindowHours) * time.Hour,
		NotificationCooldown: time.Duration(c.Notifications.CooldownMinutes) * time.Minute,
		EmergencyContacts:    append([]models.Contact(nil), c.Notifications.EmergencyContacts...),
	}
}
