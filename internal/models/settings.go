package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Documented defaults used when a setting is unset.
const (
	DefaultEarthquakeThreshold   = 15.0
	DefaultVibrationThreshold    = 5.0
	DefaultAftershockWindowHours = 72
	DefaultCooldownMinutes       = 15
)

// Setting keys as stored by the administrative channel.
const (
	SettingEarthquakeThreshold   = "earthquake_threshold"
	SettingVibrationThreshold    = "vibration_threshold"
	SettingAftershockWindowHours = "aftershock_window_hours"
	SettingCooldownMinutes       = "notification_cooldown_minutes"
	SettingEmergencyContacts     = "emergency_contacts"
)

// Contact is an emergency contact. A contact receives one delivery per
// channel it has an address for.
type Contact struct {
	Name           string `json:"name" mapstructure:"name"`
	Phone          string `json:"phone,omitempty" mapstructure:"phone"`
	TelegramChatID string `json:"telegram_chat_id,omitempty" mapstructure:"telegram_chat_id"`
}

// Validate checks that the contact is reachable on at least one channel.
func (c Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("contact name must not be empty")
	}
	if strings.TrimSpace(c.Phone) == "" && strings.TrimSpace(c.TelegramChatID) == "" {
		return fmt.Errorf("contact %q needs a phone or a telegram chat id", c.Name)
	}
	return nil
}

// Settings is an immutable configuration snapshot taken once per pipeline
// invocation. Values are never mutated after construction; use With* copies.
type Settings struct {
	EarthquakeThreshold  float64       `json:"earthquake_threshold"`
	VibrationThreshold   float64       `json:"vibration_threshold"`
	AftershockWindow     time.Duration `json:"aftershock_window"`
	NotificationCooldown time.Duration `json:"notification_cooldown"`
	EmergencyContacts    []Contact     `json:"emergency_contacts"`
}

// DefaultSettings returns the documented defaults with no contacts.
func DefaultSettings() Settings {
	return Settings{
		EarthquakeThreshold:  DefaultEarthquakeThreshold,
		VibrationThreshold:   DefaultVibrationThreshold,
		AftershockWindow:     DefaultAftershockWindowHours * time.Hour,
		NotificationCooldown: DefaultCooldownMinutes * time.Minute,
	}
}

// Threshold returns a named threshold in m/s².
func (s Settings) Threshold(name string) (float64, error) {
	switch name {
	case SettingEarthquakeThreshold:
		return s.EarthquakeThreshold, nil
	case SettingVibrationThreshold:
		return s.VibrationThreshold, nil
	default:
		return 0, fmt.Errorf("unknown threshold %q", name)
	}
}

// Contacts returns a copy of the emergency contact list.
func (s Settings) Contacts() []Contact {
	out := make([]Contact, len(s.EmergencyContacts))
	copy(out, s.EmergencyContacts)
	return out
}

// CooldownMinutes returns the notification cooldown in whole minutes.
func (s Settings) CooldownMinutes() int {
	return int(s.NotificationCooldown / time.Minute)
}

// AftershockWindowHours returns the aftershock window in whole hours.
func (s Settings) AftershockWindowHours() int {
	return int(s.AftershockWindow / time.Hour)
}

// Validate checks that all settings are usable.
func (s Settings) Validate() error {
	if !finite(s.EarthquakeThreshold) || !finite(s.VibrationThreshold) {
		return errors.New("thresholds must be finite numbers")
	}
	if s.EarthquakeThreshold <= 0 {
		return errors.New("earthquake threshold must be positive")
	}
	if s.VibrationThreshold < 0 {
		return errors.New("vibration threshold must not be negative")
	}
	if s.VibrationThreshold > s.EarthquakeThreshold {
		return errors.New("vibration threshold must not exceed earthquake threshold")
	}
	if s.AftershockWindow < time.Hour {
		return errors.New("aftershock window must be at least 1 hour")
	}
	if s.NotificationCooldown < 0 {
		return errors.New("notification cooldown must not be negative")
	}
	for _, c := range s.EmergencyContacts {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
