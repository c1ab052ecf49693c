// Package settings resolves the effective detection and notification settings
// from configured defaults and administrative overrides held in the store.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/models"
)

// Source is the part of the store the provider reads and writes.
type Source interface {
	Settings(ctx context.Context) (map[string]string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Provider hands out immutable settings snapshots. Readers never block on a
// refresh; a failed refresh keeps the previous snapshot.
type Provider struct {
	source   Source
	defaults models.Settings
	current  atomic.Pointer[models.Settings]
	writeMu  sync.Mutex
}

// NewProvider creates a provider whose initial snapshot is defaults.
func NewProvider(source Source, defaults models.Settings) *Provider {
	p := &Provider{source: source, defaults: defaults}
	snapshot := defaults
	snapshot.EmergencyContacts = defaults.Contacts()
	p.current.Store(&snapshot)
	return p
}

// Snapshot returns the current settings. The returned value shares no
// mutable state with the provider.
func (p *Provider) Snapshot() models.Settings {
	s := *p.current.Load()
	s.EmergencyContacts = s.Contacts()
	return s
}

// Refresh reloads overrides from the source.
func (p *Provider) Refresh(ctx context.Context) error {
	rows, err := p.source.Settings(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	resolved, err := Resolve(p.defaults, rows)
	if err != nil {
		return err
	}
	p.current.Store(&resolved)
	return nil
}

// Run refreshes on every tick until ctx is cancelled.
func (p *Provider) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				logger.Warn("Settings refresh failed, keeping previous values: %v", err)
			}
		}
	}
}

// Update validates and stores one administrative setting, then refreshes.
// A value that would make the effective settings invalid is rejected before
// anything is written.
func (p *Provider) Update(ctx context.Context, key, value string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	rows, err := p.source.Settings(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	rows[key] = value
	if _, err := Resolve(p.defaults, rows); err != nil {
		return err
	}

	if err := p.source.PutSetting(ctx, key, value); err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	logger.Info("Setting %s updated", key)
	return p.Refresh(ctx)
}

// UpdateContacts replaces the emergency contact list.
func (p *Provider) UpdateContacts(ctx context.Context, contacts []models.Contact) error {
	if contacts == nil {
		contacts = []models.Contact{}
	}
	raw, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("encoding contacts: %w", err)
	}
	return p.Update(ctx, models.SettingEmergencyContacts, string(raw))
}

// Resolve applies stored overrides on top of defaults. Unknown keys are
// ignored; malformed values fail with models.ErrInvalidInput.
func Resolve(defaults models.Settings, rows map[string]string) (models.Settings, error) {
	s := defaults
	s.EmergencyContacts = defaults.Contacts()

	for key, value := range rows {
		switch key {
		case models.SettingEarthquakeThreshold:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return s, invalid(key, value, err)
			}
			s.EarthquakeThreshold = f
		case models.SettingVibrationThreshold:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return s, invalid(key, value, err)
			}
			s.VibrationThreshold = f
		case models.SettingAftershockWindowHours:
			n, err := strconv.Atoi(value)
			if err != nil {
				return s, invalid(key, value, err)
			}
			s.AftershockWindow = time.Duration(n) * time.Hour
		case models.SettingCooldownMinutes:
			n, err := strconv.Atoi(value)
			if err != nil {
				return s, invalid(key, value, err)
			}
			s.NotificationCooldown = time.Duration(n) * time.Minute
		case models.SettingEmergencyContacts:
			var contacts []models.Contact
			if err := json.Unmarshal([]byte(value), &contacts); err != nil {
				return s, invalid(key, value, err)
			}
			s.EmergencyContacts = contacts
		}
	}

	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	return s, nil
}

// Keys lists the settings accepted by Update.
func Keys() []string {
	return []string{
		models.SettingEarthquakeThreshold,
		models.SettingVibrationThreshold,
		models.SettingAftershockWindowHours,
		models.SettingCooldownMinutes,
		models.SettingEmergencyContacts,
	}
}

func invalid(key, value string, err error) error {
	return fmt.Errorf("%w: setting %s=%q: %w", models.ErrInvalidInput, key, value, err)
}
