// Package config manages the dynamic settings document: loading it from
// storage, migrating older versions forward and handing out the current
// snapshot.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/storage"
	"github.com/jameshartig/gridplan/pkg/types"
)

// Manager caches the settings document and keeps storage in sync.
type Manager struct {
	db storage.Database

	mu       sync.RWMutex
	settings types.Settings
}

// NewManager returns a Manager backed by db. Call Load before use.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Load reads settings from storage and migrates them to the current
// version, persisting the migrated form.
func (m *Manager) Load(ctx context.Context) error {
	settings, version, err := m.db.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	settings, migrated, err := types.MigrateSettings(settings, version)
	if err != nil {
		return fmt.Errorf("failed to migrate settings: %w", err)
	}
	if migrated {
		log.Ctx(ctx).InfoContext(ctx, "migrated settings",
			slog.Int("fromVersion", version), slog.Int("toVersion", types.CurrentSettingsVersion))
		if err := m.db.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
			return fmt.Errorf("failed to save migrated settings: %w", err)
		}
	}

	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
	return nil
}

// Settings returns the current settings snapshot.
func (m *Manager) Settings() types.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Update validates, persists and caches new settings.
func (m *Manager) Update(ctx context.Context, settings types.Settings) error {
	if err := Validate(settings); err != nil {
		return err
	}
	if err := m.db.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "updated settings")
	return nil
}

// Validate rejects settings that the executor or optimizer cannot operate
// on.
func Validate(s types.Settings) error {
	if s.InverterModeEntity == "" {
		return fmt.Errorf("inverterModeEntity is required")
	}
	if s.DefaultMode == "" {
		return fmt.Errorf("defaultMode is required")
	}
	if s.BatteryMinSOC < 0 || s.BatteryMinSOC > 100 {
		return fmt.Errorf("batteryMinSOC must be 0-100, got %d", s.BatteryMinSOC)
	}
	if s.BatteryCapacityKWH < 0 {
		return fmt.Errorf("batteryCapacityKWH must not be negative")
	}
	if s.EVEnabled {
		if s.EVTargetSOC < 0 || s.EVTargetSOC > 100 {
			return fmt.Errorf("evTargetSOC must be 0-100, got %d", s.EVTargetSOC)
		}
		if s.EVReadyBy != "" {
			if _, err := time.Parse("15:04", s.EVReadyBy); err != nil {
				return fmt.Errorf("evReadyBy must be HH:MM, got %q", s.EVReadyBy)
			}
		}
	}
	switch s.OptimizeInterval {
	case "", types.OptimizeIntervalManual, types.OptimizeIntervalHourly,
		types.OptimizeIntervalEvery6H, types.OptimizeIntervalDaily:
	default:
		return fmt.Errorf("unknown optimizeInterval: %s", s.OptimizeInterval)
	}
	return nil
}
