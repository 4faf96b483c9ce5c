package config

import (
	"context"
	"testing"

	"github.com/jameshartig/gridplan/pkg/storage"
	"github.com/jameshartig/gridplan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() types.Settings {
	return types.Settings{
		InverterModeEntity: "input_select.inverter_mode",
		DefaultMode:        "Self Use",
		BatteryCapacityKWH: 10,
		BatteryMinSOC:      20,
		AvgConsumptionKW:   0.6,
		MaxGridPowerKW:     15,
		EVTargetSOC:        80,
		OptimizeInterval:   types.OptimizeIntervalManual,
		DaysToKeep:         7,
	}
}

func TestManagerLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("migrates and persists defaults", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		m := NewManager(db)
		require.NoError(t, m.Load(ctx))

		s := m.Settings()
		assert.Equal(t, 20, s.BatteryMinSOC)
		assert.Equal(t, 0.6, s.AvgConsumptionKW)
		assert.Equal(t, 7, s.DaysToKeep)
		assert.Equal(t, types.OptimizeIntervalManual, s.OptimizeInterval)

		_, version, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
	})

	t.Run("current version untouched", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		stored := validSettings()
		stored.BatteryMinSOC = 35
		require.NoError(t, db.SetSettings(ctx, stored, types.CurrentSettingsVersion))

		m := NewManager(db)
		require.NoError(t, m.Load(ctx))
		assert.Equal(t, 35, m.Settings().BatteryMinSOC)
	})
}

func TestManagerUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("persists valid settings", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		m := NewManager(db)
		require.NoError(t, m.Load(ctx))

		s := validSettings()
		s.DefaultMode = "Back-Up"
		require.NoError(t, m.Update(ctx, s))
		assert.Equal(t, "Back-Up", m.Settings().DefaultMode)

		stored, _, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Back-Up", stored.DefaultMode)
	})

	t.Run("rejects invalid settings without persisting", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		m := NewManager(db)
		require.NoError(t, m.Load(ctx))
		require.NoError(t, m.Update(ctx, validSettings()))

		bad := validSettings()
		bad.BatteryMinSOC = 150
		assert.Error(t, m.Update(ctx, bad))
		assert.Equal(t, 20, m.Settings().BatteryMinSOC)
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Validate(validSettings()))
	})

	t.Run("missing inverter entity", func(t *testing.T) {
		s := validSettings()
		s.InverterModeEntity = ""
		assert.ErrorContains(t, Validate(s), "inverterModeEntity")
	})

	t.Run("missing default mode", func(t *testing.T) {
		s := validSettings()
		s.DefaultMode = ""
		assert.ErrorContains(t, Validate(s), "defaultMode")
	})

	t.Run("bad ready by", func(t *testing.T) {
		s := validSettings()
		s.EVEnabled = true
		s.EVReadyBy = "7am"
		assert.ErrorContains(t, Validate(s), "evReadyBy")
	})

	t.Run("bad interval", func(t *testing.T) {
		s := validSettings()
		s.OptimizeInterval = "weekly"
		assert.ErrorContains(t, Validate(s), "optimizeInterval")
	})
}
