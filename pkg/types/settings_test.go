package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSettings(t *testing.T) {
	t.Run("v1: initial defaults", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 20, s.BatteryMinSOC)
		assert.Equal(t, 0.6, s.AvgConsumptionKW)
		assert.Equal(t, 15.0, s.MaxGridPowerKW)
		assert.Equal(t, 80, s.EVTargetSOC)
	})

	t.Run("v1 to v2: retention default", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 1)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 7, s.DaysToKeep)
	})

	t.Run("v2 to v3: optimize interval", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 2)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, OptimizeIntervalManual, s.OptimizeInterval)
	})

	t.Run("configured values survive migration", func(t *testing.T) {
		old := Settings{
			BatteryMinSOC: 10,
			DaysToKeep:    14,
		}
		s, changed, err := MigrateSettings(old, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 10, s.BatteryMinSOC)
		assert.Equal(t, 14, s.DaysToKeep)
	})

	t.Run("no change: current version", func(t *testing.T) {
		current := Settings{
			BatteryMinSOC:    20,
			DaysToKeep:       7,
			OptimizeInterval: OptimizeIntervalDaily,
		}
		s, changed, err := MigrateSettings(current, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, current, s)
	})
}

func TestDischargeKW(t *testing.T) {
	assert.Equal(t, 3.0, Settings{BatteryMaxChargeKW: 3.0}.DischargeKW())
	assert.Equal(t, 5.0, Settings{BatteryMaxChargeKW: 3.0, BatteryMaxDischargeKW: 5.0}.DischargeKW())
}

func TestEVReadyByTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.Local)

	t.Run("later today", func(t *testing.T) {
		s := Settings{EVReadyBy: "17:00"}
		readyBy, ok := s.EVReadyByTime(now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 3, 10, 17, 0, 0, 0, time.Local), readyBy)
	})

	t.Run("already passed rolls to tomorrow", func(t *testing.T) {
		s := Settings{EVReadyBy: "07:00"}
		readyBy, ok := s.EVReadyByTime(now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.Local), readyBy)
	})

	t.Run("unset or invalid", func(t *testing.T) {
		_, ok := Settings{}.EVReadyByTime(now)
		assert.False(t, ok)
		_, ok = Settings{EVReadyBy: "25:99"}.EVReadyByTime(now)
		assert.False(t, ok)
	})
}
