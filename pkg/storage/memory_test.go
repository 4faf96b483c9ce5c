package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jameshartig/gridplan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()

	t.Run("empty load", func(t *testing.T) {
		schedule, version, err := m.LoadSchedule(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, version)
		assert.Empty(t, schedule)
	})

	t.Run("schedule round trip", func(t *testing.T) {
		schedule := types.ScheduleDocument{
			"2026-08-30": {"3": {Action: "Sell", FullHour: true}},
		}
		require.NoError(t, m.SaveSchedule(ctx, schedule, 1))

		got, version, err := m.LoadSchedule(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, version)
		assert.Equal(t, schedule, got)

		// the stored copy must not alias the caller's document
		schedule["2026-08-30"]["3"] = types.ScheduleEntry{Action: "changed"}
		got, _, err = m.LoadSchedule(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Sell", got["2026-08-30"]["3"].Action)
	})

	t.Run("settings round trip", func(t *testing.T) {
		settings := types.Settings{DefaultMode: "Self Use", DaysToKeep: 7}
		require.NoError(t, m.SetSettings(ctx, settings, 2))

		got, version, err := m.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, version)
		assert.Equal(t, settings, got)
	})

	t.Run("mode history range", func(t *testing.T) {
		now := time.Now().UTC()
		require.NoError(t, m.InsertModeChange(ctx, types.ModeChange{Timestamp: now.Add(-2 * time.Hour), Mode: "old"}))
		require.NoError(t, m.InsertModeChange(ctx, types.ModeChange{Timestamp: now, Mode: "current"}))

		changes, err := m.GetModeHistory(ctx, now.Add(-time.Minute), now.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, "current", changes[0].Mode)
	})
}
