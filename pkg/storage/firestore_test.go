package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jameshartig/gridplan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	// Check if emulator is running or configured
	// We assume it is running on localhost:8087 as per task
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")

	// Use a test project ID
	projectID := "test-project-id"

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: projectID,
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("ScheduleEmpty", func(t *testing.T) {
		schedule, version, err := f.LoadSchedule(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, version)
		assert.Empty(t, schedule)
	})

	t.Run("Schedule", func(t *testing.T) {
		limit := 100
		schedule := types.ScheduleDocument{
			"2026-08-30": {
				"2": {Action: "Charge Battery", SOCLimit: &limit, SOCLimitType: types.SOCLimitMax, FullHour: true},
				"9": {Action: "Sell", Manual: true},
			},
		}
		require.NoError(t, f.SaveSchedule(ctx, schedule, types.CurrentScheduleVersion))

		got, version, err := f.LoadSchedule(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentScheduleVersion, version)
		assert.Equal(t, schedule, got)

		t.Run("Overwrite", func(t *testing.T) {
			delete(schedule["2026-08-30"], "9")
			require.NoError(t, f.SaveSchedule(ctx, schedule, types.CurrentScheduleVersion))

			got, _, err := f.LoadSchedule(ctx)
			require.NoError(t, err)
			assert.Equal(t, schedule, got)
		})
	})

	t.Run("Settings", func(t *testing.T) {
		settings := types.Settings{
			DefaultMode:        "Self Use",
			BatteryCapacityKWH: 10,
			BatteryMinSOC:      20,
			AvgConsumptionKW:   0.6,
		}
		require.NoError(t, f.SetSettings(ctx, settings, 1))

		gotSettings, version, err := f.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, version)
		assert.Equal(t, settings.DefaultMode, gotSettings.DefaultMode)
		assert.Equal(t, settings.BatteryCapacityKWH, gotSettings.BatteryCapacityKWH)
		assert.Equal(t, settings.BatteryMinSOC, gotSettings.BatteryMinSOC)
	})

	t.Run("ModeHistory", func(t *testing.T) {
		now := time.Now().Truncate(time.Second).UTC()
		c1 := types.ModeChange{Timestamp: now, Mode: "Charge Battery", Action: types.ActionCharge}
		require.NoError(t, f.InsertModeChange(ctx, c1))

		changes, err := f.GetModeHistory(ctx, now.Add(-1*time.Minute), now.Add(1*time.Minute))
		require.NoError(t, err)

		foundC1 := false
		for _, c := range changes {
			if c.Mode == "Charge Battery" && c.Timestamp.Equal(now) {
				foundC1 = true
			}
		}
		assert.True(t, foundC1, "did not find inserted mode change")

		t.Run("RangeFiltering", func(t *testing.T) {
			c2 := types.ModeChange{Timestamp: now.Add(-2 * time.Hour), Mode: "Self Use", Reason: "outside range"}
			c3 := types.ModeChange{Timestamp: now.Add(10 * time.Second), Mode: "Sell"}
			require.NoError(t, f.InsertModeChange(ctx, c2))
			require.NoError(t, f.InsertModeChange(ctx, c3))

			filtered, err := f.GetModeHistory(ctx, now.Add(-1*time.Minute), now.Add(1*time.Minute))
			require.NoError(t, err)

			foundC3 := false
			for _, c := range filtered {
				assert.NotEqual(t, "outside range", c.Reason, "change outside range should not be returned")
				if c.Mode == "Sell" && c.Timestamp.Equal(c3.Timestamp) {
					foundC3 = true
				}
			}
			assert.True(t, foundC3, "did not find c3 in filtered results")
		})
	})
}
