package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleEntryJSON(t *testing.T) {
	t.Run("falsy fields omitted", func(t *testing.T) {
		b, err := json.Marshal(ScheduleEntry{Action: "sell"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"action":"sell"}`, string(b))
	})

	t.Run("round-trip", func(t *testing.T) {
		limit := 80
		minutes := 30
		entry := ScheduleEntry{
			Action:       ActionCharge,
			SOCLimit:     &limit,
			SOCLimitType: SOCLimitAuto,
			Minutes:      &minutes,
			EVCharging:   true,
			Manual:       true,
		}
		b, err := json.Marshal(entry)
		require.NoError(t, err)

		var got ScheduleEntry
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, entry, got)
	})
}

func TestScheduleDocumentClone(t *testing.T) {
	doc := ScheduleDocument{
		"2026-03-10": {"5": {Action: "sell"}},
	}
	clone := doc.Clone()
	clone["2026-03-10"]["5"] = ScheduleEntry{Action: "other"}

	assert.Equal(t, "sell", doc["2026-03-10"]["5"].Action)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "2026-03-10", DateKey(time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, "0", HourKey(0))
	assert.Equal(t, "23", HourKey(23))
}
