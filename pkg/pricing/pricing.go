// Package pricing reads hourly buy/sell price curves from Home Assistant
// price sensors. Each sensor carries a "data" attribute: a list of
// {start, end, value} records with RFC3339 timestamps.
package pricing

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jameshartig/gridplan/pkg/hass"
	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/types"
)

// Sensor returns the hourly price records published by the given sensor,
// converted to local time and ordered chronologically. A missing sensor or
// attribute yields an empty slice, never an error.
func Sensor(ctx context.Context, r hass.StateReader, entityID string) []types.PriceRecord {
	if entityID == "" {
		return nil
	}
	state, ok := r.GetState(entityID)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "price sensor not found", slog.String("entityID", entityID))
		return nil
	}

	data, ok := state.Attributes["data"].([]any)
	if !ok || len(data) == 0 {
		log.Ctx(ctx).DebugContext(ctx, "price sensor has no data attribute", slog.String("entityID", entityID))
		return nil
	}

	records := make([]types.PriceRecord, 0, len(data))
	for _, raw := range data {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		start, ok := parseTimestamp(entry["start"])
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "skipping price entry with bad start",
				slog.String("entityID", entityID), slog.Any("start", entry["start"]))
			continue
		}
		value, ok := entry["value"].(float64)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "skipping price entry with bad value",
				slog.String("entityID", entityID), slog.Any("value", entry["value"]))
			continue
		}

		local := start.In(time.Local)
		records = append(records, types.PriceRecord{
			Date:  types.DateKey(local),
			Hour:  local.Hour(),
			Value: value,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		return records[i].Hour < records[j].Hour
	})
	return records
}

func parseTimestamp(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// some integrations publish without seconds
		t, err = time.Parse("2006-01-02T15:04-07:00", strings.Replace(s, "Z", "+00:00", 1))
		if err != nil {
			return time.Time{}, false
		}
	}
	return t, true
}
