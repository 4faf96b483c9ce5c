// Package forecast reads hourly PV production forecasts from a Home
// Assistant forecast sensor. Several integration formats are supported
// (Solcast, Forecast.Solar and a couple of generic shapes) and all
// collapse to hourly kWh records.
package forecast

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/jameshartig/gridplan/pkg/hass"
	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/types"
)

// solarWeights is the share of a day's production assigned to each
// daylight hour when only a daily total is available.
var solarWeights = map[int]float64{
	6: 0.02, 7: 0.05, 8: 0.08, 9: 0.11, 10: 0.13, 11: 0.14,
	12: 0.14, 13: 0.13, 14: 0.11, 15: 0.08, 16: 0.05, 17: 0.02,
	18: 0.01,
}

// Parser reads a PV forecast sensor.
type Parser struct {
	reader   hass.StateReader
	entityID string
}

// NewParser returns a Parser over the given sensor. An empty entityID is
// allowed and yields zero forecasts.
func NewParser(r hass.StateReader, entityID string) *Parser {
	return &Parser{reader: r, entityID: entityID}
}

// Hourly returns the hourly forecast for the next hoursAhead hours. Entries
// more than an hour in the past are dropped. It never fails: an absent or
// unparseable sensor yields an all-zero forecast.
func (p *Parser) Hourly(ctx context.Context, now time.Time, hoursAhead int) []types.ForecastHour {
	if p.entityID == "" {
		log.Ctx(ctx).DebugContext(ctx, "no PV forecast sensor configured")
		return zeroForecast(now, hoursAhead)
	}

	state, ok := p.reader.GetState(p.entityID)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "PV forecast sensor not found", slog.String("entityID", p.entityID))
		return zeroForecast(now, hoursAhead)
	}

	if hours := parseAttributes(state.Attributes, now); hours != nil {
		return hours
	}

	// the sensor state itself may be a daily kWh total
	if daily, err := strconv.ParseFloat(state.Value, 64); err == nil {
		return distributeDaily(daily, now, hoursAhead)
	}

	log.Ctx(ctx).WarnContext(ctx, "could not parse PV forecast", slog.String("entityID", p.entityID))
	return zeroForecast(now, hoursAhead)
}

// Sum returns the total forecast kWh over the next hoursAhead hours.
func (p *Parser) Sum(ctx context.Context, now time.Time, hoursAhead int) float64 {
	var total float64
	for _, h := range p.Hourly(ctx, now, hoursAhead) {
		total += h.KWH
	}
	return total
}

// RangeSum returns the forecast kWh on date for hours in [startHour, endHour).
func (p *Parser) RangeSum(ctx context.Context, now time.Time, date string, startHour, endHour int) float64 {
	var total float64
	for _, h := range p.Hourly(ctx, now, 48) {
		if h.Date == date && h.Hour >= startHour && h.Hour < endHour {
			total += h.KWH
		}
	}
	return total
}

func parseAttributes(attrs map[string]any, now time.Time) []types.ForecastHour {
	if v, ok := attrs["forecasts"].([]any); ok {
		// Solcast publishes 30-minute periods with pv_estimate in kW
		return aggregate(parsePeriods(v, now, 0.5))
	}
	if v, ok := attrs["forecast"].(map[string]any); ok {
		return aggregate(parseForecastSolar(v, now))
	}
	if v, ok := attrs["detailedHourly"].([]any); ok {
		return parsePeriods(v, now, 1.0)
	}
	if v, ok := attrs["data"].([]any); ok {
		return aggregate(parseGeneric(v, now))
	}
	if v, ok := attrs["hourly"]; ok {
		return parseHourly(v, now)
	}
	return nil
}

// parsePeriods handles Solcast-style entries with period_start and a kW
// pv_estimate. scale converts the estimate to kWh for the period length.
func parsePeriods(entries []any, now time.Time, scale float64) []types.ForecastHour {
	var result []types.ForecastHour
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		start, ok := parseTime(entry["period_start"])
		if !ok || tooOld(start, now) {
			continue
		}
		estimate, _ := entry["pv_estimate"].(float64)
		result = append(result, forecastHour(start, estimate*scale))
	}
	return result
}

// parseForecastSolar handles the Forecast.Solar map of timestamp to Wh.
func parseForecastSolar(forecast map[string]any, now time.Time) []types.ForecastHour {
	var result []types.ForecastHour
	for key, raw := range forecast {
		start, ok := parseTime(key)
		if !ok || tooOld(start, now) {
			continue
		}
		wh, ok := raw.(float64)
		if !ok {
			continue
		}
		result = append(result, forecastHour(start, wh/1000.0))
	}
	return result
}

func parseGeneric(entries []any, now time.Time) []types.ForecastHour {
	var result []types.ForecastHour
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		startRaw := entry["start"]
		if startRaw == nil {
			startRaw = entry["time"]
		}
		start, ok := parseTime(startRaw)
		if !ok || tooOld(start, now) {
			continue
		}
		value, ok := entry["value"].(float64)
		if !ok {
			if value, ok = entry["power"].(float64); !ok {
				value, _ = entry["energy"].(float64)
			}
		}
		result = append(result, forecastHour(start, value))
	}
	return result
}

// parseHourly handles a bare list of values starting at hour 0 of today, or
// a map of hour number to value.
func parseHourly(v any, now time.Time) []types.ForecastHour {
	date := types.DateKey(now)
	year, month, day := now.Date()
	at := func(hour int) time.Time {
		return time.Date(year, month, day, hour, 0, 0, 0, now.Location())
	}

	var result []types.ForecastHour
	switch hourly := v.(type) {
	case []any:
		for hour, raw := range hourly {
			if tooOld(at(hour), now) {
				continue
			}
			kwh, _ := raw.(float64)
			result = append(result, types.ForecastHour{Date: date, Hour: hour, KWH: kwh})
		}
	case map[string]any:
		for hourStr, raw := range hourly {
			hour, err := strconv.Atoi(hourStr)
			if err != nil || hour < 0 || hour > 23 || tooOld(at(hour), now) {
				continue
			}
			kwh, _ := raw.(float64)
			result = append(result, types.ForecastHour{Date: date, Hour: hour, KWH: kwh})
		}
		sort.Slice(result, func(i, j int) bool { return result[i].Hour < result[j].Hour })
	default:
		return nil
	}
	return result
}

// aggregate sums sub-hourly records into one record per (date, hour),
// ordered chronologically.
func aggregate(hours []types.ForecastHour) []types.ForecastHour {
	if hours == nil {
		return nil
	}
	type key struct {
		date string
		hour int
	}
	totals := map[key]float64{}
	for _, h := range hours {
		totals[key{h.Date, h.Hour}] += h.KWH
	}

	result := make([]types.ForecastHour, 0, len(totals))
	for k, kwh := range totals {
		result = append(result, types.ForecastHour{Date: k.date, Hour: k.hour, KWH: kwh})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Hour < result[j].Hour
	})
	return result
}

func distributeDaily(dailyTotal float64, now time.Time, hoursAhead int) []types.ForecastHour {
	result := make([]types.ForecastHour, 0, hoursAhead)
	for offset := 0; offset < hoursAhead; offset++ {
		at := now.Add(time.Duration(offset) * time.Hour)
		result = append(result, types.ForecastHour{
			Date: types.DateKey(at),
			Hour: at.Hour(),
			KWH:  dailyTotal * solarWeights[at.Hour()],
		})
	}
	return result
}

func zeroForecast(now time.Time, hoursAhead int) []types.ForecastHour {
	result := make([]types.ForecastHour, 0, hoursAhead)
	for offset := 0; offset < hoursAhead; offset++ {
		at := now.Add(time.Duration(offset) * time.Hour)
		result = append(result, types.ForecastHour{Date: types.DateKey(at), Hour: at.Hour()})
	}
	return result
}

func forecastHour(start time.Time, kwh float64) types.ForecastHour {
	local := start.In(time.Local)
	return types.ForecastHour{Date: types.DateKey(local), Hour: local.Hour(), KWH: kwh}
}

func tooOld(t, now time.Time) bool {
	return t.Before(now.Add(-time.Hour))
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Forecast.Solar keys are naive local timestamps
		t, err = time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t, true
}
