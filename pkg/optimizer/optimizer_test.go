package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/jameshartig/gridplan/pkg/hass"
	"github.com/jameshartig/gridplan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSettings() types.Settings {
	return types.Settings{
		PriceBuySensor:         "sensor.price_buy",
		PriceSellSensor:        "sensor.price_sell",
		BatterySOCSensor:       "sensor.battery_soc",
		PVForecastSensor:       "sensor.pv_forecast",
		InverterModeEntity:     "input_select.inverter_mode",
		DefaultMode:            "Self Use",
		BatteryCapacityKWH:     10,
		BatteryMinSOC:          20,
		BatteryMaxChargeKW:     5,
		AvgConsumptionKW:       0.5,
		MaxGridPowerKW:         10,
		ModeChargeBattery:      "Charge Battery",
		ModeChargeEV:           "Charge EV",
		ModeChargeEVAndBattery: "Charge EV And Battery",
		ModeSell:               "Sell",
		ModeSellSolarOnly:      "Sell Solar Only",
		ModeGridOnly:           "Grid Only",
	}
}

func setPrices(h *hass.Mock, entityID string, day time.Time, values map[int]float64) {
	entries := make([]any, 0, len(values))
	for hour, value := range values {
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.Local)
		entries = append(entries, map[string]any{
			"start": start.Format(time.RFC3339),
			"end":   start.Add(time.Hour).Format(time.RFC3339),
			"value": value,
		})
	}
	h.SetState(entityID, "0", map[string]any{"data": entries})
}

func chargeHourSet(result *types.OptimizationResult) map[int]bool {
	hours := map[int]bool{}
	for _, ch := range result.ChargeHours {
		hours[ch.Hour] = true
	}
	return hours
}

func TestOptimize(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.Local)

	t.Run("no buy prices aborts with warning", func(t *testing.T) {
		h := hass.NewMock()
		result := New(h, baseSettings()).Optimize(ctx, now, 24)

		assert.Empty(t, result.ChargeHours)
		assert.Empty(t, result.DischargeHours)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "No buy price data")
	})

	t.Run("sell above buy flagged as anomaly", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("sensor.battery_soc", "100", nil)
		setPrices(h, "sensor.price_buy", now, map[int]float64{0: 0.10, 1: 0.05})
		setPrices(h, "sensor.price_sell", now, map[int]float64{0: 0.20})

		result := New(h, baseSettings()).Optimize(ctx, now, 24)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "Price anomaly")
	})

	t.Run("cheapest hour selected for charging", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("sensor.battery_soc", "100", nil)
		setPrices(h, "sensor.price_buy", now, map[int]float64{0: 0.10, 1: 0.05, 2: 0.30})

		result := New(h, baseSettings()).Optimize(ctx, now, 24)

		assert.False(t, result.EmergencyCharge)
		assert.False(t, result.SkipNightCharge)
		// deficit 4 kWh at 5 kW needs exactly one hour
		require.Len(t, result.ChargeHours, 1)
		assert.Equal(t, 1, result.ChargeHours[0].Hour)
		assert.Equal(t, 0.05, result.ChargeHours[0].Value)
	})

	t.Run("emergency claims cheapest hours before next cheap hour", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("sensor.battery_soc", "20", nil)
		setPrices(h, "sensor.price_buy", now, map[int]float64{
			0: 0.35, 1: 0.30, 2: 0.31, 3: 0.32, 4: 0.33, 5: 0.34,
			6: 0.05, 7: 0.06, 8: 0.07, 9: 0.40, 10: 0.41, 11: 0.42,
		})

		s := baseSettings()
		s.AvgConsumptionKW = 1.0
		s.BatteryMaxChargeKW = 3
		result := New(h, s).Optimize(ctx, now, 24)

		assert.True(t, result.EmergencyCharge)
		assert.Contains(t, result.EmergencyReason, "insufficient")
		// 6 kWh deficit at 3 kW needs the two cheapest pre-cheap hours
		require.GreaterOrEqual(t, len(result.ChargeHours), 2)
		assert.Equal(t, 1, result.ChargeHours[0].Hour)
		assert.Equal(t, 2, result.ChargeHours[1].Hour)
	})

	t.Run("night hours excluded when PV covers daylight", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("sensor.battery_soc", "20", nil)
		prices := map[int]float64{2: 0.01, 10: 0.05}
		for _, hour := range []int{0, 1, 3, 4, 5, 6, 7, 8, 9, 11} {
			prices[hour] = 0.30
		}
		setPrices(h, "sensor.price_buy", now, prices)

		pvEntries := make([]any, 0, 9)
		for hour := 8; hour <= 16; hour++ {
			pvEntries = append(pvEntries, map[string]any{
				"period_start": time.Date(2026, 8, 30, hour, 0, 0, 0, time.Local).Format(time.RFC3339),
				"pv_estimate":  1.0,
			})
		}
		h.SetState("sensor.pv_forecast", "9", map[string]any{"detailedHourly": pvEntries})

		result := New(h, baseSettings()).Optimize(ctx, now, 24)

		assert.True(t, result.SkipNightCharge)
		assert.False(t, result.EmergencyCharge)
		require.Len(t, result.ChargeHours, 1)
		assert.Equal(t, 10, result.ChargeHours[0].Hour)

		solarHours := map[int]bool{}
		for _, sh := range result.SolarHours {
			solarHours[sh.Hour] = true
		}
		assert.True(t, solarHours[8])
		assert.False(t, solarHours[10], "charge hour not claimed as solar")
	})

	t.Run("profitable sell hour selected for discharge", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("sensor.battery_soc", "100", nil)
		setPrices(h, "sensor.price_buy", now, map[int]float64{
			0: 0.10, 1: 0.20, 2: 0.21, 3: 0.22, 4: 0.23, 5: 0.24,
		})
		setPrices(h, "sensor.price_sell", now, map[int]float64{3: 0.50, 4: 0.01})

		s := baseSettings()
		s.AvgConsumptionKW = 0.1
		result := New(h, s).Optimize(ctx, now, 24)

		assert.Empty(t, result.ChargeHours)
		require.Len(t, result.DischargeHours, 1)
		assert.Equal(t, 3, result.DischargeHours[0].Hour)
		assert.InDelta(t, 0.40, result.DischargeHours[0].Profit, 1e-9)
	})

	t.Run("EV urgent when deadline too close", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("sensor.battery_soc", "100", nil)
		h.SetState("binary_sensor.ev_connected", "on", nil)
		h.SetState("sensor.ev_soc", "20", nil)
		setPrices(h, "sensor.price_buy", now, map[int]float64{0: 0.10, 1: 0.05})

		s := baseSettings()
		s.EVEnabled = true
		s.EVConnectedSensor = "binary_sensor.ev_connected"
		s.EVSOCSensor = "sensor.ev_soc"
		s.EVBatteryCapacityKWH = 60
		s.EVMaxChargeKW = 7
		s.EVTargetSOC = 80
		s.EVReadyBy = "02:00"
		result := New(h, s).Optimize(ctx, now, 24)

		assert.True(t, result.EVUrgentCharge)
		assert.Contains(t, result.EVUrgentReason, "EV needs")
	})

	t.Run("larger battery never increases deficit", func(t *testing.T) {
		deficitFor := func(capacity float64) float64 {
			h := hass.NewMock()
			h.SetState("sensor.battery_soc", "80", nil)
			setPrices(h, "sensor.price_buy", now, map[int]float64{0: 0.10, 1: 0.05, 2: 0.30})
			s := baseSettings()
			s.BatteryCapacityKWH = capacity
			return New(h, s).Optimize(ctx, now, 24).TotalDeficit
		}

		assert.LessOrEqual(t, deficitFor(10), deficitFor(5))
	})
}

func TestCycleCost(t *testing.T) {
	h := hass.NewMock()

	t.Run("amortizes full cycle", func(t *testing.T) {
		s := baseSettings()
		s.BatteryCost = 4000
		s.BatteryCycles = 6000
		// (4000/6000) / (2*10)
		assert.InDelta(t, 0.0333, New(h, s).cycleCost(), 0.0001)
	})

	t.Run("zero when unset", func(t *testing.T) {
		assert.Zero(t, New(h, baseSettings()).cycleCost())
	})
}

func TestEffectiveChargePower(t *testing.T) {
	t.Run("scaled to grid limit", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("binary_sensor.ev_connected", "on", nil)

		s := baseSettings()
		s.EVEnabled = true
		s.EVConnectedSensor = "binary_sensor.ev_connected"
		s.EVMaxChargeKW = 7
		s.BatteryMaxChargeKW = 5
		s.MaxGridPowerKW = 6

		battery, ev := New(h, s).effectiveChargePower()
		assert.InDelta(t, 2.5, battery, 1e-9)
		assert.InDelta(t, 3.5, ev, 1e-9)
	})

	t.Run("unscaled under limit", func(t *testing.T) {
		h := hass.NewMock()
		battery, ev := New(h, baseSettings()).effectiveChargePower()
		assert.Equal(t, 5.0, battery)
		assert.Zero(t, ev)
	})
}

func TestSelectChargeMode(t *testing.T) {
	evSettings := func() types.Settings {
		s := baseSettings()
		s.EVEnabled = true
		s.EVConnectedSensor = "binary_sensor.ev_connected"
		return s
	}

	t.Run("EV disabled charges battery", func(t *testing.T) {
		assert.Equal(t, "Charge Battery", New(hass.NewMock(), baseSettings()).SelectChargeMode())
	})

	t.Run("EV connected with battery full charges EV only", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("binary_sensor.ev_connected", "on", nil)
		h.SetState("sensor.battery_soc", "100", nil)
		assert.Equal(t, "Charge EV", New(h, evSettings()).SelectChargeMode())
	})

	t.Run("EV connected with battery not full charges both", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("binary_sensor.ev_connected", "on", nil)
		h.SetState("sensor.battery_soc", "60", nil)
		assert.Equal(t, "Charge EV And Battery", New(h, evSettings()).SelectChargeMode())
	})

	t.Run("EV not connected charges battery", func(t *testing.T) {
		h := hass.NewMock()
		h.SetState("binary_sensor.ev_connected", "off", nil)
		assert.Equal(t, "Charge Battery", New(h, evSettings()).SelectChargeMode())
	})
}

func TestModeForAction(t *testing.T) {
	o := New(hass.NewMock(), baseSettings())

	assert.Equal(t, "Charge Battery", o.ModeForAction(types.ActionCharge))
	assert.Equal(t, "Sell", o.ModeForAction("sell"))
	assert.Equal(t, "Sell Solar Only", o.ModeForAction("solar_only"))
	assert.Equal(t, "Grid Only", o.ModeForAction("grid_only"))
	assert.Equal(t, "Custom Mode", o.ModeForAction("Custom Mode"))
}
