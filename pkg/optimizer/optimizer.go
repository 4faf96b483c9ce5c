// Package optimizer plans day-ahead charge/discharge/solar hours against
// buy/sell price curves and a PV forecast. Optimize is a pure computation
// over the given inputs plus live sensor snapshots read at call time.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jameshartig/gridplan/pkg/forecast"
	"github.com/jameshartig/gridplan/pkg/hass"
	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/pricing"
	"github.com/jameshartig/gridplan/pkg/types"
)

// Optimizer computes day-ahead plans from price and forecast sensors.
type Optimizer struct {
	reader   hass.StateReader
	settings types.Settings
}

// New returns an Optimizer reading live state from r with the given
// settings.
func New(r hass.StateReader, settings types.Settings) *Optimizer {
	return &Optimizer{reader: r, settings: settings}
}

type energyBalance struct {
	consumption   float64
	solar         float64
	usableBattery float64
	evNeed        float64
	deficit       float64
}

// Optimize runs the planning algorithm over the next hoursAhead hours and
// returns the recommended charge, discharge and solar-only hours.
func (o *Optimizer) Optimize(ctx context.Context, now time.Time, hoursAhead int) *types.OptimizationResult {
	result := &types.OptimizationResult{}
	s := o.settings

	buyPrices := pricing.Sensor(ctx, o.reader, s.PriceBuySensor)
	sellPrices := pricing.Sensor(ctx, o.reader, s.PriceSellSensor)

	if len(buyPrices) == 0 {
		result.Warnings = append(result.Warnings, "No buy price data available, using default mode")
		log.Ctx(ctx).WarnContext(ctx, "no buy price data available for optimization")
		return result
	}

	sellByKey := make(map[string]float64, len(sellPrices))
	for _, sell := range sellPrices {
		sellByKey[priceKey(sell.Date, sell.Hour)] = sell.Value
	}
	for _, buy := range buyPrices {
		if sell, ok := sellByKey[priceKey(buy.Date, buy.Hour)]; ok && sell > buy.Value {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Price anomaly at %s %d:00 - sell > buy", buy.Date, buy.Hour))
		}
	}

	pvForecast := forecast.NewParser(o.reader, s.PVForecastSensor).Hourly(ctx, now, hoursAhead)

	if emergency, hours, reason := o.checkEmergencyCharge(now, buyPrices, pvForecast); emergency {
		result.EmergencyCharge = true
		result.EmergencyReason = reason
		result.ChargeHours = append(result.ChargeHours, hours...)
		log.Ctx(ctx).WarnContext(ctx, "emergency charge needed", slog.String("reason", reason))
	}

	if feasible, reason := o.checkEVFeasibility(now); !feasible {
		result.EVUrgentCharge = true
		result.EVUrgentReason = reason
		result.Warnings = append(result.Warnings, "EV urgent charge: "+reason)
	}

	result.SkipNightCharge = o.shouldSkipNightCharge(ctx, pvForecast)

	balance := o.calculateEnergyBalance(pvForecast, hoursAhead)
	result.TotalDeficit = balance.deficit
	result.CycleCost = o.cycleCost()

	// rank buy hours within the horizon by price plus amortized cycle cost
	var effective []types.PriceRecord
	for _, price := range buyPrices {
		hfn := hoursFromNow(now, price.Date, price.Hour)
		if hfn >= 0 && hfn < float64(hoursAhead) {
			price.EffectivePrice = price.Value + result.CycleCost
			effective = append(effective, price)
		}
	}
	sort.Slice(effective, func(i, j int) bool {
		return effective[i].EffectivePrice < effective[j].EffectivePrice
	})

	if result.SkipNightCharge && !result.EmergencyCharge {
		kept := effective[:0]
		for _, price := range effective {
			if price.Hour >= 22 || price.Hour < 6 {
				continue
			}
			kept = append(kept, price)
		}
		effective = kept
	}

	batteryPower, evPower := o.effectiveChargePower()
	totalPower := batteryPower + evPower
	hoursNeeded := 0
	if totalPower > 0 {
		hoursNeeded = int(math.Ceil(result.TotalDeficit / totalPower))
	}

	claimed := keySet(result.ChargeHours)
	for _, price := range effective {
		if hoursNeeded <= 0 {
			break
		}
		hoursNeeded--
		if _, ok := claimed[priceKey(price.Date, price.Hour)]; ok {
			continue
		}
		result.ChargeHours = append(result.ChargeHours, price)
	}

	if len(effective) > 0 {
		o.selectDischargeHours(now, result, effective[0].EffectivePrice, sellPrices, pvForecast, hoursAhead)
	}

	chargeKeys := keySet(result.ChargeHours)
	dischargeKeys := keySet(result.DischargeHours)
	for _, pv := range pvForecast {
		if pv.KWH <= 0.1 {
			continue
		}
		key := priceKey(pv.Date, pv.Hour)
		if _, ok := chargeKeys[key]; ok {
			continue
		}
		if _, ok := dischargeKeys[key]; ok {
			continue
		}
		result.SolarHours = append(result.SolarHours, pv)
	}

	log.Ctx(ctx).InfoContext(ctx, "optimization complete",
		slog.Int("chargeHours", len(result.ChargeHours)),
		slog.Int("dischargeHours", len(result.DischargeHours)),
		slog.Int("solarHours", len(result.SolarHours)),
		slog.Float64("totalDeficit", result.TotalDeficit),
		slog.Bool("emergencyCharge", result.EmergencyCharge),
		slog.Bool("skipNightCharge", result.SkipNightCharge))
	return result
}

// checkEmergencyCharge determines whether the battery can carry the house
// to the next cheap buy hour, and if not, which hours must charge
// regardless of cost.
func (o *Optimizer) checkEmergencyCharge(now time.Time, buyPrices []types.PriceRecord, pvForecast []types.ForecastHour) (bool, []types.PriceRecord, string) {
	s := o.settings
	soc := o.batterySOC(0)
	available := math.Max(0, s.BatteryCapacityKWH*(soc-float64(s.BatteryMinSOC))/100)

	sorted := append([]types.PriceRecord(nil), buyPrices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	// the cheapest quartile counts as cheap
	cheapCount := len(sorted) / 4
	if cheapCount < 1 {
		cheapCount = 1
	}
	cheap := keySet(sorted[:cheapCount])

	hoursUntilCheap := 24
	for offset := 0; offset < 48; offset++ {
		at := now.Add(time.Duration(offset) * time.Hour)
		if _, ok := cheap[priceKey(types.DateKey(at), at.Hour())]; ok {
			hoursUntilCheap = offset
			break
		}
	}
	if hoursUntilCheap == 0 {
		return false, nil, ""
	}

	energyNeeded := float64(hoursUntilCheap) * s.AvgConsumptionKW
	var pvUntilCheap float64
	for i, pv := range pvForecast {
		if i >= hoursUntilCheap {
			break
		}
		pvUntilCheap += pv.KWH
	}
	energyAvailable := available + pvUntilCheap

	if energyNeeded <= energyAvailable {
		return false, nil, ""
	}

	deficit := energyNeeded - energyAvailable
	hoursNeeded := int(math.Ceil(deficit))
	if s.BatteryMaxChargeKW > 0 {
		hoursNeeded = int(math.Ceil(deficit / s.BatteryMaxChargeKW))
	}

	// cheapest hours before the cheap hour, current hour included
	var immediate []types.PriceRecord
	for _, price := range buyPrices {
		hfn := hoursFromNow(now, price.Date, price.Hour)
		if hfn >= -1 && hfn < float64(hoursUntilCheap) {
			immediate = append(immediate, price)
		}
	}
	sort.Slice(immediate, func(i, j int) bool { return immediate[i].Value < immediate[j].Value })
	if len(immediate) > hoursNeeded {
		immediate = immediate[:hoursNeeded]
	}

	reason := fmt.Sprintf("SOC %.0f%% insufficient for %dh wait (need %.1f kWh, have %.1f kWh)",
		soc, hoursUntilCheap, energyNeeded, energyAvailable)
	return true, immediate, reason
}

// checkEVFeasibility verifies the EV can reach its target SOC before the
// ready-by deadline at the configured charge power.
func (o *Optimizer) checkEVFeasibility(now time.Time) (bool, string) {
	s := o.settings
	if !s.EVEnabled || !o.evConnected() {
		return true, ""
	}
	readyBy, ok := s.EVReadyByTime(now)
	if !ok {
		return true, ""
	}

	hoursAvailable := readyBy.Sub(now).Hours()
	evSOC := o.evSOC()
	needed := math.Max(0, s.EVBatteryCapacityKWH*(float64(s.EVTargetSOC)-evSOC)/100)

	hoursNeeded := math.Inf(1)
	if s.EVMaxChargeKW > 0 {
		hoursNeeded = needed / s.EVMaxChargeKW
	}
	if hoursNeeded > hoursAvailable {
		return false, fmt.Sprintf("EV needs %.1fh, only %.1fh available", hoursNeeded, hoursAvailable)
	}
	return true, ""
}

// shouldSkipNightCharge reports whether daylight PV covers expected
// daylight consumption with a 20% margin.
func (o *Optimizer) shouldSkipNightCharge(ctx context.Context, pvForecast []types.ForecastHour) bool {
	if len(pvForecast) == 0 {
		return false
	}
	var daylightPV float64
	for _, pv := range pvForecast {
		if pv.Hour >= 6 && pv.Hour < 18 {
			daylightPV += pv.KWH
		}
	}
	daylightConsumption := 12 * o.settings.AvgConsumptionKW
	if daylightPV > daylightConsumption*1.2 {
		log.Ctx(ctx).InfoContext(ctx, "sufficient PV forecast, skipping night charge",
			slog.Float64("forecastKWH", daylightPV),
			slog.Float64("consumptionKWH", daylightConsumption))
		return true
	}
	return false
}

func (o *Optimizer) calculateEnergyBalance(pvForecast []types.ForecastHour, hoursAhead int) energyBalance {
	s := o.settings
	soc := o.batterySOC(0)
	usable := math.Max(0, s.BatteryCapacityKWH*(soc-float64(s.BatteryMinSOC))/100)

	consumption := float64(hoursAhead) * s.AvgConsumptionKW
	var solar float64
	for _, pv := range pvForecast {
		solar += pv.KWH
	}

	var evNeed float64
	if s.EVEnabled && o.evConnected() {
		evNeed = math.Max(0, s.EVBatteryCapacityKWH*(float64(s.EVTargetSOC)-o.evSOC())/100)
	}

	return energyBalance{
		consumption:   consumption,
		solar:         solar,
		usableBattery: usable,
		evNeed:        evNeed,
		deficit:       math.Max(0, consumption-solar-usable+evNeed),
	}
}

// cycleCost amortizes battery wear per kWh. A full cycle moves
// 2 x capacity (charge plus discharge).
func (o *Optimizer) cycleCost() float64 {
	s := o.settings
	if s.BatteryCycles <= 0 || s.BatteryCapacityKWH <= 0 {
		return 0
	}
	return (s.BatteryCost / float64(s.BatteryCycles)) / (s.BatteryCapacityKWH * 2)
}

// effectiveChargePower splits available grid power between the battery and
// a connected EV, scaling both down proportionally when their sum exceeds
// the grid limit.
func (o *Optimizer) effectiveChargePower() (battery, ev float64) {
	s := o.settings
	battery = s.BatteryMaxChargeKW
	if s.EVEnabled && o.evConnected() {
		ev = s.EVMaxChargeKW
	}
	total := battery + ev
	if total > s.MaxGridPowerKW && total > 0 {
		ratio := s.MaxGridPowerKW / total
		battery *= ratio
		ev *= ratio
	}
	return battery, ev
}

func (o *Optimizer) selectDischargeHours(now time.Time, result *types.OptimizationResult, minBuyEffective float64, sellPrices []types.PriceRecord, pvForecast []types.ForecastHour, hoursAhead int) {
	s := o.settings
	threshold := minBuyEffective + 2*result.CycleCost
	chargeKeys := keySet(result.ChargeHours)

	// discharge draws on planned charge energy plus what the battery holds
	// now, never more than its usable capacity
	chargeEnergy := float64(len(result.ChargeHours)) * s.BatteryMaxChargeKW
	soc := o.batterySOC(50)
	usableCapacity := s.BatteryCapacityKWH * (1 - float64(s.BatteryMinSOC)/100)
	currentUsable := math.Max(0, s.BatteryCapacityKWH*(soc-float64(s.BatteryMinSOC))/100)
	availableEnergy := math.Min(chargeEnergy+currentUsable, usableCapacity)

	dischargePower := s.DischargeKW()
	maxHours := 0
	if dischargePower > 0 {
		maxHours = int(availableEnergy / dischargePower)
	}

	pvByKey := make(map[string]float64, len(pvForecast))
	for _, pv := range pvForecast {
		pvByKey[priceKey(pv.Date, pv.Hour)] += pv.KWH
	}

	var candidates []types.PriceRecord
	for _, sell := range sellPrices {
		key := priceKey(sell.Date, sell.Hour)
		hfn := hoursFromNow(now, sell.Date, sell.Hour)
		if sell.Value <= threshold {
			continue
		}
		if _, ok := chargeKeys[key]; ok {
			continue
		}
		// meaningful PV means the solar-only mode serves this hour better
		if pvByKey[key] >= 0.1 {
			continue
		}
		if hfn < 0 || hfn >= float64(hoursAhead) {
			continue
		}
		sell.Profit = sell.Value - minBuyEffective - 2*result.CycleCost
		candidates = append(candidates, sell)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Profit > candidates[j].Profit })
	if len(candidates) > maxHours {
		candidates = candidates[:maxHours]
	}
	result.DischargeHours = candidates
}

// SelectChargeMode resolves the concrete inverter mode for a charge hour
// from the current EV and battery state.
func (o *Optimizer) SelectChargeMode() string {
	s := o.settings
	if !s.EVEnabled {
		return s.ModeChargeBattery
	}
	if o.evConnected() {
		if o.batterySOC(0) >= 100 {
			return s.ModeChargeEV
		}
		return s.ModeChargeEVAndBattery
	}
	return s.ModeChargeBattery
}

// ModeForAction maps a schedule action to an inverter mode, resolving the
// dynamic charge token. Unknown actions pass through as literal modes.
func (o *Optimizer) ModeForAction(action string) string {
	switch action {
	case types.ActionCharge:
		return o.SelectChargeMode()
	case "sell":
		return o.settings.ModeSell
	case "solar_only":
		return o.settings.ModeSellSolarOnly
	case "grid_only":
		return o.settings.ModeGridOnly
	default:
		return action
	}
}

// EVConnected reports whether the configured EV connected sensor reads a
// truthy state.
func (o *Optimizer) EVConnected() bool {
	return o.evConnected()
}

func (o *Optimizer) evConnected() bool {
	s := o.settings
	if !s.EVEnabled || s.EVConnectedSensor == "" {
		return false
	}
	state, ok := o.reader.GetState(s.EVConnectedSensor)
	if !ok {
		return false
	}
	switch strings.ToLower(state.Value) {
	case "on", "true", "1", "connected", "charging", "plugged":
		return true
	}
	return false
}

func (o *Optimizer) batterySOC(fallback float64) float64 {
	if soc, ok := hass.NumericState(o.reader, o.settings.BatterySOCSensor); ok {
		return soc
	}
	return fallback
}

func (o *Optimizer) evSOC() float64 {
	if !o.settings.EVEnabled {
		return 0
	}
	if soc, ok := hass.NumericState(o.reader, o.settings.EVSOCSensor); ok {
		return soc
	}
	return 0
}

func priceKey(date string, hour int) string {
	return fmt.Sprintf("%s_%d", date, hour)
}

func keySet(records []types.PriceRecord) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, r := range records {
		set[priceKey(r.Date, r.Hour)] = struct{}{}
	}
	return set
}

// hoursFromNow returns the signed distance in hours from now to the start
// of the given local date and hour.
func hoursFromNow(now time.Time, date string, hour int) float64 {
	day, err := time.ParseInLocation("2006-01-02", date, now.Location())
	if err != nil {
		return 0
	}
	at := day.Add(time.Duration(hour) * time.Hour)
	return at.Sub(now).Hours()
}
