// Command seed fills the Firestore emulator with a plausible day of data so
// the API can be exercised locally without a real inverter.
package main

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/storage"
	"github.com/jameshartig/gridplan/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	settings := types.Settings{
		PriceBuySensor:     "sensor.nordpool_buy",
		PriceSellSensor:    "sensor.nordpool_sell",
		InverterModeEntity: "select.inverter_mode",
		BatterySOCSensor:   "sensor.battery_soc",
		PVForecastSensor:   "sensor.solcast_forecast_today",
		DefaultMode:        "self_use",
		BatteryCapacityKWH: 10,
		BatteryMinSOC:      20,
		BatteryMaxChargeKW: 5,
		BatteryCost:        4000,
		BatteryCycles:      6000,
		AvgConsumptionKW:   0.6,
		MaxGridPowerKW:     15,
		ModeChargeBattery:  "force_charge",
		ModeSell:           "force_discharge",
		ModeSellSolarOnly:  "solar_priority",
		AutoOptimize:       true,
		OptimizeInterval:   types.OptimizeIntervalDaily,
		DaysToKeep:         7,
	}
	if err := s.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", "error", err)
		os.Exit(1)
	}

	// a typical day: cheap night charging, midday solar, evening discharge
	now := time.Now()
	date := types.DateKey(now)
	fullSOC := 100
	minSOC := settings.BatteryMinSOC
	doc := types.ScheduleDocument{date: {}}
	for hour := 1; hour <= 4; hour++ {
		doc[date][types.HourKey(hour)] = types.ScheduleEntry{
			Action:       settings.ModeChargeBattery,
			SOCLimit:     &fullSOC,
			SOCLimitType: types.SOCLimitMax,
			FullHour:     true,
		}
	}
	for hour := 10; hour <= 15; hour++ {
		doc[date][types.HourKey(hour)] = types.ScheduleEntry{
			Action:   settings.ModeSellSolarOnly,
			FullHour: true,
		}
	}
	for hour := 18; hour <= 20; hour++ {
		doc[date][types.HourKey(hour)] = types.ScheduleEntry{
			Action:       settings.ModeSell,
			SOCLimit:     &minSOC,
			SOCLimitType: types.SOCLimitMin,
			FullHour:     true,
		}
	}
	if err := s.SaveSchedule(ctx, doc, types.CurrentScheduleVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed schedule", "error", err)
		os.Exit(1)
	}

	// mode history for the hours that already elapsed
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for t := start; t.Before(now); t = t.Add(time.Hour) {
		entry, ok := doc[date][types.HourKey(t.Hour())]
		mode := settings.DefaultMode
		reason := "no schedule entry"
		if ok {
			mode = entry.Action
			reason = "scheduled"
		}
		change := types.ModeChange{
			// applies land shortly after the top of the hour
			Timestamp: t.Add(time.Duration(rng.Intn(30)) * time.Second),
			Mode:      mode,
			Reason:    reason,
		}
		if err := s.InsertModeChange(ctx, change); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed mode change", "error", err)
			os.Exit(1)
		}
	}

	if err := s.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded mock data",
		"date", date, "hours", len(doc[date]))
}
