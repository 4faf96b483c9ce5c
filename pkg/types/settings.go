package types

import (
	"fmt"
	"time"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Optimize interval options for auto-optimization.
const (
	OptimizeIntervalManual  = "manual"
	OptimizeIntervalHourly  = "hourly"
	OptimizeIntervalEvery6H = "every_6h"
	OptimizeIntervalDaily   = "daily"
)

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Entities read from Home Assistant.
	PriceBuySensor     string `json:"priceBuySensor"`
	PriceSellSensor    string `json:"priceSellSensor"`
	InverterModeEntity string `json:"inverterModeEntity"`
	BatterySOCSensor   string `json:"batterySOCSensor"`
	PVForecastSensor   string `json:"pvForecastSensor"`

	// DefaultMode is applied whenever no schedule entry is active.
	DefaultMode string `json:"defaultMode"`

	// Battery parameters.
	BatteryCapacityKWH    float64 `json:"batteryCapacityKWH"`
	BatteryMinSOC         int     `json:"batteryMinSOC"`
	BatteryMaxChargeKW    float64 `json:"batteryMaxChargeKW"`
	BatteryMaxDischargeKW float64 `json:"batteryMaxDischargeKW"`
	// BatteryCost and BatteryCycles amortize wear into the effective price.
	BatteryCost   float64 `json:"batteryCost"`
	BatteryCycles int     `json:"batteryCycles"`

	// Household parameters.
	AvgConsumptionKW float64 `json:"avgConsumptionKW"`
	MaxGridPowerKW   float64 `json:"maxGridPowerKW"`

	// EV parameters (optional).
	EVEnabled            bool            `json:"evEnabled"`
	EVSOCSensor          string          `json:"evSOCSensor,omitempty"`
	EVConnectedSensor    string          `json:"evConnectedSensor,omitempty"`
	EVBatteryCapacityKWH float64         `json:"evBatteryCapacityKWH,omitempty"`
	EVMaxChargeKW        float64         `json:"evMaxChargeKW,omitempty"`
	EVTargetSOC          int             `json:"evTargetSOC,omitempty"`
	EVReadyBy            string          `json:"evReadyBy,omitempty"` // "15:04"
	EVStopConditions     []StopCondition `json:"evStopConditions,omitempty"`

	// Mode catalog: the opaque option strings of the inverter select entity.
	ModeChargeBattery      string `json:"modeChargeBattery"`
	ModeChargeEV           string `json:"modeChargeEV,omitempty"`
	ModeChargeEVAndBattery string `json:"modeChargeEVAndBattery,omitempty"`
	ModeSell               string `json:"modeSell"`
	ModeSellSolarOnly      string `json:"modeSellSolarOnly"`
	ModeGridOnly           string `json:"modeGridOnly,omitempty"`

	// Automation.
	AutoOptimize     bool   `json:"autoOptimize"`
	OptimizeInterval string `json:"optimizeInterval"`

	// DaysToKeep is the schedule retention window in days.
	DaysToKeep int `json:"daysToKeep"`
}

// DischargeKW returns the max discharge power, falling back to the charge
// power when not configured.
func (s Settings) DischargeKW() float64 {
	if s.BatteryMaxDischargeKW <= 0 {
		return s.BatteryMaxChargeKW
	}
	return s.BatteryMaxDischargeKW
}

// EVReadyByTime parses EVReadyBy ("15:04") and combines it with now's date,
// rolling to the next day when the time already passed. The second return is
// false when no valid ready-by time is configured.
func (s Settings) EVReadyByTime(now time.Time) (time.Time, bool) {
	if s.EVReadyBy == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse("15:04", s.EVReadyBy)
	if err != nil {
		return time.Time{}, false
	}
	readyBy := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !readyBy.After(now) {
		readyBy = readyBy.AddDate(0, 0, 1)
	}
	return readyBy, true
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial defaults
			if s.BatteryMinSOC == 0 {
				s.BatteryMinSOC = 20
				migrated = true
			}
			if s.AvgConsumptionKW == 0 {
				s.AvgConsumptionKW = 0.6
				migrated = true
			}
			if s.MaxGridPowerKW == 0 {
				s.MaxGridPowerKW = 15.0
				migrated = true
			}
			if s.EVTargetSOC == 0 {
				s.EVTargetSOC = 80
				migrated = true
			}
		case 2:
			// version 2: add schedule retention
			if s.DaysToKeep == 0 {
				s.DaysToKeep = 7
				migrated = true
			}
		case 3:
			// version 3: add auto-optimization interval
			if s.OptimizeInterval == "" {
				s.OptimizeInterval = OptimizeIntervalManual
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
