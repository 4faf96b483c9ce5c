package types

import (
	"fmt"
	"time"
)

const (
	CurrentScheduleVersion = 1

	// DateKeyLayout is the layout for date keys in the schedule document.
	DateKeyLayout = "2006-01-02"
)

// ActionCharge is the placeholder action that resolves to a concrete charge
// mode at apply time (battery only, EV only, or EV+battery depending on the
// current state).
const ActionCharge = "CHARGE"

// SOCLimitType determines what reaching the SOC limit means for an entry.
type SOCLimitType string

const (
	// SOCLimitMax stops the entry when SOC >= limit (charging semantics).
	SOCLimitMax SOCLimitType = "max"
	// SOCLimitMin stops the entry when SOC <= limit (discharging semantics).
	SOCLimitMin SOCLimitType = "min"
	// SOCLimitAuto detects the direction from the current SOC on first
	// evaluation and locks it for the remainder of the hour.
	SOCLimitAuto SOCLimitType = "auto"
)

// ScheduleEntry describes what the inverter should do for one hour of one day.
type ScheduleEntry struct {
	Action       string       `json:"action"`
	SOCLimit     *int         `json:"soc_limit,omitempty"`
	SOCLimitType SOCLimitType `json:"soc_limit_type,omitempty"`
	FullHour     bool         `json:"full_hour,omitempty"`
	Minutes      *int         `json:"minutes,omitempty"`
	EVCharging   bool         `json:"ev_charging,omitempty"`
	Manual       bool         `json:"manual,omitempty"`
}

// ScheduleDocument is the persisted plan: date key ("2006-01-02") to hour key
// ("0".."23") to entry.
type ScheduleDocument map[string]map[string]ScheduleEntry

// Clone returns a deep copy of the document.
func (d ScheduleDocument) Clone() ScheduleDocument {
	out := make(ScheduleDocument, len(d))
	for date, hours := range d {
		h := make(map[string]ScheduleEntry, len(hours))
		for hour, entry := range hours {
			h[hour] = entry
		}
		out[date] = h
	}
	return out
}

// DateKey formats t as a schedule document date key in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// HourKey formats an hour of day as a schedule document hour key.
func HourKey(hour int) string {
	return fmt.Sprintf("%d", hour)
}

// PriceRecord is one hour of a buy or sell price curve.
type PriceRecord struct {
	Date  string  `json:"date"`
	Hour  int     `json:"hour"`
	Value float64 `json:"value"`

	// EffectivePrice is the raw price plus the amortized cycle cost. Only set
	// on optimizer output.
	EffectivePrice float64 `json:"effectivePrice,omitempty"`
	// Profit is the expected gain per kWh for a discharge hour. Only set on
	// optimizer output.
	Profit float64 `json:"profit,omitempty"`
}

// ForecastHour is one hour of expected solar production.
type ForecastHour struct {
	Date string  `json:"date"`
	Hour int     `json:"hour"`
	KWH  float64 `json:"kwh"`
}

// OptimizationResult is the outcome of one optimizer run. It is returned to
// API callers and optionally applied to the schedule, never persisted.
type OptimizationResult struct {
	ChargeHours    []PriceRecord  `json:"chargeHours"`
	DischargeHours []PriceRecord  `json:"dischargeHours"`
	SolarHours     []ForecastHour `json:"solarHours"`

	EmergencyCharge bool   `json:"emergencyCharge"`
	EmergencyReason string `json:"emergencyReason,omitempty"`
	EVUrgentCharge  bool   `json:"evUrgentCharge"`
	EVUrgentReason  string `json:"evUrgentReason,omitempty"`
	SkipNightCharge bool   `json:"skipNightCharge"`

	TotalDeficit float64 `json:"totalDeficit"`
	CycleCost    float64 `json:"cycleCost"`

	Warnings []string `json:"warnings,omitempty"`
}

// ModeChange records one applied inverter mode for the audit history.
type ModeChange struct {
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`
	// Action is the schedule action that triggered the change, if any.
	Action string `json:"action,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// StopCondition is one declarative condition that, together with the other
// configured conditions, stops an EV charging entry early. Condition is
// "state" or "numeric_state".
type StopCondition struct {
	Condition string   `json:"condition"`
	EntityID  string   `json:"entity_id"`
	State     string   `json:"state,omitempty"`
	Above     *float64 `json:"above,omitempty"`
	Below     *float64 `json:"below,omitempty"`
}
