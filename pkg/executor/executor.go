// Package executor runs the per-minute schedule check: it reads the stored
// plan and live sensor state and decides which inverter mode should be
// active right now.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jameshartig/gridplan/pkg/condition"
	"github.com/jameshartig/gridplan/pkg/config"
	"github.com/jameshartig/gridplan/pkg/hass"
	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/optimizer"
	"github.com/jameshartig/gridplan/pkg/schedule"
	"github.com/jameshartig/gridplan/pkg/storage"
	"github.com/jameshartig/gridplan/pkg/types"
)

// socHysteresis is the band in SOC percentage points around the target
// inside which auto direction detection considers the target reached.
const socHysteresis = 2

// Executor is the schedule state machine. Ticks are expected to be
// serialized by the caller's scheduler; internal state is still locked so
// API-triggered applies can interleave safely.
type Executor struct {
	client hass.Client
	store  *schedule.Store
	db     storage.Database
	cfg    *config.Manager

	mu             sync.Mutex
	currentAction  string
	actionStart    time.Time
	lockedSOCTypes map[string]types.SOCLimitType
}

// New returns an Executor over the given collaborators.
func New(client hass.Client, store *schedule.Store, db storage.Database, cfg *config.Manager) *Executor {
	return &Executor{
		client:         client,
		store:          store,
		db:             db,
		cfg:            cfg,
		lockedSOCTypes: map[string]types.SOCLimitType{},
	}
}

// CurrentAction returns the mode the executor believes is active.
func (e *Executor) CurrentAction() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentAction
}

// Tick evaluates the schedule for now and applies or reverts the inverter
// mode as needed. It never returns an error: every failure is local to the
// tick and retried naturally on the next one.
func (e *Executor) Tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	settings := e.cfg.Settings()
	date := types.DateKey(now)
	hour := types.HourKey(now.Hour())
	minute := now.Minute()
	lockKey := date + "_" + hour

	// locks from previous hours or days are stale
	for key := range e.lockedSOCTypes {
		if key != lockKey {
			delete(e.lockedSOCTypes, key)
		}
	}

	// absorb external mode changes before deciding anything
	if state, ok := e.client.GetState(settings.InverterModeEntity); ok && state.Value != "" {
		if e.currentAction != state.Value {
			log.Ctx(ctx).DebugContext(ctx, "inverter mode changed externally",
				slog.String("from", e.currentAction), slog.String("to", state.Value))
			e.currentAction = state.Value
		}
	}

	entry, ok := e.store.Hour(date, hour)
	if !ok {
		if e.currentAction != "" && e.currentAction != settings.DefaultMode {
			e.applyMode(ctx, settings, settings.DefaultMode, "", "no schedule entry")
		}
		return
	}
	if entry.Action == "" {
		return
	}

	mode := optimizer.New(e.client, settings).ModeForAction(entry.Action)

	shouldApply := true
	shouldRevert := false
	veto := func(reason string) {
		shouldApply = false
		shouldRevert = e.currentAction == mode
		if shouldRevert {
			log.Ctx(ctx).InfoContext(ctx, "reverting to default mode", slog.String("reason", reason))
		}
	}

	if entry.EVCharging && len(settings.EVStopConditions) > 0 {
		if met, reason := condition.Evaluate(ctx, e.client, settings.EVStopConditions); met {
			veto("EV stop condition met: " + reason)
		}
	}

	if entry.SOCLimit != nil && settings.BatterySOCSensor != "" && !entry.EVCharging {
		if soc, ok := hass.NumericState(e.client, settings.BatterySOCSensor); ok {
			e.checkSOCLimit(ctx, entry, int(soc), lockKey, veto)
		}
	}

	if entry.Minutes != nil && !entry.FullHour && minute > *entry.Minutes {
		veto(fmt.Sprintf("minutes limit exceeded (%d > %d)", minute, *entry.Minutes))
	}

	if shouldApply {
		if e.currentAction != mode {
			e.applyMode(ctx, settings, mode, entry.Action, "scheduled")
		}
	} else if shouldRevert && e.currentAction != settings.DefaultMode {
		e.applyMode(ctx, settings, settings.DefaultMode, "", "schedule entry vetoed")
	}
}

// checkSOCLimit resolves the limit direction, with hysteresis-locked auto
// detection, and vetoes the entry once the limit is reached.
func (e *Executor) checkSOCLimit(ctx context.Context, entry types.ScheduleEntry, soc int, lockKey string, veto func(string)) {
	limit := *entry.SOCLimit
	limitType := entry.SOCLimitType

	if limitType == "" || limitType == types.SOCLimitAuto {
		if locked, ok := e.lockedSOCTypes[lockKey]; ok {
			limitType = locked
		} else {
			switch {
			case soc < limit-socHysteresis:
				limitType = types.SOCLimitMax
			case soc > limit+socHysteresis:
				limitType = types.SOCLimitMin
			default:
				// within the band on first evaluation means the target is
				// already met
				veto(fmt.Sprintf("SOC already at target (%d%% ~ %d%%)", soc, limit))
				limitType = types.SOCLimitMax
			}
			e.lockedSOCTypes[lockKey] = limitType
			log.Ctx(ctx).DebugContext(ctx, "locked SOC direction",
				slog.String("key", lockKey), slog.String("type", string(limitType)),
				slog.Int("soc", soc), slog.Int("limit", limit))
		}
	}

	reached := (limitType == types.SOCLimitMin && soc <= limit) ||
		(limitType == types.SOCLimitMax && soc >= limit)
	if reached {
		veto(fmt.Sprintf("SOC %s limit reached (%d%% vs %d%%)", limitType, soc, limit))
		delete(e.lockedSOCTypes, lockKey)
	}
}

// ApplyModeNow applies a mode immediately, outside the schedule.
func (e *Executor) ApplyModeNow(ctx context.Context, mode string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	settings := e.cfg.Settings()
	resolved := optimizer.New(e.client, settings).ModeForAction(mode)
	return e.applyMode(ctx, settings, resolved, "", "manual request")
}

// applyMode performs the single side-effecting mode change. Failure is
// logged and state is not advanced; the next tick retries via resync.
// Callers must hold the lock.
func (e *Executor) applyMode(ctx context.Context, settings types.Settings, mode, action, reason string) error {
	if state, ok := e.client.GetState(settings.InverterModeEntity); ok {
		if options, ok := state.Attributes["options"].([]any); ok && !containsMode(options, mode) {
			log.Ctx(ctx).WarnContext(ctx, "mode not in inverter option list", slog.String("mode", mode))
		}
	}
	if err := e.client.SetMode(ctx, settings.InverterModeEntity, mode); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to apply mode",
			slog.String("mode", mode), slog.Any("err", err))
		return fmt.Errorf("failed to apply mode %s: %w", mode, err)
	}
	e.currentAction = mode
	e.actionStart = time.Now()
	log.Ctx(ctx).InfoContext(ctx, "applied inverter mode",
		slog.String("mode", mode), slog.String("reason", reason))

	if err := e.db.InsertModeChange(ctx, types.ModeChange{
		Timestamp: e.actionStart,
		Mode:      mode,
		Action:    action,
		Reason:    reason,
	}); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to record mode change", slog.Any("err", err))
	}
	return nil
}

func containsMode(options []any, mode string) bool {
	for _, o := range options {
		if s, ok := o.(string); ok && s == mode {
			return true
		}
	}
	return false
}

// ApplyOptimization writes an optimizer result into the schedule, clearing
// each affected date's auto-generated entries and leaving manual ones
// alone.
func (e *Executor) ApplyOptimization(ctx context.Context, now time.Time, result *types.OptimizationResult) error {
	settings := e.cfg.Settings()
	opt := optimizer.New(e.client, settings)

	dates := map[string]bool{
		types.DateKey(now):                  true,
		types.DateKey(now.AddDate(0, 0, 1)): true,
	}
	for _, ch := range result.ChargeHours {
		dates[ch.Date] = true
	}
	for _, dh := range result.DischargeHours {
		dates[dh.Date] = true
	}
	for _, sh := range result.SolarHours {
		dates[sh.Date] = true
	}
	for date := range dates {
		if err := e.store.ClearDate(ctx, date, true); err != nil {
			return err
		}
	}
	manualFor := map[string]map[string]bool{}
	for date := range dates {
		manualFor[date] = e.store.ManualHours(date)
	}

	chargeMode := opt.SelectChargeMode()
	evCharging := settings.EVEnabled && opt.EVConnected()
	fullSOC := 100

	for _, ch := range result.ChargeHours {
		hour := types.HourKey(ch.Hour)
		if manualFor[ch.Date][hour] {
			continue
		}
		entry := types.ScheduleEntry{
			Action:       chargeMode,
			SOCLimitType: types.SOCLimitMax,
			FullHour:     true,
			EVCharging:   evCharging,
		}
		if !evCharging {
			entry.SOCLimit = &fullSOC
		}
		if err := e.store.SetHour(ctx, ch.Date, hour, entry); err != nil {
			return err
		}
	}

	if settings.ModeSell != "" {
		minSOC := settings.BatteryMinSOC
		for _, dh := range result.DischargeHours {
			hour := types.HourKey(dh.Hour)
			if manualFor[dh.Date][hour] {
				continue
			}
			entry := types.ScheduleEntry{
				Action:       settings.ModeSell,
				SOCLimit:     &minSOC,
				SOCLimitType: types.SOCLimitMin,
				FullHour:     true,
			}
			if err := e.store.SetHour(ctx, dh.Date, hour, entry); err != nil {
				return err
			}
		}
	}

	if settings.ModeSellSolarOnly != "" {
		for _, sh := range result.SolarHours {
			hour := types.HourKey(sh.Hour)
			if manualFor[sh.Date][hour] {
				continue
			}
			// charge and discharge claims win over solar
			if _, ok := e.store.Hour(sh.Date, hour); ok {
				continue
			}
			entry := types.ScheduleEntry{
				Action:   settings.ModeSellSolarOnly,
				FullHour: true,
			}
			if err := e.store.SetHour(ctx, sh.Date, hour, entry); err != nil {
				return err
			}
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "applied optimization schedule",
		slog.Int("chargeHours", len(result.ChargeHours)),
		slog.Int("dischargeHours", len(result.DischargeHours)),
		slog.Int("solarHours", len(result.SolarHours)))
	return nil
}

// Optimize runs the optimizer over the given horizon, optionally applying
// the result to the schedule. hoursAhead is clamped to 12-48.
func (e *Executor) Optimize(ctx context.Context, now time.Time, hoursAhead int, apply bool) (*types.OptimizationResult, error) {
	if hoursAhead < 12 {
		hoursAhead = 12
	} else if hoursAhead > 48 {
		hoursAhead = 48
	}

	settings := e.cfg.Settings()
	result := optimizer.New(e.client, settings).Optimize(ctx, now, hoursAhead)
	for _, warning := range result.Warnings {
		log.Ctx(ctx).WarnContext(ctx, "optimization warning", slog.String("warning", warning))
	}

	if apply {
		if err := e.ApplyOptimization(ctx, now, result); err != nil {
			return result, err
		}
	}
	return result, nil
}
