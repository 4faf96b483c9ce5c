// Package condition evaluates EV stop conditions against live entity
// state. A stop triggers only when every configured condition holds.
package condition

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jameshartig/gridplan/pkg/hass"
	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/types"
)

// Evaluate checks all conditions against the reader and returns whether
// every one of them holds, plus a human-readable reason when they do.
// An empty condition list never triggers. Evaluation errors (missing
// entities, non-numeric states) count as not met.
func Evaluate(ctx context.Context, r hass.StateReader, conditions []types.StopCondition) (bool, string) {
	if len(conditions) == 0 {
		return false, ""
	}

	reason := ""
	for _, cond := range conditions {
		met, condReason := evaluateOne(ctx, r, cond)
		if !met {
			return false, ""
		}
		if reason == "" {
			reason = condReason
		}
	}
	return true, reason
}

func evaluateOne(ctx context.Context, r hass.StateReader, cond types.StopCondition) (bool, string) {
	state, ok := r.GetState(cond.EntityID)
	if !ok {
		log.Ctx(ctx).DebugContext(ctx, "stop condition entity not found",
			slog.String("entityID", cond.EntityID))
		return false, ""
	}

	switch cond.Condition {
	case "numeric_state":
		value, err := strconv.ParseFloat(state.Value, 64)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "stop condition entity is not numeric",
				slog.String("entityID", cond.EntityID), slog.String("state", state.Value))
			return false, ""
		}
		if cond.Above != nil && value <= *cond.Above {
			return false, ""
		}
		if cond.Below != nil && value >= *cond.Below {
			return false, ""
		}
		if cond.Above == nil && cond.Below == nil {
			return false, ""
		}
		return true, fmt.Sprintf("numeric_state: %s = %s", cond.EntityID, state.Value)
	case "state":
		if state.Value != cond.State {
			return false, ""
		}
		return true, fmt.Sprintf("state: %s = %s", cond.EntityID, state.Value)
	default:
		log.Ctx(ctx).WarnContext(ctx, "unknown stop condition type",
			slog.String("condition", cond.Condition))
		return false, ""
	}
}
