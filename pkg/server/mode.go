package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jameshartig/gridplan/pkg/log"
)

type setModeReq struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setModeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		writeJSONError(w, "mode is required", http.StatusBadRequest)
		return
	}
	if err := s.executor.ApplyModeNow(ctx, req.Mode); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to apply mode", slog.String("mode", req.Mode), slog.Any("error", err))
		writeJSONError(w, "failed to apply mode", http.StatusBadGateway)
		return
	}
	writeJSON(w, struct {
		Mode string `json:"mode"`
	}{Mode: s.executor.CurrentAction()})
}

// handleListModes returns the option strings of the inverter select entity.
func (s *Server) handleListModes(w http.ResponseWriter, r *http.Request) {
	settings := s.cfg.Settings()
	state, ok := s.client.GetState(settings.InverterModeEntity)
	if !ok {
		writeJSONError(w, "inverter mode entity not available", http.StatusServiceUnavailable)
		return
	}

	var modes []string
	if raw, ok := state.Attributes["options"].([]any); ok {
		for _, o := range raw {
			if mode, ok := o.(string); ok {
				modes = append(modes, mode)
			}
		}
	}
	writeJSON(w, struct {
		Current string   `json:"current"`
		Options []string `json:"options"`
	}{Current: state.Value, Options: modes})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	changes, err := s.db.GetModeHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get mode history", slog.Any("error", err))
		writeJSONError(w, "failed to get mode history", http.StatusInternalServerError)
		return
	}

	// ranges entirely in the past never change again
	today := time.Now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, changes)
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > 7*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed 7 days")
	}

	return start, end, nil
}
