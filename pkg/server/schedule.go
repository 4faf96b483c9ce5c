package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/types"
)

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" {
		if !validDateKey(date) {
			writeJSONError(w, "invalid date", http.StatusBadRequest)
			return
		}
		hours := s.store.Date(date)
		if hours == nil {
			hours = map[string]types.ScheduleEntry{}
		}
		writeJSON(w, hours)
		return
	}
	writeJSON(w, s.store.Document())
}

type setScheduleReq struct {
	Date  string              `json:"date"`
	Hour  string              `json:"hour"`
	Entry types.ScheduleEntry `json:"entry"`
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setScheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validDateKey(req.Date) {
		writeJSONError(w, "invalid date", http.StatusBadRequest)
		return
	}
	if !validHourKey(req.Hour) {
		writeJSONError(w, "invalid hour", http.StatusBadRequest)
		return
	}
	if req.Entry.SOCLimit != nil && (*req.Entry.SOCLimit < 0 || *req.Entry.SOCLimit > 100) {
		writeJSONError(w, "soc_limit must be 0-100", http.StatusBadRequest)
		return
	}
	switch req.Entry.SOCLimitType {
	case "", types.SOCLimitMax, types.SOCLimitMin, types.SOCLimitAuto:
	default:
		writeJSONError(w, "soc_limit_type must be max, min or auto", http.StatusBadRequest)
		return
	}
	if req.Entry.Minutes != nil && (*req.Entry.Minutes < 1 || *req.Entry.Minutes > 60) {
		writeJSONError(w, "minutes must be 1-60", http.StatusBadRequest)
		return
	}

	// entries edited over the API are always manual so the optimizer leaves
	// them alone
	req.Entry.Manual = true
	if err := s.store.SetHour(ctx, req.Date, req.Hour, req.Entry); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save schedule entry", slog.Any("error", err))
		writeJSONError(w, "failed to save schedule entry", http.StatusInternalServerError)
		return
	}
	writeJSON(w, req.Entry)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	date := r.URL.Query().Get("date")
	hour := r.URL.Query().Get("hour")

	var err error
	switch {
	case date == "" && hour == "":
		err = s.store.ClearAll(ctx)
	case date != "" && hour == "":
		if !validDateKey(date) {
			writeJSONError(w, "invalid date", http.StatusBadRequest)
			return
		}
		err = s.store.ClearDate(ctx, date, false)
	case date != "" && hour != "":
		if !validDateKey(date) {
			writeJSONError(w, "invalid date", http.StatusBadRequest)
			return
		}
		if !validHourKey(hour) {
			writeJSONError(w, "invalid hour", http.StatusBadRequest)
			return
		}
		err = s.store.ClearHour(ctx, date, hour)
	default:
		writeJSONError(w, "hour requires date", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to clear schedule", slog.Any("error", err))
		writeJSONError(w, "failed to clear schedule", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setManualReq struct {
	Date   string `json:"date"`
	Hour   string `json:"hour"`
	Manual bool   `json:"manual"`
}

func (s *Server) handleSetManual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setManualReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validDateKey(req.Date) {
		writeJSONError(w, "invalid date", http.StatusBadRequest)
		return
	}
	if !validHourKey(req.Hour) {
		writeJSONError(w, "invalid hour", http.StatusBadRequest)
		return
	}
	if _, ok := s.store.Hour(req.Date, req.Hour); !ok {
		writeJSONError(w, "no schedule entry", http.StatusNotFound)
		return
	}
	if err := s.store.SetManual(ctx, req.Date, req.Hour, req.Manual); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update manual flag", slog.Any("error", err))
		writeJSONError(w, "failed to update manual flag", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
