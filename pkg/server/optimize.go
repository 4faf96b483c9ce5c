package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/types"
)

type optimizeReq struct {
	HoursAhead    int  `json:"hours_ahead"`
	ApplySchedule bool `json:"apply_schedule"`
}

type optimizeRes struct {
	RunAt  time.Time                 `json:"runAt"`
	Result *types.OptimizationResult `json:"result"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req optimizeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.HoursAhead == 0 {
		req.HoursAhead = 24
	}

	now := time.Now()
	result, err := s.executor.Optimize(ctx, now, req.HoursAhead, req.ApplySchedule)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to apply optimization", slog.Any("error", err))
		writeJSONError(w, "failed to apply optimization", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.lastResult = result
	s.lastRun = now
	s.mu.Unlock()

	writeJSON(w, optimizeRes{RunAt: now, Result: result})
}

func (s *Server) handleLastOptimization(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	result, runAt := s.lastResult, s.lastRun
	s.mu.Unlock()

	if result == nil {
		writeJSONError(w, "no optimization has run", http.StatusNotFound)
		return
	}
	writeJSON(w, optimizeRes{RunAt: runAt, Result: result})
}
