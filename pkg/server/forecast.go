package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jameshartig/gridplan/pkg/forecast"
	"github.com/jameshartig/gridplan/pkg/types"
)

// handleForecast returns the hourly PV forecast read from the configured
// sensor.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings := s.cfg.Settings()
	if settings.PVForecastSensor == "" {
		writeJSONError(w, "no PV forecast sensor configured", http.StatusNotFound)
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 48 {
			writeJSONError(w, "hours must be 1-48", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	hourly := forecast.NewParser(s.client, settings.PVForecastSensor).Hourly(ctx, time.Now(), hours)
	if hourly == nil {
		hourly = []types.ForecastHour{}
	}
	writeJSON(w, hourly)
}
