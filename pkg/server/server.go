// Package server exposes the HTTP API: schedule inspection and editing,
// manual mode control, optimization runs, settings, and mode history.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/jameshartig/gridplan/pkg/config"
	"github.com/jameshartig/gridplan/pkg/executor"
	"github.com/jameshartig/gridplan/pkg/hass"
	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/schedule"
	"github.com/jameshartig/gridplan/pkg/storage"
	"github.com/jameshartig/gridplan/pkg/types"
)

// Server handles the HTTP API for the scheduler. It orchestrates the
// schedule store, the executor, and the optimizer on behalf of API callers.
type Server struct {
	client   hass.Client
	store    *schedule.Store
	db       storage.Database
	cfg      *config.Manager
	executor *executor.Executor

	listenAddr string
	apiToken   string
	serverName string
	httpServer *http.Server

	mu         sync.Mutex
	lastResult *types.OptimizationResult
	lastRun    time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(client hass.Client, store *schedule.Store, db storage.Database, cfg *config.Manager, exec *executor.Executor) *Server {
	srv := &Server{
		client:     client,
		store:      store,
		db:         db,
		cfg:        cfg,
		executor:   exec,
		serverName: "gridplan",
	}

	// get the port from PORT when running in a container platform
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	apiToken := lflag.String("api-token", "", "Bearer token required for /api requests. Empty disables auth.")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.apiToken = *apiToken
		if srv.apiToken == "" {
			log.Ctx(context.Background()).Warn("api-token not set, API is unauthenticated")
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/schedule", s.handleGetSchedule)
	apiMux.HandleFunc("POST /api/schedule", s.handleSetSchedule)
	apiMux.HandleFunc("DELETE /api/schedule", s.handleDeleteSchedule)
	apiMux.HandleFunc("POST /api/schedule/manual", s.handleSetManual)
	apiMux.HandleFunc("POST /api/mode", s.handleSetMode)
	apiMux.HandleFunc("GET /api/modes", s.handleListModes)
	apiMux.HandleFunc("POST /api/optimize", s.handleOptimize)
	apiMux.HandleFunc("GET /api/optimize/last", s.handleLastOptimization)
	apiMux.HandleFunc("GET /api/forecast", s.handleForecast)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/history", s.handleHistory)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// authMiddleware requires the configured bearer token on every API request.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// validHourKey reports whether hour is a schedule hour key ("0".."23").
func validHourKey(hour string) bool {
	for h := 0; h < 24; h++ {
		if hour == types.HourKey(h) {
			return true
		}
	}
	return false
}

// validDateKey reports whether date is a schedule date key ("2006-01-02").
func validDateKey(date string) bool {
	_, err := time.Parse(types.DateKeyLayout, date)
	return err == nil
}
