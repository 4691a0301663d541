// Package httpapi exposes the study tracker over HTTP with Basic-authenticated
// JSON endpoints and a websocket notification stream.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-study/internal/notify"
	"github.com/p-n-ai/pai-study/internal/store"
	"github.com/p-n-ai/pai-study/internal/tracker"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 10 << 20
	checkTimeout  = 2 * time.Second
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// UserStore is the account storage used for sign-up and authentication.
type UserStore interface {
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

// Config holds the dependencies of a Server.
type Config struct {
	Service *tracker.Service
	Users   UserStore
	// Hub serves /api/v1/ws; the route answers 404 when nil.
	Hub        *notify.Hub
	BcryptCost int
	// NotifyByDefault is the notification setting of new accounts.
	NotifyByDefault bool
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]Check
}

// Server routes HTTP requests to the tracker service.
type Server struct {
	svc           *tracker.Service
	users         UserStore
	hub           *notify.Hub
	bcryptCost    int
	notifyDefault bool
	checks        map[string]Check
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		svc:           cfg.Service,
		users:         cfg.Users,
		hub:           cfg.Hub,
		bcryptCost:    cfg.BcryptCost,
		notifyDefault: cfg.NotifyByDefault,
		checks:        cfg.Checks,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("POST /api/v1/users", s.handleSignUp)

	mux.HandleFunc("GET /api/v1/dashboard", s.auth(s.handleDashboard))
	mux.HandleFunc("PUT /api/v1/curriculum", s.auth(s.handleUploadCurriculum))
	mux.HandleFunc("GET /api/v1/checklist", s.auth(s.handleChecklist))
	mux.HandleFunc("POST /api/v1/progress", s.auth(s.handleToggle))
	mux.HandleFunc("DELETE /api/v1/progress", s.auth(s.handleReset))
	mux.HandleFunc("POST /api/v1/sessions", s.auth(s.handleLogSession))
	mux.HandleFunc("GET /api/v1/badges", s.auth(s.handleBadges))
	mux.HandleFunc("POST /api/v1/schedule", s.auth(s.handleGenerateSchedule))
	mux.HandleFunc("GET /api/v1/schedule", s.auth(s.handleGetSchedule))
	mux.HandleFunc("GET /api/v1/schedule.ics", s.auth(s.handleScheduleICS))
	mux.HandleFunc("GET /api/v1/export/progress.csv", s.auth(s.handleExportProgress))
	mux.HandleFunc("GET /api/v1/export/badges.csv", s.auth(s.handleExportBadges))
	mux.HandleFunc("PUT /api/v1/settings", s.auth(s.handleSettings))
	mux.HandleFunc("GET /api/v1/ws", s.auth(s.handleWebsocket))

	return logRequests(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": failed})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
