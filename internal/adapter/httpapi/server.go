// Package httpapi exposes the service surface: the session REST API, the
// static assets tree that GR2Analyst polls, and the health/metrics trio.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/session"
)

// SessionService is the slice of session.Supervisor the API needs.
type SessionService interface {
	Launch(ctx context.Context, settings domain.Settings) (*domain.Session, error)
	Get(id string) (*domain.Session, error)
	List() []*domain.Session
	Stop(id string) error
	CheckReadiness(ctx context.Context) error
}

// Defaults fill the optional playback knobs a create request omits.
type Defaults struct {
	TickInterval time.Duration
	SpeedFactor  float64
	Lookahead    time.Duration
}

// Server exposes the session API, the asset file server, and the
// health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	sessions   SessionService
	defaults   Defaults
	logger     *slog.Logger
}

// NewServer creates the HTTP server. assetsDir is the root under which each
// session's polling surface lives.
func NewServer(addr, assetsDir string, sessions SessionService, defaults Defaults, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		sessions: sessions,
		defaults: defaults,
		logger:   logger,
	}

	mux.HandleFunc("POST /api/sessions", s.handleCreate)
	mux.HandleFunc("GET /api/sessions", s.handleList)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(assetsDir))))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type createRequest struct {
	EventStart   time.Time `json:"event_start"`
	DurationMin  int       `json:"duration_min"`
	SourceRadars []string  `json:"source_radars"`
	Destination  string    `json:"destination,omitempty"`

	// Optional playback knobs, defaulted from configuration when absent.
	TickIntervalSec int     `json:"tick_interval_sec,omitempty"`
	SpeedFactor     float64 `json:"speed_factor,omitempty"`
	LookaheadSec    int     `json:"lookahead_sec,omitempty"`
}

type sessionResponse struct {
	ID            string          `json:"id"`
	Settings      domain.Settings `json:"settings"`
	PlaybackStart time.Time       `json:"playback_start"`
	DeltaSeconds  int64           `json:"delta_seconds"`
	State         domain.State    `json:"state"`
	Progress      string          `json:"progress,omitempty"`
	Failure       string          `json:"failure,omitempty"`
	AssetsPath    string          `json:"assets_path"`
}

func toResponse(sess *domain.Session) sessionResponse {
	snap := sess.Snapshot()
	return sessionResponse{
		ID:            sess.ID,
		Settings:      sess.Settings,
		PlaybackStart: sess.PlaybackStart,
		DeltaSeconds:  int64(sess.Delta.Seconds()),
		State:         snap.State,
		Progress:      snap.Progress,
		Failure:       snap.Failure,
		AssetsPath:    "/assets/" + sess.ID + "/",
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	settings := domain.Settings{
		EventStart:   req.EventStart.UTC(),
		DurationMin:  req.DurationMin,
		SourceRadars: req.SourceRadars,
		Destination:  req.Destination,
		TickInterval: s.defaults.TickInterval,
		SpeedFactor:  s.defaults.SpeedFactor,
		Lookahead:    s.defaults.Lookahead,
	}
	if req.TickIntervalSec > 0 {
		settings.TickInterval = time.Duration(req.TickIntervalSec) * time.Second
	}
	if req.SpeedFactor > 0 {
		settings.SpeedFactor = req.SpeedFactor
	}
	if req.LookaheadSec > 0 {
		settings.Lookahead = time.Duration(req.LookaheadSec) * time.Second
	}

	sess, err := s.sessions.Launch(r.Context(), settings)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(sess))
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	sessions := s.sessions.List()
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toResponse(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(sess))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.PathValue("id")); err != nil {
		s.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Error("session request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.sessions.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
