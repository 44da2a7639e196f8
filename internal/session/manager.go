// Package session owns the registry of live simulations and each
// session's private directory tree.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
)

// ErrNotFound is returned by Get for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Manager allocates session identities and directory trees and tracks the
// live sessions. All methods are safe for concurrent use; per-session
// state is only mutated through the owning pipeline goroutine.
type Manager struct {
	baseDir string
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewManager creates a Manager rooted at baseDir.
func NewManager(baseDir string, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		baseDir:  baseDir,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*domain.Session),
	}
}

// Create validates the settings, allocates an id, and materializes the
// full directory layout. On any failure the partial tree is removed and
// the session is never registered.
func (m *Manager) Create(settings domain.Settings) (*domain.Session, error) {
	catalog, err := domain.Sites()
	if err != nil {
		return nil, err
	}
	if err := validate(settings, catalog); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dirs := domain.Dirs{
		Assets: filepath.Join(m.baseDir, "assets", id),
		Data:   filepath.Join(m.baseDir, "data", id),
	}
	sess := domain.NewSession(id, settings, dirs)

	if err := m.materialize(sess); err != nil {
		// Remove whatever partial tree exists; the session was never visible.
		os.RemoveAll(dirs.Assets)
		os.RemoveAll(dirs.Data)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.metrics.SessionsCreated.Inc()
	m.metrics.SessionsActive.Inc()
	m.logger.Info("session created",
		"session_id", id,
		"event_start", settings.EventStart,
		"duration_min", settings.DurationMin,
		"radars", settings.SourceRadars,
		"destination", settings.Destination,
		"delta", sess.Delta,
	)
	return sess, nil
}

// Get returns a registered session.
func (m *Manager) Get(id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns all registered sessions.
func (m *Manager) List() []*domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Destroy unregisters the session and removes its directory tree. It is
// idempotent: destroying an unknown or already-destroyed id is a no-op,
// and missing subdirectories are tolerated.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.metrics.SessionsActive.Dec()

	var errs []error
	for _, dir := range []string{sess.Dirs.Assets, sess.Dirs.Data} {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("destroy session %s: %w", id, errors.Join(errs...))
	}
	m.logger.Info("session destroyed", "session_id", id)
	return nil
}

// Keep unregisters the session but leaves its tree on disk, used for
// FAILED sessions so the artifacts stay inspectable.
func (m *Manager) Keep(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		m.metrics.SessionsActive.Dec()
		m.logger.Info("session unregistered, tree retained", "session_id", id)
	}
}

// materialize creates every directory of the layout, writes grlevel2.cfg,
// and persists the settings record.
func (m *Manager) materialize(sess *domain.Session) error {
	dirs := []string{
		sess.Dirs.Polling(),
		sess.Dirs.Placefiles(),
		sess.Dirs.Hodographs(),
		sess.Dirs.ModelData(),
		sess.Dirs.Logs(),
	}
	for _, radar := range sess.PublishRadars() {
		dirs = append(dirs, sess.Dirs.PollingRadar(radar))
	}
	for _, radar := range sess.Settings.SourceRadars {
		dirs = append(dirs, sess.Dirs.Downloads(radar))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}

	if err := writePollingConfig(sess); err != nil {
		return err
	}
	return writeSettingsRecord(sess)
}

// writePollingConfig emits the GR2Analyst grlevel2.cfg with one Site line
// per destination radar directory.
func writePollingConfig(sess *domain.Session) error {
	content := "ListFile: dir.list\n"
	for _, radar := range sess.PublishRadars() {
		content += "Site: " + radar + "\n"
	}
	if err := os.WriteFile(sess.Dirs.PollingConfig(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write grlevel2.cfg: %w", err)
	}
	return nil
}

// writeSettingsRecord persists the session's fixed parameters so a crashed
// or inspected session can be reconstructed.
func writeSettingsRecord(sess *domain.Session) error {
	record := struct {
		ID            string          `json:"id"`
		Settings      domain.Settings `json:"settings"`
		PlaybackStart string          `json:"playback_start"`
		DeltaSeconds  int64           `json:"delta_seconds"`
	}{
		ID:            sess.ID,
		Settings:      sess.Settings,
		PlaybackStart: sess.PlaybackStart.Format("2006-01-02T15:04:05Z"),
		DeltaSeconds:  int64(sess.Delta.Seconds()),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	path := filepath.Join(sess.Dirs.Data, "session.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	return nil
}

// validate rejects invalid setting combinations before any directory is
// created.
func validate(s domain.Settings, catalog *domain.Catalog) error {
	if s.EventStart.IsZero() {
		return errors.New("event start is required")
	}
	if s.DurationMin < 1 {
		return errors.New("duration must be at least one minute")
	}
	if len(s.SourceRadars) < 1 || len(s.SourceRadars) > 3 {
		return fmt.Errorf("select 1-3 source radars, got %d", len(s.SourceRadars))
	}
	seen := make(map[string]bool, len(s.SourceRadars))
	for _, id := range s.SourceRadars {
		if _, ok := catalog.Lookup(id); !ok {
			return fmt.Errorf("unknown radar %q", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate radar %q", id)
		}
		seen[id] = true
	}
	if s.Destination != "" {
		if _, ok := catalog.Lookup(s.Destination); !ok {
			return fmt.Errorf("unknown destination radar %q", s.Destination)
		}
		if len(s.SourceRadars) != 1 {
			return errors.New("destination radar requires exactly one source radar")
		}
	}
	if s.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if s.SpeedFactor <= 0 {
		return errors.New("speed factor must be positive")
	}
	if s.Lookahead < 0 {
		return errors.New("lookahead must not be negative")
	}
	return nil
}
