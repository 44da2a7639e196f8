package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
)

// PipelineRunner drives one session to a terminal state.
type PipelineRunner interface {
	Run(ctx context.Context, sess *domain.Session) error
}

// Supervisor launches a pipeline goroutine per created session and owns its
// cancellation. It also sweeps expired sessions so abandoned trees do not
// accumulate on disk.
type Supervisor struct {
	manager  *Manager
	pipeline PipelineRunner
	clock    clockwork.Clock
	logger   *slog.Logger
	ttl      time.Duration

	mu      sync.Mutex
	running map[string]*run
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a Supervisor. ttl bounds how long a finished
// session's tree survives after its playback window closes.
func NewSupervisor(manager *Manager, pipeline PipelineRunner, clk clockwork.Clock, logger *slog.Logger, ttl time.Duration) *Supervisor {
	return &Supervisor{
		manager:  manager,
		pipeline: pipeline,
		clock:    clk,
		logger:   logger,
		ttl:      ttl,
		running:  make(map[string]*run),
	}
}

// Launch creates a session and starts its pipeline. The pipeline goroutine
// outlives the request; it is stopped through Stop or baseCtx.
func (s *Supervisor) Launch(baseCtx context.Context, settings domain.Settings) (*domain.Session, error) {
	sess, err := s.manager.Create(settings)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(baseCtx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.running[sess.ID] = r
	s.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()
		if err := s.pipeline.Run(ctx, sess); err != nil {
			s.logger.Error("session pipeline error", "session_id", sess.ID, "error", err)
		}
		s.mu.Lock()
		delete(s.running, sess.ID)
		s.mu.Unlock()
	}()

	return sess, nil
}

// Get returns a registered session.
func (s *Supervisor) Get(id string) (*domain.Session, error) {
	return s.manager.Get(id)
}

// List returns all registered sessions.
func (s *Supervisor) List() []*domain.Session {
	return s.manager.List()
}

// Stop cancels the session's pipeline if it is still running, waits for it
// to wind down, and removes the session tree.
func (s *Supervisor) Stop(id string) error {
	if _, err := s.manager.Get(id); err != nil {
		return err
	}

	s.mu.Lock()
	r := s.running[id]
	s.mu.Unlock()
	if r != nil {
		r.cancel()
		select {
		case <-r.done:
		case <-time.After(30 * time.Second):
			return errors.New("session pipeline did not stop in time")
		}
	}
	return s.manager.Destroy(id)
}

// CheckReadiness reports whether sessions can be created.
func (s *Supervisor) CheckReadiness(_ context.Context) error {
	_, err := domain.Sites()
	return err
}

// Sweep runs the expiry loop until ctx is cancelled. A session expires ttl
// after its playback window closes; failed sessions are unregistered with
// their trees retained for inspection, everything else is removed.
func (s *Supervisor) Sweep(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
		}

		now := s.clock.Now().UTC()
		for _, sess := range s.manager.List() {
			if now.Before(sess.PlaybackEnd().Add(s.ttl)) {
				continue
			}
			s.logger.Info("session expired", "session_id", sess.ID, "state", sess.State())
			if sess.State() == domain.StateFailed {
				s.manager.Keep(sess.ID)
				continue
			}
			if err := s.Stop(sess.ID); err != nil {
				s.logger.Warn("expiring session failed", "session_id", sess.ID, "error", err)
			}
		}
	}
}
