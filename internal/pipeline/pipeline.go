// Package pipeline drives a session through the simulation stages: acquire
// the source volumes, munge them into the playback window, prepare the
// placefile surface, then hand off to the playback clock. One Run call owns
// one session from INIT to a terminal state.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/munge"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
	"github.com/couchcryptid/radar-sim-service/internal/placefile"
	"github.com/couchcryptid/radar-sim-service/internal/playback"
)

// Acquirer downloads every Level-II volume for one radar over a window.
type Acquirer interface {
	Acquire(ctx context.Context, radar string, window domain.Window, dstDir string) ([]domain.VolumeFile, error)
}

// Munger rewrites source volumes into the playback window.
type Munger interface {
	MungeAll(ctx context.Context, files []domain.VolumeFile, playbackStart, earliest time.Time, station, outDir string) ([]munge.Result, error)
}

// ToolRunner produces the non-radar assets via external helpers.
type ToolRunner interface {
	RunAll(ctx context.Context, sess *domain.Session)
	Terminate()
}

// EventPublisher announces state transitions to interested services. A nil
// publisher is valid and means transitions stay local.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, state domain.State) error
}

// Pipeline orchestrates the stage sequence for sessions.
type Pipeline struct {
	acquirer Acquirer
	munger   Munger
	tools    ToolRunner
	events   EventPublisher
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Pipeline with the given stages and observability. events may
// be nil when no broker is configured.
func New(a Acquirer, m Munger, t ToolRunner, events EventPublisher, clk clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		acquirer: a,
		munger:   m,
		tools:    t,
		events:   events,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run takes sess from INIT to a terminal state. Cancelling ctx stops the
// session between units of work; it finishes as DONE with whatever partial
// outputs exist on disk. Any other failure leaves the session FAILED with
// its tree retained for inspection.
func (p *Pipeline) Run(ctx context.Context, sess *domain.Session) error {
	p.logger.Info("session pipeline started",
		"session_id", sess.ID,
		"radars", sess.Settings.SourceRadars,
		"playback_start", sess.PlaybackStart,
		"delta", sess.Delta,
	)

	volumes, err := p.acquireStage(ctx, sess)
	if err != nil {
		return p.finish(ctx, sess, err)
	}

	if err := p.mungeStage(ctx, sess, volumes); err != nil {
		return p.finish(ctx, sess, err)
	}

	if err := p.placefileStage(ctx, sess); err != nil {
		return p.finish(ctx, sess, err)
	}

	p.transition(sess, domain.StatePlaying, "playback running")
	err = playback.New(p.clock, sess, p.logger, p.metrics).Run(ctx)
	return p.finish(ctx, sess, err)
}

// acquireStage downloads each source radar's volumes in parallel and returns
// them keyed by radar.
func (p *Pipeline) acquireStage(ctx context.Context, sess *domain.Session) (map[string][]domain.VolumeFile, error) {
	p.transition(sess, domain.StateAcquiring, "downloading radar data")

	window := sess.Settings.EventWindow()
	volumes := make(map[string][]domain.VolumeFile, len(sess.Settings.SourceRadars))
	errs := make(map[string]error, len(sess.Settings.SourceRadars))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, radar := range sess.Settings.SourceRadars {
		wg.Add(1)
		go func() {
			defer wg.Done()
			files, err := p.acquirer.Acquire(ctx, radar, window, sess.Dirs.Downloads(radar))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[radar] = err
				return
			}
			volumes[radar] = files
		}()
	}
	wg.Wait()

	for radar, err := range errs {
		return nil, fmt.Errorf("acquire %s: %w", radar, err)
	}
	return volumes, nil
}

// mungeStage rewrites every radar's volumes into the polling directories,
// anchored to the earliest source time across the whole session so
// multi-radar playback stays aligned.
func (p *Pipeline) mungeStage(ctx context.Context, sess *domain.Session, volumes map[string][]domain.VolumeFile) error {
	p.transition(sess, domain.StateMunging, "shifting volumes into the playback window")

	var earliest time.Time
	for _, files := range volumes {
		for _, f := range files {
			if earliest.IsZero() || f.SourceTime.Before(earliest) {
				earliest = f.SourceTime
			}
		}
	}

	errs := make(map[string]error, len(volumes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for radar, files := range volumes {
		station, outDir := "", sess.Dirs.PollingRadar(radar)
		if sess.Settings.Transposed() {
			station = sess.Settings.Destination
			outDir = sess.Dirs.PollingRadar(station)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.munger.MungeAll(ctx, files, sess.PlaybackStart, earliest, station, outDir)
			if err != nil {
				mu.Lock()
				errs[radar] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for radar, err := range errs {
		return fmt.Errorf("munge %s: %w", radar, err)
	}
	return nil
}

// placefileStage runs the external helpers, then shifts (and optionally
// re-stations) everything they produced. Helper failures only cost their
// own outputs; a transpose failure over the whole directory is fatal since
// playback would publish untransformed truth data.
func (p *Pipeline) placefileStage(ctx context.Context, sess *domain.Session) error {
	p.transition(sess, domain.StatePlacefilesReady, "preparing placefiles")

	p.tools.RunAll(ctx, sess)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	transposer := placefile.NewTransposer(sess.Delta, p.logger, p.metrics)
	if sess.Settings.Transposed() {
		catalog, err := domain.Sites()
		if err != nil {
			return fmt.Errorf("load radar catalog: %w", err)
		}
		from, ok := catalog.Lookup(sess.Settings.SourceRadars[0])
		if !ok {
			return fmt.Errorf("unknown source radar %q", sess.Settings.SourceRadars[0])
		}
		to, ok := catalog.Lookup(sess.Settings.Destination)
		if !ok {
			return fmt.Errorf("unknown destination radar %q", sess.Settings.Destination)
		}
		transposer = placefile.NewSpatialTransposer(sess.Delta, from, to, p.logger, p.metrics)
	}
	if err := transposer.TransposeDir(sess.Dirs.Placefiles()); err != nil {
		return fmt.Errorf("transpose placefiles: %w", err)
	}
	return nil
}

// finish resolves sess to its terminal state: DONE on success or
// cancellation, FAILED otherwise.
func (p *Pipeline) finish(ctx context.Context, sess *domain.Session, err error) error {
	switch {
	case err == nil:
		sess.SetProgress("playback complete")
		sess.SetState(domain.StateDone)
		p.publish(sess.ID, domain.StateDone)
		p.logger.Info("session pipeline finished", "session_id", sess.ID)
		return nil
	case ctx.Err() != nil:
		// Cooperative cancel: stop any helpers still running and close out
		// with whatever made it to disk.
		p.tools.Terminate()
		sess.Cancel()
		sess.SetProgress("cancelled")
		sess.SetState(domain.StateDone)
		p.publish(sess.ID, domain.StateDone)
		p.logger.Info("session pipeline cancelled", "session_id", sess.ID)
		return nil
	default:
		sess.Fail(err.Error())
		p.publish(sess.ID, domain.StateFailed)
		p.metrics.SessionsFailed.Inc()
		p.logger.Error("session pipeline failed", "session_id", sess.ID, "error", err)
		return err
	}
}

func (p *Pipeline) transition(sess *domain.Session, st domain.State, progress string) {
	sess.SetState(st)
	sess.SetProgress(progress)
	p.publish(sess.ID, st)
	p.logger.Info("session state changed", "session_id", sess.ID, "state", st)
}

// publish announces a transition on a short independent deadline so a slow
// broker never stalls the pipeline.
func (p *Pipeline) publish(sessionID string, st domain.State) {
	if p.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.events.Publish(ctx, sessionID, st); err != nil {
		p.logger.Warn("publishing session event failed", "session_id", sessionID, "state", st, "error", err)
	}
}
