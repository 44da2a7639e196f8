// Package playback advances a session's logical clock and publishes the
// GR2Analyst-visible artifacts at every tick: per-radar dir.list
// manifests, trimmed placefiles, and the hodograph gallery.
package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
	"github.com/couchcryptid/radar-sim-service/internal/placefile"
)

// Clock is one session's cooperative playback loop. It never runs
// concurrently with itself; all publishing happens on the loop goroutine.
type Clock struct {
	clock   clockwork.Clock
	session *domain.Session
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a playback clock for sess driven by clk.
func New(clk clockwork.Clock, sess *domain.Session, logger *slog.Logger, metrics *observability.Metrics) *Clock {
	return &Clock{clock: clk, session: sess, logger: logger, metrics: metrics}
}

// Run publishes at the current playback time, then advances one simulated
// step per wall-clock tick until the playback window is exhausted or the
// context is cancelled. A cancel takes effect between ticks; the in-flight
// publish always completes, so no manifest is left half-written.
func (c *Clock) Run(ctx context.Context) error {
	interval := c.session.Settings.TickInterval
	step := time.Duration(float64(interval) * c.session.Settings.SpeedFactor)
	end := c.session.PlaybackEnd()
	current := c.session.PlaybackStart

	c.logger.Info("playback started",
		"session_id", c.session.ID,
		"playback_start", c.session.PlaybackStart,
		"playback_end", end,
		"interval", interval,
		"step", step,
	)

	for {
		c.publish(current)

		if !current.Before(end) {
			c.logger.Info("playback finished", "session_id", c.session.ID)
			return nil
		}

		select {
		case <-ctx.Done():
			c.logger.Info("playback cancelled", "session_id", c.session.ID)
			return ctx.Err()
		case <-c.clock.After(interval):
		}

		current = current.Add(step)
		if current.After(end) {
			current = end
		}
	}
}

// publish runs one full publish pass. Failures are logged and counted but
// never abort playback; the next tick rewrites everything anyway.
func (c *Clock) publish(current time.Time) {
	start := time.Now()
	c.metrics.PlaybackTicks.Inc()

	for _, radar := range c.session.PublishRadars() {
		dir := c.session.Dirs.PollingRadar(radar)
		if err := WriteDirList(dir, current); err != nil {
			c.metrics.PublishErrors.Inc()
			c.logger.Warn("dir.list publish failed, retrying next tick",
				"session_id", c.session.ID, "radar", radar, "error", err)
		}
	}

	cutoff := current.Add(c.session.Settings.Lookahead)
	if err := placefile.TrimDir(c.session.Dirs.Placefiles(), cutoff); err != nil {
		c.metrics.PublishErrors.Inc()
		c.logger.Warn("placefile trim failed, retrying next tick",
			"session_id", c.session.ID, "error", err)
	}

	if err := WriteGallery(c.session.Dirs.Hodographs(), c.session.Dirs.HodographPage(), current); err != nil {
		c.metrics.PublishErrors.Inc()
		c.logger.Warn("hodograph gallery publish failed, retrying next tick",
			"session_id", c.session.ID, "error", err)
	}

	c.metrics.TickDuration.Observe(time.Since(start).Seconds())
	c.logger.Debug("tick published", "session_id", c.session.ID, "playback_time", current)
}
