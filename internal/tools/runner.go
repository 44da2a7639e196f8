// Package tools invokes the external helper programs that produce the
// non-radar simulation assets: hodograph plots, surface observation
// placefiles, NSE-derived placefiles and local storm reports. The helpers
// are standalone executables looked up under a configured directory; the
// runner owns their argument contracts and their lifecycle.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
)

// Tool executable base names. Terminate refuses to signal anything that is
// not on this list, so a runner can never take down an unrelated process.
const (
	HodoPlot      = "hodo_plot"
	MesowestObs   = "mesowest_obs"
	NSEProcessor  = "nse_processor"
	LSRDownloader = "lsr_downloader"
)

var restricted = map[string]bool{
	HodoPlot:      true,
	MesowestObs:   true,
	NSEProcessor:  true,
	LSRDownloader: true,
}

// Runner executes the external helpers for one or more sessions. It is safe
// for concurrent use; Terminate signals every helper still running.
type Runner struct {
	dir     string
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	running map[*exec.Cmd]struct{}
}

// NewRunner creates a runner that resolves tool executables under dir.
func NewRunner(dir string, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		dir:     dir,
		logger:  logger,
		metrics: metrics,
		running: make(map[*exec.Cmd]struct{}),
	}
}

// RunAll executes every helper for the session. A helper failing means its
// outputs are simply absent; the session carries on without them, so errors
// are logged and counted but never returned.
func (r *Runner) RunAll(ctx context.Context, sess *domain.Session) {
	for _, run := range []func(context.Context, *domain.Session) error{
		r.PlotHodographs,
		r.FetchObservations,
		r.ProcessNSE,
		r.DownloadReports,
	} {
		if err := run(ctx, sess); err != nil {
			r.logger.Warn("external tool failed, continuing without its output",
				"session_id", sess.ID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// PlotHodographs runs hodo_plot once per source radar. The tool writes PNG
// frames into hodographs/ relative to its working directory.
func (r *Runner) PlotHodographs(ctx context.Context, sess *domain.Session) error {
	catalog, err := domain.Sites()
	if err != nil {
		return fmt.Errorf("load radar catalog: %w", err)
	}
	delta := strconv.FormatInt(int64(sess.Delta.Seconds()), 10)
	for _, radar := range sess.Settings.SourceRadars {
		site, ok := catalog.Lookup(radar)
		if !ok {
			return fmt.Errorf("hodograph site lookup: unknown radar %q", radar)
		}
		dest := sess.Settings.Destination
		if dest == "" {
			dest = radar
		}
		err := r.run(ctx, sess, HodoPlot, radar, dest, site.ASOS[0], site.ASOS[1], delta)
		if err != nil {
			return err
		}
	}
	return nil
}

// FetchObservations runs mesowest_obs centered on the first source radar,
// producing one placefile per surface variable.
func (r *Runner) FetchObservations(ctx context.Context, sess *domain.Session) error {
	catalog, err := domain.Sites()
	if err != nil {
		return fmt.Errorf("load radar catalog: %w", err)
	}
	site, ok := catalog.Lookup(sess.Settings.SourceRadars[0])
	if !ok {
		return fmt.Errorf("observation site lookup: unknown radar %q", sess.Settings.SourceRadars[0])
	}
	return r.run(ctx, sess, MesowestObs,
		strconv.FormatFloat(site.Lat, 'f', 4, 64),
		strconv.FormatFloat(site.Lon, 'f', 4, 64),
		sess.Settings.EventStart.Format("2006-01-02T15:04:05Z"),
		strconv.Itoa(sess.Settings.DurationMin),
		sess.Dirs.Placefiles(),
	)
}

// ProcessNSE runs nse_processor to derive near-storm-environment placefiles
// from model data.
func (r *Runner) ProcessNSE(ctx context.Context, sess *domain.Session) error {
	return r.run(ctx, sess, NSEProcessor,
		sess.Settings.EventStart.Format("2006-01-02T15:04:05Z"),
		strconv.Itoa(sess.Settings.DurationMin),
		sess.Dirs.ModelData(),
		sess.Dirs.Placefiles(),
	)
}

// DownloadReports runs lsr_downloader over the event window, producing
// LSRs.txt in the placefile directory.
func (r *Runner) DownloadReports(ctx context.Context, sess *domain.Session) error {
	window := sess.Settings.EventWindow()
	return r.run(ctx, sess, LSRDownloader,
		window.Start.Format("2006-01-02T15:04:05Z"),
		window.End.Format("2006-01-02T15:04:05Z"),
		sess.Dirs.Placefiles(),
	)
}

func (r *Runner) run(ctx context.Context, sess *domain.Session, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, filepath.Join(r.dir, name), args...)
	cmd.Dir = sess.Dirs.Assets

	r.logger.Info("running external tool",
		"session_id", sess.ID, "tool", name, "args", args)

	r.mu.Lock()
	r.running[cmd] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, cmd)
		r.mu.Unlock()
	}()

	output, err := cmd.CombinedOutput()
	if err != nil {
		r.metrics.ToolInvocations.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("%s: %w (output: %s)", name, err, output)
	}
	r.metrics.ToolInvocations.WithLabelValues(name, "ok").Inc()
	return nil
}

// Terminate sends SIGTERM to every tracked helper still running. Only
// executables on the restricted name list are ever signalled.
func (r *Runner) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cmd := range r.running {
		if !restricted[filepath.Base(cmd.Path)] {
			continue
		}
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			r.logger.Warn("signalling external tool failed",
				"tool", filepath.Base(cmd.Path), "error", err)
		}
	}
}
