package domain

import (
	"path/filepath"
	"sync"
	"time"
)

// DefaultPlaybackDelay is how far behind wall clock a simulation runs.
// Two hours keeps the playback window clear of any data still arriving in
// the public store while feeling "live" to trainees.
const DefaultPlaybackDelay = 2 * time.Hour

// State is a session's position in the pipeline state machine.
type State string

const (
	StateInit            State = "INIT"
	StateAcquiring       State = "ACQUIRING"
	StateMunging         State = "MUNGING"
	StatePlacefilesReady State = "PLACEFILES_READY"
	StatePlaying         State = "PLAYING"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Window is a closed time interval. Both endpoints are inclusive, matching
// the Level-II store selection rule.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the window, endpoints included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Settings are the user-supplied simulation parameters, fixed at submit.
type Settings struct {
	EventStart   time.Time     `json:"event_start"`
	DurationMin  int           `json:"duration_min"`
	SourceRadars []string      `json:"source_radars"`
	Destination  string        `json:"destination,omitempty"`
	TickInterval time.Duration `json:"tick_interval"`
	SpeedFactor  float64       `json:"speed_factor"`
	Lookahead    time.Duration `json:"lookahead"`
}

// Duration returns the event duration.
func (s Settings) Duration() time.Duration {
	return time.Duration(s.DurationMin) * time.Minute
}

// EventWindow returns the closed event interval [EventStart, EventStart+Duration].
func (s Settings) EventWindow() Window {
	return Window{Start: s.EventStart, End: s.EventStart.Add(s.Duration())}
}

// Transposed reports whether volumes and placefiles must be re-stationed
// onto a destination radar distinct from the (single) source radar.
func (s Settings) Transposed() bool {
	return s.Destination != "" && (len(s.SourceRadars) != 1 || s.SourceRadars[0] != s.Destination)
}

// Dirs is a session's private directory tree. No path is ever shared
// between sessions.
type Dirs struct {
	Assets string `json:"assets"` // polled by GR2Analyst over HTTP
	Data   string `json:"data"`   // downloads, model grids, logs
}

func (d Dirs) Polling() string               { return filepath.Join(d.Assets, "polling") }
func (d Dirs) PollingConfig() string         { return filepath.Join(d.Polling(), "grlevel2.cfg") }
func (d Dirs) PollingRadar(id string) string { return filepath.Join(d.Polling(), id) }
func (d Dirs) Placefiles() string            { return filepath.Join(d.Assets, "placefiles") }
func (d Dirs) Hodographs() string            { return filepath.Join(d.Assets, "hodographs") }
func (d Dirs) HodographPage() string         { return filepath.Join(d.Assets, "hodographs.html") }
func (d Dirs) Downloads(radar string) string {
	return filepath.Join(d.Data, "radar", radar, "downloads")
}
func (d Dirs) ModelData() string { return filepath.Join(d.Data, "model_data") }
func (d Dirs) Logs() string      { return filepath.Join(d.Data, "logs") }

// Session is one DRT simulation. Settings and timing are immutable after
// creation; only the state-machine fields mutate, guarded by mu so the HTTP
// API can snapshot them while the pipeline goroutine runs.
type Session struct {
	ID       string   `json:"id"`
	Settings Settings `json:"settings"`
	Dirs     Dirs     `json:"dirs"`

	// PlaybackStart is now−2h at submit; Delta is the session-constant
	// shift applied to every placefile timestamp.
	PlaybackStart time.Time     `json:"playback_start"`
	Delta         time.Duration `json:"delta"`

	mu        sync.Mutex
	state     State
	progress  string
	cancelled bool
	failure   string
}

// NewSession derives playback timing from the package clock and returns a
// session in StateInit. The caller (session.Manager) supplies the id and
// directory tree.
func NewSession(id string, settings Settings, dirs Dirs) *Session {
	playbackStart := clock.Now().UTC().Add(-DefaultPlaybackDelay).Truncate(time.Second)
	return &Session{
		ID:            id,
		Settings:      settings,
		Dirs:          dirs,
		PlaybackStart: playbackStart,
		Delta:         playbackStart.Sub(settings.EventStart),
		state:         StateInit,
	}
}

// PlaybackEnd is the upper bound of the playback clock.
func (s *Session) PlaybackEnd() time.Time {
	return s.PlaybackStart.Add(s.Settings.Duration())
}

// PublishRadars lists the radar ids that own polling directories: the
// destination when transposing, otherwise each source radar.
func (s *Session) PublishRadars() []string {
	if s.Settings.Destination != "" {
		return []string{s.Settings.Destination}
	}
	return s.Settings.SourceRadars
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the state machine. Transitions out of a terminal
// state are ignored.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = st
}

// Fail transitions to StateFailed and records the reason.
func (s *Session) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = StateFailed
	s.failure = reason
}

// Cancel marks the session cancelled. The pipeline observes this through
// its context; cancelled sessions finish as DONE with partial outputs.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Progress returns the user-visible stage string.
func (s *Session) Progress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// SetProgress updates the user-visible stage string.
func (s *Session) SetProgress(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

// Status is an immutable snapshot for the HTTP API.
type Status struct {
	State     State  `json:"state"`
	Progress  string `json:"progress"`
	Cancelled bool   `json:"cancelled"`
	Failure   string `json:"failure,omitempty"`
}

// Snapshot returns the current status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, Progress: s.progress, Cancelled: s.cancelled, Failure: s.failure}
}
