package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-sim-service/internal/acquire"
	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/munge"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
)

var (
	eventStart    = time.Date(2023, 8, 24, 23, 30, 0, 0, time.UTC)
	playbackStart = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
)

type mockAcquirer struct {
	mu      sync.Mutex
	files   map[string][]domain.VolumeFile
	errs    map[string]error
	dstDirs map[string]string
	block   bool // when set, wait for ctx cancellation
}

func (m *mockAcquirer) Acquire(ctx context.Context, radar string, _ domain.Window, dstDir string) ([]domain.VolumeFile, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	if m.dstDirs == nil {
		m.dstDirs = make(map[string]string)
	}
	m.dstDirs[radar] = dstDir
	m.mu.Unlock()
	if err := m.errs[radar]; err != nil {
		return nil, err
	}
	return m.files[radar], nil
}

type mungeCall struct {
	files    []domain.VolumeFile
	start    time.Time
	earliest time.Time
	station  string
	outDir   string
}

type mockMunger struct {
	mu    sync.Mutex
	calls []mungeCall
	err   error
}

func (m *mockMunger) MungeAll(_ context.Context, files []domain.VolumeFile, start, earliest time.Time, station, outDir string) ([]munge.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mungeCall{files: files, start: start, earliest: earliest, station: station, outDir: outDir})
	return nil, m.err
}

type mockTools struct {
	mu         sync.Mutex
	ran        bool
	terminated bool
}

func (m *mockTools) RunAll(context.Context, *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = true
}

func (m *mockTools) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = true
}

type mockEvents struct {
	mu     sync.Mutex
	states []domain.State
}

func (m *mockEvents) Publish(_ context.Context, _ string, st domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, st)
	return nil
}

func (m *mockEvents) published() []domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.State(nil), m.states...)
}

func testSession(t *testing.T, settings domain.Settings) *domain.Session {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(playbackStart.Add(domain.DefaultPlaybackDelay)))
	t.Cleanup(func() { domain.SetClock(nil) })

	base := t.TempDir()
	sess := domain.NewSession("test-session", settings, domain.Dirs{
		Assets: filepath.Join(base, "assets"),
		Data:   filepath.Join(base, "data"),
	})
	for _, radar := range sess.PublishRadars() {
		require.NoError(t, os.MkdirAll(sess.Dirs.PollingRadar(radar), 0o755))
	}
	require.NoError(t, os.MkdirAll(sess.Dirs.Placefiles(), 0o755))
	return sess
}

func defaultSettings() domain.Settings {
	return domain.Settings{
		EventStart:   eventStart,
		DurationMin:  1,
		SourceRadars: []string{"KGRR"},
		TickInterval: 30 * time.Second,
		SpeedFactor:  1.0,
		Lookahead:    5 * time.Minute,
	}
}

func volumes(radar string, times ...time.Time) []domain.VolumeFile {
	out := make([]domain.VolumeFile, 0, len(times))
	for _, ts := range times {
		out = append(out, domain.VolumeFile{Radar: radar, SourceTime: ts})
	}
	return out
}

// runTicks advances the fake clock through every playback tick so Run can
// reach the end of the window.
func runTicks(clk *clockwork.FakeClock, ticks int, interval time.Duration) {
	for range ticks {
		clk.BlockUntil(1)
		clk.Advance(interval)
	}
}

func newPipeline(a Acquirer, m Munger, tl ToolRunner, ev EventPublisher, clk clockwork.Clock) *Pipeline {
	return New(a, m, tl, ev, clk, observability.NewTestLogger(), observability.NewMetricsForTesting())
}

func TestRunHappyPath(t *testing.T) {
	sess := testSession(t, defaultSettings())
	acq := &mockAcquirer{files: map[string][]domain.VolumeFile{
		"KGRR": volumes("KGRR", eventStart, eventStart.Add(7*time.Minute)),
	}}
	mun := &mockMunger{}
	tl := &mockTools{}
	ev := &mockEvents{}
	clk := clockwork.NewFakeClock()

	done := make(chan error, 1)
	go func() { done <- newPipeline(acq, mun, tl, ev, clk).Run(context.Background(), sess) }()
	runTicks(clk, 2, 30*time.Second)
	require.NoError(t, <-done)

	assert.Equal(t, domain.StateDone, sess.State())
	wantStates := []domain.State{
		domain.StateAcquiring,
		domain.StateMunging,
		domain.StatePlacefilesReady,
		domain.StatePlaying,
		domain.StateDone,
	}
	if diff := cmp.Diff(wantStates, ev.published()); diff != "" {
		t.Errorf("published transitions mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, sess.Dirs.Downloads("KGRR"), acq.dstDirs["KGRR"])
	assert.True(t, tl.ran)
	assert.False(t, tl.terminated)

	require.Len(t, mun.calls, 1)
	call := mun.calls[0]
	assert.Equal(t, sess.PlaybackStart, call.start)
	assert.Equal(t, eventStart, call.earliest)
	assert.Empty(t, call.station, "no re-stationing without a destination")
	assert.Equal(t, sess.Dirs.PollingRadar("KGRR"), call.outDir)
}

func TestRunTransposedSession(t *testing.T) {
	settings := defaultSettings()
	settings.Destination = "KLOT"
	sess := testSession(t, settings)

	acq := &mockAcquirer{files: map[string][]domain.VolumeFile{
		"KGRR": volumes("KGRR", eventStart),
	}}
	mun := &mockMunger{}
	clk := clockwork.NewFakeClock()

	done := make(chan error, 1)
	go func() {
		done <- newPipeline(acq, mun, &mockTools{}, nil, clk).Run(context.Background(), sess)
	}()
	runTicks(clk, 2, 30*time.Second)
	require.NoError(t, <-done)

	require.Len(t, mun.calls, 1)
	assert.Equal(t, "KLOT", mun.calls[0].station)
	assert.Equal(t, sess.Dirs.PollingRadar("KLOT"), mun.calls[0].outDir)
}

func TestMultiRadarSharedAnchor(t *testing.T) {
	settings := defaultSettings()
	settings.SourceRadars = []string{"KGRR", "KLOT"}
	sess := testSession(t, settings)

	// KLOT's first volume predates KGRR's; both munges anchor on it.
	acq := &mockAcquirer{files: map[string][]domain.VolumeFile{
		"KGRR": volumes("KGRR", eventStart.Add(3*time.Minute)),
		"KLOT": volumes("KLOT", eventStart.Add(90*time.Second)),
	}}
	mun := &mockMunger{}
	clk := clockwork.NewFakeClock()

	done := make(chan error, 1)
	go func() {
		done <- newPipeline(acq, mun, &mockTools{}, nil, clk).Run(context.Background(), sess)
	}()
	runTicks(clk, 2, 30*time.Second)
	require.NoError(t, <-done)

	require.Len(t, mun.calls, 2)
	for _, call := range mun.calls {
		assert.Equal(t, eventStart.Add(90*time.Second), call.earliest)
	}
}

func TestAcquireFailureFailsSession(t *testing.T) {
	sess := testSession(t, defaultSettings())
	acq := &mockAcquirer{errs: map[string]error{"KGRR": acquire.ErrNoVolumes}}
	ev := &mockEvents{}

	err := newPipeline(acq, &mockMunger{}, &mockTools{}, ev, clockwork.NewFakeClock()).
		Run(context.Background(), sess)

	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, sess.State())
	snap := sess.Snapshot()
	assert.Contains(t, snap.Failure, "KGRR")
	states := ev.published()
	assert.Equal(t, domain.StateFailed, states[len(states)-1])
}

func TestMungeFailureFailsSession(t *testing.T) {
	sess := testSession(t, defaultSettings())
	acq := &mockAcquirer{files: map[string][]domain.VolumeFile{
		"KGRR": volumes("KGRR", eventStart),
	}}
	mun := &mockMunger{err: errors.New("volumes unreadable")}

	err := newPipeline(acq, mun, &mockTools{}, nil, clockwork.NewFakeClock()).
		Run(context.Background(), sess)

	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, sess.State())
	assert.Contains(t, sess.Snapshot().Failure, "volumes unreadable")
}

func TestCancelFinishesAsDone(t *testing.T) {
	sess := testSession(t, defaultSettings())
	acq := &mockAcquirer{block: true}
	tl := &mockTools{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- newPipeline(acq, &mockMunger{}, tl, nil, clockwork.NewFakeClock()).Run(ctx, sess)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, domain.StateDone, sess.State())
	snap := sess.Snapshot()
	assert.True(t, snap.Cancelled)
	assert.True(t, tl.terminated)
}
