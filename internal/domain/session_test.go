package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		EventStart:   time.Date(2023, 8, 24, 23, 30, 0, 0, time.UTC),
		DurationMin:  30,
		SourceRadars: []string{"KGRR"},
		TickInterval: 45 * time.Second,
		SpeedFactor:  1.0,
		Lookahead:    5 * time.Minute,
	}
}

func TestNewSessionTiming(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { SetClock(nil) })

	s := NewSession("sess-1", testSettings(), Dirs{Assets: "/tmp/a", Data: "/tmp/d"})

	// playback_start = now − 2h; Δt = playback_start − event_start.
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), s.PlaybackStart)
	assert.Equal(t, s.PlaybackStart.Sub(s.Settings.EventStart), s.Delta)
	assert.Equal(t, s.PlaybackStart.Add(30*time.Minute), s.PlaybackEnd())
	assert.Equal(t, StateInit, s.State())
}

func TestSessionStateMachine(t *testing.T) {
	s := NewSession("sess-2", testSettings(), Dirs{})

	for _, st := range []State{StateAcquiring, StateMunging, StatePlacefilesReady, StatePlaying, StateDone} {
		s.SetState(st)
		assert.Equal(t, st, s.State())
	}

	// Terminal states are sticky.
	s.SetState(StateAcquiring)
	assert.Equal(t, StateDone, s.State())
}

func TestSessionFail(t *testing.T) {
	s := NewSession("sess-3", testSettings(), Dirs{})
	s.Fail("no volume files retrieved for KGRR")

	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "no volume files retrieved for KGRR", snap.Failure)

	// Failure is terminal too.
	s.SetState(StatePlaying)
	assert.Equal(t, StateFailed, s.State())
}

func TestPublishRadars(t *testing.T) {
	t.Run("no destination publishes each source", func(t *testing.T) {
		st := testSettings()
		st.SourceRadars = []string{"KGRR", "KDTX"}
		s := NewSession("sess-4", st, Dirs{})
		assert.Equal(t, []string{"KGRR", "KDTX"}, s.PublishRadars())
	})

	t.Run("destination collapses to one polling dir", func(t *testing.T) {
		st := testSettings()
		st.Destination = "KLOT"
		s := NewSession("sess-5", st, Dirs{})
		assert.Equal(t, []string{"KLOT"}, s.PublishRadars())
	})
}

func TestSettingsTransposed(t *testing.T) {
	st := testSettings()
	assert.False(t, st.Transposed())

	st.Destination = "KGRR" // same as the single source: re-station is a no-op
	assert.False(t, st.Transposed())

	st.Destination = "KLOT"
	assert.True(t, st.Transposed())
}

func TestEventWindow(t *testing.T) {
	st := testSettings()
	w := st.EventWindow()
	require.Equal(t, st.EventStart, w.Start)
	require.Equal(t, st.EventStart.Add(30*time.Minute), w.End)
}

func TestDirsLayout(t *testing.T) {
	d := Dirs{Assets: "/base/assets/s1", Data: "/base/data/s1"}

	assert.Equal(t, "/base/assets/s1/polling", d.Polling())
	assert.Equal(t, "/base/assets/s1/polling/grlevel2.cfg", d.PollingConfig())
	assert.Equal(t, "/base/assets/s1/polling/KGRR", d.PollingRadar("KGRR"))
	assert.Equal(t, "/base/assets/s1/placefiles", d.Placefiles())
	assert.Equal(t, "/base/assets/s1/hodographs", d.Hodographs())
	assert.Equal(t, "/base/assets/s1/hodographs.html", d.HodographPage())
	assert.Equal(t, "/base/data/s1/radar/KGRR/downloads", d.Downloads("KGRR"))
	assert.Equal(t, "/base/data/s1/logs", d.Logs())
}
