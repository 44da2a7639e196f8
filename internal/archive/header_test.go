package archive

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleHeader builds wire bytes for KGRR at 2023-08-24 23:30:04 UTC.
func sampleHeader(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize)
	copy(buf[0:9], "AR2V0006.")
	copy(buf[9:12], "001")
	// 2023-08-24 is 19593 days after 1970-01-01; the field is one-based.
	binary.BigEndian.PutUint32(buf[12:16], 19594)
	binary.BigEndian.PutUint32(buf[16:20], uint32((23*3600+30*60+4)*1000))
	copy(buf[20:24], "KGRR")
	return buf
}

func TestReadHeader(t *testing.T) {
	h, err := ReadHeader(bytes.NewReader(sampleHeader(t)))
	require.NoError(t, err)

	assert.Equal(t, "AR2V0006.", string(h.Tag[:]))
	assert.Equal(t, "001", string(h.VolumeNumber[:]))
	assert.Equal(t, "KGRR", string(h.Station[:]))
	assert.Equal(t, time.Date(2023, 8, 24, 23, 30, 4, 0, time.UTC), h.Time())
}

func TestReadHeaderShortRead(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader(sampleHeader(t)[:10]))
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMarshalRoundTrip(t *testing.T) {
	wire := sampleHeader(t)
	h, err := ReadHeader(bytes.NewReader(wire))
	require.NoError(t, err)

	out := h.Marshal()
	assert.Equal(t, wire, out[:])
}

func TestSetTime(t *testing.T) {
	t.Run("epoch is julian day one", func(t *testing.T) {
		var h Header
		h.SetTime(time.Unix(0, 0).UTC())
		assert.Equal(t, uint32(1), h.JulianDate)
		assert.Equal(t, uint32(0), h.Milliseconds)
	})

	t.Run("scenario shift", func(t *testing.T) {
		h, err := ReadHeader(bytes.NewReader(sampleHeader(t)))
		require.NoError(t, err)

		munged := time.Date(2024, 1, 1, 10, 0, 4, 0, time.UTC)
		h.SetTime(munged)

		assert.Equal(t, munged, h.Time())
		// 2024-01-01 is 19723 days after epoch.
		assert.Equal(t, uint32(19724), h.JulianDate)
		assert.Equal(t, uint32((10*3600+4)*1000), h.Milliseconds)
	})

	t.Run("end of day", func(t *testing.T) {
		var h Header
		h.SetTime(time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC))
		assert.Equal(t, uint32(86399000), h.Milliseconds)
	})

	t.Run("preserves milliseconds", func(t *testing.T) {
		var h Header
		ts := time.Date(2024, 1, 1, 0, 0, 1, 250*int(time.Millisecond), time.UTC)
		h.SetTime(ts)
		assert.Equal(t, ts, h.Time())
	})
}

func TestSetStation(t *testing.T) {
	h, err := ReadHeader(bytes.NewReader(sampleHeader(t)))
	require.NoError(t, err)

	require.NoError(t, h.SetStation("KLOT"))
	assert.Equal(t, "KLOT", string(h.Station[:]))

	assert.Error(t, h.SetStation("LOT"))
	assert.Error(t, h.SetStation("KLOTX"))
}

func TestSetTimePreservesTagAndVolumeNumber(t *testing.T) {
	wire := sampleHeader(t)
	h, err := ReadHeader(bytes.NewReader(wire))
	require.NoError(t, err)

	h.SetTime(time.Date(2024, 1, 1, 10, 0, 4, 0, time.UTC))
	require.NoError(t, h.SetStation("KLOT"))

	out := h.Marshal()
	assert.Equal(t, wire[0:12], out[0:12], "tag and volume number preserved verbatim")
}
