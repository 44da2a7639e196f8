package munge

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-sim-service/internal/archive"
	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
)

var testPayload = bytes.Repeat([]byte("RADIAL-DATA-"), 8)

// volumeBytes builds a synthetic Archive-II volume: real header layout,
// opaque payload.
func volumeBytes(t *testing.T, station string, ts time.Time) []byte {
	t.Helper()
	buf := make([]byte, archive.HeaderSize)
	copy(buf[0:9], "AR2V0006.")
	copy(buf[9:12], "001")
	sec := ts.Unix()
	binary.BigEndian.PutUint32(buf[12:16], uint32(sec/86400)+1)
	binary.BigEndian.PutUint32(buf[16:20], uint32(sec%86400)*1000)
	copy(buf[20:24], station)
	return append(buf, testPayload...)
}

// writeVolume drops a raw or gzip-wrapped volume file into dir and returns
// its VolumeFile record.
func writeVolume(t *testing.T, dir, station string, ts time.Time, gzipped bool) domain.VolumeFile {
	t.Helper()
	body := volumeBytes(t, station, ts)

	name := station + ts.Format("20060102_150405") + "_V06"
	compression := domain.CompressionNone
	if gzipped {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, err := gz.Write(body)
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		body = buf.Bytes()
		name += ".gz"
		compression = domain.CompressionGzip
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return domain.VolumeFile{
		Radar:       station,
		SourceTime:  ts,
		Path:        path,
		Compression: compression,
		Size:        int64(len(body)),
	}
}

// readPublished decompresses a published volume into header and payload.
func readPublished(t *testing.T, path string) (archive.Header, []byte) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	header, err := archive.ReadHeader(gz)
	require.NoError(t, err)
	payload, err := io.ReadAll(gz)
	require.NoError(t, err)
	return header, payload
}

func testMunger() *Munger {
	return NewMunger(observability.NewTestLogger(), observability.NewMetricsForTesting(), 2)
}

var (
	eventT0       = time.Date(2023, 8, 24, 23, 30, 4, 0, time.UTC)
	playbackStart = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
)

func TestMungeAllBaselineShift(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	files := []domain.VolumeFile{
		writeVolume(t, srcDir, "KGRR", eventT0, false),
		writeVolume(t, srcDir, "KGRR", eventT0.Add(7*time.Minute+30*time.Second), true),
	}

	results, err := testMunger().MungeAll(context.Background(), files, playbackStart, time.Time{}, "", outDir)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Earliest file lands exactly at playback start.
	assert.Equal(t, playbackStart, results[0].MungedTime)
	assert.Equal(t, playbackStart.Add(7*time.Minute+30*time.Second), results[1].MungedTime)
	assert.Equal(t, filepath.Join(outDir, "KGRR20240101_100000.gz"), results[0].Path)
	assert.Equal(t, filepath.Join(outDir, "KGRR20240101_100730.gz"), results[1].Path)

	for _, res := range results {
		header, payload := readPublished(t, res.Path)
		assert.Equal(t, "AR2V0006.", string(header.Tag[:]))
		assert.Equal(t, "001", string(header.VolumeNumber[:]))
		assert.Equal(t, "KGRR", string(header.Station[:]), "station preserved without destination")
		assert.Equal(t, res.MungedTime, header.Time())
		assert.Equal(t, testPayload, payload, "payload bytes untouched")

		info, err := os.Stat(res.Path)
		require.NoError(t, err)
		assert.Equal(t, res.Size, info.Size())
	}
}

func TestMungeAllTranspose(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	files := []domain.VolumeFile{writeVolume(t, srcDir, "KGRR", eventT0, false)}

	results, err := testMunger().MungeAll(context.Background(), files, playbackStart, time.Time{}, "KLOT", outDir)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "KLOT20240101_100000.gz", filepath.Base(results[0].Path))
	header, _ := readPublished(t, results[0].Path)
	assert.Equal(t, "KLOT", string(header.Station[:]))
}

func TestMungeAllSessionWideAnchor(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	// This radar's first file is 5 minutes after the session-wide earliest.
	files := []domain.VolumeFile{writeVolume(t, srcDir, "KGRR", eventT0.Add(5*time.Minute), false)}

	results, err := testMunger().MungeAll(context.Background(), files, playbackStart, eventT0, "", outDir)
	require.NoError(t, err)
	assert.Equal(t, playbackStart.Add(5*time.Minute), results[0].MungedTime)
}

func TestMungeAllBzip2Source(t *testing.T) {
	// bzip2-wrapped volume for KGRR 2023-08-24 23:30:04 with the standard
	// test payload; Go cannot write bzip2 so the fixture is pre-built.
	const bz2Hex = "425a68393141592653596d7c1ad700001adf40c2100003710024ac1500400000" +
		"100400200054348d0000f481553534064d0c86b1ece9d8894ab8a54bc60642e3" +
		"af040e06260a8036e8a24c150016e37c5dc914e14241b5f06b5c"
	body, err := hex.DecodeString(bz2Hex)
	require.NoError(t, err)

	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "KGRR20230824_233004_V06")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	files := []domain.VolumeFile{{
		Radar:       "KGRR",
		SourceTime:  eventT0,
		Path:        path,
		Compression: domain.CompressionBzip2,
		Size:        int64(len(body)),
	}}

	outDir := t.TempDir()
	results, err := testMunger().MungeAll(context.Background(), files, playbackStart, time.Time{}, "", outDir)
	require.NoError(t, err)

	header, payload := readPublished(t, results[0].Path)
	assert.Equal(t, "KGRR", string(header.Station[:]))
	assert.Equal(t, playbackStart, header.Time())
	assert.Equal(t, testPayload, payload)
}

func TestMungeAllIdempotent(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	files := []domain.VolumeFile{writeVolume(t, srcDir, "KGRR", eventT0, false)}

	m := testMunger()
	first, err := m.MungeAll(context.Background(), files, playbackStart, time.Time{}, "", outDir)
	require.NoError(t, err)
	second, err := m.MungeAll(context.Background(), files, playbackStart, time.Time{}, "", outDir)
	require.NoError(t, err)

	// Same single output, not accumulated.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	a, err := os.ReadFile(first[0].Path)
	require.NoError(t, err)
	b, err := os.ReadFile(second[0].Path)
	require.NoError(t, err)
	assert.Equal(t, a, b, "re-invocation yields byte-identical output")
}

func TestMungeAllSkipsCorruptFile(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	short := filepath.Join(srcDir, "KGRR20230824_233004_V06")
	require.NoError(t, os.WriteFile(short, []byte("AR2V0006."), 0o644)) // truncated header

	files := []domain.VolumeFile{
		{Radar: "KGRR", SourceTime: eventT0, Path: short},
		writeVolume(t, srcDir, "KGRR", eventT0.Add(time.Minute), false),
	}

	results, err := testMunger().MungeAll(context.Background(), files, playbackStart, time.Time{}, "", outDir)
	require.NoError(t, err)
	require.Len(t, results, 1, "corrupt file skipped, session continues")
	assert.True(t, strings.HasSuffix(results[0].Path, "KGRR20240101_100100.gz"))
}

func TestMungeAllAllCorrupt(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	short := filepath.Join(srcDir, "KGRR20230824_233004_V06")
	require.NoError(t, os.WriteFile(short, []byte("xx"), 0o644))

	_, err := testMunger().MungeAll(context.Background(),
		[]domain.VolumeFile{{Radar: "KGRR", SourceTime: eventT0, Path: short}},
		playbackStart, time.Time{}, "", outDir)
	assert.ErrorIs(t, err, ErrNothingMunged)
}

func TestMungeAllDuplicateTimestamps(t *testing.T) {
	srcDir := t.TempDir()
	srcDir2 := t.TempDir()
	outDir := t.TempDir()

	// Two source files sharing a timestamp collapse to one published name;
	// the second write replaces the first rather than erroring.
	files := []domain.VolumeFile{
		writeVolume(t, srcDir, "KGRR", eventT0, false),
		writeVolume(t, srcDir2, "KGRR", eventT0, true),
	}

	results, err := testMunger().MungeAll(context.Background(), files, playbackStart, time.Time{}, "", outDir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].MungedTime, results[1].MungedTime)
}
