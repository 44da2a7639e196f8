// Package placefile shifts GR2Analyst placefiles in time and space so
// overlays stay consistent with the transposed radar stream, and trims
// them to the playback clock.
//
// Placefiles are line-oriented; only three shapes are rewritten:
//
//	Valid: HH:MMZ Ddd Mmm DD YYYY
//	TimeRange: <ISO8601Z> <ISO8601Z>
//	any  dd.d+,[ ]-ddd.d+  latitude/longitude pair
//
// Every other line, and any line that fails to parse, passes through
// unchanged.
package placefile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
)

const (
	validPrefix     = "Valid:"
	timeRangePrefix = "TimeRange:"

	validLayout = "15:04Z Mon Jan 02 2006"
	isoLayout   = "2006-01-02T15:04:05Z"

	// ShiftedSuffix and UpdatedSuffix mark the two derived variants of
	// every placefile the external tools produce.
	ShiftedSuffix = "_shifted"
	UpdatedSuffix = "_updated"
)

// latLonRe is the coordinate-pair contract: two-digit latitude with
// decimals, optional space, optionally-negative up-to-three-digit
// longitude with decimals.
var latLonRe = regexp.MustCompile(`(\d{2}\.\d+),(\s?)(-?\d{1,3}\.\d+)`)

// Transposer applies the session's Δt to every timestamp and, when a
// distinct destination radar is set, re-anchors every coordinate pair.
type Transposer struct {
	delta    time.Duration
	from, to domain.RadarSite
	move     bool
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewTransposer builds a time-only transposer.
func NewTransposer(delta time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Transposer {
	return &Transposer{delta: delta, logger: logger, metrics: metrics}
}

// NewSpatialTransposer builds a transposer that also moves coordinates
// from the source radar's frame to the destination radar's.
func NewSpatialTransposer(delta time.Duration, from, to domain.RadarSite, logger *slog.Logger, metrics *observability.Metrics) *Transposer {
	return &Transposer{delta: delta, from: from, to: to, move: true, logger: logger, metrics: metrics}
}

// TransposeDir emits a _shifted variant for every plain placefile in dir.
// Already-derived variants are skipped.
func (t *Transposer) TransposeDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read placefile dir: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".txt") || isDerived(name) {
			continue
		}
		src := filepath.Join(dir, name)
		dst := filepath.Join(dir, derivedName(name, ShiftedSuffix))
		if err := t.TransposeFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// TransposeFile rewrites one placefile line by line.
func (t *Transposer) TransposeFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open placefile: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create shifted placefile: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if _, err := w.WriteString(t.shiftLine(scanner.Text()) + "\n"); err != nil {
			return fmt.Errorf("write shifted placefile: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan placefile: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush shifted placefile: %w", err)
	}

	t.metrics.PlacefilesTransposed.Inc()
	t.logger.Debug("placefile transposed", "src", src, "dst", dst)
	return nil
}

// shiftLine applies whichever transformation the line shape calls for.
func (t *Transposer) shiftLine(line string) string {
	if strings.HasPrefix(line, validPrefix) {
		return t.shiftValid(line)
	}
	if strings.HasPrefix(line, timeRangePrefix) {
		return t.shiftTimeRange(line)
	}
	if t.move {
		return t.moveCoordinates(line)
	}
	return line
}

func (t *Transposer) shiftValid(line string) string {
	raw := strings.TrimSpace(strings.TrimPrefix(line, validPrefix))
	ts, err := time.ParseInLocation(validLayout, raw, time.UTC)
	if err != nil {
		t.passThrough(line, err)
		return line
	}
	return validPrefix + " " + ts.Add(t.delta).Format(validLayout)
}

func (t *Transposer) shiftTimeRange(line string) string {
	fields := strings.Fields(strings.TrimPrefix(line, timeRangePrefix))
	if len(fields) != 2 {
		t.passThrough(line, fmt.Errorf("want 2 timestamps, got %d", len(fields)))
		return line
	}
	start, err1 := time.ParseInLocation(isoLayout, fields[0], time.UTC)
	end, err2 := time.ParseInLocation(isoLayout, fields[1], time.UTC)
	if err1 != nil || err2 != nil {
		t.passThrough(line, fmt.Errorf("bad timestamps: %v %v", err1, err2))
		return line
	}
	return timeRangePrefix + " " +
		start.Add(t.delta).Format(isoLayout) + " " +
		end.Add(t.delta).Format(isoLayout)
}

// moveCoordinates re-anchors every lat/lon pair on the line, preserving
// each coordinate's decimal width and the pair's separator.
func (t *Transposer) moveCoordinates(line string) string {
	return latLonRe.ReplaceAllStringFunc(line, func(match string) string {
		groups := latLonRe.FindStringSubmatch(match)
		lat, err1 := strconv.ParseFloat(groups[1], 64)
		lon, err2 := strconv.ParseFloat(groups[3], 64)
		if err1 != nil || err2 != nil {
			t.passThrough(line, fmt.Errorf("bad coordinates %q", match))
			return match
		}

		outLat, outLon := domain.Transpose(lat, lon, t.from, t.to)
		return formatCoord(outLat, groups[1]) + "," + groups[2] + formatCoord(outLon, groups[3])
	})
}

func (t *Transposer) passThrough(line string, err error) {
	t.metrics.TransposeLineErrors.Inc()
	t.logger.Debug("placefile line passed through", "line", line, "error", err)
}

// formatCoord renders v with the same number of decimals as the source
// token it replaces.
func formatCoord(v float64, original string) string {
	decimals := 4
	if i := strings.IndexByte(original, '.'); i >= 0 {
		decimals = len(original) - i - 1
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// isDerived reports whether a filename is a _shifted or _updated variant.
func isDerived(name string) bool {
	base := strings.TrimSuffix(name, ".txt")
	return strings.HasSuffix(base, ShiftedSuffix) || strings.HasSuffix(base, UpdatedSuffix)
}

// derivedName inserts a suffix before the extension:
// "obs.txt" → "obs_shifted.txt".
func derivedName(name, suffix string) string {
	return strings.TrimSuffix(name, ".txt") + suffix + ".txt"
}
