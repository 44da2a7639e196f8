package domain

import (
	"fmt"
	"strings"
	"time"
)

// volumeTimeLayout is the 15-char datetime substring of an Archive-II
// filename, e.g. "20230824_233004".
const volumeTimeLayout = "20060102_150405"

// CompressionKind is the outer wrapping of a volume file on disk.
type CompressionKind int

const (
	CompressionNone CompressionKind = iota
	CompressionGzip
	CompressionBzip2
)

// VolumeFile is one downloaded Archive-II volume scan.
type VolumeFile struct {
	Radar       string          `json:"radar"`
	SourceTime  time.Time       `json:"source_time"` // whole-second UTC, from the filename
	Path        string          `json:"path"`
	Compression CompressionKind `json:"-"`
	Size        int64           `json:"size"`

	// MungedTime is assigned by the munger; zero until then.
	MungedTime time.Time `json:"munged_time,omitzero"`
}

// ParseVolumeName extracts the station id and volume time from an
// Archive-II filename of the form SSSSyyyymmdd_HHMMSS[.suffix].
func ParseVolumeName(name string) (station string, t time.Time, err error) {
	if len(name) < 19 {
		return "", time.Time{}, fmt.Errorf("volume name %q too short", name)
	}
	station = name[:4]
	t, err = time.ParseInLocation(volumeTimeLayout, name[4:19], time.UTC)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("volume name %q: bad datetime: %w", name, err)
	}
	return station, t, nil
}

// FormatVolumeName renders the canonical gzip-wrapped published filename,
// e.g. FormatVolumeName("KLOT", t) → "KLOT20240101_100234.gz".
func FormatVolumeName(station string, t time.Time) string {
	return station + t.UTC().Format(volumeTimeLayout) + ".gz"
}

// IsLevelTwoKey reports whether a store key names a Level-II volume the
// acquirer should consider. Tarballs and legacy products share the same
// day prefixes and are skipped.
func IsLevelTwoKey(key string) bool {
	return strings.HasSuffix(key, "_V06") || strings.HasSuffix(key, "_V08") ||
		strings.HasSuffix(key, ".gz")
}
