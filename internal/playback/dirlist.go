package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
)

// DirListName is the GR2Analyst polling manifest filename.
const DirListName = "dir.list"

// WriteDirList atomically rewrites the polling manifest for one radar
/// directory: one "<bytes> <filename>" line per published volume whose
// munged time (parsed from its filename) is at or before cutoff, ordered
// by munged time. Ties keep directory order, which ReadDir makes stable.
func WriteDirList(radarDir string, cutoff time.Time) error {
	entries, err := os.ReadDir(radarDir)
	if err != nil {
		return fmt.Errorf("read polling dir: %w", err)
	}

	type volume struct {
		name string
		size int64
		time time.Time
	}
	var volumes []volume

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".gz") {
			continue
		}
		_, munged, err := domain.ParseVolumeName(name)
		if err != nil {
			continue
		}
		if munged.After(cutoff) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		volumes = append(volumes, volume{name: name, size: info.Size(), time: munged})
	}

	sort.SliceStable(volumes, func(i, j int) bool { return volumes[i].time.Before(volumes[j].time) })

	var b strings.Builder
	for _, v := range volumes {
		fmt.Fprintf(&b, "%d %s\n", v.size, v.name)
	}

	return writeAtomic(filepath.Join(radarDir, DirListName), []byte(b.String()))
}

// writeAtomic writes content via a temp sibling and rename so external
// pollers never observe a partial file.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".publish-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}
