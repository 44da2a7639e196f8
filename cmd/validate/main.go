// Command validate performs integrity checks over a session's assets tree:
// the polling layout, the Archive-II volumes against their filenames, the
// dir.list manifest, and the placefile time lines. It is meant for
// inspecting a finished or failed session without a GR2Analyst client.
//
// Usage:
//
//	go run ./cmd/validate -assets /var/lib/radar-sim/assets/<session-id>
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	kgzip "github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/radar-sim-service/internal/archive"
	"github.com/couchcryptid/radar-sim-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	assets := flag.String("assets", "", "session assets directory (…/assets/<session-id>)")
	flag.Parse()

	if *assets == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*assets))
}

func run(assetsDir string) int {
	fmt.Println("=== Session Tree Validation ===")
	fmt.Println()

	radars, err := pollingRadars(assetsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateLayout(assetsDir, radars),
		validateVolumes(assetsDir, radars),
		validateManifests(assetsDir, radars),
		validatePlacefiles(assetsDir),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// pollingRadars lists the radar subdirectories of polling/.
func pollingRadars(assetsDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(assetsDir, "polling"))
	if err != nil {
		return nil, fmt.Errorf("read polling dir: %w", err)
	}
	var radars []string
	for _, e := range entries {
		if e.IsDir() {
			radars = append(radars, e.Name())
		}
	}
	sort.Strings(radars)
	if len(radars) == 0 {
		return nil, fmt.Errorf("no radar directories under polling/")
	}
	return radars, nil
}

// ── Phase 1: Layout ──
// The polling config must name every radar directory and nothing else.

func validateLayout(assetsDir string, radars []string) *phase {
	p := &phase{name: "Phase 1: Polling Layout"}

	cfgPath := filepath.Join(assetsDir, "polling", "grlevel2.cfg")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		p.errorf("read grlevel2.cfg: %v", err)
		return p
	}

	var sites []string
	hasListFile := false
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		switch {
		case strings.HasPrefix(line, "ListFile: "):
			hasListFile = true
			if got := strings.TrimPrefix(line, "ListFile: "); got != "dir.list" {
				p.errorf("grlevel2.cfg ListFile is %q, want dir.list", got)
			}
		case strings.HasPrefix(line, "Site: "):
			sites = append(sites, strings.TrimPrefix(line, "Site: "))
		}
	}
	if !hasListFile {
		p.errorf("grlevel2.cfg has no ListFile line")
	}

	sort.Strings(sites)
	if strings.Join(sites, ",") != strings.Join(radars, ",") {
		p.errorf("grlevel2.cfg sites %v do not match polling dirs %v", sites, radars)
	}

	if _, err := os.Stat(filepath.Join(assetsDir, "placefiles")); err != nil {
		p.errorf("placefiles dir: %v", err)
	}
	return p
}

// ── Phase 2: Volumes ──
// Every published volume must decompress, carry the station of its
// directory, and encode the instant its filename claims.

func validateVolumes(assetsDir string, radars []string) *phase {
	p := &phase{name: "Phase 2: Volume Headers"}

	for _, radar := range radars {
		dir := filepath.Join(assetsDir, "polling", radar)
		entries, err := os.ReadDir(dir)
		if err != nil {
			p.errorf("%s: %v", radar, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".gz") {
				continue
			}
			checkVolume(p, radar, filepath.Join(dir, e.Name()))
		}
	}
	return p
}

func checkVolume(p *phase, radar, path string) {
	name := filepath.Base(path)
	station, nameTime, err := domain.ParseVolumeName(name)
	if err != nil {
		p.errorf("%s/%s: bad filename: %v", radar, name, err)
		return
	}
	if station != radar {
		p.errorf("%s/%s: filename station %q outside its radar directory", radar, name, station)
	}

	f, err := os.Open(path)
	if err != nil {
		p.errorf("%s/%s: %v", radar, name, err)
		return
	}
	defer f.Close()

	zr, err := kgzip.NewReader(f)
	if err != nil {
		p.errorf("%s/%s: not gzip: %v", radar, name, err)
		return
	}
	defer zr.Close()

	h, err := archive.ReadHeader(zr)
	if err != nil {
		p.errorf("%s/%s: %v", radar, name, err)
		return
	}
	if got := string(h.Station[:]); got != radar {
		p.errorf("%s/%s: header station %q, want %q", radar, name, got, radar)
	}
	if got := h.Time().Truncate(time.Second); !got.Equal(nameTime) {
		p.errorf("%s/%s: header time %s disagrees with filename time %s",
			radar, name, got.Format(time.RFC3339), nameTime.Format(time.RFC3339))
	}
}

// ── Phase 3: Manifests ──
// Each dir.list line must reference an existing file with the right byte
// count, in nondecreasing munged-time order.

func validateManifests(assetsDir string, radars []string) *phase {
	p := &phase{name: "Phase 3: dir.list Manifests"}

	for _, radar := range radars {
		dir := filepath.Join(assetsDir, "polling", radar)
		f, err := os.Open(filepath.Join(dir, "dir.list"))
		if err != nil {
			p.errorf("%s: %v", radar, err)
			continue
		}

		var prev time.Time
		scanner := bufio.NewScanner(f)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			size, name, ok := strings.Cut(line, " ")
			if !ok {
				p.errorf("%s dir.list line %d: malformed %q", radar, lineNum, line)
				continue
			}
			wantSize, err := strconv.ParseInt(size, 10, 64)
			if err != nil {
				p.errorf("%s dir.list line %d: bad size %q", radar, lineNum, size)
				continue
			}

			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil {
				p.errorf("%s dir.list line %d: %v", radar, lineNum, err)
				continue
			}
			if info.Size() != wantSize {
				p.errorf("%s dir.list line %d: lists %d bytes, file has %d", radar, lineNum, wantSize, info.Size())
			}

			_, ts, err := domain.ParseVolumeName(name)
			if err != nil {
				p.errorf("%s dir.list line %d: %v", radar, lineNum, err)
				continue
			}
			if ts.Before(prev) {
				p.errorf("%s dir.list line %d: %s out of order", radar, lineNum, name)
			}
			prev = ts
		}
		if err := scanner.Err(); err != nil {
			p.errorf("%s dir.list: %v", radar, err)
		}
		f.Close()
	}
	return p
}

// ── Phase 4: Placefiles ──
// Every Valid and TimeRange line in the derived placefiles must parse.

func validatePlacefiles(assetsDir string) *phase {
	p := &phase{name: "Phase 4: Placefile Time Lines"}

	dir := filepath.Join(assetsDir, "placefiles")
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.Contains(name, "_shifted") && !strings.Contains(name, "_updated") {
			continue
		}
		checkPlacefile(p, filepath.Join(dir, name))
	}
	return p
}

func checkPlacefile(p *phase, path string) {
	f, err := os.Open(path)
	if err != nil {
		p.errorf("%s: %v", filepath.Base(path), err)
		return
	}
	defer f.Close()

	name := filepath.Base(path)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "Valid: "):
			v := strings.TrimPrefix(line, "Valid: ")
			if _, err := time.Parse("15:04Z Mon Jan 02 2006", v); err != nil {
				p.errorf("%s line %d: bad Valid line: %v", name, lineNum, err)
			}
		case strings.HasPrefix(line, "TimeRange: "):
			fields := strings.Fields(strings.TrimPrefix(line, "TimeRange: "))
			if len(fields) != 2 {
				p.errorf("%s line %d: TimeRange wants two timestamps", name, lineNum)
				continue
			}
			for _, ts := range fields {
				if _, err := time.Parse("2006-01-02T15:04:05Z", ts); err != nil {
					p.errorf("%s line %d: bad TimeRange timestamp %q", name, lineNum, ts)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		p.errorf("%s: %v", name, err)
	}
}
