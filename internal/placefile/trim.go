package placefile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Trim writes to dst every line of src up to, but not including, the
// first TimeRange block whose start exceeds cutoff. The write is atomic
// (temp sibling + rename) so pollers never observe a partial file.
//
// Callers pass cutoff = current playback time + lookahead; the lookahead
// accommodates the display's half-step interpolation.
func Trim(src, dst string, cutoff time.Time) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open shifted placefile: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".trim-*")
	if err != nil {
		return fmt.Errorf("create temp placefile: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if start, ok := timeRangeStart(line); ok && start.After(cutoff) {
			break
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("write trimmed placefile: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		tmp.Close()
		return fmt.Errorf("scan shifted placefile: %w", err)
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush trimmed placefile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close trimmed placefile: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("publish trimmed placefile: %w", err)
	}
	return nil
}

// TrimDir trims every _shifted placefile in dir into its _updated variant.
func TrimDir(dir string, cutoff time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read placefile dir: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		base := strings.TrimSuffix(name, ".txt")
		if !strings.HasSuffix(name, ".txt") || !strings.HasSuffix(base, ShiftedSuffix) {
			continue
		}
		updated := strings.TrimSuffix(base, ShiftedSuffix) + UpdatedSuffix + ".txt"
		if err := Trim(filepath.Join(dir, name), filepath.Join(dir, updated), cutoff); err != nil {
			return err
		}
	}
	return nil
}

// timeRangeStart parses the start timestamp of a TimeRange line. Lines
// that are not well-formed TimeRanges report ok=false and are treated as
// ordinary content.
func timeRangeStart(line string) (time.Time, bool) {
	if !strings.HasPrefix(line, timeRangePrefix) {
		return time.Time{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, timeRangePrefix))
	if len(fields) != 2 {
		return time.Time{}, false
	}
	start, err := time.ParseInLocation(isoLayout, fields[0], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return start, true
}
