// Package munge rewrites Archive-II volume headers so each file appears to
// have been produced in the playback window, optionally at a different
// radar, and republishes it gzip-wrapped into the polling directory.
package munge

import (
	"bufio"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/radar-sim-service/internal/archive"
	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
)

// ErrNothingMunged is returned when every input file was skipped.
var ErrNothingMunged = errors.New("no volume files could be munged")

// Result is one republished volume file.
type Result struct {
	Source     domain.VolumeFile
	Path       string
	MungedTime time.Time
	Size       int64 // gzipped byte size, as published in dir.list
}

// Munger re-times volume files with a per-file worker pool. Decompression
// and recompression dominate, so workers should track CPU count.
type Munger struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	workers int
}

// NewMunger creates a Munger with the given worker count.
func NewMunger(logger *slog.Logger, metrics *observability.Metrics, workers int) *Munger {
	if workers < 1 {
		workers = 1
	}
	return &Munger{logger: logger, metrics: metrics, workers: workers}
}

// MungeAll republishes files into outDir. Each file is assigned
//
//	munged = playbackStart + (source − earliest)
//
// where earliest is the session-wide minimum source time; pass the zero
// time to derive it from files. When station is non-empty the header
// station id and output filename are rewritten to it; otherwise the
// original station is preserved. The output directory is cleared of prior
// published volumes first, so re-invocation is idempotent. Corrupt or
// unwritable files are logged and skipped; results are sorted by munged
// time.
func (m *Munger) MungeAll(ctx context.Context, files []domain.VolumeFile, playbackStart, earliest time.Time, station, outDir string) ([]Result, error) {
	if len(files) == 0 {
		return nil, ErrNothingMunged
	}
	if earliest.IsZero() {
		earliest = files[0].SourceTime
		for _, f := range files[1:] {
			if f.SourceTime.Before(earliest) {
				earliest = f.SourceTime
			}
		}
	}

	if err := clearPublished(outDir); err != nil {
		return nil, err
	}

	jobs := make(chan domain.VolumeFile)
	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)

	for range m.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				munged := playbackStart.Add(f.SourceTime.Sub(earliest))
				res, err := m.mungeOne(f, munged, station, outDir)
				if err != nil {
					m.logger.Warn("volume file skipped", "path", f.Path, "error", err)
					m.metrics.MungeErrors.Inc()
					continue
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		jobs <- f
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if len(results) == 0 {
		return nil, ErrNothingMunged
	}
	sort.Slice(results, func(i, j int) bool { return results[i].MungedTime.Before(results[j].MungedTime) })
	return results, nil
}

// mungeOne rewrites a single file's header and gzips it into outDir under
// the munged filename.
func (m *Munger) mungeOne(f domain.VolumeFile, munged time.Time, station, outDir string) (Result, error) {
	start := time.Now()

	src, err := os.Open(f.Path)
	if err != nil {
		return Result{}, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	payload, err := openVolume(src)
	if err != nil {
		return Result{}, err
	}

	header, err := archive.ReadHeader(payload)
	if err != nil {
		return Result{}, err
	}
	header.SetTime(munged)
	outStation := strings.TrimRight(string(header.Station[:]), "\x00 ")
	if station != "" {
		if err := header.SetStation(station); err != nil {
			return Result{}, err
		}
		outStation = station
	}

	outName := domain.FormatVolumeName(outStation, munged)
	outPath := filepath.Join(outDir, outName)
	size, err := writeGzipped(outDir, outPath, header, payload)
	if err != nil {
		return Result{}, err
	}

	m.metrics.VolumesMunged.Inc()
	m.metrics.MungeDuration.Observe(time.Since(start).Seconds())

	f.MungedTime = munged
	return Result{Source: f, Path: outPath, MungedTime: munged, Size: size}, nil
}

// openVolume peels the outer compression layer, if any, detecting gzip and
// bzip2 by magic bytes rather than trusting the suffix.
func openVolume(src io.Reader) (io.Reader, error) {
	br := bufio.NewReader(src)
	magic, err := br.Peek(3)
	if err != nil {
		return nil, fmt.Errorf("read volume magic: %w", err)
	}

	switch {
	case magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip layer: %w", err)
		}
		return gz, nil
	case magic[0] == 'B' && magic[1] == 'Z' && magic[2] == 'h':
		return bzip2.NewReader(br), nil
	default:
		return br, nil
	}
}

// writeGzipped streams header + payload through gzip into a temp sibling,
// then renames it into place so readers never see a partial volume.
func writeGzipped(outDir, outPath string, header archive.Header, payload io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(outDir, ".munge-*")
	if err != nil {
		return 0, fmt.Errorf("create temp output: %w", err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	if _, err := header.WriteTo(gz); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write header: %w", err)
	}
	if _, err := io.Copy(gz, payload); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("copy payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("flush gzip: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("stat output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return 0, fmt.Errorf("publish output: %w", err)
	}
	return info.Size(), nil
}

// clearPublished removes prior *.gz volumes and stray temp files from a
// previous invocation.
func clearPublished(outDir string) error {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return fmt.Errorf("clear output dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".gz") || strings.HasPrefix(name, ".munge-") {
			if err := os.Remove(filepath.Join(outDir, name)); err != nil {
				return fmt.Errorf("clear output dir: %w", err)
			}
		}
	}
	return nil
}
