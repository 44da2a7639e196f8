package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/radar-sim-service/internal/domain"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
)

// ErrNoVolumes is returned when an event window yields no Level-II files
// for a radar; the pipeline turns it into a FAILED session.
var ErrNoVolumes = errors.New("no volume files retrieved")

// DictFileName is the JSON side-file recording every fetched volume so
// downstream stages can recover acquisition state.
const DictFileName = "radar_dict.json"

// dictEntry is one radar_dict.json record.
type dictEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Time string `json:"time"`
}

// Acquirer downloads the Level-II volumes for one radar and window.
type Acquirer struct {
	store      Store
	logger     *slog.Logger
	metrics    *observability.Metrics
	fanOut     int
	maxRetries int
}

// NewAcquirer creates an Acquirer with the given download fan-out and
// per-object retry budget.
func NewAcquirer(store Store, logger *slog.Logger, metrics *observability.Metrics, fanOut, maxRetries int) *Acquirer {
	if fanOut < 1 {
		fanOut = 1
	}
	return &Acquirer{
		store:      store,
		logger:     logger,
		metrics:    metrics,
		fanOut:     fanOut,
		maxRetries: maxRetries,
	}
}

// Acquire lists the store under every day prefix the window touches,
// selects the Level-II volumes whose filename time falls in the window,
// and downloads them into dstDir with bounded fan-out. Objects that fail
// after retries are logged and omitted. The result is sorted by source
// time and persisted as radar_dict.json.
func (a *Acquirer) Acquire(ctx context.Context, radar string, window domain.Window, dstDir string) ([]domain.VolumeFile, error) {
	candidates, err := a.enumerate(ctx, radar, window)
	if err != nil {
		return nil, err
	}
	a.logger.Info("acquisition window enumerated",
		"radar", radar,
		"window_start", window.Start,
		"window_end", window.End,
		"candidates", len(candidates),
	)

	files := a.downloadAll(ctx, candidates, dstDir)
	if ctx.Err() != nil {
		return files, ctx.Err()
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoVolumes, radar)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].SourceTime.Before(files[j].SourceTime) })

	if err := writeDict(dstDir, files); err != nil {
		return nil, err
	}
	return files, nil
}

// candidate pairs a store object with its parsed volume time.
type candidate struct {
	obj  Object
	time time.Time
}

// enumerate walks each UTC day prefix the window covers. A window that
// crosses midnight queries two prefixes.
func (a *Acquirer) enumerate(ctx context.Context, radar string, window domain.Window) ([]candidate, error) {
	var out []candidate

	for day := window.Start.UTC().Truncate(24 * time.Hour); !day.After(window.End); day = day.Add(24 * time.Hour) {
		prefix := day.Format("2006/01/02") + "/" + radar + "/"
		objects, err := a.store.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", prefix, err)
		}

		for _, obj := range objects {
			if !domain.IsLevelTwoKey(obj.Key) {
				continue
			}
			name := path.Base(obj.Key)
			station, t, err := domain.ParseVolumeName(name)
			if err != nil || station != radar {
				continue
			}
			if window.Contains(t) {
				out = append(out, candidate{obj: obj, time: t})
			}
		}
	}
	return out, nil
}

// downloadAll fetches candidates with at most fanOut concurrent
// downloads. Failed objects are omitted; the survivors are returned.
func (a *Acquirer) downloadAll(ctx context.Context, candidates []candidate, dstDir string) []domain.VolumeFile {
	var (
		mu    sync.Mutex
		files []domain.VolumeFile
		wg    sync.WaitGroup
	)
	sem := make(chan struct{}, a.fanOut)

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(c candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			vf, err := a.downloadOne(ctx, c, dstDir)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Warn("object omitted after retries", "key", c.obj.Key, "error", err)
					a.metrics.DownloadErrors.Inc()
				}
				return
			}
			mu.Lock()
			files = append(files, vf)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return files
}

// downloadOne fetches a single object with bounded exponential backoff.
func (a *Acquirer) downloadOne(ctx context.Context, c candidate, dstDir string) (domain.VolumeFile, error) {
	name := path.Base(c.obj.Key)
	dst := filepath.Join(dstDir, name)

	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			if !sleepWithContext(ctx, backoff) {
				return domain.VolumeFile{}, ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}

		start := time.Now()
		n, err := a.fetchToFile(ctx, c.obj.Key, dst)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return domain.VolumeFile{}, ctx.Err()
			}
			continue
		}

		a.metrics.VolumesDownloaded.Inc()
		a.metrics.DownloadBytes.Add(float64(n))
		a.metrics.DownloadDuration.Observe(time.Since(start).Seconds())

		compression := domain.CompressionNone
		if strings.HasSuffix(name, ".gz") {
			compression = domain.CompressionGzip
		}
		return domain.VolumeFile{
			Radar:       name[:4],
			SourceTime:  c.time,
			Path:        dst,
			Compression: compression,
			Size:        n,
		}, nil
	}
	return domain.VolumeFile{}, lastErr
}

// fetchToFile streams one object to dst via a temp sibling so a partial
// download never looks like a finished file.
func (a *Acquirer) fetchToFile(ctx context.Context, key, dst string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := a.store.Fetch(ctx, key, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("finalize download: %w", err)
	}
	return n, nil
}

// writeDict persists the filename → local file mapping.
func writeDict(dstDir string, files []domain.VolumeFile) error {
	dict := make(map[string]dictEntry, len(files))
	for _, f := range files {
		dict[filepath.Base(f.Path)] = dictEntry{
			Path: f.Path,
			Size: f.Size,
			Time: f.SourceTime.Format("2006-01-02T15:04:05Z"),
		}
	}
	data, err := json.MarshalIndent(dict, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal radar dict: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dstDir, DictFileName), data, 0o644); err != nil {
		return fmt.Errorf("write radar dict: %w", err)
	}
	return nil
}

// nextBackoff doubles the delay up to maxBackoff.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// sleepWithContext waits for d unless the context is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
