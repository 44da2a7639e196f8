// Command genvolume synthesizes Archive-II volume fixtures: a valid 24-byte
// header followed by filler payload, named by the store's filename
// convention. Useful for exercising the munge path and the validate tool
// without touching the public bucket.
//
// Usage:
//
//	go run ./cmd/genvolume \
//	  -out testdata/volumes \
//	  -station KGRR \
//	  -start 2023-08-24T23:30:04Z \
//	  -count 10 -interval 7m30s -gzip
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	kgzip "github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/radar-sim-service/internal/archive"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory")
	station := flag.String("station", "KGRR", "four-character station id")
	start := flag.String("start", "", "first volume time, RFC 3339 UTC")
	count := flag.Int("count", 10, "number of volumes")
	interval := flag.Duration("interval", 7*time.Minute+30*time.Second, "time between volumes")
	payload := flag.Int("payload", 4096, "payload bytes per volume")
	useGzip := flag.Bool("gzip", false, "gzip each volume (.gz suffix instead of _V06)")
	flag.Parse()

	if *out == "" || *start == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -start")
	}
	if len(*station) != 4 {
		return fmt.Errorf("station must be four characters, got %q", *station)
	}

	startTime, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	for i := range *count {
		ts := startTime.UTC().Add(time.Duration(i) * *interval)
		name := fmt.Sprintf("%s%s_V06", *station, ts.Format("20060102_150405"))
		if *useGzip {
			name = fmt.Sprintf("%s%s.gz", *station, ts.Format("20060102_150405"))
		}
		if err := writeVolume(filepath.Join(*out, name), *station, ts, i+1, *payload, *useGzip); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		log.Printf("wrote %s", name)
	}
	return nil
}

func writeVolume(path, station string, ts time.Time, volume, payloadSize int, useGzip bool) error {
	h := archive.Header{}
	copy(h.Tag[:], "AR2V0006.")
	copy(h.VolumeNumber[:], fmt.Sprintf("%03d", volume%1000))
	h.SetTime(ts)
	if err := h.SetStation(station); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte('A' + i%26)
	}

	if useGzip {
		zw := kgzip.NewWriter(f)
		if _, err := h.WriteTo(zw); err != nil {
			return err
		}
		if _, err := zw.Write(payload); err != nil {
			return err
		}
		return zw.Close()
	}

	if _, err := h.WriteTo(f); err != nil {
		return err
	}
	_, err = f.Write(payload)
	return err
}
