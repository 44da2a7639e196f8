package playback

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"regexp"
	"sort"
	"time"
)

// hodoTimeRe extracts the embedded timestamp from hodograph image names,
// e.g. "KGRR_KLOT_hodo_20240101_100234.png".
var hodoTimeRe = regexp.MustCompile(`_(\d{8})_(\d{6})\.png$`)

var galleryTemplate = template.Must(template.New("gallery").Parse(`<!DOCTYPE html>
<html>
<head><title>Hodographs</title><meta http-equiv="refresh" content="60"></head>
<body>
{{range .}}<div><h3>{{.Label}}</h3><img src="hodographs/{{.Name}}" alt="{{.Name}}"></div>
{{end}}</body>
</html>
`))

type galleryEntry struct {
	Name  string
	Label string
	time  time.Time
}

// WriteGallery regenerates the static hodograph page listing only images
// whose embedded timestamp is at or before cutoff.
func WriteGallery(hodoDir, pagePath string, cutoff time.Time) error {
	entries, err := os.ReadDir(hodoDir)
	if err != nil {
		if os.IsNotExist(err) {
			// The hodograph tool may have produced nothing; publish an
			// empty page rather than failing the tick.
			entries = nil
		} else {
			return fmt.Errorf("read hodograph dir: %w", err)
		}
	}

	var images []galleryEntry
	for _, e := range entries {
		ts, ok := hodographTime(e.Name())
		if !ok || ts.After(cutoff) {
			continue
		}
		images = append(images, galleryEntry{
			Name:  e.Name(),
			Label: ts.Format("2006-01-02 15:04:05 UTC"),
			time:  ts,
		})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].time.Before(images[j].time) })

	var buf bytes.Buffer
	if err := galleryTemplate.Execute(&buf, images); err != nil {
		return fmt.Errorf("render gallery: %w", err)
	}
	return writeAtomic(pagePath, buf.Bytes())
}

// hodographTime parses the trailing _yyyymmdd_HHMMSS.png timestamp.
func hodographTime(name string) (time.Time, bool) {
	m := hodoTimeRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation("20060102_150405", m[1]+"_"+m[2], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
