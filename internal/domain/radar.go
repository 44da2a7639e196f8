package domain

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

//go:embed sites.csv
var sitesCSV string

// RadarSite is one WSR-88D installation from the embedded catalog.
type RadarSite struct {
	ID  string  // 4-char ICAO, e.g. "KGRR"
	Lat float64 // degrees north
	Lon float64 // degrees east (negative west)

	// Companion ASOS surface stations used by the hodograph tool for
	// near-radar ground truth.
	ASOS [2]string
}

// Catalog is the immutable id → site lookup, shared process-wide.
type Catalog struct {
	sites map[string]RadarSite
}

var (
	catalogOnce sync.Once
	catalog     *Catalog
	catalogErr  error
)

// Sites returns the process-global radar catalog, loading the embedded CSV
// on first use.
func Sites() (*Catalog, error) {
	catalogOnce.Do(func() {
		catalog, catalogErr = parseCatalog(sitesCSV)
	})
	return catalog, catalogErr
}

// Lookup returns the site for a 4-char ICAO id.
func (c *Catalog) Lookup(id string) (RadarSite, bool) {
	s, ok := c.sites[strings.ToUpper(id)]
	return s, ok
}

// Len returns the number of cataloged sites.
func (c *Catalog) Len() int { return len(c.sites) }

func parseCatalog(raw string) (*Catalog, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = 5
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse site catalog: %w", err)
	}

	sites := make(map[string]RadarSite, len(records))
	for i, rec := range records {
		if i == 0 && rec[0] == "id" {
			continue // header row
		}
		id := strings.ToUpper(strings.TrimSpace(rec[0]))
		if len(id) != 4 {
			return nil, fmt.Errorf("site catalog row %d: bad id %q", i+1, rec[0])
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("site catalog row %d: bad lat: %w", i+1, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("site catalog row %d: bad lon: %w", i+1, err)
		}
		sites[id] = RadarSite{
			ID:   id,
			Lat:  lat,
			Lon:  lon,
			ASOS: [2]string{strings.TrimSpace(rec[3]), strings.TrimSpace(rec[4])},
		}
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("site catalog is empty")
	}
	return &Catalog{sites: sites}, nil
}
