// Package config holds the run parameters of the monitor and their defaults.
package config

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/aggregate"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/change"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DateLayout = "2006-01-02"

	DefaultAOI              = "-65,-13,-60,-8"
	DefaultCollection       = "COPERNICUS/S2_SR_HARMONIZED"
	DefaultMaxCloudPct      = 50.0
	DefaultExportScale      = 10.0
	DefaultExportMaxPixels  = 1e13
	DefaultCRS              = "EPSG:4326"
	DefaultTileSize         = 256
	DefaultExportFolder     = "Amazon_Deforestation_Project"
	DefaultSource           = "catalog"
	DefaultCatalogFile      = "catalog.csv"
	DefaultGeoJSONDirectory = "geojsons"
)

// Period is a closed date range [Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

// Year spans January 1st to December 31st of y.
func Year(y int) Period {
	return Period{
		Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

// ParsePeriod accepts "YYYY" or "YYYY-MM-DD:YYYY-MM-DD".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		y, err := time.Parse("2006", s)
		if err != nil {
			return Period{}, fmt.Errorf("%w: period %q: %v", ErrInvalidConfig, s, err)
		}
		return Year(y.Year()), nil
	}
	from, to, ok := strings.Cut(s, ":")
	if !ok {
		return Period{}, fmt.Errorf("%w: period %q must be YYYY or start:end", ErrInvalidConfig, s)
	}
	start, err := time.Parse(DateLayout, strings.TrimSpace(from))
	if err != nil {
		return Period{}, fmt.Errorf("%w: period start %q: %v", ErrInvalidConfig, from, err)
	}
	end, err := time.Parse(DateLayout, strings.TrimSpace(to))
	if err != nil {
		return Period{}, fmt.Errorf("%w: period end %q: %v", ErrInvalidConfig, to, err)
	}
	p := Period{Start: start, End: end}
	if p.End.Before(p.Start) {
		return Period{}, fmt.Errorf("%w: period %s ends before it starts", ErrInvalidConfig, p)
	}
	return p, nil
}

// Label is the short name used in file names and reports: the year when the
// period covers exactly one calendar year.
func (p Period) Label() string {
	if p == Year(p.Start.Year()) {
		return p.Start.Format("2006")
	}
	return p.Start.Format(DateLayout) + "_" + p.End.Format(DateLayout)
}

// Through is the last instant of the End day.
func (p Period) Through() time.Time {
	return p.End.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func (p Period) String() string {
	return p.Start.Format(DateLayout) + ":" + p.End.Format(DateLayout)
}

// Config is everything a run needs. Zero values are not meaningful; start
// from Default.
type Config struct {
	// AOI is either the name of a GeoJSON file under data/geojsons or a
	// "minLon,minLat,maxLon,maxLat" rectangle.
	AOI   string
	AOIID string

	Before Period
	After  Period

	Source      string
	Collection  string
	MaxCloudPct float64

	Thresholds change.Thresholds

	ExportScale     float64
	ExportMaxPixels float64
	CRS             string
	ExportFolder    string
	Export          bool

	Aggregation aggregate.Options

	TileSize int
	Workers  int

	OutputDir string
	NoCache   bool
	Notify    bool
}

func Default() Config {
	return Config{
		AOI:             DefaultAOI,
		Before:          Year(2023),
		After:           Year(2024),
		Source:          DefaultSource,
		Collection:      DefaultCollection,
		MaxCloudPct:     DefaultMaxCloudPct,
		Thresholds:      change.DefaultThresholds(),
		ExportScale:     DefaultExportScale,
		ExportMaxPixels: DefaultExportMaxPixels,
		CRS:             DefaultCRS,
		ExportFolder:    DefaultExportFolder,
		Export:          true,
		Aggregation:     aggregate.Options{Scale: aggregate.DefaultScale, MaxPixels: aggregate.DefaultMaxPixels},
		TileSize:        DefaultTileSize,
		Workers:         runtime.NumCPU(),
		Notify:          true,
	}
}

func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.AOI) == "" {
		problems = append(problems, "aoi is empty")
	}
	if c.Before.End.Before(c.Before.Start) {
		problems = append(problems, "before period ends before it starts")
	}
	if c.After.End.Before(c.After.Start) {
		problems = append(problems, "after period ends before it starts")
	}
	if c.Source != "catalog" && c.Source != "copernicus" {
		problems = append(problems, fmt.Sprintf("unknown source %q", c.Source))
	}
	if c.MaxCloudPct <= 0 || c.MaxCloudPct > 100 {
		problems = append(problems, fmt.Sprintf("cloud threshold %v outside (0, 100]", c.MaxCloudPct))
	}
	if !finite(c.Thresholds.Delta) || !finite(c.Thresholds.Absolute) {
		problems = append(problems, "thresholds must be finite")
	}
	if c.ExportScale <= 0 {
		problems = append(problems, "export scale must be positive")
	}
	if c.Aggregation.Scale < 0 {
		problems = append(problems, "aggregation scale must not be negative")
	}
	if c.Aggregation.MaxPixels <= 0 || c.ExportMaxPixels <= 0 {
		problems = append(problems, "pixel budgets must be positive")
	}
	// Export regions are taken from the AOI bound, which is in lon/lat.
	if !strings.EqualFold(c.CRS, DefaultCRS) {
		problems = append(problems, fmt.Sprintf("unsupported export crs %q, only %s", c.CRS, DefaultCRS))
	}
	if c.Workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
