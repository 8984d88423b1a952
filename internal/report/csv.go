package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

// Row is one line of the run log.
type Row struct {
	RunID       string  `csv:"run_id"`
	CreatedAt   string  `csv:"created_at"`
	AOI         string  `csv:"aoi"`
	CentroidLat float64 `csv:"centroid_lat"`
	CentroidLon float64 `csv:"centroid_lon"`
	Period      string  `csv:"period"`
	Start       string  `csv:"start"`
	End         string  `csv:"end"`
	Queried     int     `csv:"scenes_queried"`
	Scenes      int     `csv:"scenes_used"`
	Coverage    float64 `csv:"coverage_pct"`
	NDVIMean    string  `csv:"ndvi_mean"`
	MeanScale   float64 `csv:"ndvi_mean_scale_m"`
	MeanExact   bool    `csv:"ndvi_mean_exact"`
	DeltaThresh float64 `csv:"delta_threshold"`
	AbsThresh   float64 `csv:"absolute_threshold"`
	LossPixels  int     `csv:"loss_pixels"`
	LossKm2     string  `csv:"loss_km2"`
	LossScale   float64 `csv:"loss_scale_m"`
	LossExact   bool    `csv:"loss_exact"`
	FellBack    bool    `csv:"loss_fell_back"`
}

// Rows flattens s into one row per period.
func Rows(s Summary) []*Row {
	var rows []*Row
	for _, p := range s.Periods {
		r := &Row{
			RunID:       s.RunID,
			CreatedAt:   s.Started.UTC().Format(time.RFC3339),
			AOI:         s.AOI,
			CentroidLat: s.CentroidLat,
			CentroidLon: s.CentroidLon,
			Period:      p.Label,
			Start:       p.Start.Format("2006-01-02"),
			End:         p.End.Format("2006-01-02"),
			Queried:     p.Queried,
			Scenes:      p.Scenes,
			Coverage:    p.Coverage(),
			MeanScale:   p.NDVIMean.Scale,
			MeanExact:   p.NDVIMean.Exact,
			DeltaThresh: s.Thresholds.Delta,
			AbsThresh:   s.Thresholds.Absolute,
			LossPixels:  s.LossPixels,
		}
		if !raster.IsNoData(p.NDVIMean.Mean) {
			r.NDVIMean = fmt.Sprintf("%.6f", p.NDVIMean.Mean)
		}
		if s.Loss != nil {
			r.LossKm2 = fmt.Sprintf("%.6f", s.Loss.SquareKilometres())
			r.LossScale = s.Loss.Scale
			r.LossExact = s.Loss.Exact
			r.FellBack = s.Loss.FellBack
		}
		rows = append(rows, r)
	}
	return rows
}

// AppendCSV appends the rows of s to path, writing the header only when the
// file is new.
func AppendCSV(path string, s Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create report folder: %w", err)
	}
	fileExists := false
	if _, err := os.Stat(path); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error opening run report: %w", err)
	}
	defer file.Close()

	rows := Rows(s)
	writer := csv.NewWriter(file)
	if fileExists {
		err = gocsv.MarshalCSVWithoutHeaders(&rows, writer)
	} else {
		err = gocsv.MarshalCSV(&rows, writer)
	}
	if err != nil {
		return fmt.Errorf("error writing run report: %w", err)
	}
	return writer.Error()
}

// ReadCSV loads a run log written by AppendCSV.
func ReadCSV(path string) ([]*Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []*Row
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("error reading run report: %w", err)
	}
	return rows, nil
}
