// Package report turns a finished run into console output and a CSV log.
package report

import (
	"time"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/aggregate"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/change"
)

type PeriodSummary struct {
	Label    string
	Start    time.Time
	End      time.Time
	Queried  int
	Scenes   int
	Valid    int
	Pixels   int
	NDVIMean aggregate.MeanResult
}

// Coverage is the share of composite pixels that received an observation.
func (p PeriodSummary) Coverage() float64 {
	if p.Pixels == 0 {
		return 0
	}
	return 100 * float64(p.Valid) / float64(p.Pixels)
}

// Summary holds the scalar outcome of a run.
type Summary struct {
	RunID       string
	AOI         string
	CentroidLat float64
	CentroidLon float64
	Periods     []PeriodSummary
	Thresholds  change.Thresholds
	LossPixels  int
	Loss        *aggregate.Estimate
	Outputs     []string
	Exports     []string
	Started     time.Time
	Duration    time.Duration
}
