package delivery

import (
	"context"
	"log"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/change"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/config"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/mosaic"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/report"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
)

// PeriodResult is the AOI-clipped composite of one period.
type PeriodResult struct {
	Period    config.Period
	Composite *mosaic.Composite
	Queried   int
}

// Result is everything a run produced. Change and Loss are nil for single
// period runs. Observers may append to Summary.Outputs and nothing else.
type Result struct {
	AOI     scene.AOI
	Before  *PeriodResult
	After   *PeriodResult
	Change  *change.Raster
	Loss    *raster.Mask
	Summary report.Summary
}

// Periods returns the non-nil period results in time order.
func (r *Result) Periods() []*PeriodResult {
	var out []*PeriodResult
	for _, p := range []*PeriodResult{r.Before, r.After} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Observer consumes a finished result at the presentation boundary.
type Observer interface {
	Observe(ctx context.Context, res *Result) error
}

type ObserverFunc func(ctx context.Context, res *Result) error

func (f ObserverFunc) Observe(ctx context.Context, res *Result) error {
	return f(ctx, res)
}

// notify runs every observer in order. A failing observer is logged and does
// not stop the others.
func notify(ctx context.Context, observers []Observer, res *Result) {
	for _, o := range observers {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := o.Observe(ctx, res); err != nil {
			log.Printf("delivery: observer %T failed: %v", o, err)
		}
	}
}
