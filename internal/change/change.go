// Package change compares two composites and flags likely vegetation loss.
package change

import (
	"fmt"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/mosaic"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

const (
	DefaultDeltaThreshold    = -0.20
	DefaultAbsoluteThreshold = 0.55
)

// Raster holds later minus earlier index values per pixel.
type Raster struct {
	Grid   raster.Grid
	Values []float64
}

func (r *Raster) At(x, y int) float64 {
	return r.Values[y*r.Grid.Width+x]
}

// Detect subtracts the earlier composite's index band from the later one's.
// No-data in either operand gives no-data.
func Detect(earlier, later *mosaic.Composite) (*Raster, error) {
	if err := raster.SameGrid(earlier.Grid, later.Grid); err != nil {
		return nil, err
	}
	before, err := earlier.Index()
	if err != nil {
		return nil, err
	}
	after, err := later.Index()
	if err != nil {
		return nil, err
	}
	return Subtract(later.Grid, after, before)
}

// Subtract returns after-before over plain index planes.
func Subtract(grid raster.Grid, after, before []float64) (*Raster, error) {
	if len(after) != grid.Pixels() || len(before) != grid.Pixels() {
		return nil, fmt.Errorf("%w: %d and %d values for %d pixels", raster.ErrShapeMismatch, len(after), len(before), grid.Pixels())
	}
	out := make([]float64, len(after))
	for i := range out {
		if raster.IsNoData(after[i]) || raster.IsNoData(before[i]) {
			out[i] = raster.NoData
			continue
		}
		out[i] = after[i] - before[i]
	}
	return &Raster{Grid: grid, Values: out}, nil
}

type Thresholds struct {
	Delta    float64
	Absolute float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Delta: DefaultDeltaThreshold, Absolute: DefaultAbsoluteThreshold}
}

// Classify flags pixels where the index dropped by more than the delta
// threshold and the later index is below the absolute threshold. Both
// comparisons are strict and no-data is never flagged.
func Classify(delta *Raster, later *mosaic.Composite, th Thresholds) (*raster.Mask, error) {
	if err := raster.SameGrid(delta.Grid, later.Grid); err != nil {
		return nil, err
	}
	after, err := later.Index()
	if err != nil {
		return nil, err
	}
	return ClassifyPlanes(delta, after, th)
}

// ClassifyPlanes is Classify over a plain later-index plane.
func ClassifyPlanes(delta *Raster, after []float64, th Thresholds) (*raster.Mask, error) {
	if len(after) != len(delta.Values) {
		return nil, fmt.Errorf("%w: %d index values for %d change values", raster.ErrShapeMismatch, len(after), len(delta.Values))
	}
	mask := raster.NewMask(delta.Grid)
	for i, d := range delta.Values {
		a := after[i]
		if raster.IsNoData(d) || raster.IsNoData(a) {
			continue
		}
		mask.Bits[i] = d < th.Delta && a < th.Absolute
	}
	return mask, nil
}
