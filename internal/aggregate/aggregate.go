// Package aggregate reduces rasters to scalars over a pixel budget. When the
// requested scale would sample more pixels than the budget allows, the scale
// is coarsened and the result is flagged approximate instead of failing.
package aggregate

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

const (
	DefaultScale     = 100.0
	DefaultMaxPixels = 1e10
)

// AreaFunc returns the physical area of a grid cell given its world bound.
type AreaFunc func(cell orb.Bound) float64

// GeodesicArea is the area in square metres of a lon/lat cell on the sphere.
func GeodesicArea(cell orb.Bound) float64 {
	return math.Abs(geo.Area(cell.ToPolygon()))
}

// PlanarArea is the area of a cell in the square units of a projected CRS.
func PlanarArea(cell orb.Bound) float64 {
	return math.Abs(planar.Area(cell.ToPolygon()))
}

// Options selects the sampling scale (metres per pixel) and the pixel budget.
type Options struct {
	Scale     float64
	MaxPixels float64
}

// Exact asks for native resolution with an unlimited budget.
func Exact() Options {
	return Options{Scale: 0, MaxPixels: math.Inf(1)}
}

// Plan is the sampling layout actually used: square blocks of Factor native
// pixels per side.
type Plan struct {
	Factor   int
	Scale    float64
	Samples  int
	FellBack bool
}

// Exact reports whether every native pixel is visited.
func (p Plan) Exact() bool {
	return p.Factor == 1
}

// PlanFor chooses the block factor for g. The requested scale is rounded to a
// whole number of native pixels; the factor then doubles until the sample
// count fits the budget.
func PlanFor(g raster.Grid, opts Options) Plan {
	native := g.NativeScale()
	factor := 1
	if opts.Scale > 0 && native > 0 {
		factor = max(1, int(math.Round(opts.Scale/native)))
	}
	budget := opts.MaxPixels
	if budget <= 0 {
		budget = DefaultMaxPixels
	}
	p := Plan{Factor: factor}
	for {
		p.Samples = blocks(g.Width, p.Factor) * blocks(g.Height, p.Factor)
		if float64(p.Samples) <= budget || p.Samples <= 1 {
			break
		}
		p.Factor *= 2
		p.FellBack = true
	}
	p.Scale = native * float64(p.Factor)
	return p
}

func blocks(n, factor int) int {
	return (n + factor - 1) / factor
}

// Estimate is an area total and how it was obtained.
type Estimate struct {
	SquareMetres float64
	Exact        bool
	Scale        float64
	Factor       int
	FellBack     bool
	Samples      int
	Pixels       int
}

func (e Estimate) SquareKilometres() float64 {
	return e.SquareMetres / 1e6
}

func (e Estimate) Hectares() float64 {
	return e.SquareMetres / 1e4
}

// Area sums the cell areas of true mask pixels. At factor 1 each true pixel
// contributes its own area. At coarser factors each block is sampled at its
// centre pixel and, if true, contributes the area of the whole block; blocks
// that are uniformly true or false are therefore exact and each mixed block
// errs by at most one block area.
func Area(mask *raster.Mask, area AreaFunc, opts Options) Estimate {
	g := mask.Grid
	plan := PlanFor(g, opts)
	est := Estimate{
		Exact:    plan.Exact(),
		Scale:    plan.Scale,
		Factor:   plan.Factor,
		FellBack: plan.FellBack,
		Samples:  plan.Samples,
	}
	rows := make([]float64, 0, blocks(g.Height, plan.Factor))
	eachBlock(g, plan.Factor, func(x0, y0, x1, y1, cx, cy int) {
		if x0 == 0 {
			rows = append(rows, 0)
		}
		if !mask.At(cx, cy) {
			return
		}
		rows[len(rows)-1] += area(g.CellBound(x0, y0, x1, y1))
		est.Pixels += (x1 - x0) * (y1 - y0)
	})
	est.SquareMetres = floats.Sum(rows)
	return est
}

// MeanResult is the mean of a band over its valid samples.
type MeanResult struct {
	Mean     float64
	Count    int
	Exact    bool
	Scale    float64
	Factor   int
	FellBack bool
}

// Mean averages the non no-data values of plane, sampling block centres under
// the same plan as Area. With no valid sample the mean is no-data.
func Mean(g raster.Grid, plane []float64, opts Options) MeanResult {
	plan := PlanFor(g, opts)
	res := MeanResult{Exact: plan.Exact(), Scale: plan.Scale, Factor: plan.Factor, FellBack: plan.FellBack}
	values := make([]float64, 0, plan.Samples)
	eachBlock(g, plan.Factor, func(_, _, _, _, cx, cy int) {
		v := plane[cy*g.Width+cx]
		if !raster.IsNoData(v) {
			values = append(values, v)
		}
	})
	res.Count = len(values)
	if res.Count == 0 {
		res.Mean = raster.NoData
		return res
	}
	res.Mean = stat.Mean(values, nil)
	return res
}

// eachBlock visits factor x factor blocks row by row, clipped to the grid, and
// passes the block window and its centre pixel.
func eachBlock(g raster.Grid, factor int, fn func(x0, y0, x1, y1, cx, cy int)) {
	for y0 := 0; y0 < g.Height; y0 += factor {
		y1 := min(y0+factor, g.Height)
		cy := (y0 + y1 - 1) / 2
		for x0 := 0; x0 < g.Width; x0 += factor {
			x1 := min(x0+factor, g.Width)
			cx := (x0 + x1 - 1) / 2
			fn(x0, y0, x1, y1, cx, cy)
		}
	}
}
