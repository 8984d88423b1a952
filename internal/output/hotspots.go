package output

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/aggregate"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

// Hotspot is a square block of the loss mask containing at least one flagged
// pixel.
type Hotspot struct {
	Bound      orb.Bound
	LossPixels int
	Pixels     int
	// SquareMetres sums the areas of the flagged pixels only.
	SquareMetres float64
}

func (h Hotspot) Fraction() float64 {
	return float64(h.LossPixels) / float64(h.Pixels)
}

// HotspotFactor is the smallest block size that keeps the block count of g
// within maxCells.
func HotspotFactor(g raster.Grid, maxCells int) int {
	if maxCells <= 0 || g.Pixels() <= maxCells {
		return 1
	}
	return int(math.Ceil(math.Sqrt(float64(g.Pixels()) / float64(maxCells))))
}

// Hotspots groups flagged pixels of m into factor x factor blocks, row by row.
func Hotspots(m *raster.Mask, factor int, area aggregate.AreaFunc) []Hotspot {
	g := m.Grid
	factor = max(1, factor)
	var out []Hotspot
	for y0 := 0; y0 < g.Height; y0 += factor {
		y1 := min(y0+factor, g.Height)
		for x0 := 0; x0 < g.Width; x0 += factor {
			x1 := min(x0+factor, g.Width)
			h := Hotspot{Bound: g.CellBound(x0, y0, x1, y1), Pixels: (x1 - x0) * (y1 - y0)}
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					if m.At(x, y) {
						h.LossPixels++
						h.SquareMetres += area(g.CellBound(x, y, x+1, y+1))
					}
				}
			}
			if h.LossPixels > 0 {
				out = append(out, h)
			}
		}
	}
	return out
}

func HotspotFeatures(hs []Hotspot, props map[string]any) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, h := range hs {
		f := geojson.NewFeature(h.Bound.ToPolygon())
		for k, v := range props {
			f.Properties[k] = v
		}
		f.Properties["loss_pixels"] = h.LossPixels
		f.Properties["loss_fraction"] = h.Fraction()
		f.Properties["loss_km2"] = h.SquareMetres / 1e6
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes fc, indented, to path.
func WriteGeoJSON(fc *geojson.FeatureCollection, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating GeoJSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(fc); err != nil {
		return fmt.Errorf("error encoding GeoJSON: %w", err)
	}
	return nil
}
