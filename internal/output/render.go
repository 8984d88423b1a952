// Package output renders composites, change rasters and loss masks as PNG map
// layers and writes loss hotspots as GeoJSON.
package output

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
)

// DefaultMaxSide bounds the longest side of a rendered layer.
const DefaultMaxSide = 2048

// Renderer draws layers over a grid, sampling at most MaxSide pixels along the
// longest side with nearest neighbour. No-data pixels stay transparent.
type Renderer struct {
	Grid    raster.Grid
	MaxSide int
	// AOI, when set, is outlined in blue on every layer.
	AOI *scene.AOI
}

func (r Renderer) size() (int, int, float64) {
	side := r.MaxSide
	if side <= 0 {
		side = DefaultMaxSide
	}
	w, h := r.Grid.Width, r.Grid.Height
	step := 1.0
	if m := max(w, h); m > side {
		step = float64(m) / float64(side)
		w, h = max(1, int(float64(w)/step)), max(1, int(float64(h)/step))
	}
	return w, h, step
}

// paint fills an image by asking px for the colour of each sampled source pixel.
func (r Renderer) paint(px func(p int) (color.RGBA, bool)) *image.RGBA {
	w, h, step := r.size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := min(r.Grid.Height-1, int((float64(y)+0.5)*step))
		for x := 0; x < w; x++ {
			sx := min(r.Grid.Width-1, int((float64(x)+0.5)*step))
			if c, ok := px(sy*r.Grid.Width + sx); ok {
				img.SetRGBA(x, y, c)
			}
		}
	}
	return img
}

// Index renders a single band through a palette.
func (r Renderer) Index(plane []float64, p Palette) *image.RGBA {
	return r.paint(func(i int) (color.RGBA, bool) {
		v := plane[i]
		if raster.IsNoData(v) {
			return color.RGBA{}, false
		}
		return p.At(v), true
	})
}

// FalseColor renders NIR, red and green as R, G and B.
func (r Renderer) FalseColor(im *raster.Image, s Stretch) (*image.RGBA, error) {
	if err := im.Require(raster.NIR, raster.Red, raster.Green); err != nil {
		return nil, err
	}
	nir, red, green := im.MustPlane(raster.NIR), im.MustPlane(raster.Red), im.MustPlane(raster.Green)
	return r.paint(func(i int) (color.RGBA, bool) {
		if raster.IsNoData(nir[i]) || raster.IsNoData(red[i]) || raster.IsNoData(green[i]) {
			return color.RGBA{}, false
		}
		return color.RGBA{s.Apply(nir[i]), s.Apply(red[i]), s.Apply(green[i]), 255}, true
	}), nil
}

// Mask renders true pixels in c and leaves the rest transparent.
func (r Renderer) Mask(m *raster.Mask, c color.RGBA) *image.RGBA {
	return r.paint(func(i int) (color.RGBA, bool) {
		return c, m.Bits[i]
	})
}

// Overlay blends true mask pixels in c over base.
func (r Renderer) Overlay(base *image.RGBA, m *raster.Mask, c color.RGBA) *image.RGBA {
	out := image.NewRGBA(base.Bounds())
	copy(out.Pix, base.Pix)
	loss := r.Mask(m, c)
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := 0; x < out.Bounds().Dx(); x++ {
			if loss.RGBAAt(x, y).A == 0 {
				continue
			}
			under := out.RGBAAt(x, y)
			if under.A == 0 {
				under = color.RGBA{0, 0, 0, 255}
			}
			out.SetRGBA(x, y, blend(under, c))
		}
	}
	return out
}

// SavePNG writes img to path, outlining the AOI when the renderer has one.
func (r Renderer) SavePNG(img *image.RGBA, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	dc := gg.NewContextForRGBA(img)
	if r.AOI != nil {
		r.outline(dc)
	}
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

func (r Renderer) outline(dc *gg.Context) {
	_, _, step := r.size()
	gt := r.Grid.GeoTransform
	for i, p := range r.AOI.Ring() {
		px := (p[0] - gt[0]) / gt[1] / step
		py := (p[1] - gt[3]) / gt[5] / step
		if i == 0 {
			dc.MoveTo(px, py)
			continue
		}
		dc.LineTo(px, py)
	}
	dc.ClosePath()
	dc.SetColor(Blue)
	dc.SetLineWidth(3)
	dc.Stroke()
}
