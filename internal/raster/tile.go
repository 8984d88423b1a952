package raster

import (
	"math"

	"github.com/paulmach/orb"
)

// Tile is a rectangular window [X, X+Width) x [Y, Y+Height) of a grid.
type Tile struct {
	Index  int
	X, Y   int
	Width  int
	Height int
}

func (t Tile) Pixels() int {
	return t.Width * t.Height
}

// Tiles splits g into windows of at most size x size pixels in row-major
// order. A non-positive size yields a single tile covering the grid.
func Tiles(g Grid, size int) []Tile {
	if g.Width == 0 || g.Height == 0 {
		return nil
	}
	if size <= 0 {
		return []Tile{{X: 0, Y: 0, Width: g.Width, Height: g.Height}}
	}
	var tiles []Tile
	for y := 0; y < g.Height; y += size {
		for x := 0; x < g.Width; x += size {
			tiles = append(tiles, Tile{
				Index:  len(tiles),
				X:      x,
				Y:      y,
				Width:  min(size, g.Width-x),
				Height: min(size, g.Height-y),
			})
		}
	}
	return tiles
}

// Sub returns the grid of tile t, with the geotransform origin moved to the
// tile corner.
func (g Grid) Sub(t Tile) Grid {
	origin := g.PixelToWorld(float64(t.X), float64(t.Y))
	gt := g.GeoTransform
	gt[0], gt[3] = origin[0], origin[1]
	return Grid{Width: t.Width, Height: t.Height, GeoTransform: gt, CRS: g.CRS}
}

// Crop copies the window t out of every band of im.
func (im *Image) Crop(t Tile) (*Image, error) {
	planes := make([][]float64, len(im.planes))
	for i, src := range im.planes {
		dst := make([]float64, t.Pixels())
		for row := 0; row < t.Height; row++ {
			off := (t.Y+row)*im.Grid.Width + t.X
			copy(dst[row*t.Width:(row+1)*t.Width], src[off:off+t.Width])
		}
		planes[i] = dst
	}
	return NewImage(im.Grid.Sub(t), im.Schema, planes, im.Time, im.Meta)
}

// Crop copies the window t out of m.
func (m *Mask) Crop(t Tile) *Mask {
	out := NewMask(m.Grid.Sub(t))
	for row := 0; row < t.Height; row++ {
		off := (t.Y+row)*m.Grid.Width + t.X
		copy(out.Bits[row*t.Width:(row+1)*t.Width], m.Bits[off:off+t.Width])
	}
	return out
}

// GridFromBound lays a north-up grid of the given pixel size in metres over b.
func GridFromBound(b orb.Bound, scale float64, crs string) Grid {
	size := scale
	g := Grid{CRS: crs}
	if g.Geographic() {
		size = scale / metresPerDegree
	}
	g.Width = int(math.Ceil((b.Max[0] - b.Min[0]) / size))
	g.Height = int(math.Ceil((b.Max[1] - b.Min[1]) / size))
	g.GeoTransform = [6]float64{b.Min[0], size, 0, b.Max[1], 0, -size}
	return g
}
