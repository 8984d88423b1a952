// Package mosaic builds quality mosaics: per pixel, the valid observation with
// the greatest quality band value wins and all of its bands are copied into
// the composite.
package mosaic

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
)

// NoSource marks composite pixels that had no valid observation.
const NoSource = -1

// Composite is a quality mosaic. Source holds, per pixel, the input position of
// the scene every band value was copied from, or NoSource.
type Composite struct {
	*raster.Image
	Quality raster.Band
	Source  []int
	Scenes  int
}

func (c *Composite) Valid(x, y int) bool {
	return c.Source[y*c.Grid.Width+x] != NoSource
}

// Index returns the NDVI plane of the composite.
func (c *Composite) Index() ([]float64, error) {
	if err := c.Require(raster.NDVI); err != nil {
		return nil, err
	}
	return c.MustPlane(raster.NDVI), nil
}

// Clip returns a copy of c with every pixel outside keep set to no-data.
func (c *Composite) Clip(keep *raster.Mask) (*Composite, error) {
	if err := raster.SameGrid(c.Grid, keep.Grid); err != nil {
		return nil, err
	}
	planes := make([][]float64, len(c.Schema))
	for b, band := range c.Schema {
		planes[b] = append([]float64(nil), c.MustPlane(band)...)
	}
	source := append([]int(nil), c.Source...)
	for p, in := range keep.Bits {
		if in {
			continue
		}
		source[p] = NoSource
		for b := range planes {
			planes[b][p] = raster.NoData
		}
	}
	im, err := raster.NewImage(c.Grid, c.Schema, planes, c.Time, c.Meta)
	if err != nil {
		return nil, err
	}
	return &Composite{Image: im, Quality: c.Quality, Source: source, Scenes: c.Scenes}, nil
}

type Builder struct {
	// Quality is the band maximised per pixel; defaults to NDVI.
	Quality raster.Band
	// TileSize bounds the working set to TileSize² pixels per scene; <=0 means
	// one tile.
	TileSize int
	// Workers bounds the number of tiles folded concurrently.
	Workers int
	// Label becomes the composite's metadata ID.
	Label string
	// OnTile, when set, is called after each tile is committed.
	OnTile func(raster.Tile)
}

// Build folds src into a composite. Scenes are visited in input order and a
// later scene replaces the running best only with a strictly greater quality
// value, so ties keep the earliest scene. A cancelled or failed run returns no
// composite.
func (b Builder) Build(ctx context.Context, src Source) (*Composite, error) {
	quality := b.Quality
	if quality == "" {
		quality = raster.NDVI
	}
	schema := src.Schema()
	qi := schema.Index(quality)
	if qi < 0 {
		return nil, fmt.Errorf("%w: quality band %s not in %s", raster.ErrShapeMismatch, quality, schema)
	}
	workers := b.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	grid := src.Grid()
	planes := make([][]float64, len(schema))
	for i := range planes {
		planes[i] = raster.NewPlane(grid.Pixels())
	}
	source := make([]int, grid.Pixels())
	for i := range source {
		source[i] = NoSource
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range raster.Tiles(grid, b.TileSize) {
		t := t
		g.Go(func() error {
			acc, err := foldTile(gctx, src, t, schema, qi)
			if err != nil {
				return fmt.Errorf("tile %d: %w", t.Index, err)
			}
			acc.commit(grid, t, planes, source)
			if b.OnTile != nil {
				b.OnTile(t)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	im, err := raster.NewImage(grid, schema, planes, time.Time{}, raster.Metadata{ID: b.Label, Footprint: grid.Footprint()})
	if err != nil {
		return nil, err
	}
	return &Composite{Image: im, Quality: quality, Source: source, Scenes: src.Len()}, nil
}

// accumulator is the running per-pixel best of one tile.
type accumulator struct {
	best   []float64
	source []int
	bands  [][]float64
}

func newAccumulator(n, bands int) *accumulator {
	acc := &accumulator{
		best:   raster.NewPlane(n),
		source: make([]int, n),
		bands:  make([][]float64, bands),
	}
	for i := range acc.source {
		acc.source[i] = NoSource
	}
	for b := range acc.bands {
		acc.bands[b] = raster.NewPlane(n)
	}
	return acc
}

func (acc *accumulator) fold(i int, mask *raster.Mask, im *raster.Image, qi int) {
	quality := im.MustPlane(im.Schema[qi])
	for p, q := range quality {
		if !mask.Bits[p] || raster.IsNoData(q) {
			continue
		}
		if acc.source[p] != NoSource && !(q > acc.best[p]) {
			continue
		}
		acc.best[p] = q
		acc.source[p] = i
		for b, band := range im.Schema {
			acc.bands[b][p] = im.MustPlane(band)[p]
		}
	}
}

// commit copies the tile into the output planes. Tiles never overlap, so
// concurrent commits touch disjoint ranges.
func (acc *accumulator) commit(grid raster.Grid, t raster.Tile, planes [][]float64, source []int) {
	for row := 0; row < t.Height; row++ {
		dst := (t.Y+row)*grid.Width + t.X
		src := row * t.Width
		copy(source[dst:dst+t.Width], acc.source[src:src+t.Width])
		for b := range planes {
			copy(planes[b][dst:dst+t.Width], acc.bands[b][src:src+t.Width])
		}
	}
}

func foldTile(ctx context.Context, src Source, t raster.Tile, schema raster.Schema, qi int) (*accumulator, error) {
	acc := newAccumulator(t.Pixels(), len(schema))
	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mask, im, err := src.ReadTile(ctx, i, t)
		if err != nil {
			return nil, fmt.Errorf("failed to read scene %d: %w", i, err)
		}
		if !im.Schema.Equal(schema) {
			return nil, fmt.Errorf("%w: scene %d (%s) has bands %s, want %s", raster.ErrShapeMismatch, i, im.Meta.ID, im.Schema, schema)
		}
		if im.Grid.Pixels() != t.Pixels() || len(mask.Bits) != t.Pixels() {
			return nil, fmt.Errorf("%w: scene %d tile has %d pixels, want %d", raster.ErrShapeMismatch, i, im.Grid.Pixels(), t.Pixels())
		}
		acc.fold(i, mask, im, qi)
	}
	return acc, nil
}

// Build is shorthand for masking and indexing an in-memory collection and
// folding it with the given builder.
func Build(ctx context.Context, b Builder, grid raster.Grid, col scene.Collection, keep raster.Schema) (*Composite, error) {
	mem, err := PrepareAll(ctx, grid, col, keep, b.Workers)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, mem)
}
