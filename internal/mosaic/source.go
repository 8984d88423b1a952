package mosaic

import (
	"context"
	"fmt"

	"github.com/gammazero/workerpool"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
)

// Source hands out prepared (masked, normalised, indexed) scene tiles one at a
// time, in input order. Implementations must not require the whole stack to be
// resident.
type Source interface {
	Grid() raster.Grid
	Schema() raster.Schema
	Len() int
	ReadTile(ctx context.Context, i int, t raster.Tile) (*raster.Mask, *raster.Image, error)
}

// RawSource hands out unprocessed scene tiles carrying the QA band.
type RawSource interface {
	Grid() raster.Grid
	Schema() raster.Schema
	Len() int
	ReadTile(ctx context.Context, i int, t raster.Tile) (*raster.Image, error)
}

// Staged wraps a RawSource so every tile goes through cloud masking,
// normalisation, band selection and NDVI on the way in.
func Staged(raw RawSource, keep raster.Schema) Source {
	return &staged{raw: raw, keep: keep}
}

type staged struct {
	raw  RawSource
	keep raster.Schema
}

func (s *staged) Grid() raster.Grid { return s.raw.Grid() }
func (s *staged) Len() int          { return s.raw.Len() }

func (s *staged) Schema() raster.Schema {
	base := s.keep
	if len(base) == 0 {
		base = s.raw.Schema()
	}
	return append(append(raster.Schema{}, base...), raster.NDVI)
}

func (s *staged) ReadTile(ctx context.Context, i int, t raster.Tile) (*raster.Mask, *raster.Image, error) {
	im, err := s.raw.ReadTile(ctx, i, t)
	if err != nil {
		return nil, nil, err
	}
	return scene.Prepare(im, s.keep)
}

// Memory is a Source over scenes that are already prepared and resident.
type Memory struct {
	grid   raster.Grid
	schema raster.Schema
	masks  []*raster.Mask
	images []*raster.Image
}

// NewMemory checks that every scene shares grid and schema.
func NewMemory(grid raster.Grid, schema raster.Schema, masks []*raster.Mask, images []*raster.Image) (*Memory, error) {
	if len(masks) != len(images) {
		return nil, fmt.Errorf("%w: %d masks for %d images", raster.ErrShapeMismatch, len(masks), len(images))
	}
	for i, im := range images {
		if err := raster.SameGrid(grid, im.Grid); err != nil {
			return nil, fmt.Errorf("scene %d (%s): %w", i, im.Meta.ID, err)
		}
		if err := raster.SameGrid(grid, masks[i].Grid); err != nil {
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}
		if !im.Schema.Equal(schema) {
			return nil, fmt.Errorf("%w: scene %d (%s) has bands %s, want %s", raster.ErrShapeMismatch, i, im.Meta.ID, im.Schema, schema)
		}
	}
	return &Memory{grid: grid, schema: schema, masks: masks, images: images}, nil
}

func (m *Memory) Grid() raster.Grid     { return m.grid }
func (m *Memory) Schema() raster.Schema { return m.schema }
func (m *Memory) Len() int              { return len(m.images) }

func (m *Memory) ReadTile(_ context.Context, i int, t raster.Tile) (*raster.Mask, *raster.Image, error) {
	if t.X == 0 && t.Y == 0 && t.Width == m.grid.Width && t.Height == m.grid.Height {
		return m.masks[i], m.images[i], nil
	}
	im, err := m.images[i].Crop(t)
	if err != nil {
		return nil, nil, err
	}
	return m.masks[i].Crop(t), im, nil
}

// PrepareAll masks and indexes every scene of col on a pool of workers. Scenes
// are independent, so each job writes only its own slot.
func PrepareAll(ctx context.Context, grid raster.Grid, col scene.Collection, keep raster.Schema, workers int) (*Memory, error) {
	if workers < 1 {
		workers = 1
	}
	masks := make([]*raster.Mask, len(col))
	images := make([]*raster.Image, len(col))
	errs := make([]error, len(col))

	wp := workerpool.New(workers)
	for i, im := range col {
		i, im := i, im
		wp.Submit(func() {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			masks[i], images[i], errs[i] = scene.Prepare(im, keep)
		})
	}
	wp.StopWait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to prepare scene %s: %w", col[i].Meta.ID, err)
		}
	}

	schema := append(append(raster.Schema{}, keep...), raster.NDVI)
	if len(keep) == 0 && len(images) > 0 {
		schema = images[0].Schema
	}
	return NewMemory(grid, schema, masks, images)
}
