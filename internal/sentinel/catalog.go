package sentinel

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/utils"
)

const CatalogFile = "catalog.csv"

// CatalogEntry is one row of the catalog index. Path is relative to the
// catalog directory; the footprint is the scene's lon/lat bounding box.
type CatalogEntry struct {
	ID           string  `csv:"id"`
	Date         string  `csv:"date"`
	Collection   string  `csv:"collection"`
	CloudPercent float64 `csv:"cloudy_pixel_percentage"`
	Path         string  `csv:"path"`
	MinLon       float64 `csv:"min_lon"`
	MinLat       float64 `csv:"min_lat"`
	MaxLon       float64 `csv:"max_lon"`
	MaxLat       float64 `csv:"max_lat"`
}

func (e *CatalogEntry) Time() (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(e.Date)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("scene %s: unrecognised date %q", e.ID, e.Date)
}

func (e *CatalogEntry) Metadata() raster.Metadata {
	b := orb.Bound{Min: orb.Point{e.MinLon, e.MinLat}, Max: orb.Point{e.MaxLon, e.MaxLat}}
	return raster.Metadata{ID: e.ID, CloudPercent: e.CloudPercent, Footprint: b.ToPolygon()}
}

// LocalCatalog serves scenes from GeoTIFF files listed in a CSV index. Files
// hold the bands of raster.Sentinel2 in that order, as raw digital numbers.
type LocalCatalog struct {
	Dir   string
	Index string
	// Target, when set, is the grid every scene is resampled onto. Otherwise
	// the first selected scene fixes the grid.
	Target *raster.Grid
}

func NewLocalCatalog(dir string) *LocalCatalog {
	return &LocalCatalog{Dir: dir, Index: filepath.Join(dir, CatalogFile)}
}

func (c *LocalCatalog) Entries() ([]*CatalogEntry, error) {
	file, err := os.Open(c.Index)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer file.Close()

	var rows []*CatalogEntry
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrFetch, c.Index, err)
	}
	return rows, nil
}

type selectedScene struct {
	entry *CatalogEntry
	at    time.Time
	path  string
}

// selectScenes applies p to the index rows alone and returns the matches in
// acquisition order.
func (c *LocalCatalog) selectScenes(p scene.FilterParams, collection string) ([]selectedScene, error) {
	rows, err := c.Entries()
	if err != nil {
		return nil, err
	}
	byDate := make(map[time.Time][]selectedScene)
	for _, row := range rows {
		if collection != "" && row.Collection != "" && row.Collection != collection {
			continue
		}
		at, err := row.Time()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		if !p.Match(at, row.Metadata()) {
			continue
		}
		path := row.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.Dir, path)
		}
		byDate[at] = append(byDate[at], selectedScene{entry: row, at: at, path: path})
	}
	var out []selectedScene
	for _, at := range utils.GetSortedKeys(byDate, true) {
		out = append(out, byDate[at]...)
	}
	return out, nil
}

// Count is the number of indexed scenes of collection over p.AOI within the
// period, before cloud filtering.
func (c *LocalCatalog) Count(p scene.FilterParams, collection string) (int, error) {
	p.MaxCloudPct = math.Inf(1)
	selected, err := c.selectScenes(p, collection)
	if err != nil {
		return 0, err
	}
	return len(selected), nil
}

// Query loads every indexed scene of collection that intersects aoi within
// [start, end]. Cloud filtering is left to scene.Filter.
func (c *LocalCatalog) Query(ctx context.Context, aoi scene.AOI, start, end time.Time, collection string) (scene.Collection, error) {
	selected, err := c.selectScenes(scene.FilterParams{AOI: aoi, Start: start, End: end, MaxCloudPct: math.Inf(1)}, collection)
	if err != nil {
		return nil, err
	}
	target := c.Target
	col := scene.Collection{}
	for _, s := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		im, err := readImage(s.path, s.at, s.entry.Metadata(), target)
		if err != nil {
			return nil, fmt.Errorf("%w: scene %s: %w", ErrFetch, s.entry.ID, err)
		}
		if target == nil {
			g := im.Grid
			target = &g
		}
		col = append(col, im)
	}
	return col, nil
}

// Stack is a mosaic.RawSource over catalog files that share one grid. Tiles
// are read from disk on demand, so at most one tile per scene and worker is
// resident.
type Stack struct {
	grid     raster.Grid
	scenes   []selectedScene
	datasets []*godal.Dataset
}

// Open selects scenes like scene.Filter would and keeps their files open for
// windowed reads. All files must share a grid; use Query to resample instead.
func (c *LocalCatalog) Open(ctx context.Context, p scene.FilterParams, collection string) (*Stack, error) {
	selected, err := c.selectScenes(p, collection)
	if err != nil {
		return nil, err
	}
	st := &Stack{scenes: selected}
	if c.Target != nil {
		st.grid = *c.Target
	}
	for i, s := range selected {
		if err := ctx.Err(); err != nil {
			st.Close()
			return nil, err
		}
		err := utils.WithGDAL(func() error {
			ds, err := openDataset(s.path)
			if err != nil {
				return err
			}
			st.datasets = append(st.datasets, ds)
			g, err := gridOf(ds)
			if err != nil {
				return err
			}
			if i == 0 && c.Target == nil {
				st.grid = g
			}
			return raster.SameGrid(st.grid, g)
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("%w: scene %s: %w", ErrFetch, s.entry.ID, err)
		}
	}
	return st, nil
}

func (st *Stack) Grid() raster.Grid     { return st.grid }
func (st *Stack) Schema() raster.Schema { return raster.Sentinel2 }
func (st *Stack) Len() int              { return len(st.scenes) }

func (st *Stack) ReadTile(ctx context.Context, i int, t raster.Tile) (*raster.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var planes [][]float64
	err := utils.WithGDAL(func() error {
		var err error
		planes, err = readWindow(st.datasets[i], t)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scene %s: %w", ErrFetch, st.scenes[i].entry.ID, err)
	}
	return raster.NewImage(st.grid.Sub(t), raster.Sentinel2, planes, st.scenes[i].at, st.scenes[i].entry.Metadata())
}

func (st *Stack) Close() {
	for _, ds := range st.datasets {
		ds.Close()
	}
	st.datasets = nil
}
