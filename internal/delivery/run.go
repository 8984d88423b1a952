// Package delivery runs the analyses behind the CLI commands: it fetches
// scenes, builds the period composites, classifies loss and hands the result
// to observers and the export sink.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/aggregate"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/cache"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/change"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/config"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/export"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/mosaic"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/properties"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/report"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/sentinel"
)

const (
	lossBand = "NDVI_Change"

	// Cached loss estimates older than this are recomputed.
	lossCacheMaxAge = 30 * 24 * time.Hour
)

type Runner struct {
	Config config.Config
	Source sentinel.Source
	// Sink receives the export requests of a run when Config.Export is set.
	Sink      export.Sink
	Observers []Observer
	// Cache, when set, keeps loss estimates between runs.
	Cache    cache.CacheService[aggregate.Estimate]
	Progress bool
}

// NewRunner wires the scene source, GeoTIFF sink, loss cache and the default
// observers for cfg.
func NewRunner(cfg config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}
	outDir := OutputDir(cfg)
	r := &Runner{
		Config:    cfg,
		Source:    src,
		Observers: DefaultObservers(cfg, outDir),
		Progress:  true,
	}
	if cfg.Export {
		r.Sink = export.NewGeoTIFFSink(filepath.Join(outDir, "exports"))
	}
	if !cfg.NoCache {
		lossCache := cache.NewFileCache[aggregate.Estimate]("cache/loss")
		lossCache.MaxAge = lossCacheMaxAge
		r.Cache = lossCache
	}
	return r, nil
}

// NewSource returns the scene source named by cfg.Source.
func NewSource(cfg config.Config) (sentinel.Source, error) {
	switch cfg.Source {
	case "copernicus":
		api, err := sentinel.NewProcessAPI(cfg.ExportScale)
		if err != nil {
			return nil, err
		}
		return api, nil
	case "catalog":
		return sentinel.NewLocalCatalog(properties.DataPath("scenes")), nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q", config.ErrInvalidConfig, cfg.Source)
	}
}

func OutputDir(cfg config.Config) string {
	if cfg.OutputDir != "" {
		return cfg.OutputDir
	}
	return properties.DataPath("result")
}

// LoadAOI resolves cfg.AOI, either a "minLon,minLat,maxLon,maxLat" rectangle
// or the name of a GeoJSON file under data/geojsons.
func LoadAOI(cfg config.Config) (scene.AOI, error) {
	if strings.Count(cfg.AOI, ",") == 3 {
		name := "Rectangle"
		if cfg.AOI == config.DefaultAOI {
			name = "Rondonia"
		}
		return scene.ParseRectangle(name, cfg.AOI)
	}
	path := properties.DataPath(config.DefaultGeoJSONDirectory, cfg.AOI+".geojson")
	return scene.LoadAOI(path, cfg.AOIID)
}

// Wait blocks until background exports are written, when the sink supports
// waiting.
func (r *Runner) Wait() {
	if w, ok := r.Sink.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// AnalyzeLoss composites the before and after periods over the AOI, flags
// potential forest loss and measures its area.
func (r *Runner) AnalyzeLoss(ctx context.Context) (*Result, error) {
	started := time.Now()
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	aoi, err := LoadAOI(cfg)
	if err != nil {
		return nil, err
	}

	before, err := r.Composite(ctx, aoi, cfg.Before, nil)
	if err != nil {
		return nil, err
	}
	var target *raster.Grid
	if before.Composite.Scenes > 0 {
		g := before.Composite.Grid
		target = &g
	}
	after, err := r.Composite(ctx, aoi, cfg.After, target)
	if err != nil {
		return nil, err
	}
	if !before.Composite.Grid.Equal(after.Composite.Grid) && before.Composite.Scenes == 0 {
		// An empty before period was laid on the AOI grid; move it to the
		// grid the after scenes came on.
		before, err = r.emptyPeriod(ctx, aoi, cfg.Before, after.Composite.Grid, before.Queried)
		if err != nil {
			return nil, err
		}
	}

	delta, err := change.Detect(before.Composite, after.Composite)
	if err != nil {
		return nil, fmt.Errorf("failed to compare %s with %s: %w", cfg.Before.Label(), cfg.After.Label(), err)
	}
	loss, err := change.Classify(delta, after.Composite, cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	est := r.lossArea(aoi, before, after, loss)

	res := &Result{AOI: aoi, Before: before, After: after, Change: delta, Loss: loss}
	res.Summary = r.summary(aoi, res, started)
	res.Summary.LossPixels = loss.Count()
	res.Summary.Loss = &est

	if cfg.Export && r.Sink != nil {
		res.Summary.Exports = r.exportLoss(aoi, res)
	}
	res.Summary.Duration = time.Since(started)
	notify(ctx, r.Observers, res)
	return res, nil
}

// CompositePeriod builds and reports the composite of a single period.
func (r *Runner) CompositePeriod(ctx context.Context, p config.Period) (*Result, error) {
	started := time.Now()
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	aoi, err := LoadAOI(cfg)
	if err != nil {
		return nil, err
	}
	pr, err := r.Composite(ctx, aoi, p, nil)
	if err != nil {
		return nil, err
	}
	res := &Result{AOI: aoi, Before: pr}
	res.Summary = r.summary(aoi, res, started)
	if cfg.Export && r.Sink != nil {
		c := pr.Composite
		task := r.Sink.Export(r.request(aoi, c.Grid, fmt.Sprintf("NDVI_%s_Composite_%s", p.Label(), aoi.Name), bandNames(c.Schema), planes(c.Image)))
		res.Summary.Exports = []string{describe(task)}
	}
	res.Summary.Duration = time.Since(started)
	notify(ctx, r.Observers, res)
	return res, nil
}

// Composite builds the quality mosaic of period p over aoi, clipped to the
// AOI. With a target grid every scene must come on, or be resampled onto,
// that grid. A failed fetch gives an empty composite with a warning.
func (r *Runner) Composite(ctx context.Context, aoi scene.AOI, p config.Period, target *raster.Grid) (*PeriodResult, error) {
	src, queried, closeSrc, err := r.open(ctx, aoi, p, target)
	var c *mosaic.Composite
	if err == nil {
		c, err = r.build(ctx, p, src)
		closeSrc()
	}
	if err != nil {
		if ctx.Err() != nil || !errors.Is(err, sentinel.ErrFetch) {
			return nil, err
		}
		log.Printf("delivery: fetching %s scenes failed, continuing with an empty collection: %v", p.Label(), err)
		return r.emptyPeriod(ctx, aoi, p, r.emptyGrid(aoi, target), 0)
	}
	return clip(aoi, p, c, queried)
}

func clip(aoi scene.AOI, p config.Period, c *mosaic.Composite, queried int) (*PeriodResult, error) {
	clipped, err := c.Clip(aoi.Mask(c.Grid))
	if err != nil {
		return nil, err
	}
	return &PeriodResult{Period: p, Composite: clipped, Queried: queried}, nil
}

func (r *Runner) emptyPeriod(ctx context.Context, aoi scene.AOI, p config.Period, grid raster.Grid, queried int) (*PeriodResult, error) {
	c, err := r.build(ctx, p, emptySource(grid))
	if err != nil {
		return nil, err
	}
	return clip(aoi, p, c, queried)
}

// emptyGrid is the grid an empty period is laid on: the target when there is
// one, otherwise the request grid of the AOI at the export scale.
func (r *Runner) emptyGrid(aoi scene.AOI, target *raster.Grid) raster.Grid {
	if target != nil {
		return *target
	}
	return sentinel.GridFor(aoi, r.Config.ExportScale)
}

func emptySource(grid raster.Grid) mosaic.Source {
	mem, _ := mosaic.NewMemory(grid, compositeSchema(), nil, nil)
	return mem
}

func compositeSchema() raster.Schema {
	return append(append(raster.Schema{}, raster.Reflectance...), raster.NDVI)
}

func noop() {}

// open returns a mosaic source over the scenes of p, the number of scenes
// found before cloud filtering, and a func releasing the source.
func (r *Runner) open(ctx context.Context, aoi scene.AOI, p config.Period, target *raster.Grid) (mosaic.Source, int, func(), error) {
	params := scene.FilterParams{AOI: aoi, Start: p.Start, End: p.Through(), MaxCloudPct: r.Config.MaxCloudPct}

	cat, ok := r.Source.(*sentinel.LocalCatalog)
	if !ok {
		return r.query(ctx, r.Source, params, target)
	}
	c := *cat
	c.Target = target
	queried, err := c.Count(params, r.Config.Collection)
	if err != nil {
		return nil, 0, noop, err
	}
	st, err := c.Open(ctx, params, r.Config.Collection)
	switch {
	case err == nil && st.Len() == 0:
		st.Close()
		return emptySource(r.emptyGrid(aoi, target)), queried, noop, nil
	case err == nil:
		return mosaic.Staged(st, raster.Reflectance), queried, st.Close, nil
	case errors.Is(err, raster.ErrShapeMismatch):
		log.Printf("delivery: %s scenes do not share a grid, resampling them in memory", p.Label())
		return r.query(ctx, &c, params, target)
	default:
		return nil, 0, noop, err
	}
}

// query loads the scenes of params into memory, filters them and prepares
// them on the worker pool.
func (r *Runner) query(ctx context.Context, src sentinel.Source, params scene.FilterParams, target *raster.Grid) (mosaic.Source, int, func(), error) {
	col, err := src.Query(ctx, params.AOI, params.Start, params.End, r.Config.Collection)
	if err != nil {
		return nil, 0, noop, err
	}
	kept := scene.Filter(col, params).Sorted()
	if len(kept) == 0 {
		return emptySource(r.emptyGrid(params.AOI, target)), len(col), noop, nil
	}
	grid := kept[0].Grid
	if target != nil {
		grid = *target
	}
	mem, err := mosaic.PrepareAll(ctx, grid, kept, raster.Reflectance, r.Config.Workers)
	if err != nil {
		return nil, 0, noop, err
	}
	return mem, len(col), noop, nil
}

func (r *Runner) build(ctx context.Context, p config.Period, src mosaic.Source) (*mosaic.Composite, error) {
	b := mosaic.Builder{TileSize: r.Config.TileSize, Workers: r.Config.Workers, Label: p.Label()}
	if r.Progress && src.Len() > 0 {
		progressBar := progressbar.Default(int64(len(raster.Tiles(src.Grid(), r.Config.TileSize))), "Compositing "+p.Label())
		b.OnTile = func(raster.Tile) {
			progressBar.Add(1)
		}
	}
	return b.Build(ctx, src)
}

// lossArea measures the flagged area, reusing a cached estimate for identical
// inputs.
func (r *Runner) lossArea(aoi scene.AOI, before, after *PeriodResult, loss *raster.Mask) aggregate.Estimate {
	cfg := r.Config
	var key string
	if r.Cache != nil {
		key = r.Cache.GenerateKey(aoi.Name, aoi.Bound(), cfg.Source, cfg.Collection, cfg.MaxCloudPct, before.Period, after.Period,
			before.Composite.Scenes, after.Composite.Scenes, cfg.Thresholds, cfg.Aggregation, loss.Grid, loss.Count())
		if est, ok := r.Cache.Get(key); ok {
			log.Printf("delivery: loss area for %s read from cache", aoi.Name)
			return est
		}
	}
	est := aggregate.Area(loss, areaFunc(loss.Grid), cfg.Aggregation)
	if r.Cache != nil {
		if err := r.Cache.Set(key, est); err != nil {
			log.Printf("delivery: failed to cache loss area: %v", err)
		}
	}
	return est
}

func areaFunc(g raster.Grid) aggregate.AreaFunc {
	if g.Geographic() {
		return aggregate.GeodesicArea
	}
	return aggregate.PlanarArea
}

func (r *Runner) summary(aoi scene.AOI, res *Result, started time.Time) report.Summary {
	s := report.Summary{
		RunID:      uuid.NewString(),
		AOI:        aoi.Name,
		Thresholds: r.Config.Thresholds,
		Started:    started,
	}
	if lat, lon, err := sentinel.GetCentroidLatitudeLongitude(aoi); err == nil {
		s.CentroidLat, s.CentroidLon = lat, lon
	}
	for _, p := range res.Periods() {
		c := p.Composite
		ps := report.PeriodSummary{
			Label:   p.Period.Label(),
			Start:   p.Period.Start,
			End:     p.Period.End,
			Queried: p.Queried,
			Scenes:  c.Scenes,
			Pixels:  aoi.Mask(c.Grid).Count(),
		}
		for _, src := range c.Source {
			if src != mosaic.NoSource {
				ps.Valid++
			}
		}
		if ndvi, err := c.Index(); err == nil {
			ps.NDVIMean = aggregate.Mean(c.Grid, ndvi, r.Config.Aggregation)
		} else {
			ps.NDVIMean = aggregate.MeanResult{Mean: raster.NoData}
		}
		s.Periods = append(s.Periods, ps)
	}
	return s
}

func (r *Runner) request(aoi scene.AOI, grid raster.Grid, description string, bands []string, planes [][]float64) export.Request {
	return export.Request{
		Description: description,
		Folder:      r.Config.ExportFolder,
		Grid:        grid,
		Bands:       bands,
		Planes:      planes,
		Region:      aoi.Bound(),
		Scale:       r.Config.ExportScale,
		CRS:         r.Config.CRS,
		MaxPixels:   r.Config.ExportMaxPixels,
	}
}

// exportLoss starts the change map, the binary loss mask and the false colour
// after composite exports.
func (r *Runner) exportLoss(aoi scene.AOI, res *Result) []string {
	b, a := res.Before.Period.Label(), res.After.Period.Label()
	grid := res.Change.Grid
	after := res.After.Composite
	reqs := []export.Request{
		r.request(aoi, grid, fmt.Sprintf("NDVI_Change_%s_to_%s_%s", b, a, aoi.Name), []string{lossBand}, [][]float64{res.Change.Values}),
		r.request(aoi, grid, fmt.Sprintf("Forest_Loss_Hotspots_%s_%s_%s", b, a, aoi.Name), []string{"loss"}, [][]float64{LossPlane(res.Change, after, res.Loss)}),
		r.request(aoi, grid, fmt.Sprintf("%s_FalseColor_Mosaic_%s", a, aoi.Name), bandNames(after.Schema), planes(after.Image)),
	}
	var out []string
	for _, req := range reqs {
		out = append(out, describe(r.Sink.Export(req)))
	}
	return out
}

// LossPlane encodes the loss mask as 1 and 0, with no-data wherever the
// change or the later index is undefined.
func LossPlane(delta *change.Raster, later *mosaic.Composite, loss *raster.Mask) []float64 {
	ndvi, _ := later.Plane(raster.NDVI)
	out := make([]float64, len(loss.Bits))
	for i, flagged := range loss.Bits {
		switch {
		case raster.IsNoData(delta.Values[i]) || ndvi == nil || raster.IsNoData(ndvi[i]):
			out[i] = raster.NoData
		case flagged:
			out[i] = 1
		}
	}
	return out
}

func bandNames(s raster.Schema) []string {
	names := make([]string, len(s))
	for i, b := range s {
		names[i] = string(b)
	}
	return names
}

func planes(im *raster.Image) [][]float64 {
	out := make([][]float64, len(im.Schema))
	for i, b := range im.Schema {
		out[i] = im.MustPlane(b)
	}
	return out
}

func describe(t export.Task) string {
	return fmt.Sprintf("%s [%s] %s", t.Description, t.Status, t.Path)
}

// ListAOIs returns the AOI names available under data/geojsons.
func ListAOIs() ([]string, error) {
	entries, err := os.ReadDir(properties.DataPath(config.DefaultGeoJSONDirectory))
	if err != nil {
		return nil, fmt.Errorf("error reading geojsons folder: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".geojson") {
			names = append(names, strings.TrimSuffix(e.Name(), ".geojson"))
		}
	}
	return names, nil
}
