package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/aggregate"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/cache"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/config"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/export"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/report"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/sentinel"
)

var grid4x4 = raster.Grid{Width: 4, Height: 4, GeoTransform: [6]float64{-62, 0.0001, 0, -10, 0, -0.0001}, CRS: "EPSG:4326"}

// fakeSource serves in-memory scenes, or fails for the years listed in errs.
type fakeSource struct {
	scenes scene.Collection
	errs   map[int]error
}

func (f *fakeSource) Query(ctx context.Context, _ scene.AOI, start, end time.Time, _ string) (scene.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.errs[start.Year()]; err != nil {
		return nil, err
	}
	col := scene.Collection{}
	for _, im := range f.scenes {
		if !im.Time.Before(start) && !im.Time.After(end) {
			col = append(col, im)
		}
	}
	return col, nil
}

type fakeSink struct {
	mu       sync.Mutex
	requests []export.Request
}

func (s *fakeSink) Export(req export.Request) export.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return export.Task{ID: fmt.Sprint(len(s.requests)), Description: req.Description, Status: export.Pending}
}

// rawScene builds a Sentinel-2 scene over grid4x4 with the given digital
// numbers for NIR and red.
func rawScene(t *testing.T, id string, at time.Time, cloud float64, nir, red func(p int) float64) *raster.Image {
	t.Helper()
	planes := make([][]float64, len(raster.Sentinel2))
	for i := range planes {
		planes[i] = make([]float64, grid4x4.Pixels())
	}
	for p := 0; p < grid4x4.Pixels(); p++ {
		planes[0][p] = 400
		planes[1][p] = 700
		planes[2][p] = red(p)
		planes[3][p] = nir(p)
	}
	im, err := raster.NewImage(grid4x4, raster.Sentinel2, planes, at, raster.Metadata{ID: id, CloudPercent: cloud, Footprint: grid4x4.Footprint()})
	require.NoError(t, err)
	return im
}

func constant(v float64) func(int) float64 {
	return func(int) float64 { return v }
}

// twoYears has a healthy 2023 and a 2024 where the top half dropped to NDVI 1/3.
func twoYears(t *testing.T) *fakeSource {
	healthy := rawScene(t, "2023", time.Date(2023, 6, 1, 14, 0, 0, 0, time.UTC), 10, constant(4500), constant(500))
	cleared := rawScene(t, "2024", time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC), 10,
		func(p int) float64 {
			if p < 8 {
				return 2000
			}
			return 4500
		},
		func(p int) float64 {
			if p < 8 {
				return 1000
			}
			return 500
		})
	return &fakeSource{scenes: scene.Collection{healthy, cleared}}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AOI = "-62.001,-10.001,-61.999,-9.999"
	cfg.Aggregation = aggregate.Exact()
	cfg.TileSize = 2
	cfg.Workers = 2
	cfg.NoCache = true
	cfg.Notify = false
	return cfg
}

func TestAnalyzeLoss(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	var observed *Result
	r := &Runner{
		Config: testConfig(),
		Source: twoYears(t),
		Sink:   sink,
		Observers: []Observer{ObserverFunc(func(_ context.Context, res *Result) error {
			observed = res
			return nil
		})},
	}

	res, err := r.AnalyzeLoss(context.Background())
	require.NoError(t, err)
	assert.Same(t, res, observed)

	s := res.Summary
	assert.Equal(t, "Rectangle", s.AOI)
	assert.NotEmpty(t, s.RunID)
	require.Len(t, s.Periods, 2)
	for _, p := range s.Periods {
		assert.Equal(t, 1, p.Queried)
		assert.Equal(t, 1, p.Scenes)
		assert.Equal(t, 16, p.Valid)
		assert.Equal(t, 16, p.Pixels)
	}
	assert.InDelta(t, 0.8, s.Periods[0].NDVIMean.Mean, 1e-9)
	assert.InDelta(t, (8*0.8+8.0/3.0)/16, s.Periods[1].NDVIMean.Mean, 1e-9)

	assert.Equal(t, 8, s.LossPixels)
	require.NotNil(t, s.Loss)
	assert.True(t, s.Loss.Exact)
	assert.Equal(t, 8, s.Loss.Pixels)
	assert.Greater(t, s.Loss.SquareMetres, 0.0)

	require.Len(t, sink.requests, 3)
	assert.Equal(t, "NDVI_Change_2023_to_2024_Rectangle", sink.requests[0].Description)
	assert.Equal(t, "Forest_Loss_Hotspots_2023_2024_Rectangle", sink.requests[1].Description)
	assert.Equal(t, "2024_FalseColor_Mosaic_Rectangle", sink.requests[2].Description)
	for _, req := range sink.requests {
		assert.Equal(t, config.DefaultExportFolder, req.Folder)
		assert.Equal(t, 10.0, req.Scale)
		assert.Equal(t, 1e13, req.MaxPixels)
		assert.Equal(t, "EPSG:4326", req.CRS)
		assert.Equal(t, res.AOI.Bound(), req.Region)
	}
	assert.Equal(t, []string{"B2", "B3", "B4", "B8", "NDVI"}, sink.requests[2].Bands)
	lossPlane := sink.requests[1].Planes[0]
	for p, v := range lossPlane {
		if p < 8 {
			assert.Equal(t, 1.0, v, "pixel %d", p)
		} else {
			assert.Equal(t, 0.0, v, "pixel %d", p)
		}
	}
	assert.Len(t, s.Exports, 3)
}

func TestAnalyzeLoss_FailedFetchIsEmptyPeriod(t *testing.T) {
	t.Parallel()
	src := twoYears(t)
	src.errs = map[int]error{2023: fmt.Errorf("%w: offline", sentinel.ErrFetch)}
	r := &Runner{Config: testConfig(), Source: src}

	res, err := r.AnalyzeLoss(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Before.Composite.Grid.Equal(grid4x4))
	assert.Equal(t, 0, res.Summary.Periods[0].Scenes)
	assert.Equal(t, 0, res.Summary.Periods[0].Valid)
	assert.True(t, raster.IsNoData(res.Summary.Periods[0].NDVIMean.Mean))
	assert.Equal(t, 0, res.Summary.LossPixels)
	assert.Zero(t, res.Summary.Loss.SquareMetres)
}

func TestAnalyzeLoss_CloudyScenesAreFiltered(t *testing.T) {
	t.Parallel()
	src := twoYears(t)
	src.scenes[1] = rawScene(t, "2024", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 60, constant(2000), constant(1000))
	r := &Runner{Config: testConfig(), Source: src}

	res, err := r.AnalyzeLoss(context.Background())
	require.NoError(t, err)
	after := res.Summary.Periods[1]
	assert.Equal(t, 1, after.Queried)
	assert.Equal(t, 0, after.Scenes)
	assert.Equal(t, 0, res.Summary.LossPixels)
}

func TestAnalyzeLoss_Errors(t *testing.T) {
	t.Parallel()

	t.Run("source failure", func(t *testing.T) {
		src := twoYears(t)
		boom := errors.New("boom")
		src.errs = map[int]error{2024: boom}
		_, err := (&Runner{Config: testConfig(), Source: src}).AnalyzeLoss(context.Background())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := (&Runner{Config: testConfig(), Source: twoYears(t)}).AnalyzeLoss(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxCloudPct = 0
		_, err := (&Runner{Config: cfg, Source: twoYears(t)}).AnalyzeLoss(context.Background())
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestAnalyzeLoss_CachesEstimate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := &Runner{Config: testConfig(), Source: twoYears(t), Cache: cache.NewFileCacheAt[aggregate.Estimate](dir)}

	first, err := r.AnalyzeLoss(context.Background())
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	second, err := r.AnalyzeLoss(context.Background())
	require.NoError(t, err)
	assert.Equal(t, *first.Summary.Loss, *second.Summary.Loss)
}

func TestCompositePeriod(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := &Runner{Config: testConfig(), Source: twoYears(t), Sink: sink}

	res, err := r.CompositePeriod(context.Background(), config.Year(2023))
	require.NoError(t, err)
	assert.Nil(t, res.After)
	assert.Nil(t, res.Summary.Loss)
	require.Len(t, res.Summary.Periods, 1)
	assert.Equal(t, "2023", res.Summary.Periods[0].Label)
	require.Len(t, sink.requests, 1)
	assert.Equal(t, "NDVI_2023_Composite_Rectangle", sink.requests[0].Description)
}

func TestComposite_ClipsToAOI(t *testing.T) {
	t.Parallel()
	r := &Runner{Config: testConfig(), Source: twoYears(t)}
	// Covers the western half of grid4x4 only.
	aoi, err := scene.Rectangle("west", -62.001, -10.001, -61.9998, -9.999)
	require.NoError(t, err)

	pr, err := r.Composite(context.Background(), aoi, config.Year(2023), nil)
	require.NoError(t, err)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, x < 2, pr.Composite.Valid(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestLossPlane_NoData(t *testing.T) {
	t.Parallel()
	r := &Runner{Config: testConfig(), Source: twoYears(t)}
	res, err := r.AnalyzeLoss(context.Background())
	require.NoError(t, err)

	res.Change.Values[3] = raster.NoData
	plane := LossPlane(res.Change, res.After.Composite, res.Loss)
	assert.True(t, raster.IsNoData(plane[3]))
	assert.Equal(t, 1.0, plane[0])
	assert.Equal(t, 0.0, plane[15])
}

func TestObservers_WriteOutputs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var out bytes.Buffer
	var sent string
	r := &Runner{
		Config: testConfig(),
		Source: twoYears(t),
		Observers: []Observer{
			&Layers{Dir: filepath.Join(dir, "layers")},
			&HotspotLayer{Dir: filepath.Join(dir, "hotspots"), MaxCells: 4},
			&CSVLog{Path: filepath.Join(dir, "runs.csv")},
			&Console{W: &out},
			&Discord{Send: func(msg string) error {
				sent = msg
				return nil
			}},
		},
	}

	res, err := r.AnalyzeLoss(context.Background())
	require.NoError(t, err)

	for _, name := range []string{
		"layers/Rectangle_2023_false_color.png",
		"layers/Rectangle_2023_ndvi.png",
		"layers/Rectangle_2024_false_color.png",
		"layers/Rectangle_2024_ndvi.png",
		"layers/Rectangle_2023_2024_ndvi_change.png",
		"layers/Rectangle_2023_2024_loss.png",
		"layers/Rectangle_2023_2024_loss_overlay.png",
		"hotspots/Rectangle_2023_2024_hotspots.geojson",
		"runs.csv",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
		assert.Contains(t, res.Summary.Outputs, filepath.Join(dir, name))
	}

	rows, err := report.ReadCSV(filepath.Join(dir, "runs.csv"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.Contains(t, out.String(), "Flagged pixels: 8")
	assert.Contains(t, out.String(), "runs.csv")
	assert.Contains(t, sent, "Potential forest loss")
	assert.Contains(t, sent, "(8 pixels, exact)")
}

func TestNotify_ContinuesAfterFailure(t *testing.T) {
	t.Parallel()
	calls := 0
	failing := ObserverFunc(func(context.Context, *Result) error {
		calls++
		return errors.New("disk full")
	})
	notify(context.Background(), []Observer{failing, failing}, &Result{})
	assert.Equal(t, 2, calls)
}

func TestLoadAOI(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ROOT_PATH", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "geojsons"), os.ModePerm))
	geojson := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"aoi_id":"a1"},
		"geometry":{"type":"Polygon","coordinates":[[[-63,-11],[-62,-11],[-62,-10],[-63,-10],[-63,-11]]]}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "geojsons", "farm.geojson"), []byte(geojson), 0644))

	cfg := config.Default()
	aoi, err := LoadAOI(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Rondonia", aoi.Name)

	cfg.AOI, cfg.AOIID = "farm", "a1"
	aoi, err = LoadAOI(cfg)
	require.NoError(t, err)
	assert.Equal(t, "a1", aoi.Name)

	cfg.AOIID = "missing"
	_, err = LoadAOI(cfg)
	assert.ErrorIs(t, err, scene.ErrInvalidAOI)

	names, err := ListAOIs()
	require.NoError(t, err)
	assert.Equal(t, []string{"farm"}, names)
}
