package export

import (
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

var hotspot = orb.Bound{Min: orb.Point{-65, -13}, Max: orb.Point{-60, -8}}

func request(grid raster.Grid) Request {
	return Request{
		Description: "NDVI_Change_2023_to_2024_Rondonia_Subregion",
		Folder:      "Amazon_Deforestation_Project",
		Grid:        grid,
		Bands:       []string{"NDVI_Change"},
		Planes:      [][]float64{raster.NewPlane(grid.Pixels())},
		Region:      hotspot,
		Scale:       10,
		CRS:         "EPSG:4326",
		MaxPixels:   1e13,
	}
}

func TestParseEPSG(t *testing.T) {
	t.Parallel()
	n, err := parseEPSG("EPSG:4326")
	require.NoError(t, err)
	assert.Equal(t, 4326, n)

	n, err = parseEPSG(" epsg:32720 ")
	require.NoError(t, err)
	assert.Equal(t, 32720, n)

	_, err = parseEPSG("ESRI:102033")
	assert.Error(t, err)
	_, err = parseEPSG("EPSG:abc")
	assert.Error(t, err)
}

func TestOutputGrid(t *testing.T) {
	t.Parallel()
	g := OutputGrid(Request{Region: hotspot, Scale: 10, CRS: "EPSG:4326"})
	assert.InDelta(t, 55660, g.Width, 1)
	assert.InDelta(t, 55660, g.Height, 1)
	assert.InDelta(t, 10, g.NativeScale(), 1e-9)
}

func TestExport_SkipsOverBudget(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var finished []Task
	sink := NewGeoTIFFSink(t.TempDir())
	sink.OnDone = func(task Task, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, err)
		finished = append(finished, task)
	}

	g := raster.Grid{Width: 2, Height: 2, GeoTransform: [6]float64{-65, 2.5, 0, -8, 0, -2.5}, CRS: "EPSG:4326"}
	req := request(g)
	req.MaxPixels = 1e6

	task := sink.Export(req)
	sink.Wait()
	assert.Equal(t, Skipped, task.Status)
	assert.Len(t, task.ID, 36)
	require.Len(t, finished, 1)
	assert.Equal(t, task.ID, finished[0].ID)
}

func TestExport_RejectsMalformedRequest(t *testing.T) {
	t.Parallel()
	sink := NewGeoTIFFSink(t.TempDir())
	g := raster.Grid{Width: 2, Height: 2, GeoTransform: [6]float64{-65, 2.5, 0, -8, 0, -2.5}, CRS: "EPSG:4326"}

	req := request(g)
	req.Planes = [][]float64{{1, 2, 3}}
	assert.Equal(t, Failed, sink.Export(req).Status)

	req = request(g)
	req.Bands = nil
	assert.Equal(t, Failed, sink.Export(req).Status)

	req = request(g)
	req.Scale = 0
	assert.Equal(t, Failed, sink.Export(req).Status)
	sink.Wait()
}

func TestExport_TaskIDsAreUnique(t *testing.T) {
	t.Parallel()
	sink := NewGeoTIFFSink(t.TempDir())
	g := raster.Grid{Width: 1, Height: 1, GeoTransform: [6]float64{-65, 5, 0, -8, 0, -5}, CRS: "EPSG:4326"}
	req := request(g)
	req.MaxPixels = 1

	a, b := sink.Export(req), sink.Export(req)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Contains(t, a.Path, "Amazon_Deforestation_Project")
}
