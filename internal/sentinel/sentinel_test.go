package sentinel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
)

func rondonia(t *testing.T) scene.AOI {
	t.Helper()
	aoi, err := scene.Rectangle("rondonia", -65, -13, -60, -8)
	require.NoError(t, err)
	return aoi
}

func TestCloudyPixelPercentage(t *testing.T) {
	t.Parallel()
	nd := raster.NoData

	pct, ok := CloudyPixelPercentage([]float64{0, scene.CloudBit, scene.CirrusBit, 0, nd})
	require.True(t, ok)
	assert.Equal(t, 50.0, pct)

	_, ok = CloudyPixelPercentage([]float64{nd, nd})
	assert.False(t, ok)
}

func TestGetCentroidLatitudeLongitude(t *testing.T) {
	t.Parallel()
	lat, lon, err := GetCentroidLatitudeLongitude(rondonia(t))
	require.NoError(t, err)
	assert.InDelta(t, -10.5, lat, 1e-9)
	assert.InDelta(t, -62.5, lon, 1e-9)
}

func TestRequestGrid(t *testing.T) {
	t.Parallel()
	small, err := scene.Rectangle("small", -62, -10.01, -61.99, -10)
	require.NoError(t, err)

	api := &ProcessAPI{Scale: 10}
	g := api.RequestGrid(small)
	assert.Equal(t, "EPSG:4326", g.CRS)
	assert.InDelta(t, 112, g.Width, 1)

	// The full hotspot at 10 m is far beyond the request limit.
	g = api.RequestGrid(rondonia(t))
	assert.LessOrEqual(t, g.Width, MaxRequestPixels)
	assert.LessOrEqual(t, g.Height, MaxRequestPixels)
	assert.Greater(t, g.NativeScale(), 10.0)
}

func TestPayload(t *testing.T) {
	t.Parallel()
	api := &ProcessAPI{Scale: 1000}
	aoi := rondonia(t)
	g := api.RequestGrid(aoi)

	body, err := api.payload(aoi, g, time.Date(2023, 7, 14, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	var decoded struct {
		Input struct {
			Bounds struct {
				BBox     []float64       `json:"bbox"`
				Geometry json.RawMessage `json:"geometry"`
			} `json:"bounds"`
			Data []struct {
				Type       string `json:"type"`
				DataFilter struct {
					TimeRange struct {
						From string `json:"from"`
						To   string `json:"to"`
					} `json:"timeRange"`
				} `json:"dataFilter"`
			} `json:"data"`
		} `json:"input"`
		Output struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"output"`
		Evalscript string `json:"evalscript"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded.Input.Data, 1)
	assert.Equal(t, "sentinel-2-l2a", decoded.Input.Data[0].Type)
	assert.Equal(t, "2023-07-14T00:00:00Z", decoded.Input.Data[0].DataFilter.TimeRange.From)
	assert.Equal(t, "2023-07-14T23:59:59Z", decoded.Input.Data[0].DataFilter.TimeRange.To)
	assert.Equal(t, g.Width, decoded.Output.Width)
	assert.Equal(t, g.Height, decoded.Output.Height)
	assert.Equal(t, -65.0, decoded.Input.Bounds.BBox[0])
	assert.Contains(t, string(decoded.Input.Bounds.Geometry), `"Polygon"`)
	assert.Contains(t, decoded.Evalscript, "sample.SCL === 10")
}

// processServer serves an OAuth2 token endpoint and a process endpoint that
// answers with the given status codes in turn.
func processServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		n := int(calls.Add(1)) - 1
		status := statuses[min(n, len(statuses)-1)]
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte("tiff-bytes"))
			return
		}
		_, _ = io.WriteString(w, "upstream trouble")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testAPI(srv *httptest.Server, pairs int) *ProcessAPI {
	api := &ProcessAPI{
		URL:       srv.URL + "/process",
		TokenURL:  srv.URL + "/token",
		Scale:     1000,
		Retries:   3,
		RetryWait: time.Millisecond,
	}
	for i := 0; i < pairs; i++ {
		api.ClientIDs = append(api.ClientIDs, "id")
		api.ClientSecrets = append(api.ClientSecrets, "secret")
	}
	return api
}

func TestRequestImage_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	srv, calls := processServer(t, http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusOK)
	api := testAPI(srv, 1)
	aoi := rondonia(t)

	body, err := api.requestImage(context.Background(), aoi, api.RequestGrid(aoi), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "tiff-bytes", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRequestImage_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	srv, calls := processServer(t, http.StatusBadGateway)
	api := testAPI(srv, 1)
	aoi := rondonia(t)

	_, err := api.requestImage(context.Background(), aoi, api.RequestGrid(aoi), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestRequestImage_ForbiddenMovesToNextCredentials(t *testing.T) {
	t.Parallel()
	srv, calls := processServer(t, http.StatusForbidden, http.StatusOK)
	api := testAPI(srv, 2)
	aoi := rondonia(t)

	body, err := api.requestImage(context.Background(), aoi, api.RequestGrid(aoi), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "tiff-bytes", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequestImage_NotFoundIsNoImage(t *testing.T) {
	t.Parallel()
	srv, calls := processServer(t, http.StatusNotFound)
	api := testAPI(srv, 1)
	aoi := rondonia(t)

	_, err := api.requestImage(context.Background(), aoi, api.RequestGrid(aoi), time.Now())
	assert.ErrorIs(t, err, errNoImage)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequestImage_Cancelled(t *testing.T) {
	t.Parallel()
	srv, _ := processServer(t, http.StatusInternalServerError)
	api := testAPI(srv, 1)
	api.RetryWait = time.Hour
	aoi := rondonia(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := api.requestImage(ctx, aoi, api.RequestGrid(aoi), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

const catalogCSV = `id,date,collection,cloudy_pixel_percentage,path,min_lon,min_lat,max_lon,max_lat
late,2023-08-01,COPERNICUS/S2_SR_HARMONIZED,10,late.tif,-63,-11,-62,-10
early,2023-02-01,COPERNICUS/S2_SR_HARMONIZED,80,early.tif,-63,-11,-62,-10
other,2023-03-01,LANDSAT/LC09,5,other.tif,-63,-11,-62,-10
far,2023-04-01,COPERNICUS/S2_SR_HARMONIZED,5,far.tif,10,10,11,11
next-year,2024-01-02,COPERNICUS/S2_SR_HARMONIZED,5,next.tif,-63,-11,-62,-10
`

func TestLocalCatalog_SelectScenes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CatalogFile), []byte(catalogCSV), 0644))
	c := NewLocalCatalog(dir)

	rows, err := c.Entries()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, 80.0, rows[1].CloudPercent)

	p := scene.FilterParams{
		AOI:         rondonia(t),
		Start:       time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		MaxCloudPct: 100,
	}
	selected, err := c.selectScenes(p, "COPERNICUS/S2_SR_HARMONIZED")
	require.NoError(t, err)
	ids := []string{}
	for _, s := range selected {
		ids = append(ids, s.entry.ID)
	}
	assert.Equal(t, []string{"early", "late"}, ids)
	assert.Equal(t, filepath.Join(dir, "early.tif"), selected[0].path)

	p.MaxCloudPct = 50
	selected, err = c.selectScenes(p, "COPERNICUS/S2_SR_HARMONIZED")
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "late", selected[0].entry.ID)

	n, err := c.Count(p, "COPERNICUS/S2_SR_HARMONIZED")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLocalCatalog_MissingIndexIsFetchError(t *testing.T) {
	t.Parallel()
	c := NewLocalCatalog(t.TempDir())
	_, err := c.Query(context.Background(), rondonia(t), time.Now(), time.Now(), "")
	assert.ErrorIs(t, err, ErrFetch)
}

func TestCatalogEntry_Time(t *testing.T) {
	t.Parallel()
	e := &CatalogEntry{ID: "x", Date: "2023-05-06T13:14:15Z"}
	at, err := e.Time()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 5, 6, 13, 14, 15, 0, time.UTC), at)

	e.Date = "06/05/23"
	_, err = e.Time()
	assert.Error(t, err)
}
