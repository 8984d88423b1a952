package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/properties"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/utils"
)

const (
	ProcessURL = "https://sh.dataspace.copernicus.eu/api/v1/process"
	// MaxRequestPixels is the Process API limit on output width and height.
	MaxRequestPixels = 2500
)

var (
	errUnauthorized = errors.New("unauthorized access, check your client ID and secret")
	errNoImage      = errors.New("image not found")
)

// The evalscript returns raw digital numbers in raster.Sentinel2 order. The
// L2A product has no QA60 band, so the cloud and cirrus bits are rebuilt from
// the scene classification: SCL 8 and 9 set bit 10, SCL 10 sets bit 11.
const evalscript = `
//VERSION=3
function setup() {
  return {
    input: [{bands: ["B02", "B03", "B04", "B08", "SCL", "dataMask"], units: "DN"}],
    output: {
      id: "default",
      bands: 5,
      sampleType: SampleType.FLOAT32,
    },
  }
}

function evaluatePixel(sample) {
  if (sample.dataMask === 0) {
    return [NaN, NaN, NaN, NaN, NaN];
  }
  var qa = 0;
  if (sample.SCL === 8 || sample.SCL === 9) {
    qa += 1024;
  }
  if (sample.SCL === 10) {
    qa += 2048;
  }
  return [sample.B02, sample.B03, sample.B04, sample.B08, qa];
}
`

// ProcessAPI fetches one daily scene per request from the Copernicus Data
// Space Sentinel Hub. Downloads are kept under CacheDir and reused.
type ProcessAPI struct {
	URL           string
	TokenURL      string
	ClientIDs     []string
	ClientSecrets []string
	// Scale is the requested pixel size in metres; it is coarsened when the
	// AOI would exceed MaxRequestPixels on either side.
	Scale     float64
	CacheDir  string
	Retries   int
	RetryWait time.Duration
}

// NewProcessAPI reads credentials like the rest of the CLI: comma separated
// COPERNICUS_CLIENT_ID and COPERNICUS_CLIENT_SECRET lists, tried in turn.
func NewProcessAPI(scale float64) (*ProcessAPI, error) {
	ids, secrets, tokenURL := properties.CopernicusClientID(), properties.CopernicusClientSecret(), properties.CopernicusTokenURL()
	if ids == "" || secrets == "" || tokenURL == "" {
		return nil, fmt.Errorf("missing required environment variables: COPERNICUS_CLIENT_ID, COPERNICUS_CLIENT_SECRET, or COPERNICUS_TOKEN_URL")
	}
	idList, secretList := strings.Split(ids, ","), strings.Split(secrets, ",")
	if len(idList) != len(secretList) {
		return nil, fmt.Errorf("mismatched number of client IDs and secrets")
	}
	return &ProcessAPI{
		URL:           ProcessURL,
		TokenURL:      tokenURL,
		ClientIDs:     idList,
		ClientSecrets: secretList,
		Scale:         scale,
		CacheDir:      properties.DataPath("images"),
		Retries:       10,
		RetryWait:     5 * time.Second,
	}, nil
}

// RequestGrid is the lon/lat grid every daily request over aoi is rendered on.
func (api *ProcessAPI) RequestGrid(aoi scene.AOI) raster.Grid {
	return GridFor(aoi, api.Scale)
}

// GridFor lays a lon/lat grid of scale metres over aoi, coarsened so that
// neither side exceeds MaxRequestPixels.
func GridFor(aoi scene.AOI, scale float64) raster.Grid {
	g := raster.GridFromBound(aoi.Bound(), scale, "EPSG:4326")
	if side := max(g.Width, g.Height); side > MaxRequestPixels {
		g = raster.GridFromBound(aoi.Bound(), scale*float64(side)/MaxRequestPixels, "EPSG:4326")
	}
	return g
}

// Query requests every day of [start, end]. Days without data are skipped.
// The cloudy pixel percentage of each scene is computed from its QA band.
func (api *ProcessAPI) Query(ctx context.Context, aoi scene.AOI, start, end time.Time, collection string) (scene.Collection, error) {
	g := api.RequestGrid(aoi)
	dir := filepath.Join(api.CacheDir, aoi.Name)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory %s: %w", ErrFetch, dir, err)
	}

	col := scene.Collection{}
	for _, day := range utils.Days(start, end) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileName := filepath.Join(dir, fmt.Sprintf("%s_%s.tif", aoi.Name, day.Format("2006-01-02")))
		if _, err := os.Stat(fileName); err != nil {
			body, err := api.requestImage(ctx, aoi, g, day)
			if errors.Is(err, errNoImage) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrFetch, day.Format("2006-01-02"), err)
			}
			if err := os.WriteFile(fileName, body, 0644); err != nil {
				return nil, fmt.Errorf("%w: failed to write image file: %w", ErrFetch, err)
			}
		}

		meta := raster.Metadata{ID: fmt.Sprintf("%s_%s", collection, day.Format("20060102")), Footprint: g.Footprint()}
		im, err := readImage(fileName, day, meta, &g)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		pct, ok := CloudyPixelPercentage(im.MustPlane(raster.QA))
		if !ok {
			continue
		}
		im.Meta.CloudPercent = pct
		col = append(col, im)
	}
	return col, nil
}

// CloudyPixelPercentage is the share of observed pixels with the cloud or
// cirrus bit set. ok is false when nothing was observed.
func CloudyPixelPercentage(qa []float64) (float64, bool) {
	observed, cloudy := 0, 0
	for _, v := range qa {
		if raster.IsNoData(v) {
			continue
		}
		observed++
		if !scene.ClearSky(v) {
			cloudy++
		}
	}
	if observed == 0 {
		return 0, false
	}
	return 100 * float64(cloudy) / float64(observed), true
}

func (api *ProcessAPI) payload(aoi scene.AOI, g raster.Grid, day time.Time) ([]byte, error) {
	geometry, err := aoiGeometry(aoi)
	if err != nil {
		return nil, err
	}
	b := g.Bound()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24*time.Hour - time.Second)

	requestPayload := map[string]any{
		"input": map[string]any{
			"bounds": map[string]any{
				"bbox":     []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
				"geometry": geometry,
				"properties": map[string]string{
					"crs": "http://www.opengis.net/def/crs/EPSG/0/4326",
				},
			},
			"data": []map[string]any{
				{
					"type": "sentinel-2-l2a",
					"dataFilter": map[string]any{
						"timeRange": map[string]string{
							"from": from.Format(time.RFC3339),
							"to":   to.Format(time.RFC3339),
						},
						"mosaickingOrder": "mostRecent",
					},
					"processing": map[string]any{
						"harmonizeValues": true,
					},
				},
			},
		},
		"output": map[string]any{
			"width":  g.Width,
			"height": g.Height,
			"responses": []map[string]any{
				{
					"identifier": "default",
					"format": map[string]string{
						"type": "image/tiff",
					},
				},
			},
		},
		"evalscript": evalscript,
	}
	body, err := json.Marshal(requestPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	return body, nil
}

// requestImage posts one request, walking the credential pairs and retrying
// each up to api.Retries times. A 403 moves on to the next pair at once.
func (api *ProcessAPI) requestImage(ctx context.Context, aoi scene.AOI, g raster.Grid, day time.Time) ([]byte, error) {
	requestBody, err := api.payload(aoi, g, day)
	if err != nil {
		return nil, err
	}
	retries := max(1, api.Retries)

	err = errors.New("no credentials configured")
	for i, clientID := range api.ClientIDs {
		if i >= len(api.ClientSecrets) {
			return nil, fmt.Errorf("mismatched number of client IDs and secrets")
		}
		config := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: api.ClientSecrets[i],
			TokenURL:     api.TokenURL,
		}
		httpClient := config.Client(ctx)

		var content []byte
		for attempt := 1; attempt <= retries; attempt++ {
			content, err = post(ctx, httpClient, api.URL, requestBody)
			if err == nil || errors.Is(err, errUnauthorized) || errors.Is(err, errNoImage) || ctx.Err() != nil {
				break
			}
			log.Printf("sentinel: attempt %d/%d for %s failed: %v", attempt, retries, day.Format("2006-01-02"), err)
			if attempt < retries {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(api.RetryWait):
				}
			}
		}
		if err == nil || errors.Is(err, errNoImage) {
			return content, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = fmt.Errorf("failed to request image after %d attempts: %w", retries, err)
	}
	return nil, err
}

func post(ctx context.Context, client *http.Client, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/tiff")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK && len(content) > 0:
		return content, nil
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNotFound:
		return nil, errNoImage
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	default:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}
}

var _ Source = (*ProcessAPI)(nil)
var _ Source = (*LocalCatalog)(nil)
