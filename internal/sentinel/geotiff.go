package sentinel

import (
	"fmt"
	"strings"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/utils"
)

func init() {
	godal.RegisterAll()
}

func openDataset(path string) (*godal.Dataset, error) {
	ds, err := godal.Open(path, godal.ErrLogger(func(ec godal.ErrorCategory, code int, msg string) error {
		if ec == godal.CE_Warning {
			return nil
		}
		return fmt.Errorf("gdal error %d: %s", code, msg)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return ds, nil
}

// crsCode renders a spatial reference as AUTHORITY:CODE, e.g. EPSG:4326.
func crsCode(sr *godal.SpatialRef) string {
	if sr == nil {
		return ""
	}
	name, code := sr.AuthorityName(""), sr.AuthorityCode("")
	if name == "" || code == "" {
		return ""
	}
	return strings.ToUpper(name) + ":" + code
}

func gridOf(ds *godal.Dataset) (raster.Grid, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return raster.Grid{}, fmt.Errorf("failed to get GeoTransform: %w", err)
	}
	st := ds.Structure()
	sr := ds.SpatialRef()
	if sr != nil {
		defer sr.Close()
	}
	return raster.Grid{Width: st.SizeX, Height: st.SizeY, GeoTransform: gt, CRS: crsCode(sr)}, nil
}

// readWindow reads the Sentinel2 bands of ds inside t. Band order in the file
// must follow raster.Sentinel2; the band nodata value becomes raster.NoData.
func readWindow(ds *godal.Dataset, t raster.Tile) ([][]float64, error) {
	bands := ds.Bands()
	if len(bands) < len(raster.Sentinel2) {
		return nil, fmt.Errorf("%w: dataset has %d bands, want %d (%s)", raster.ErrShapeMismatch, len(bands), len(raster.Sentinel2), raster.Sentinel2)
	}
	planes := make([][]float64, len(raster.Sentinel2))
	for i, name := range raster.Sentinel2 {
		buf := make([]float64, t.Pixels())
		if err := bands[i].Read(t.X, t.Y, buf, t.Width, t.Height); err != nil {
			return nil, fmt.Errorf("failed to read data for band %s: %w", name, err)
		}
		if nd, ok := bands[i].NoData(); ok {
			for p, v := range buf {
				if v == nd {
					buf[p] = raster.NoData
				}
			}
		}
		planes[i] = buf
	}
	return planes, nil
}

// readImage loads a whole scene file. When target is non-nil and the file is
// on another grid, the scene is resampled onto target first.
func readImage(path string, at time.Time, meta raster.Metadata, target *raster.Grid) (*raster.Image, error) {
	var im *raster.Image
	err := utils.WithGDAL(func() error {
		ds, err := openDataset(path)
		if err != nil {
			return err
		}
		defer ds.Close()

		g, err := gridOf(ds)
		if err != nil {
			return err
		}
		if target != nil && !g.Equal(*target) {
			warped, err := ds.Warp(uuid.NewString(), utils.WarpSwitches(*target, "MEM"))
			if err != nil {
				return fmt.Errorf("failed to warp %s onto the target grid: %w", path, err)
			}
			defer warped.Close()
			ds, g = warped, *target
		}

		planes, err := readWindow(ds, raster.Tile{Width: g.Width, Height: g.Height})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if meta.Footprint == nil {
			meta.Footprint = g.Footprint()
		}
		im, err = raster.NewImage(g, raster.Sentinel2, planes, at, meta)
		return err
	})
	return im, err
}
