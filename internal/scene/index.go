package scene

import (
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

// NormalizedDifference returns (a-b)/(a+b), or no-data when either operand is
// no-data or the denominator is zero.
func NormalizedDifference(a, b float64) float64 {
	if raster.IsNoData(a) || raster.IsNoData(b) {
		return raster.NoData
	}
	denominator := a + b
	if denominator == 0 {
		return raster.NoData
	}
	return (a - b) / denominator
}

// AddNDVI appends the NDVI band computed from B8 and B4.
func AddNDVI(im *raster.Image) (*raster.Image, error) {
	if err := im.Require(raster.NIR, raster.Red); err != nil {
		return nil, err
	}
	nir := im.MustPlane(raster.NIR)
	red := im.MustPlane(raster.Red)
	ndvi := make([]float64, len(nir))
	for i := range ndvi {
		ndvi[i] = NormalizedDifference(nir[i], red[i])
	}
	return im.WithBand(raster.NDVI, ndvi)
}

// Prepare runs the per-scene stages: cloud masking, normalisation and NDVI.
// Only the bands in keep (plus NDVI) survive.
func Prepare(im *raster.Image, keep raster.Schema) (*raster.Mask, *raster.Image, error) {
	mask, masked, err := CloudMask(im)
	if err != nil {
		return nil, nil, err
	}
	if len(keep) > 0 {
		masked, err = masked.Select(keep...)
		if err != nil {
			return nil, nil, err
		}
	}
	indexed, err := AddNDVI(masked)
	if err != nil {
		return nil, nil, err
	}
	return mask, indexed, nil
}
