package scene

import (
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

const (
	CloudBit  = 1 << 10
	CirrusBit = 1 << 11

	// ReflectanceScale maps Sentinel-2 L2A digital numbers to reflectance.
	ReflectanceScale = 10000.0
)

// ClearSky reports whether a QA60 value has neither the cloud nor the cirrus flag.
func ClearSky(qa float64) bool {
	if raster.IsNoData(qa) {
		return false
	}
	bits := int64(qa)
	return bits&CloudBit == 0 && bits&CirrusBit == 0
}

// CloudMask derives the validity mask from the QA60 band and returns it with a
// new image whose reflectance bands are divided by ReflectanceScale and whose
// invalid pixels are no-data in every band. Values are not clamped.
func CloudMask(im *raster.Image) (*raster.Mask, *raster.Image, error) {
	if err := im.Require(raster.QA); err != nil {
		return nil, nil, err
	}
	qa := im.MustPlane(raster.QA)
	mask := raster.NewMask(im.Grid)
	for i, v := range qa {
		mask.Bits[i] = ClearSky(v)
	}

	planes := make([][]float64, len(im.Schema))
	for b, band := range im.Schema {
		src := im.MustPlane(band)
		dst := make([]float64, len(src))
		scale := 1.0
		if raster.Reflectance.Has(band) {
			scale = ReflectanceScale
		}
		for i, v := range src {
			if !mask.Bits[i] {
				dst[i] = raster.NoData
				continue
			}
			dst[i] = v / scale
		}
		planes[b] = dst
	}
	out, err := raster.NewImage(im.Grid, im.Schema, planes, im.Time, im.Meta)
	if err != nil {
		return nil, nil, err
	}
	return mask, out, nil
}
