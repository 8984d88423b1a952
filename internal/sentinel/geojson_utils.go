package sentinel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
)

// GetCentroidLatitudeLongitude returns the planar centroid of the AOI.
func GetCentroidLatitudeLongitude(aoi scene.AOI) (float64, float64, error) {
	centroid, area := planar.CentroidArea(aoi.Polygon)
	if area == 0 {
		return 0, 0, errors.New("error getting centroid")
	}
	return centroid.Y(), centroid.X(), nil
}

func aoiGeometry(aoi scene.AOI) (json.RawMessage, error) {
	raw, err := geojson.NewGeometry(aoi.Polygon).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export geometry to GeoJSON: %w", err)
	}
	return raw, nil
}
