// Package sentinel adapts scene archives to the compositing engine: a local
// GeoTIFF catalog and the Copernicus Sentinel Hub Process API.
package sentinel

import (
	"context"
	"errors"
	"time"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
)

// ErrFetch wraps every failure to obtain scenes from an archive. Callers may
// retry, or carry on with an empty collection.
var ErrFetch = errors.New("scene fetch failed")

// Source returns the scenes of collection that cover aoi between start and end.
type Source interface {
	Query(ctx context.Context, aoi scene.AOI, start, end time.Time, collection string) (scene.Collection, error)
}
