package scene

import (
	"sort"
	"time"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

// Collection is a scene sequence ordered by acquisition time, oldest first.
type Collection []*raster.Image

// Sorted returns a copy of c ordered by time. Scenes with equal timestamps keep
// their relative order.
func (c Collection) Sorted() Collection {
	out := append(Collection{}, c...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

func (c Collection) Dates() []time.Time {
	dates := make([]time.Time, len(c))
	for i, im := range c {
		dates[i] = im.Time
	}
	return dates
}

type FilterParams struct {
	AOI         AOI
	Start       time.Time
	End         time.Time
	MaxCloudPct float64
}

// Filter keeps the scenes whose footprint intersects the AOI, whose timestamp
// lies in [Start, End] and whose cloudy pixel percentage is strictly below
// MaxCloudPct. An empty result is a valid empty collection.
func Filter(c Collection, p FilterParams) Collection {
	out := Collection{}
	for _, im := range c {
		if im == nil || !p.Match(im.Time, im.Meta) {
			continue
		}
		out = append(out, im)
	}
	return out
}

// Match applies the Filter predicate to scene metadata alone, so sources can
// select scenes before reading any pixels.
func (p FilterParams) Match(at time.Time, meta raster.Metadata) bool {
	if at.Before(p.Start) || at.After(p.End) {
		return false
	}
	if !(meta.CloudPercent < p.MaxCloudPct) {
		return false
	}
	return p.AOI.Intersects(meta.Footprint)
}
