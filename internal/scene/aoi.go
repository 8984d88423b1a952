package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

var ErrInvalidAOI = errors.New("invalid area of interest")

// AOI is a closed, simple polygon used for spatial filtering, aggregation and
// export. Only the outer ring is considered.
type AOI struct {
	Name    string
	Polygon orb.Polygon
}

// NewAOI validates ring and closes it if the last vertex is missing.
func NewAOI(name string, ring orb.Ring) (AOI, error) {
	if len(ring) > 0 && !ring.Closed() {
		ring = append(append(orb.Ring{}, ring...), ring[0])
	}
	if len(ring) < 4 {
		return AOI{}, fmt.Errorf("%w: %q needs at least 3 distinct vertices", ErrInvalidAOI, name)
	}
	if planar.Area(ring) == 0 {
		return AOI{}, fmt.Errorf("%w: %q has zero area", ErrInvalidAOI, name)
	}
	if selfIntersects(ring) {
		return AOI{}, fmt.Errorf("%w: %q is self-intersecting", ErrInvalidAOI, name)
	}
	return AOI{Name: name, Polygon: orb.Polygon{ring}}, nil
}

// Rectangle builds an AOI like ee.Geometry.Rectangle([minLon, minLat, maxLon, maxLat]).
func Rectangle(name string, minLon, minLat, maxLon, maxLat float64) (AOI, error) {
	if minLon >= maxLon || minLat >= maxLat {
		return AOI{}, fmt.Errorf("%w: rectangle %q is empty", ErrInvalidAOI, name)
	}
	b := orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
	return NewAOI(name, b.ToRing())
}

// ParseRectangle parses "minLon,minLat,maxLon,maxLat".
func ParseRectangle(name, s string) (AOI, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return AOI{}, fmt.Errorf("%w: expected minLon,minLat,maxLon,maxLat, got %q", ErrInvalidAOI, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return AOI{}, fmt.Errorf("%w: %v", ErrInvalidAOI, err)
		}
		v[i] = f
	}
	return Rectangle(name, v[0], v[1], v[2], v[3])
}

func (a AOI) Ring() orb.Ring {
	return a.Polygon[0]
}

func (a AOI) Bound() orb.Bound {
	return a.Polygon.Bound()
}

// Contains reports whether p lies inside the AOI or on its boundary.
func (a AOI) Contains(p orb.Point) bool {
	return planar.RingContains(a.Ring(), p) || onRing(a.Ring(), p)
}

// Intersects reports whether the footprint polygon shares any point with the AOI.
func (a AOI) Intersects(footprint orb.Polygon) bool {
	if len(footprint) == 0 || len(footprint[0]) == 0 {
		return false
	}
	if !a.Bound().Intersects(footprint.Bound()) {
		return false
	}
	ring := footprint[0]
	for _, p := range ring {
		if a.Contains(p) {
			return true
		}
	}
	for _, p := range a.Ring() {
		if planar.RingContains(ring, p) || onRing(ring, p) {
			return true
		}
	}
	aRing := a.Ring()
	for i := 0; i+1 < len(aRing); i++ {
		for j := 0; j+1 < len(ring); j++ {
			if segmentsIntersect(aRing[i], aRing[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

// Mask marks the pixels of g whose centre lies inside the AOI.
func (a AOI) Mask(g raster.Grid) *raster.Mask {
	m := raster.NewMask(g)
	b := a.Bound()
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			c := g.PixelToWorld(float64(x)+0.5, float64(y)+0.5)
			m.Bits[y*g.Width+x] = b.Contains(c) && a.Contains(c)
		}
	}
	return m
}

// LoadAOI reads an AOI from a GeoJSON FeatureCollection. The feature whose
// "aoi_id" property equals id is used; an empty id selects the first polygon.
func LoadAOI(path, id string) (AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AOI{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return AOI{}, fmt.Errorf("failed to parse GeoJSON %s: %w", path, err)
	}
	for _, f := range fc.Features {
		if id != "" && fmt.Sprint(f.Properties["aoi_id"]) != id {
			continue
		}
		name := id
		if name == "" {
			name = strings.TrimSuffix(fileBase(path), ".geojson")
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			return NewAOI(name, g[0])
		case orb.MultiPolygon:
			if len(g) > 0 {
				return NewAOI(name, g[0][0])
			}
		case orb.Bound:
			return NewAOI(name, g.ToRing())
		}
	}
	return AOI{}, fmt.Errorf("%w: no polygon for aoi_id %q in %s", ErrInvalidAOI, id, path)
}

// ListAOIIDs returns the aoi_id properties of every feature in a GeoJSON file.
func ListAOIIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Features []struct {
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error decoding GeoJSON: %w", err)
	}
	var ids []string
	for _, f := range raw.Features {
		if id, ok := f.Properties["aoi_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func fileBase(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func selfIntersects(ring orb.Ring) bool {
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// adjacent edges share a vertex by construction
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(a, b, p orb.Point) bool {
	return cross(a, b, p) == 0 &&
		min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}

func onRing(r orb.Ring, p orb.Point) bool {
	for i := 0; i+1 < len(r); i++ {
		if onSegment(r[i], r[i+1], p) {
			return true
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return onSegment(q1, q2, p1) || onSegment(q1, q2, p2) || onSegment(p1, p2, q1) || onSegment(p1, p2, q2)
}
