package raster

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// ErrShapeMismatch is returned when two rasters do not share a grid or when an
// image lacks a band its consumer requires.
var ErrShapeMismatch = errors.New("shape mismatch")

type Band string

const (
	Blue  Band = "B2"
	Green Band = "B3"
	Red   Band = "B4"
	NIR   Band = "B8"
	QA    Band = "QA60"
	NDVI  Band = "NDVI"
)

// Reflectance lists the surface reflectance bands in catalog order.
var Reflectance = Schema{Blue, Green, Red, NIR}

// Sentinel2 is the band layout every scene source delivers.
var Sentinel2 = Schema{Blue, Green, Red, NIR, QA}

type Schema []Band

func (s Schema) Index(b Band) int {
	for i, band := range s {
		if band == b {
			return i
		}
	}
	return -1
}

func (s Schema) Has(b Band) bool {
	return s.Index(b) >= 0
}

func (s Schema) Equal(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	names := make([]string, len(s))
	for i, b := range s {
		names[i] = string(b)
	}
	return strings.Join(names, ",")
}

// NoData is the sentinel stored in a band plane for pixels without a value.
// Compare with IsNoData, never with ==.
var NoData = math.NaN()

func IsNoData(v float64) bool {
	return math.IsNaN(v)
}

// Grid describes the pixel lattice of a raster: size, GDAL-style affine
// geotransform and coordinate reference system code.
type Grid struct {
	Width        int
	Height       int
	GeoTransform [6]float64
	CRS          string
}

func (g Grid) Pixels() int {
	return g.Width * g.Height
}

func (g Grid) Equal(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height && g.GeoTransform == o.GeoTransform && g.CRS == o.CRS
}

// Geographic reports whether the grid is expressed in degrees.
func (g Grid) Geographic() bool {
	return g.CRS == "EPSG:4326" || g.CRS == "" && math.Abs(g.GeoTransform[1]) < 1
}

// metresPerDegree is the equatorial length of one degree of longitude.
const metresPerDegree = 111_320.0

// NativeScale returns the pixel size in metres.
func (g Grid) NativeScale() float64 {
	size := math.Abs(g.GeoTransform[1])
	if g.Geographic() {
		return size * metresPerDegree
	}
	return size
}

// PixelToWorld returns the world coordinate of the pixel corner (x, y).
func (g Grid) PixelToWorld(x, y float64) orb.Point {
	gt := g.GeoTransform
	return orb.Point{
		gt[0] + gt[1]*x + gt[2]*y,
		gt[3] + gt[4]*x + gt[5]*y,
	}
}

// CellBound returns the world bound of the pixel block [x0,x1)x[y0,y1).
func (g Grid) CellBound(x0, y0, x1, y1 int) orb.Bound {
	a := g.PixelToWorld(float64(x0), float64(y0))
	b := g.PixelToWorld(float64(x1), float64(y1))
	return orb.Bound{Min: a, Max: a}.Extend(b)
}

// Bound returns the world extent of the whole grid.
func (g Grid) Bound() orb.Bound {
	return g.CellBound(0, 0, g.Width, g.Height)
}

// Footprint returns the grid extent as a closed polygon.
func (g Grid) Footprint() orb.Polygon {
	return g.Bound().ToPolygon()
}

type Metadata struct {
	ID           string
	CloudPercent float64
	Footprint    orb.Polygon
}

// Image is an immutable multi-band raster. Planes are row-major and indexed
// like Schema. Accessors hand out the underlying slices; callers must treat
// them as read-only.
type Image struct {
	Grid   Grid
	Schema Schema
	Time   time.Time
	Meta   Metadata
	planes [][]float64
}

// NewImage builds an image from one plane per schema band.
func NewImage(grid Grid, schema Schema, planes [][]float64, at time.Time, meta Metadata) (*Image, error) {
	if len(schema) != len(planes) {
		return nil, fmt.Errorf("%w: %d bands for schema %s", ErrShapeMismatch, len(planes), schema)
	}
	seen := make(map[Band]bool, len(schema))
	for i, b := range schema {
		if seen[b] {
			return nil, fmt.Errorf("duplicate band %s in schema", b)
		}
		seen[b] = true
		if len(planes[i]) != grid.Pixels() {
			return nil, fmt.Errorf("%w: band %s has %d values, grid has %d pixels", ErrShapeMismatch, b, len(planes[i]), grid.Pixels())
		}
	}
	return &Image{Grid: grid, Schema: schema, Time: at, Meta: meta, planes: planes}, nil
}

// Plane returns the values of band b.
func (im *Image) Plane(b Band) ([]float64, bool) {
	i := im.Schema.Index(b)
	if i < 0 {
		return nil, false
	}
	return im.planes[i], true
}

// MustPlane is Plane for callers that already checked the schema.
func (im *Image) MustPlane(b Band) []float64 {
	p, ok := im.Plane(b)
	if !ok {
		panic(fmt.Sprintf("band %s not in schema %s", b, im.Schema))
	}
	return p
}

func (im *Image) At(b Band, x, y int) float64 {
	p, ok := im.Plane(b)
	if !ok {
		return NoData
	}
	return p[y*im.Grid.Width+x]
}

// Require returns ErrShapeMismatch naming the first missing band.
func (im *Image) Require(bands ...Band) error {
	for _, b := range bands {
		if !im.Schema.Has(b) {
			return fmt.Errorf("%w: image %s has no band %s (schema %s)", ErrShapeMismatch, im.Meta.ID, b, im.Schema)
		}
	}
	return nil
}

// WithBand returns a new image with band b appended. The existing planes are
// shared, not copied.
func (im *Image) WithBand(b Band, plane []float64) (*Image, error) {
	schema := append(append(Schema{}, im.Schema...), b)
	planes := append(append([][]float64{}, im.planes...), plane)
	return NewImage(im.Grid, schema, planes, im.Time, im.Meta)
}

// Select returns a new image restricted to the given bands, in that order.
func (im *Image) Select(bands ...Band) (*Image, error) {
	if err := im.Require(bands...); err != nil {
		return nil, err
	}
	planes := make([][]float64, len(bands))
	for i, b := range bands {
		planes[i] = im.MustPlane(b)
	}
	return NewImage(im.Grid, append(Schema{}, bands...), planes, im.Time, im.Meta)
}

// Mask is a boolean raster.
type Mask struct {
	Grid Grid
	Bits []bool
}

func NewMask(grid Grid) *Mask {
	return &Mask{Grid: grid, Bits: make([]bool, grid.Pixels())}
}

func (m *Mask) At(x, y int) bool {
	return m.Bits[y*m.Grid.Width+x]
}

func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// SameGrid returns ErrShapeMismatch when a and b differ.
func SameGrid(a, b Grid) error {
	if !a.Equal(b) {
		return fmt.Errorf("%w: grid %dx%d %v %s vs %dx%d %v %s", ErrShapeMismatch,
			a.Width, a.Height, a.GeoTransform, a.CRS, b.Width, b.Height, b.GeoTransform, b.CRS)
	}
	return nil
}

// NewPlane returns a plane filled with no-data.
func NewPlane(n int) []float64 {
	p := make([]float64, n)
	for i := range p {
		p[i] = NoData
	}
	return p
}
