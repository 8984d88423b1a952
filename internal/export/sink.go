// Package export materialises rasters as GeoTIFF files in the background.
// Callers hand over a request and never wait on the result.
package export

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/utils"
)

// Request describes one raster to write. Region is expressed in CRS
// coordinates and Scale in metres per output pixel.
type Request struct {
	Description string
	Folder      string
	Grid        raster.Grid
	Bands       []string
	Planes      [][]float64
	Region      orb.Bound
	Scale       float64
	CRS         string
	MaxPixels   float64
}

type Status string

const (
	Pending Status = "PENDING"
	Skipped Status = "SKIPPED"
	Done    Status = "COMPLETED"
	Failed  Status = "FAILED"
)

type Task struct {
	ID          string
	Description string
	Path        string
	Status      Status
	Started     time.Time
}

type Sink interface {
	Export(req Request) Task
}

// OutputGrid is the grid the request resolves to.
func OutputGrid(req Request) raster.Grid {
	return raster.GridFromBound(req.Region, req.Scale, req.CRS)
}

func parseEPSG(crs string) (int, error) {
	code, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !ok {
		return 0, fmt.Errorf("unsupported CRS %q, expected EPSG:<code>", crs)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("unsupported CRS %q: %w", crs, err)
	}
	return n, nil
}

func validate(req Request) error {
	if len(req.Bands) != len(req.Planes) {
		return fmt.Errorf("%w: %d band names for %d planes", raster.ErrShapeMismatch, len(req.Bands), len(req.Planes))
	}
	for i, p := range req.Planes {
		if len(p) != req.Grid.Pixels() {
			return fmt.Errorf("%w: band %s has %d values, grid has %d pixels", raster.ErrShapeMismatch, req.Bands[i], len(p), req.Grid.Pixels())
		}
	}
	if req.Scale <= 0 {
		return fmt.Errorf("export scale must be positive, got %v", req.Scale)
	}
	return nil
}

// GeoTIFFSink writes each request under Root/Folder/Description.tif through
// gdalwarp, resampling onto the requested CRS, scale and region.
type GeoTIFFSink struct {
	Root string
	// OnDone, when set, receives every finished task.
	OnDone func(Task, error)

	wg sync.WaitGroup
}

func NewGeoTIFFSink(root string) *GeoTIFFSink {
	return &GeoTIFFSink{Root: root}
}

// Export validates req and starts the write in the background. Requests
// larger than their pixel budget are skipped with a log line.
func (s *GeoTIFFSink) Export(req Request) Task {
	task := Task{
		ID:          uuid.NewString(),
		Description: req.Description,
		Path:        filepath.Join(s.Root, req.Folder, req.Description+".tif"),
		Status:      Pending,
		Started:     time.Now(),
	}
	if err := validate(req); err != nil {
		task.Status = Failed
		log.Printf("export: %s (%s) rejected: %v", task.Description, task.ID, err)
		s.done(task, err)
		return task
	}
	out := OutputGrid(req)
	if req.MaxPixels > 0 && float64(out.Pixels()) > req.MaxPixels {
		task.Status = Skipped
		log.Printf("export: %s (%s) skipped: %d pixels exceed the budget of %.0f", task.Description, task.ID, out.Pixels(), req.MaxPixels)
		s.done(task, nil)
		return task
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.write(req, out, task.Path)
		t := task
		if err != nil {
			t.Status = Failed
			log.Printf("export: %s (%s) failed: %v", t.Description, t.ID, err)
		} else {
			t.Status = Done
			log.Printf("export: %s (%s) written to %s in %v", t.Description, t.ID, t.Path, time.Since(t.Started).Round(time.Millisecond))
		}
		s.done(t, err)
	}()
	return task
}

// Wait blocks until every started export has finished. Only the CLI uses it,
// before exiting.
func (s *GeoTIFFSink) Wait() {
	s.wg.Wait()
}

func (s *GeoTIFFSink) done(t Task, err error) {
	if s.OnDone != nil {
		s.OnDone(t, err)
	}
}

func (s *GeoTIFFSink) write(req Request, out raster.Grid, path string) error {
	srcEPSG, err := parseEPSG(req.Grid.CRS)
	if err != nil {
		return err
	}
	if _, err := parseEPSG(out.CRS); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create export folder: %w", err)
	}

	return utils.WithGDAL(func() error {
		src, err := godal.Create(godal.Memory, "", len(req.Planes), godal.Float64, req.Grid.Width, req.Grid.Height)
		if err != nil {
			return fmt.Errorf("failed to create in-memory dataset: %w", err)
		}
		defer src.Close()

		if err := src.SetGeoTransform(req.Grid.GeoTransform); err != nil {
			return fmt.Errorf("failed to set GeoTransform: %w", err)
		}
		sr, err := godal.NewSpatialRefFromEPSG(srcEPSG)
		if err != nil {
			return fmt.Errorf("failed to build spatial reference: %w", err)
		}
		defer sr.Close()
		if err := src.SetSpatialRef(sr); err != nil {
			return fmt.Errorf("failed to set spatial reference: %w", err)
		}

		for i, band := range src.Bands() {
			if err := band.Write(0, 0, req.Planes[i], req.Grid.Width, req.Grid.Height); err != nil {
				return fmt.Errorf("failed to write band %s: %w", req.Bands[i], err)
			}
			if err := band.SetNoData(raster.NoData); err != nil {
				return fmt.Errorf("failed to set nodata on band %s: %w", req.Bands[i], err)
			}
		}

		switches := append(utils.WarpSwitches(out, "GTiff"), "-co", "TILED=YES", "-co", "COMPRESS=DEFLATE", "-overwrite")
		dst, err := src.Warp(path, switches)
		if err != nil {
			return fmt.Errorf("failed to warp into %s: %w", path, err)
		}
		return dst.Close()
	})
}
