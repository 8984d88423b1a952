package delivery

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/aggregate"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/config"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/notification"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/output"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/report"
)

// DefaultHotspotCells bounds the number of cells in the hotspot GeoJSON.
const DefaultHotspotCells = 10_000

// DefaultObservers writes map layers, hotspots and the CSV log under dir,
// then prints the report and, when enabled, posts it to Discord.
func DefaultObservers(cfg config.Config, dir string) []Observer {
	observers := []Observer{
		&Layers{Dir: filepath.Join(dir, "layers")},
		&HotspotLayer{Dir: filepath.Join(dir, "hotspots"), MaxCells: DefaultHotspotCells},
		&CSVLog{Path: filepath.Join(dir, "runs.csv")},
		&Console{W: os.Stdout},
	}
	if cfg.Notify {
		observers = append(observers, &Discord{})
	}
	return observers
}

type Console struct {
	W io.Writer
}

func (c *Console) Observe(_ context.Context, res *Result) error {
	report.Print(c.W, res.Summary)
	return nil
}

// CSVLog appends one row per period to a CSV file shared by all runs.
type CSVLog struct {
	Path string
}

func (c *CSVLog) Observe(_ context.Context, res *Result) error {
	if err := report.AppendCSV(c.Path, res.Summary); err != nil {
		return err
	}
	res.Summary.Outputs = append(res.Summary.Outputs, c.Path)
	return nil
}

// Layers renders the map layers of a run as PNG files: false colour and NDVI
// per period and, for loss runs, the change map, the loss mask and the loss
// overlay on the later false colour mosaic.
type Layers struct {
	Dir     string
	MaxSide int
}

func (l *Layers) Observe(ctx context.Context, res *Result) error {
	for _, p := range res.Periods() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := p.Composite
		r := output.Renderer{Grid: c.Grid, MaxSide: l.MaxSide, AOI: &res.AOI}
		fc, err := r.FalseColor(c.Image, output.FalseColorStretch)
		if err != nil {
			return err
		}
		if err := l.write(res, r, fc, fmt.Sprintf("%s_%s_false_color.png", res.AOI.Name, p.Period.Label())); err != nil {
			return err
		}
		ndvi, err := c.Index()
		if err != nil {
			return err
		}
		if err := l.write(res, r, r.Index(ndvi, output.NDVIPalette), fmt.Sprintf("%s_%s_ndvi.png", res.AOI.Name, p.Period.Label())); err != nil {
			return err
		}
	}
	if res.Change == nil || res.Loss == nil {
		return nil
	}

	r := output.Renderer{Grid: res.Change.Grid, MaxSide: l.MaxSide, AOI: &res.AOI}
	prefix := fmt.Sprintf("%s_%s_%s", res.AOI.Name, res.Before.Period.Label(), res.After.Period.Label())
	if err := l.write(res, r, r.Index(res.Change.Values, output.ChangePalette), prefix+"_ndvi_change.png"); err != nil {
		return err
	}
	if err := l.write(res, r, r.Mask(res.Loss, output.Red), prefix+"_loss.png"); err != nil {
		return err
	}
	base, err := r.FalseColor(res.After.Composite.Image, output.FalseColorStretch)
	if err != nil {
		return err
	}
	return l.write(res, r, r.Overlay(base, res.Loss, output.LossOverlay), prefix+"_loss_overlay.png")
}

func (l *Layers) write(res *Result, r output.Renderer, img *image.RGBA, name string) error {
	path := filepath.Join(l.Dir, name)
	if err := r.SavePNG(img, path); err != nil {
		return err
	}
	res.Summary.Outputs = append(res.Summary.Outputs, path)
	return nil
}

// HotspotLayer writes the loss mask as a GeoJSON grid of cells that contain
// flagged pixels.
type HotspotLayer struct {
	Dir      string
	MaxCells int
}

func (h *HotspotLayer) Observe(_ context.Context, res *Result) error {
	if res.Loss == nil {
		return nil
	}
	g := res.Loss.Grid
	hs := output.Hotspots(res.Loss, output.HotspotFactor(g, h.MaxCells), areaFunc(g))
	fc := output.HotspotFeatures(hs, map[string]any{
		"run_id": res.Summary.RunID,
		"aoi":    res.AOI.Name,
		"before": res.Before.Period.Label(),
		"after":  res.After.Period.Label(),
	})
	path := filepath.Join(h.Dir, fmt.Sprintf("%s_%s_%s_hotspots.geojson", res.AOI.Name, res.Before.Period.Label(), res.After.Period.Label()))
	if err := output.WriteGeoJSON(fc, path); err != nil {
		return err
	}
	res.Summary.Outputs = append(res.Summary.Outputs, path)
	return nil
}

// Discord posts a short run summary to the success webhook.
type Discord struct {
	// Send defaults to notification.SendDiscordSuccessNotification.
	Send func(message string) error
}

func (d *Discord) Observe(_ context.Context, res *Result) error {
	send := d.Send
	if send == nil {
		send = notification.SendDiscordSuccessNotification
	}
	return send(Message(res))
}

// Message is the plain text summary of a run used for notifications.
func Message(res *Result) string {
	s := res.Summary
	msg := fmt.Sprintf("Rondonia monitor\n\nRun %s over %s finished in %s", s.RunID, s.AOI, s.Duration.Round(time.Millisecond))
	for _, p := range s.Periods {
		mean := "no data"
		if p.NDVIMean.Count > 0 {
			mean = fmt.Sprintf("%.4f", p.NDVIMean.Mean)
		}
		msg += fmt.Sprintf("\n%s: %d scenes, NDVI mean %s", p.Label, p.Scenes, mean)
	}
	if s.Loss != nil {
		msg += fmt.Sprintf("\nPotential forest loss: %.4f km² (%d pixels, %s)", s.Loss.SquareKilometres(), s.LossPixels, estimateKind(*s.Loss))
	}
	return msg
}

func estimateKind(e aggregate.Estimate) string {
	switch {
	case e.Exact:
		return "exact"
	case e.FellBack:
		return fmt.Sprintf("best effort at %.0fm", e.Scale)
	default:
		return fmt.Sprintf("at %.0fm", e.Scale)
	}
}
